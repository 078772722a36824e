package rate_limiter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return server, client
}

func TestRedisBackend_Check(t *testing.T) {
	var start = time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)

	var tests = []struct {
		name        string
		runs        int
		maxRequests int64
		advance     time.Duration
		lastAllowed bool
		members     int
	}{
		{
			name:        "returns true for request under limit",
			runs:        5,
			maxRequests: 10,
			lastAllowed: true,
			members:     5,
		},
		{
			name:        "returns true for request at limit",
			runs:        10,
			maxRequests: 10,
			lastAllowed: true,
			members:     10,
		},
		{
			name:        "returns false for request over limit and still records it",
			runs:        11,
			maxRequests: 10,
			lastAllowed: false,
			members:     11,
		},
		{
			name:        "old attempts slide out of the window",
			runs:        4,
			maxRequests: 1,
			advance:     time.Minute + time.Second,
			lastAllowed: true,
			members:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := newTestRedis(t)

			now := start
			backend := NewRedisBackend(client, "", 0, func() time.Time { return now })

			var lastAllowed bool
			for i := 0; i < tt.runs; i++ {
				if i > 0 && tt.advance != 0 {
					server.FastForward(tt.advance)
					now = now.Add(tt.advance)
				}
				allowed, err := backend.Check(context.Background(), "email-send-u1", tt.maxRequests, time.Minute)
				require.NoError(t, err)
				lastAllowed = allowed
			}

			assert.Equal(t, tt.lastAllowed, lastAllowed)

			members, err := server.ZMembers("ratelimit:email-send-u1")
			require.NoError(t, err)
			assert.Len(t, members, tt.members)
		})
	}
}

func TestRedisBackend_SetsExpiryAndUniqueMembers(t *testing.T) {
	server, client := newTestRedis(t)

	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)
	backend := NewRedisBackend(client, "test:", time.Second, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := backend.Check(context.Background(), "me-u1", 10, 30*time.Second)
		require.NoError(t, err)
	}

	assert.Equal(t, 30*time.Second, server.TTL("test:me-u1"))

	members, err := server.ZMembers("test:me-u1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	for _, m := range members {
		assert.True(t, strings.HasPrefix(m, "1652174100000-"), m)
	}

	server.FastForward(31 * time.Second)
	assert.False(t, server.Exists("test:me-u1"))
}

func TestRedisBackend_UnavailableReturnsBackendError(t *testing.T) {
	server, client := newTestRedis(t)
	backend := NewRedisBackend(client, "", 200*time.Millisecond, nil)
	server.Close()

	allowed, err := backend.Check(context.Background(), "k", 10, time.Minute)
	assert.False(t, allowed)
	require.Error(t, err)
	assert.True(t, IsBackendError(err))

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "redis", be.Backend)
}

func TestRedisBackend_Name(t *testing.T) {
	_, client := newTestRedis(t)
	assert.Equal(t, "redis", NewRedisBackend(client, "", 0, nil).Name())
}
