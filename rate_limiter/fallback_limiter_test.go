package rate_limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	name    string
	allowed bool
	err     error
	calls   int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Check(context.Context, string, int64, time.Duration) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, newBackendError(f.name, f.err)
	}
	return f.allowed, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	decisions []string
	fallbacks []string
}

func (o *recordingObserver) Decision(backend string, allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed {
		o.decisions = append(o.decisions, backend+":allow")
	} else {
		o.decisions = append(o.decisions, backend+":deny")
	}
}

func (o *recordingObserver) Fallback(backend string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, backend)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLimiter_FirstHealthyBackendDecides(t *testing.T) {
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)
	primary := &fakeBackend{name: "rest", allowed: false}
	secondary := &fakeBackend{name: "redis", allowed: true}
	observer := &recordingObserver{}

	limiter := New(NewMemoryStore(fixedClock(now)), WithBackends(primary, secondary), WithObserver(observer))

	assert.False(t, limiter.Allow(context.Background(), "k", 10, time.Minute))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
	assert.Equal(t, 0, limiter.Local().Len())
	assert.Equal(t, []string{"rest:deny"}, observer.decisions)
	assert.Empty(t, observer.fallbacks)
}

func TestLimiter_FallsBackInOrder(t *testing.T) {
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)
	primary := &fakeBackend{name: "rest", err: errors.New("connection refused")}
	secondary := &fakeBackend{name: "redis", allowed: true}
	observer := &recordingObserver{}

	limiter := New(NewMemoryStore(fixedClock(now)), WithBackends(primary, secondary), WithObserver(observer))

	assert.True(t, limiter.Allow(context.Background(), "k", 10, time.Minute))
	assert.Equal(t, []string{"rest"}, observer.fallbacks)
	assert.Equal(t, []string{"redis:allow"}, observer.decisions)
	assert.Equal(t, []string{"rest", "redis", "memory"}, limiter.Backends())
}

func TestLimiter_FallbackMatchesLocalOutcome(t *testing.T) {
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)

	failing := &fakeBackend{name: "rest", err: errors.New("timeout")}
	withFailingRemote := New(NewMemoryStore(fixedClock(now)), WithBackends(failing))
	localOnly := NewMemoryStore(nil)

	for i := 0; i < 15; i++ {
		expected := localOnly.CheckAt("email-send-u1", 10, time.Minute, now)
		assert.Equal(t, expected, withFailingRemote.Allow(context.Background(), "email-send-u1", 10, time.Minute), "request %d", i+1)
	}
	// health is not cached, so the remote is retried every call
	assert.Equal(t, 15, failing.calls)
}

func TestLimiter_EmailSendScenario(t *testing.T) {
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)
	limiter := New(NewMemoryStore(func() time.Time { return now }))

	key := Key("email-send", "u1")
	assert.Equal(t, "email-send-u1", key)

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow(context.Background(), key, 10, time.Minute), "request %d", i+1)
		now = now.Add(time.Second)
	}
	assert.False(t, limiter.Allow(context.Background(), key, 10, time.Minute))

	now = time.Date(2022, 5, 10, 9, 16, 1, 0, time.UTC)
	assert.True(t, limiter.Allow(context.Background(), key, 10, time.Minute))
}

func TestLimiter_RedisOutageFallsBackToLocal(t *testing.T) {
	server, client := newTestRedis(t)
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)
	clock := fixedClock(now)

	observer := &recordingObserver{}
	limiter := New(NewMemoryStore(clock),
		WithBackends(NewRedisBackend(client, "", 200*time.Millisecond, clock)),
		WithObserver(observer))

	assert.True(t, limiter.Allow(context.Background(), "me-u1", 2, time.Minute))
	assert.Equal(t, 0, limiter.Local().Len())

	server.Close()

	assert.True(t, limiter.Allow(context.Background(), "me-u1", 2, time.Minute))
	assert.True(t, limiter.Allow(context.Background(), "me-u1", 2, time.Minute))
	assert.False(t, limiter.Allow(context.Background(), "me-u1", 2, time.Minute))

	entry, ok := limiter.Local().Entry("me-u1")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Count)
	assert.Equal(t, []string{"redis", "redis", "redis"}, observer.fallbacks)
}

func TestLimiter_InvalidLimitsDeny(t *testing.T) {
	limiter := New(nil)

	assert.False(t, limiter.Allow(context.Background(), "k", 0, time.Minute))
	assert.False(t, limiter.Allow(context.Background(), "k", -1, time.Minute))
	assert.False(t, limiter.Allow(context.Background(), "k", 10, 0))
	assert.Equal(t, 0, limiter.Local().Len())
}

func TestLimiter_SharesStoreWithSynchronousPath(t *testing.T) {
	now := time.Date(2022, 5, 10, 9, 15, 0, 0, time.UTC)
	store := NewMemoryStore(fixedClock(now))
	limiter := New(store)

	assert.True(t, store.CheckAt("k", 2, time.Minute, now))
	assert.True(t, limiter.Allow(context.Background(), "k", 2, time.Minute))
	assert.False(t, store.CheckAt("k", 2, time.Minute, now))
}

func TestBackendError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := newBackendError("redis", cause)

	assert.EqualError(t, err, "redis backend: dial tcp: refused")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsBackendError(err))
	assert.False(t, IsBackendError(cause))
	assert.False(t, IsBackendError(nil))
}
