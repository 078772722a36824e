package rate_limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lowc1012/crm-gate/internal/log"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ CounterBackend = &RedisBackend{}

const redisBackendName = "redis"

// DefaultRemoteTimeout bounds a single remote admission check.
const DefaultRemoteTimeout = 2 * time.Second

// RedisBackend keeps a sliding window of request timestamps in a sorted set per key.
type RedisBackend struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisBackend builds a backend on client. Empty prefix and zero timeout take the defaults;
// a nil now uses time.Now.
func NewRedisBackend(client redis.Cmdable, prefix string, timeout time.Duration, now func() time.Time) *RedisBackend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &RedisBackend{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		now:     now,
	}
}

func (b *RedisBackend) Name() string {
	return redisBackendName
}

// Check prunes entries older than the window, counts what is left, records this attempt and
// refreshes the key expiry, all inside one MULTI/EXEC. The attempt is admitted when the count
// taken before the insert is below maxRequests.
func (b *RedisBackend) Check(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	now := b.now()
	redisKey := b.prefix + key
	minimum := now.Add(-window)

	p := b.client.TxPipeline()
	p.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(minimum.UnixMilli(), 10))
	count := p.ZCard(ctx, redisKey)
	p.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: member(now),
	})
	p.PExpire(ctx, redisKey, window)

	if _, err := p.Exec(ctx); err != nil {
		log.Logger().Error(fmt.Sprintf("Failed to execute sorted set pipeline for key %v", redisKey), zap.Error(err))
		return false, newBackendError(b.Name(), err)
	}

	current, err := count.Result()
	if err != nil {
		return false, newBackendError(b.Name(), err)
	}

	return current < maxRequests, nil
}

// member is unique per attempt so two requests in the same millisecond are both counted.
func member(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}
