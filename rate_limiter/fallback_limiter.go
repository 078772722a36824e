package rate_limiter

import (
	"context"
	"time"

	"github.com/lowc1012/crm-gate/internal/log"
	"go.uber.org/zap"
)

// Limiter decides admission by asking remote backends in priority order and falling back to
// the local store when they cannot answer. Each call starts again from the first backend.
type Limiter struct {
	local    *MemoryStore
	backends []CounterBackend
	observer Observer
}

type Option func(*Limiter)

// WithBackends sets the remote backends, highest priority first. Nil entries are skipped.
func WithBackends(backends ...CounterBackend) Option {
	return func(l *Limiter) {
		for _, b := range backends {
			if b != nil {
				l.backends = append(l.backends, b)
			}
		}
	}
}

func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		if o != nil {
			l.observer = o
		}
	}
}

// New creates a Limiter that ends its chain with local. A nil local gets a fresh MemoryStore.
func New(local *MemoryStore, opts ...Option) *Limiter {
	if local == nil {
		local = NewMemoryStore(nil)
	}
	l := &Limiter{
		local:    local,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Local returns the terminal store, e.g. to start its sweeper.
func (l *Limiter) Local() *MemoryStore {
	return l.local
}

// Backends returns the names of the configured chain, local last.
func (l *Limiter) Backends() []string {
	names := make([]string, 0, len(l.backends)+1)
	for _, b := range l.backends {
		names = append(names, b.Name())
	}
	return append(names, l.local.Name())
}

// Allow records one attempt for key and reports whether it is admitted. It never fails:
// a backend that errors is skipped and the local store always answers.
func (l *Limiter) Allow(ctx context.Context, key string, maxRequests int64, window time.Duration) bool {
	if maxRequests <= 0 || window <= 0 {
		log.Logger().Warn("Denying request with invalid rate limit",
			zap.String("key", key),
			zap.Int64("max_requests", maxRequests),
			zap.Duration("window", window))
		l.observer.Decision("invalid", false)
		return false
	}

	for _, b := range l.backends {
		allowed, err := b.Check(ctx, key, maxRequests, window)
		if err == nil {
			l.observer.Decision(b.Name(), allowed)
			return allowed
		}
		log.Logger().Warn("Rate limit backend unavailable, falling back",
			zap.String("backend", b.Name()),
			zap.String("key", key),
			zap.Error(err))
		l.observer.Fallback(b.Name(), err)
	}

	allowed, _ := l.local.Check(ctx, key, maxRequests, window)
	l.observer.Decision(l.local.Name(), allowed)
	return allowed
}
