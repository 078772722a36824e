package rate_limiter

import (
	"context"
	"sync"
	"time"

	"github.com/lowc1012/crm-gate/internal/log"
	"go.uber.org/zap"
)

// ensure that MemoryStore satisfies an interface CounterBackend
var _ CounterBackend = &MemoryStore{}

const memoryBackendName = "memory"

// DefaultSweepInterval is how often expired entries are removed when Start is given no interval.
const DefaultSweepInterval = time.Minute

// CounterEntry is the fixed-window state kept for a single key.
type CounterEntry struct {
	Count     int64
	ResetTime time.Time
}

// MemoryStore counts requests per key in fixed windows.
// Counts are local to the process; horizontally scaled deployments get per-instance limits.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*CounterEntry
	timeNow func() time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMemoryStore creates an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*CounterEntry),
		timeNow: now,
	}
}

func (s *MemoryStore) Name() string {
	return memoryBackendName
}

// CheckAt admits or denies one request for key at the instant now.
// The decision and the state transition come from the same locked read.
func (s *MemoryStore) CheckAt(key string, maxRequests int64, window time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.ResetTime.Before(now) {
		s.entries[key] = &CounterEntry{Count: 1, ResetTime: now.Add(window)}
		return true
	}

	if entry.Count >= maxRequests {
		return false
	}

	entry.Count++
	return true
}

// Check never fails; it satisfies CounterBackend so the store can terminate a backend chain.
func (s *MemoryStore) Check(_ context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	return s.CheckAt(key, maxRequests, window, s.timeNow()), nil
}

// Entry returns a copy of the entry for key.
func (s *MemoryStore) Entry(key string) (CounterEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return CounterEntry{}, false
	}
	return *entry, true
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep deletes entries whose reset time is before now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.ResetTime.Before(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Start launches the background sweeper. Calling Start on a running store does nothing.
func (s *MemoryStore) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runSweeper(ctx, interval, s.done)
}

func (s *MemoryStore) runSweeper(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.Sweep(s.timeNow()); removed > 0 {
				log.Logger().Debug("Swept expired rate limit entries", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the sweeper and waits for it to exit. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycle.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
