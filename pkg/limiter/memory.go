package limiter

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/manenim/tenant-rate-limiter/pkg/clock"
)

type record struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is an in-process CounterStore.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Use RedisStore when you
// need a single global limit across multiple instances.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record

	clock  clock.Clock
	logger *slog.Logger

	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewMemoryStore constructs a MemoryStore with empty state. Unless the
// cleanup interval is zero, a sweeper goroutine removes elapsed windows
// until Close is called.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	m := &MemoryStore{
		records:  make(map[string]*record),
		clock:    o.clock,
		logger:   o.logger,
		interval: o.cleanupInterval,
		stopChan: make(chan struct{}),
	}
	if m.interval > 0 {
		m.wg.Add(1)
		go m.sweep()
	}
	return m
}

// Increment counts one request for key in its current window.
func (m *MemoryStore) Increment(ctx context.Context, key string, quota int64, window time.Duration) WindowResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	rec, exists := m.records[key]
	if !exists || now.After(rec.resetAt) {
		rec = &record{resetAt: now.Add(window)}
		m.records[key] = rec
	}

	allowed := rec.count < quota
	rec.count++

	return WindowResult{
		Allowed: allowed,
		Count:   rec.count,
		ResetAt: rec.resetAt,
	}
}

// Peek reports usage for key without counting a request.
func (m *MemoryStore) Peek(ctx context.Context, key string, quota int64, window time.Duration) Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	rec, exists := m.records[key]
	if !exists || now.After(rec.resetAt) {
		return Usage{Remaining: quota, ResetAt: now.Add(window)}
	}
	return Usage{
		Used:      rec.count,
		Remaining: max(0, quota-rec.count),
		ResetAt:   rec.resetAt,
	}
}

// Reset forgets key.
func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// ListActiveKeys returns the keys with a live window, sorted.
func (m *MemoryStore) ListActiveKeys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	keys := make([]string, 0, len(m.records))
	for k, rec := range m.records {
		if now.After(rec.resetAt) || !strings.HasPrefix(k, prefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Healthy always reports true: there is no backend to lose.
func (m *MemoryStore) Healthy() bool { return true }

// Connect is a no-op.
func (m *MemoryStore) Connect(ctx context.Context) error { return nil }

// Close stops the sweeper and waits for it to exit.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
	return nil
}

// Size returns the number of tracked keys, expired or not.
func (m *MemoryStore) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryStore) sweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup drops records whose window has elapsed.
func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cleaned := 0
	for key, rec := range m.records {
		if now.After(rec.resetAt) {
			delete(m.records, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		m.logger.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(m.records))
	}
}

var _ CounterStore = (*MemoryStore)(nil)
