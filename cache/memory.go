package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// MEMORY BACKEND
// =============================================================================

type entry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBackend keeps entries in a map. Expired entries are dropped lazily
// on read and swept by DeletePrefix and Purge. Keys that are never read
// again stay until a sweep, so long-running processes use PurgeEvery.
type MemoryBackend struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry
}

func NewMemoryBackend(clock Clock) *MemoryBackend {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryBackend{clock: clock, entries: make(map[string]entry)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) || e.expired(now) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Purge drops expired entries and returns how many are left.
func (m *MemoryBackend) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
	return len(m.entries)
}

// PurgeEvery runs Purge on a ticker until the returned stop func is called.
func (m *MemoryBackend) PurgeEvery(interval time.Duration, log *zap.Logger) (stop func()) {
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				log.Debug("cache purged", zap.Int("remaining", m.Purge()))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
			wg.Wait()
		})
	}
}
