package repository

import (
	"context"
	"sync"
	"time"
)

type cachedResponse struct {
	payload []byte
	pending bool
	expires time.Time
}

// MemoryIdempotencyRepo is the single-process counterpart of
// RedisIdempotencyRepo. Claims and responses expire after ttl.
type MemoryIdempotencyRepo struct {
	mu      sync.Mutex
	entries map[string]cachedResponse
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdempotencyRepo keeps responses for ttl (24h when ttl <= 0).
func NewMemoryIdempotencyRepo(ttl time.Duration) *MemoryIdempotencyRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyRepo{entries: make(map[string]cachedResponse), ttl: ttl, now: time.Now}
}

// lookup must be called with mu held.
func (m *MemoryIdempotencyRepo) lookup(key string) (cachedResponse, bool) {
	entry, ok := m.entries[key]
	if ok && !m.now().Before(entry.expires) {
		delete(m.entries, key)
		return cachedResponse{}, false
	}
	return entry, ok
}

func (m *MemoryIdempotencyRepo) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = cachedResponse{pending: true, expires: m.now().Add(m.ttl)}
	return true, nil
}

func (m *MemoryIdempotencyRepo) GetResponse(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	if !ok || entry.pending {
		return nil, false, nil
	}
	return append([]byte(nil), entry.payload...), true, nil
}

func (m *MemoryIdempotencyRepo) PutResponse(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cachedResponse{payload: append([]byte(nil), payload...), expires: m.now().Add(m.ttl)}
	return nil
}

// Release drops a pending claim; a stored response is left alone.
func (m *MemoryIdempotencyRepo) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.lookup(key); ok && entry.pending {
		delete(m.entries, key)
	}
	return nil
}
