package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CancelStore holds best-effort cancellation flags. A flag prevents new
// batches from starting; it never interrupts a batch already handed to
// the transport.
type CancelStore interface {
	Cancel(ctx context.Context, campaignID uuid.UUID) error
	IsCancelled(ctx context.Context, campaignID uuid.UUID) bool
	Clear(ctx context.Context, campaignID uuid.UUID) error
}

// MemoryCancels is the single-process store used when Redis is not
// configured, and by tests.
type MemoryCancels struct {
	mu    sync.Mutex
	flags map[uuid.UUID]struct{}
}

func NewMemoryCancels() *MemoryCancels {
	return &MemoryCancels{flags: make(map[uuid.UUID]struct{})}
}

func (m *MemoryCancels) Cancel(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[id] = struct{}{}
	return nil
}

func (m *MemoryCancels) IsCancelled(_ context.Context, id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flags[id]
	return ok
}

func (m *MemoryCancels) Clear(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, id)
	return nil
}

// RedisCancels shares cancellation flags between the API server and the
// worker process.
type RedisCancels struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCancels(client *redis.Client) *RedisCancels {
	return &RedisCancels{Client: client, TTL: 24 * time.Hour}
}

func (r *RedisCancels) key(id uuid.UUID) string {
	return "campaign:cancel:" + id.String()
}

func (r *RedisCancels) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.Client.Set(ctx, r.key(id), "1", r.TTL).Err()
}

func (r *RedisCancels) IsCancelled(ctx context.Context, id uuid.UUID) bool {
	n, err := r.Client.Exists(ctx, r.key(id)).Result()
	// A flag lookup failure must not abort a dispatch.
	return err == nil && n > 0
}

func (r *RedisCancels) Clear(ctx context.Context, id uuid.UUID) error {
	return r.Client.Del(ctx, r.key(id)).Err()
}
