package calls

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeStore enforces at-most-once webhook processing per distinct event
// identity under the provider's at-least-once delivery.
type DedupeStore interface {
	// FirstDelivery marks the identity as seen and reports whether this
	// was the first time. A storage error fails open (true, err): dropping
	// a genuine event is worse than reprocessing one the state machine
	// will absorb anyway.
	FirstDelivery(ctx context.Context, identity string) (bool, error)
}

// EventIdentity builds the dedupe key from the fields that distinguish one
// provider delivery from another.
func EventIdentity(callControlID, eventType, providerEventID string) string {
	return callControlID + "|" + eventType + "|" + providerEventID
}

type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMemoryDedupe(ttl time.Duration) *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDedupe) FirstDelivery(ctx context.Context, identity string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if at, ok := d.seen[identity]; ok && now.Sub(at) < d.ttl {
		return false, nil
	}
	d.seen[identity] = now
	return true, nil
}

// RedisDedupe keys off SETNX with a TTL so the seen-set survives restarts
// and stays bounded.
type RedisDedupe struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDedupe(rdb *redis.Client, ttl time.Duration) *RedisDedupe {
	return &RedisDedupe{rdb: rdb, ttl: ttl}
}

func (d *RedisDedupe) FirstDelivery(ctx context.Context, identity string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, "webhook_seen:"+identity, 1, d.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}
