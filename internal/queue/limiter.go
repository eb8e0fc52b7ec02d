package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"outdial-platform/pkg/utils"
)

// Limiter enforces the two admission caps: concurrent calls per campaign
// and daily dials per phone number. Both are increment-then-check so
// concurrent admissions cannot overshoot.
type Limiter interface {
	AcquireSlot(ctx context.Context, campaignID string, limit int) (bool, error)
	ReleaseSlot(ctx context.Context, campaignID string) error

	// IncrDaily counts one dial against the number's daily cap.
	IncrDaily(ctx context.Context, number string, limit int, now time.Time) (bool, error)

	// DailyCount reads the number's dial count for the day without
	// consuming from the cap.
	DailyCount(ctx context.Context, number string, now time.Time) (int, error)
}

// RedisLimiter backs the caps with atomic Lua scripts, shared across
// restarts of the owning process.
type RedisLimiter struct {
	rdb *redis.Client

	// SlotTTL guards against leaked slots if the process dies mid-call.
	SlotTTL time.Duration
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, SlotTTL: 30 * time.Minute}
}

func (l *RedisLimiter) AcquireSlot(ctx context.Context, campaignID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, "campaign_active:"+campaignID, limit, l.SlotTTL)
}

func (l *RedisLimiter) ReleaseSlot(ctx context.Context, campaignID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, "campaign_active:"+campaignID)
}

func dailyKey(number string, now time.Time) string {
	return "daily:" + number + ":" + now.UTC().Format("2006-01-02")
}

func (l *RedisLimiter) IncrDaily(ctx context.Context, number string, limit int, now time.Time) (bool, error) {
	endOfDay := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	ttl := endOfDay.Sub(now.UTC())
	if ttl <= 0 {
		ttl = time.Minute
	}
	return utils.IncrDailyLimit(ctx, l.rdb, dailyKey(number, now), limit, ttl)
}

func (l *RedisLimiter) DailyCount(ctx context.Context, number string, now time.Time) (int, error) {
	n, err := l.rdb.Get(ctx, dailyKey(number, now)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// MemoryLimiter is the single-process implementation used in tests.
type MemoryLimiter struct {
	mu    sync.Mutex
	slots map[string]int
	daily map[string]int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{slots: make(map[string]int), daily: make(map[string]int)}
}

func (l *MemoryLimiter) AcquireSlot(ctx context.Context, campaignID string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots[campaignID] >= limit {
		return false, nil
	}
	l.slots[campaignID]++
	return true, nil
}

func (l *MemoryLimiter) ReleaseSlot(ctx context.Context, campaignID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots[campaignID] > 0 {
		l.slots[campaignID]--
	}
	return nil
}

func (l *MemoryLimiter) IncrDaily(ctx context.Context, number string, limit int, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := number + ":" + now.UTC().Format("2006-01-02")
	if l.daily[key] >= limit {
		return false, nil
	}
	l.daily[key]++
	return true, nil
}

func (l *MemoryLimiter) DailyCount(ctx context.Context, number string, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.daily[number+":"+now.UTC().Format("2006-01-02")], nil
}
