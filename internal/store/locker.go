package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contentops/tailor/models"
)

const claimKeyPrefix = "personalize:claim:"

// Locker serializes personalization runs per (page_id, segment) with a Redis
// claim. The TTL guarantees a crashed run cannot hold its claim forever.
type Locker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{rdb: rdb, ttl: ttl, logger: log.New(log.Writer(), "[CLAIM] ", log.LstdFlags)}
}

func claimKey(pageID string, segment models.Segment) string {
	return fmt.Sprintf("%s%s:%s", claimKeyPrefix, pageID, segment)
}

// Acquire claims a (page_id, segment) pair for a run. A pair already claimed
// by another run yields models.ErrRunInFlight.
func (l *Locker) Acquire(ctx context.Context, pageID string, segment models.Segment, runID string) error {
	ok, err := l.rdb.SetNX(ctx, claimKey(pageID, segment), runID, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: acquiring claim for %s/%s: %v", models.ErrStoreUnavailable, pageID, segment, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", models.ErrRunInFlight, pageID, segment)
	}
	return nil
}

// Release drops a claim if it is still owned by the given run. A claim that
// expired and was re-acquired by another run is left untouched.
func (l *Locker) Release(ctx context.Context, pageID string, segment models.Segment, runID string) {
	key := claimKey(pageID, segment)
	owner, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		l.logger.Printf("releasing claim %s: %v", key, err)
		return
	}
	if owner != runID {
		return
	}
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		l.logger.Printf("releasing claim %s: %v", key, err)
	}
}
