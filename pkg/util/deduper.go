package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduper creates a deduper; logger may be nil.
func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given handler + key.
// returns true if this is the FIRST time processing
// returns false if it's a duplicate
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	dedupKey := FormatDedupKey(handler, key)

	ok, err := d.rdb.SetNX(ctx, dedupKey, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，下游本身是幂等的
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("dedup_key", dedupKey),
		)
	}

	return ok
}

// Release drops the dedup lock so a failed attempt can be processed again.
func (d *Deduper) Release(ctx context.Context, handler, key string) {
	if err := d.rdb.Del(ctx, FormatDedupKey(handler, key)).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func FormatDedupKey(handler, key string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, key)
}
