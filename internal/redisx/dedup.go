package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// Deduper marks event ids as processed per consuming service.
type Deduper struct {
	rdb     kv
	service string
}

func NewDeduper(rdb *redis.Client, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service}
}

// FirstSeen records id and reports whether this is its first delivery.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(d.service, id), 1, TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", id, err)
	}
	return ok, nil
}

// Forget clears id after a failed attempt so a redelivery is processed.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, dedupKey(d.service, id)).Err()
}
