package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/redis/go-redis/v9"
	"time"
)

// Idempotency remembers which order an Idempotency-Key created.
type Idempotency struct {
	rdb kv
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Claim reserves key for a new request. It returns the order id of a
// completed earlier request, or pos.ErrConflict while one is in flight.
// An abandoned claim expires after TTLIdempotencyInFlight.
func (s *Idempotency) Claim(ctx context.Context, key string) (orderID string, claimed bool, err error) {
	ok, err := s.rdb.SetNX(ctx, idemKey(key), "", TTLIdempotencyInFlight).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}
	id, err := s.rdb.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return s.Claim(ctx, key)
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if id == "" {
		return "", false, fmt.Errorf("%w: request with this idempotency key is in progress", pos.ErrConflict)
	}
	return id, false, nil
}

const completeAttempts = 3

// Complete records the order created under key for TTLIdempotency. The order
// is already committed, so a failed write is retried before giving up.
func (s *Idempotency) Complete(ctx context.Context, key, orderID string) error {
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.rdb.Set(ctx, idemKey(key), orderID, TTLIdempotency).Err(); err == nil {
			return nil
		}
		if attempt == completeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("complete idempotency key: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("complete idempotency key after %d attempts: %w", completeAttempts, err)
}

// Release drops a claim whose request failed so it can be retried.
func (s *Idempotency) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, idemKey(key)).Err()
}
