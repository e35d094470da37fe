package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeKV struct {
	mu       sync.Mutex
	data     map[string]string
	ttl      map[string]time.Duration
	down     bool
	failSets int // fail this many Set calls before succeeding
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}, ttl: map[string]time.Duration{}} }

var errDown = errors.New("connection refused")

func str(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStringResult("", errDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errDown)
	}
	if f.failSets > 0 {
		f.failSets--
		return redis.NewStatusResult("", errDown)
	}
	f.data[key] = str(value)
	f.ttl[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewBoolResult(false, errDown)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = str(value)
	f.ttl[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewIntResult(0, errDown)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeKV) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewIntResult(0, errDown)
	}
	n, _ := strconv.ParseInt(f.data[key], 10, 64)
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

// expire simulates the key's TTL running out.
func (f *fakeKV) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.ttl, key)
}

func (f *fakeKV) ttlOf(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttl[key]
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestViewCache_ReadThroughAndInvalidate(t *testing.T) {
	kv := newFakeKV()
	c := newViewCache(kv, quietLog())
	ctx := context.Background()

	fills := 0
	fill := func(context.Context) (any, error) {
		fills++
		return map[string]int{"fills": fills}, nil
	}

	b, err := c.Fetch(ctx, ViewTables, fill)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fills":1}`, string(b))

	b, err = c.Fetch(ctx, ViewTables, fill)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fills":1}`, string(b))

	ev, err := outbox.New(pos.EventTableStatusChanged, pos.AggregateTable, "t1", pos.TableStatusChangedPayload{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, c.Broadcast(ctx, ev))

	b, err = c.Fetch(ctx, ViewTables, fill)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fills":2}`, string(b))
}

func TestViewCache_CommitDuringFillIsNotServedStale(t *testing.T) {
	kv := newFakeKV()
	c := newViewCache(kv, quietLog())
	ctx := context.Background()

	state := "old"
	ev, err := outbox.New(pos.EventOrderCreated, pos.AggregateOrder, "o1", pos.OrderCreatedPayload{}, time.Now())
	require.NoError(t, err)

	// the fill reads state, then a commit and its invalidation land before
	// the fill stores its result
	b, err := c.Fetch(ctx, ViewTables, func(context.Context) (any, error) {
		seen := state
		state = "new"
		require.NoError(t, c.Broadcast(ctx, ev))
		return seen, nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"old"`, string(b))

	b, err = c.Fetch(ctx, ViewTables, func(context.Context) (any, error) { return state, nil })
	require.NoError(t, err)
	assert.JSONEq(t, `"new"`, string(b))

	// and the fresh result is cached again
	b, err = c.Fetch(ctx, ViewTables, func(context.Context) (any, error) { return "unused", nil })
	require.NoError(t, err)
	assert.JSONEq(t, `"new"`, string(b))
}

func TestViewCache_InvalidatesOnlyAffectedViews(t *testing.T) {
	kv := newFakeKV()
	c := newViewCache(kv, quietLog())
	ctx := context.Background()
	fill := func(v string) func(context.Context) (any, error) {
		return func(context.Context) (any, error) { return v, nil }
	}

	_, err := c.Fetch(ctx, ViewTables, fill("t1"))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, ViewKitchen, fill("k1"))
	require.NoError(t, err)

	ev, err := outbox.New(pos.EventTableStatusChanged, pos.AggregateTable, "t1", pos.TableStatusChangedPayload{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, c.Broadcast(ctx, ev))

	b, err := c.Fetch(ctx, ViewTables, fill("t2"))
	require.NoError(t, err)
	assert.JSONEq(t, `"t2"`, string(b))
	b, err = c.Fetch(ctx, ViewKitchen, fill("k2"))
	require.NoError(t, err)
	assert.JSONEq(t, `"k1"`, string(b))
}

func TestViewCache_RedisDownFallsBackToFill(t *testing.T) {
	kv := newFakeKV()
	kv.down = true
	c := newViewCache(kv, quietLog())

	b, err := c.Fetch(context.Background(), ViewKitchen, func(context.Context) (any, error) { return []string{"a"}, nil })
	require.NoError(t, err)
	assert.JSONEq(t, `["a"]`, string(b))

	ev, err := outbox.New(pos.EventOrderCreated, pos.AggregateOrder, "o1", pos.OrderCreatedPayload{}, time.Now())
	require.NoError(t, err)
	assert.NoError(t, c.Broadcast(context.Background(), ev))
}

func TestViewCache_NilCacheIgnoresEvents(t *testing.T) {
	var c *ViewCache
	ev, err := outbox.New(pos.EventOrderCreated, pos.AggregateOrder, "o1", pos.OrderCreatedPayload{}, time.Now())
	require.NoError(t, err)
	assert.NoError(t, c.Broadcast(context.Background(), ev))
}

func TestIdempotency_ClaimCompleteRelease(t *testing.T) {
	s := &Idempotency{rdb: newFakeKV()}
	ctx := context.Background()

	_, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, _, err = s.Claim(ctx, "k1")
	require.ErrorIs(t, err, pos.ErrConflict)

	require.NoError(t, s.Complete(ctx, "k1", "order-1"))
	id, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", id)

	_, claimed, err = s.Claim(ctx, "k2")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.Release(ctx, "k2"))
	_, claimed, err = s.Claim(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotency_AbandonedClaimExpiresQuickly(t *testing.T) {
	kv := newFakeKV()
	s := &Idempotency{rdb: kv}
	ctx := context.Background()

	_, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, TTLIdempotencyInFlight, kv.ttlOf(idemKey("k1")))
	assert.Less(t, TTLIdempotencyInFlight, TTLIdempotency)

	// the request died before Complete; the claim runs out
	kv.expire(idemKey("k1"))
	_, claimed, err = s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, s.Complete(ctx, "k1", "order-1"))
	assert.Equal(t, TTLIdempotency, kv.ttlOf(idemKey("k1")))
}

func TestIdempotency_CompleteRetriesTransientFailures(t *testing.T) {
	kv := newFakeKV()
	s := &Idempotency{rdb: kv}
	ctx := context.Background()

	_, _, err := s.Claim(ctx, "k1")
	require.NoError(t, err)

	kv.failSets = completeAttempts - 1
	require.NoError(t, s.Complete(ctx, "k1", "order-1"))
	id, claimed, err := s.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", id)

	_, _, err = s.Claim(ctx, "k2")
	require.NoError(t, err)
	kv.failSets = completeAttempts
	assert.Error(t, s.Complete(ctx, "k2", "order-2"))
}

func TestDeduper_FirstSeen(t *testing.T) {
	d := &Deduper{rdb: newFakeKV(), service: "notifier"}
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.FirstSeen(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, "e1"))
	first, err = d.FirstSeen(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, first)
}
