package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"strconv"
)

// Cached view names.
const (
	ViewTables  = "tables"
	ViewKitchen = "kitchen"
)

// ViewCache is a read-through cache of JSON read models. Redis being down
// degrades to always computing the view.
//
// Every view has a generation counter that Broadcast increments. A cached
// entry is served only while its generation is current, so a fill that raced
// with a commit can never be served after that commit's invalidation.
type ViewCache struct {
	rdb kv
	log *slog.Logger
}

type cachedView struct {
	Gen  int64           `json:"gen"`
	View json.RawMessage `json:"view"`
}

func NewViewCache(rdb *redis.Client, log *slog.Logger) *ViewCache {
	return newViewCache(rdb, log)
}

func newViewCache(rdb kv, log *slog.Logger) *ViewCache {
	if log == nil {
		log = slog.Default()
	}
	return &ViewCache{rdb: rdb, log: log.With("component", "view-cache")}
}

func (c *ViewCache) generation(ctx context.Context, name string) (int64, error) {
	s, err := c.rdb.Get(ctx, viewGenKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// Fetch returns the cached view or computes, stores and returns it.
func (c *ViewCache) Fetch(ctx context.Context, name string, fill func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	gen, err := c.generation(ctx, name)
	if err != nil {
		// without a generation nothing may be cached safely
		c.log.Warn("cache read failed", slog.String("view", name), slog.String("error", err.Error()))
		return c.compute(ctx, name, fill)
	}

	raw, err := c.rdb.Get(ctx, viewKey(name)).Bytes()
	switch {
	case err == nil:
		var cv cachedView
		if json.Unmarshal(raw, &cv) == nil && cv.Gen == gen {
			return cv.View, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("cache read failed", slog.String("view", name), slog.String("error", err.Error()))
	}

	b, err := c.compute(ctx, name, fill)
	if err != nil {
		return nil, err
	}
	// stamped with the generation read before the fill; a commit landing
	// meanwhile bumps the counter and orphans this entry
	entry, err := json.Marshal(cachedView{Gen: gen, View: b})
	if err != nil {
		return nil, fmt.Errorf("encode view %s: %w", name, err)
	}
	if err := c.rdb.Set(ctx, viewKey(name), entry, TTLView).Err(); err != nil {
		c.log.Warn("cache write failed", slog.String("view", name), slog.String("error", err.Error()))
	}
	return b, nil
}

func (c *ViewCache) compute(ctx context.Context, name string, fill func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	v, err := fill(ctx)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode view %s: %w", name, err)
	}
	return b, nil
}

// Broadcast implements outbox.Broadcaster by advancing the generation of the
// views an event makes stale. Failures are logged; the TTL bounds staleness.
func (c *ViewCache) Broadcast(ctx context.Context, ev outbox.Event) error {
	if c == nil {
		return nil
	}
	stale := map[string]bool{}
	for _, topic := range pos.TopicsFor(ev.Kind) {
		switch topic {
		case pos.TopicTables, pos.TopicOrders:
			stale[ViewTables] = true
		case pos.TopicKitchen:
			stale[ViewKitchen] = true
		}
	}
	for _, name := range []string{ViewTables, ViewKitchen} {
		if !stale[name] {
			continue
		}
		if err := c.rdb.Incr(ctx, viewGenKey(name)).Err(); err != nil {
			c.log.Warn("cache invalidation failed", slog.String("view", name), slog.String("kind", ev.Kind), slog.String("error", err.Error()))
			continue
		}
		// the entry is orphaned already; dropping it only frees memory
		_ = c.rdb.Del(ctx, viewKey(name)).Err()
	}
	return nil
}
