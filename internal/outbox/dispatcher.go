package outbox

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"log/slog"
	"time"
)

// Store is the read/ack side of the outbox. PendingEvents returns committed,
// undispatched events ordered by Position.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, position int64, at time.Time) error
}

// Broadcaster receives committed events, one at a time, in commit order.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
}

type Dispatcher struct {
	store   Store
	bc      Broadcaster
	log     *slog.Logger
	wake    chan struct{}
	poll    time.Duration
	batch   int
	backoff func(attempt int) time.Duration
}

type Option func(*Dispatcher)

func WithPollInterval(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.poll = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.batch = n
		}
	}
}

// WithBackoff overrides the retry delay after the n-th consecutive failure.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(x *Dispatcher) {
		if fn != nil {
			x.backoff = fn
		}
	}
}

func NewDispatcher(store Store, bc Broadcaster, log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		store:   store,
		bc:      bc,
		log:     log.With("component", "outbox"),
		wake:    make(chan struct{}, 1),
		poll:    time.Second,
		batch:   100,
		backoff: ExponentialBackoff(100*time.Millisecond, 10*time.Second),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ExponentialBackoff doubles base per attempt up to limit.
func ExponentialBackoff(base, limit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < limit; i++ {
			d *= 2
		}
		if d > limit {
			d = limit
		}
		return d
	}
}

// Notify wakes the dispatcher. It is the post-commit hook and never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is done. Failures are retried with backoff
// and never surface to the transactions that produced the events.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	failures := 0
	for {
		_, err := d.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			wait := d.backoff(failures)
			d.log.Warn("dispatch failed, retrying",
				slog.Int("attempt", failures),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// Drain dispatches pending events in order until none remain. It stops at
// the first failure so later events never overtake an undelivered one.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	sent := 0
	for {
		events, err := d.store.PendingEvents(ctx, d.batch)
		if err != nil {
			return sent, fmt.Errorf("load pending: %w", err)
		}
		if len(events) == 0 {
			return sent, nil
		}
		for _, ev := range events {
			if err := d.bc.Broadcast(ctx, ev); err != nil {
				return sent, fmt.Errorf("%w: %s #%d: %v", pos.ErrDispatchFailure, ev.Kind, ev.Position, err)
			}
			// a failed ack means the event is delivered again: at-least-once
			if err := d.store.MarkDispatched(ctx, ev.Position, time.Now().UTC()); err != nil {
				return sent, fmt.Errorf("mark dispatched #%d: %w", ev.Position, err)
			}
			sent++
		}
		if len(events) < d.batch {
			return sent, nil
		}
	}
}
