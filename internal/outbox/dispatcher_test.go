package outbox

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu     sync.Mutex
	events []Event
	acked  []int64
}

func (f *fakeStore) PendingEvents(_ context.Context, limit int) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.State == StatePending {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkDispatched(_ context.Context, position int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].Position == position {
			f.events[i].State = StateDispatched
		}
	}
	f.acked = append(f.acked, position)
	return nil
}

type recorder struct {
	mu       sync.Mutex
	got      []int64
	failNext int
}

func (r *recorder) Broadcast(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return errors.New("broker unavailable")
	}
	r.got = append(r.got, ev.Position)
	return nil
}

func (r *recorder) positions() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.got...)
}

func pending(n int) []Event {
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Event{Position: int64(i), Kind: pos.EventOrderCreated, State: StatePending})
	}
	return out
}

func TestDrain_DispatchesInPositionOrder(t *testing.T) {
	store := &fakeStore{events: pending(5)}
	rec := &recorder{}
	d := NewDispatcher(store, rec, nil, WithBatchSize(2))

	n, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, rec.positions())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, store.acked)

	n, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrain_StopsAtFirstFailure(t *testing.T) {
	store := &fakeStore{events: pending(3)}
	rec := &recorder{failNext: 1}
	d := NewDispatcher(store, rec, nil)

	n, err := d.Drain(context.Background())
	require.ErrorIs(t, err, pos.ErrDispatchFailure)
	assert.Zero(t, n)
	assert.Empty(t, store.acked)

	n, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, rec.positions())
}

func TestRun_RetriesWithBackoffUntilDelivered(t *testing.T) {
	store := &fakeStore{events: pending(2)}
	rec := &recorder{failNext: 3}
	d := NewDispatcher(store, rec, nil,
		WithPollInterval(time.Hour),
		WithBackoff(func(int) time.Duration { return time.Millisecond }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(rec.positions()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []int64{1, 2}, rec.positions())
}

func TestNotify_WakesRun(t *testing.T) {
	store := &fakeStore{}
	rec := &recorder{}
	d := NewDispatcher(store, rec, nil, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	store.mu.Lock()
	store.events = pending(1)
	store.mu.Unlock()
	d.Notify()
	d.Notify() // never blocks

	require.Eventually(t, func() bool { return len(rec.positions()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 800*time.Millisecond, b(4))
	assert.Equal(t, time.Second, b(10))
}

func TestBatch_CollectsInAppendOrder(t *testing.T) {
	var b Batch
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.Add(pos.EventOrderCreated, pos.AggregateOrder, "o1", map[string]string{"a": "b"}, at)
	b.Add(pos.EventTableStatusChanged, pos.AggregateTable, "t1", map[string]string{}, at)
	b.Add("Broken", pos.AggregateOrder, "o1", func() {}, at)
	b.Add(pos.EventPaymentSettled, pos.AggregateOrder, "o1", nil, at)

	events, err := b.Events()
	require.Error(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, pos.EventOrderCreated, events[0].Kind)
	assert.Equal(t, StatePending, events[0].State)
	assert.NotEmpty(t, events[0].EventID)
	assert.JSONEq(t, `{"a":"b"}`, string(events[0].Payload))
}
