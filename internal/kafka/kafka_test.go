package kafka

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_BroadcastRoutesByKind(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w, producer: "pos-api"}

	ev, err := outbox.New(pos.EventOrderCreated, pos.AggregateOrder, "o1", pos.OrderCreatedPayload{OrderID: "o1", Code: "ORD-1"}, time.Now())
	require.NoError(t, err)
	ev.Sequence = 1
	ev.Position = 7
	require.NoError(t, p.Broadcast(context.Background(), ev))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "pos.orders", w.msgs[0].Topic)
	assert.Equal(t, "pos.kitchen", w.msgs[1].Topic)
	for _, m := range w.msgs {
		assert.Equal(t, "o1", string(m.Key))
		assert.Equal(t, pos.EventOrderCreated, header(m, "x-event-type"))
		assert.Equal(t, "1", header(m, "x-event-version"))

		env, err := UnmarshalEnvelope(m.Value)
		require.NoError(t, err)
		assert.Equal(t, ev.EventID, env.EventID)
		assert.Equal(t, int64(1), env.Sequence)
		assert.Equal(t, int64(7), env.Position)
		payload, err := UnwrapPayload[pos.OrderCreatedPayload](env.Payload)
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", payload.Code)
	}
}

func TestProducer_WriteErrorIsReturned(t *testing.T) {
	p := &Producer{w: &fakeWriter{err: errors.New("leader not available")}}
	ev, err := outbox.New(pos.EventTableStatusChanged, pos.AggregateTable, "t1", pos.TableStatusChangedPayload{}, time.Now())
	require.NoError(t, err)
	require.Error(t, p.Broadcast(context.Background(), ev))
}

func TestUnmarshalEnvelope_RejectsMissingType(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte(`{"event_id":"x"}`))
	require.Error(t, err)
	_, err = UnmarshalEnvelope([]byte(`not json`))
	require.Error(t, err)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
	once      sync.Once
	fetchErr  error // returned once the queue is empty
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	if r.fetchErr != nil {
		return kafka.Message{}, r.fetchErr
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == 3 {
		r.once.Do(func() { close(r.drained) })
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_RetriesAndCommitsInOrder(t *testing.T) {
	r := &fakeReader{drained: make(chan struct{})}
	for i := int64(0); i < 3; i++ {
		r.queue = append(r.queue, kafka.Message{Topic: "pos.orders", Partition: 0, Offset: i})
	}
	c := newConsumer(r, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retry = time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls[m.Offset]++
			if m.Offset == 1 && calls[m.Offset] == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("messages were not committed")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1, 2}, r.committed)
	assert.Equal(t, 2, calls[1])
}

func TestConsumer_FetchErrorStopsRetryingWorkers(t *testing.T) {
	fetchErr := errors.New("group coordinator gone")
	r := &fakeReader{drained: make(chan struct{}), fetchErr: fetchErr}
	r.queue = []kafka.Message{{Topic: "pos.orders", Partition: 0, Offset: 0}}
	c := newConsumer(r, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retry = time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- c.Start(context.Background(), func(context.Context, kafka.Message) error {
			return errors.New("downstream unavailable")
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, fetchErr)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after a fetch error")
	}
	assert.Empty(t, r.committed)
}

func TestProducer_NilProducerFailsInsteadOfPanicking(t *testing.T) {
	var p *Producer
	ev, err := outbox.New(pos.EventOrderCreated, pos.AggregateOrder, "o1", pos.OrderCreatedPayload{}, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Broadcast(context.Background(), ev), ErrNoProducer)
}
