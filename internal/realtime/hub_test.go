package realtime

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func itemEvent(seq int64) outbox.Event {
	return outbox.Event{
		EventID:       "ev",
		Kind:          pos.EventOrderItemStatusChanged,
		AggregateType: pos.AggregateOrder,
		AggregateID:   "o1",
		Sequence:      seq,
		Payload:       []byte(`{}`),
	}
}

func TestHub_RoutesByTopic(t *testing.T) {
	h := NewHub(nil)
	kitchen := h.Subscribe(pos.TopicKitchen, 4)
	tables := h.Subscribe(pos.TopicTables, 4)
	defer kitchen.Close()
	defer tables.Close()

	require.NoError(t, h.Broadcast(context.Background(), itemEvent(1)))
	require.NoError(t, h.Broadcast(context.Background(), itemEvent(2)))

	m1 := <-kitchen.C
	m2 := <-kitchen.C
	assert.Equal(t, int64(1), m1.Sequence)
	assert.Equal(t, int64(2), m2.Sequence)
	assert.Equal(t, pos.TopicKitchen, m1.Topic)
	assert.Len(t, tables.C, 0)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	s := h.Subscribe(pos.TopicKitchen, 1)

	require.NoError(t, h.Broadcast(context.Background(), itemEvent(1)))
	require.NoError(t, h.Broadcast(context.Background(), itemEvent(2)))

	assert.Zero(t, h.Subscribers(pos.TopicKitchen))
	<-s.C
	_, open := <-s.C
	assert.False(t, open)
	s.Close()
}

type failingSink struct{ calls int }

func (f *failingSink) Broadcast(context.Context, outbox.Event) error {
	f.calls++
	return errors.New("down")
}

func TestFanout_FailsWhenAnySinkFails(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe(pos.TopicOrders, 4)
	bad := &failingSink{}

	err := NewFanout(h, nil, bad).Broadcast(context.Background(), itemEvent(1))
	require.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, sub.C, 1)
}

func TestFanout_TypedNilSinkDoesNotPanic(t *testing.T) {
	var missing *Hub
	h := NewHub(nil)
	sub := h.Subscribe(pos.TopicOrders, 4)

	require.NotPanics(t, func() {
		require.NoError(t, NewFanout(missing, h).Broadcast(context.Background(), itemEvent(1)))
	})
	assert.Len(t, sub.C, 1)
}
