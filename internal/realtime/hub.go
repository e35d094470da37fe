// Package realtime fans committed events out to topic subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"log/slog"
	"sync"
	"time"
)

// Message is what subscribers receive. Sequence is per aggregate and lets
// consumers drop duplicates.
type Message struct {
	Topic         string          `json:"topic"`
	EventID       string          `json:"event_id"`
	Kind          string          `json:"kind"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      int64           `json:"sequence"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func messageFor(topic string, ev outbox.Event) Message {
	return Message{
		Topic:         topic,
		EventID:       ev.EventID,
		Kind:          ev.Kind,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Sequence:      ev.Sequence,
		OccurredAt:    ev.CreatedAt,
		Payload:       ev.Payload,
	}
}

type Subscription struct {
	C     <-chan Message
	c     chan Message
	topic string
	hub   *Hub
	once  sync.Once
}

// Close detaches the subscription; C is closed afterwards.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is the in-process topic fan-out used by SSE streams. A subscriber whose
// buffer is full is dropped rather than allowed to stall the dispatcher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log.With("component", "hub"),
	}
}

func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	c := make(chan Message, buffer)
	s := &Subscription{C: c, c: c, topic: topic, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.topic][s]; ok {
		delete(h.subs[s.topic], s)
		close(s.c)
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Broadcast implements outbox.Broadcaster. It never fails.
func (h *Hub) Broadcast(_ context.Context, ev outbox.Event) error {
	if h == nil {
		return nil
	}
	for _, topic := range pos.TopicsFor(ev.Kind) {
		h.Publish(messageFor(topic, ev))
	}
	return nil
}

// Publish delivers msg to every subscriber of msg.Topic.
func (h *Hub) Publish(msg Message) {
	var slow []*Subscription

	h.mu.RLock()
	for s := range h.subs[msg.Topic] {
		select {
		case s.c <- msg:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.log.Warn("dropping slow subscriber", slog.String("topic", msg.Topic))
		s.Close()
	}
}
