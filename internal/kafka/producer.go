package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

// TopicPrefix namespaces the realtime topics on the broker.
const TopicPrefix = "pos."

func BrokerTopic(topic string) string { return TopicPrefix + topic }

var ErrNoProducer = errors.New("kafka producer not configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes synchronously with acks from all replicas, so a nil error
// means the broker has the message and the outbox row may be marked
// dispatched.
type Producer struct {
	w        messageWriter
	producer string
}

func NewProducer(brokers []string, producer string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		producer: producer,
	}
}

// Broadcast implements outbox.Broadcaster. The event goes to every topic
// that observes its kind, keyed by aggregate id so one aggregate stays on
// one partition.
func (p *Producer) Broadcast(ctx context.Context, ev outbox.Event) error {
	if p == nil {
		return ErrNoProducer
	}
	value, err := json.Marshal(EnvelopeFor(ev, p.producer))
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.EventID, err)
	}
	topics := pos.TopicsFor(ev.Kind)
	msgs := make([]kafka.Message, 0, len(topics))
	for _, t := range topics {
		msgs = append(msgs, kafka.Message{
			Topic: BrokerTopic(t),
			Key:   pos.PartitionKey(ev.AggregateID),
			Value: value,
			Time:  ev.CreatedAt,
			Headers: []kafka.Header{
				{Key: "x-event-type", Value: []byte(ev.Kind)},
				{Key: "x-event-version", Value: []byte(strconv.Itoa(EnvelopeVersion))},
				{Key: "x-event-id", Value: []byte(ev.EventID)},
			},
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %s: %w", ev.Kind, err)
	}
	return nil
}

// PublishJSON writes v to a single topic.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v any, headers ...kafka.Header) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	msg := kafka.Message{
		Topic:   BrokerTopic(topic),
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
