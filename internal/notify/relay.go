package notify

import (
	"context"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/ariefcatur/resto-pos/internal/realtime"
	kafkago "github.com/segmentio/kafka-go"
	"log/slog"
)

// Publisher is the Hub side of the relay.
type Publisher interface {
	Publish(msg realtime.Message)
}

// Relay returns a consumer handler that forwards pos.notifications into the
// in-process notifications topic.
func Relay(hub Publisher, log *slog.Logger) func(ctx context.Context, m kafkago.Message) error {
	if log == nil {
		log = slog.Default()
	}
	return func(_ context.Context, m kafkago.Message) error {
		n, err := DecodeNotification(m.Value)
		if err != nil {
			log.Warn("skipping undecodable notification", slog.Int64("offset", m.Offset), slog.String("error", err.Error()))
			return nil
		}
		hub.Publish(realtime.Message{
			Topic:         pos.TopicNotifications,
			EventID:       n.ID,
			Kind:          n.Kind,
			AggregateType: pos.AggregateOrder,
			AggregateID:   n.OrderID,
			OccurredAt:    n.CreatedAt,
			Payload:       m.Value,
		})
		return nil
	}
}
