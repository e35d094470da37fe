// Package notify derives advisory notifications from committed events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/clock"
	kafkax "github.com/ariefcatur/resto-pos/internal/kafka"
	"github.com/ariefcatur/resto-pos/internal/pos"
	kafkago "github.com/segmentio/kafka-go"
	"log/slog"
	"time"
)

const (
	KindReadyToServe      = "READY_TO_SERVE"
	KindWaitingForPayment = "WAITING_FOR_PAYMENT"
	KindTableFreed        = "TABLE_FREED"
)

// Notification is advisory: losing or repeating one never affects state.
type Notification struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	OrderID       string    `json:"order_id"`
	OrderCode     string    `json:"order_code,omitempty"`
	TableID       string    `json:"table_id,omitempty"`
	TableName     string    `json:"table_name,omitempty"`
	ItemID        string    `json:"item_id,omitempty"`
	Message       string    `json:"message"`
	SourceEventID string    `json:"source_event_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderReader is the read access the rules need.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (pos.Order, error)
	ListItems(ctx context.Context, orderID string) ([]pos.OrderItem, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type KafkaPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any, headers ...kafkago.Header) error
}

type FanoutPublisher interface {
	PublishNotification(ctx context.Context, messageID string, v any) error
}

type Service struct {
	orders OrderReader
	dedup  Deduper
	kafka  KafkaPublisher
	fanout FanoutPublisher // optional
	clock  clock.Clock
	log    *slog.Logger
}

func NewService(orders OrderReader, dedup Deduper, kafka KafkaPublisher, fanout FanoutPublisher, clk clock.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{orders: orders, dedup: dedup, kafka: kafka, fanout: fanout, clock: clk, log: log.With("component", "notifier")}
}

// HandleEvent is the consumer handler for the pos.orders and pos.kitchen
// topics. A failed attempt clears the dedup mark so the redelivery runs the
// rules again.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.log.Warn("skipping undecodable message", slog.String("topic", m.Topic), slog.Int64("offset", m.Offset), slog.String("error", err.Error()))
		return nil
	}
	if env.EventType != pos.EventOrderItemStatusChanged && env.EventType != pos.EventPaymentSettled {
		return nil
	}

	first, err := s.dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	notes, err := s.Evaluate(ctx, env)
	if err == nil {
		err = s.publish(ctx, notes)
	}
	if err != nil {
		if ferr := s.dedup.Forget(ctx, env.EventID); ferr != nil {
			s.log.Warn("dedup reset failed", slog.String("event_id", env.EventID), slog.String("error", ferr.Error()))
		}
		return err
	}
	return nil
}

// Evaluate applies the rules to one event.
func (s *Service) Evaluate(ctx context.Context, env kafkax.Envelope) ([]Notification, error) {
	now := s.clock.Now()
	switch env.EventType {
	case pos.EventOrderItemStatusChanged:
		p, err := kafkax.UnwrapPayload[pos.OrderItemStatusChangedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		if p.NewStatus != string(pos.ItemDone) {
			return nil, nil
		}
		notes := []Notification{{
			ID:        env.EventID + ":" + KindReadyToServe,
			Kind:      KindReadyToServe,
			OrderID:   p.OrderID,
			OrderCode: p.OrderCode,
			TableID:   p.TableID,
			TableName: p.TableName,
			ItemID:    p.ItemID,
			Message:   fmt.Sprintf("%dx %s ready to serve%s", p.Quantity, p.DishName, at(p.TableName)),
		}}
		waiting, err := s.waitingForPayment(ctx, p.OrderID)
		if err != nil {
			return nil, err
		}
		if waiting {
			notes = append(notes, Notification{
				ID:        env.EventID + ":" + KindWaitingForPayment,
				Kind:      KindWaitingForPayment,
				OrderID:   p.OrderID,
				OrderCode: p.OrderCode,
				TableID:   p.TableID,
				TableName: p.TableName,
				Message:   fmt.Sprintf("order %s served, waiting for payment%s", p.OrderCode, at(p.TableName)),
			})
		}
		return stamp(notes, env.EventID, now), nil

	case pos.EventPaymentSettled:
		p, err := kafkax.UnwrapPayload[pos.PaymentSettledPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		if p.TableID == "" {
			return nil, nil
		}
		return stamp([]Notification{{
			ID:        env.EventID + ":" + KindTableFreed,
			Kind:      KindTableFreed,
			OrderID:   p.OrderID,
			OrderCode: p.OrderCode,
			TableID:   p.TableID,
			Message:   fmt.Sprintf("order %s paid, table is free", p.OrderCode),
		}}, env.EventID, now), nil
	}
	return nil, nil
}

// waitingForPayment reports whether a SERVING order has every remaining item
// DONE.
func (s *Service) waitingForPayment(ctx context.Context, orderID string) (bool, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Status != pos.OrderServing {
		return false, nil
	}
	items, err := s.orders.ListItems(ctx, orderID)
	if err != nil {
		return false, err
	}
	done := 0
	for _, it := range items {
		switch it.Status {
		case pos.ItemDone:
			done++
		case pos.ItemCanceled:
		default:
			return false, nil
		}
	}
	return done > 0, nil
}

func (s *Service) publish(ctx context.Context, notes []Notification) error {
	for _, n := range notes {
		if err := s.kafka.PublishJSON(ctx, pos.TopicNotifications, n.OrderID, n,
			kafkago.Header{Key: "x-event-type", Value: []byte(n.Kind)},
		); err != nil {
			return err
		}
		if s.fanout != nil {
			if err := s.fanout.PublishNotification(ctx, n.ID, n); err != nil {
				return err
			}
		}
		s.log.Info("notification published", slog.String("kind", n.Kind), slog.String("order_id", n.OrderID))
	}
	return nil
}

func stamp(notes []Notification, source string, now time.Time) []Notification {
	for i := range notes {
		notes[i].SourceEventID = source
		notes[i].CreatedAt = now
	}
	return notes
}

func at(table string) string {
	if table == "" {
		return ""
	}
	return " at " + table
}

// DecodeNotification parses a pos.notifications message.
func DecodeNotification(b []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}
