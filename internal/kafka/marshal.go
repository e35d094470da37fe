package kafka

import (
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"time"
)

const EnvelopeVersion = 1

// Envelope is the wire form of a committed event on every pos.* topic.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      int64           `json:"sequence"`
	Position      int64           `json:"position,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func EnvelopeFor(ev outbox.Event, producer string) Envelope {
	return Envelope{
		EventID:       ev.EventID,
		EventType:     ev.Kind,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    ev.CreatedAt,
		Producer:      producer,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Sequence:      ev.Sequence,
		Position:      ev.Position,
		Payload:       ev.Payload,
	}
}

func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event_type")
	}
	return env, nil
}

// UnwrapPayload decodes the event-specific payload.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
