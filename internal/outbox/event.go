// Package outbox holds domain events written in the same transaction as the
// state change they describe and hands them to a Broadcaster only after that
// transaction has committed.
package outbox

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"time"
)

type State string

const (
	StatePending    State = "PENDING"
	StateDispatched State = "DISPATCHED"
)

// Event is one outbox row. Position and Sequence are assigned by the store:
// Position follows commit order across transactions, Sequence counts events
// per aggregate starting at 1.
type Event struct {
	Position      int64           `json:"position"`
	EventID       string          `json:"event_id"`
	Kind          string          `json:"kind"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      int64           `json:"sequence"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	State         State           `json:"-"`
	Attempts      int             `json:"-"`
	DispatchedAt  *time.Time      `json:"-"`
}

// New builds a pending event with a JSON payload.
func New(kind, aggregateType, aggregateID string, payload any, at time.Time) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		EventID:       uuid.NewString(),
		Kind:          kind,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       b,
		CreatedAt:     at,
		State:         StatePending,
	}, nil
}

// Batch collects events produced by one use case.
type Batch struct {
	events []Event
	err    error
}

func (b *Batch) Add(kind, aggregateType, aggregateID string, payload any, at time.Time) {
	if b.err != nil {
		return
	}
	ev, err := New(kind, aggregateType, aggregateID, payload, at)
	if err != nil {
		b.err = err
		return
	}
	b.events = append(b.events, ev)
}

// Events returns the collected events in append order, or the first
// marshalling error.
func (b *Batch) Events() ([]Event, error) {
	return b.events, b.err
}
