package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"time"
)

// outboxLockID serializes outbox writers so position order is commit order.
const outboxLockID int64 = 734501202

// AppendEvents writes pending rows in the caller's transaction. The
// transaction holds the outbox advisory lock until it ends, so a later
// position can never commit before an earlier one.
func (s *Store) AppendEvents(ctx context.Context, events []outbox.Event) error {
	if len(events) == 0 {
		return nil
	}
	if txFrom(ctx) == nil {
		return s.WithTx(ctx, func(ctx context.Context) error { return s.AppendEvents(ctx, events) })
	}
	st := txFrom(ctx)
	if _, err := st.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, outboxLockID); err != nil {
		return mapErr(fmt.Errorf("outbox lock: %w", err))
	}
	for _, ev := range events {
		var seq int64
		err := st.tx.QueryRow(ctx, `
			INSERT INTO outbox_sequences (aggregate_type, aggregate_id, last_sequence)
			VALUES ($1, $2, 1)
			ON CONFLICT (aggregate_type, aggregate_id)
			DO UPDATE SET last_sequence = outbox_sequences.last_sequence + 1
			RETURNING last_sequence`, ev.AggregateType, ev.AggregateID).Scan(&seq)
		if err != nil {
			return mapErr(fmt.Errorf("outbox sequence: %w", err))
		}
		_, err = st.tx.Exec(ctx, `
			INSERT INTO outbox (event_id, kind, aggregate_type, aggregate_id, sequence, payload, created_at, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING')`,
			ev.EventID, ev.Kind, ev.AggregateType, ev.AggregateID, seq, []byte(ev.Payload), ev.CreatedAt)
		if err != nil {
			return mapErr(fmt.Errorf("append outbox event: %w", err))
		}
	}
	st.events += len(events)
	return nil
}

// PendingEvents returns undispatched rows in position order; limit 0 means
// all of them.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT position, event_id, kind, aggregate_type, aggregate_id, sequence, payload,
			created_at, state, attempts, dispatched_at
		FROM outbox
		WHERE state = 'PENDING'
		ORDER BY position
		LIMIT NULLIF($1::int, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}
	defer rows.Close()
	var out []outbox.Event
	for rows.Next() {
		var (
			ev      outbox.Event
			payload []byte
		)
		if err := rows.Scan(&ev.Position, &ev.EventID, &ev.Kind, &ev.AggregateType, &ev.AggregateID,
			&ev.Sequence, &payload, &ev.CreatedAt, &ev.State, &ev.Attempts, &ev.DispatchedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) MarkDispatched(ctx context.Context, position int64, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET state = 'DISPATCHED', attempts = attempts + 1, dispatched_at = $2
		WHERE position = $1`, position, at)
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("postgres: no outbox event at position %d", position)
	}
	return nil
}
