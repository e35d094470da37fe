package memstore

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func event(t *testing.T, aggregateID string) outbox.Event {
	t.Helper()
	ev, err := outbox.New(pos.EventOrderStatusChanged, pos.AggregateOrder, aggregateID, map[string]string{}, time.Now())
	require.NoError(t, err)
	return ev
}

func TestWithTx_WritesInvisibleUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, s.CreateTable(txCtx, pos.Table{ID: "t1", Name: "A", Status: pos.TableAvailable}))
		_, err := s.GetTable(txCtx, "t1")
		require.NoError(t, err)

		_, err = s.GetTable(ctx, "t1")
		require.ErrorIs(t, err, pos.ErrTableNotFound)
		return nil
	})
	require.NoError(t, err)

	_, err = s.GetTable(ctx, "t1")
	require.NoError(t, err)
}

func TestWithTx_RollbackDiscardsWritesAndEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	hooks := 0
	s.OnCommit(func() { hooks++ })

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.CreateTable(ctx, pos.Table{ID: "t1", Name: "A"}))
		require.NoError(t, s.AppendEvents(ctx, []outbox.Event{event(t, "o1")}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetTable(ctx, "t1")
	require.ErrorIs(t, err, pos.ErrTableNotFound)
	assert.Empty(t, s.Events())
	assert.Zero(t, hooks)
}

func TestCommit_AssignsPositionsAndSequences(t *testing.T) {
	s := New()
	ctx := context.Background()
	hooks := 0
	s.OnCommit(func() { hooks++ })

	for _, agg := range [][]string{{"o1", "o2"}, {"o1"}, {"o2", "o1"}} {
		var batch []outbox.Event
		for _, id := range agg {
			batch = append(batch, event(t, id))
		}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context) error {
			return s.AppendEvents(ctx, batch)
		}))
	}

	events := s.Events()
	require.Len(t, events, 5)
	var o1 []int64
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Position)
		if ev.AggregateID == "o1" {
			o1 = append(o1, ev.Sequence)
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, o1)
	assert.Equal(t, 3, hooks)

	pending, err := s.PendingEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NoError(t, s.MarkDispatched(ctx, 1, time.Now()))
	pending, err = s.PendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	assert.Equal(t, int64(2), pending[0].Position)
}

func TestLock_TimesOutWithConflict(t *testing.T) {
	s := New(WithLockTimeout(30 * time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, pos.Table{ID: "t1", Name: "A"}))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.LockTables(ctx, "t1"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.LockTables(ctx, "t1")
		return err
	})
	require.ErrorIs(t, err, pos.ErrConflict)

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.LockTables(ctx, "t1", "t1")
		return err
	}))
}

func TestLock_RequiresTransaction(t *testing.T) {
	s := New()
	_, err := s.LockOrder(context.Background(), "o1")
	require.Error(t, err)
}
