package postgres

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type txKey struct{}

type txState struct {
	tx     pgx.Tx
	events int
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// WithTx runs fn in a transaction carried by the context. Nested calls join
// the outer transaction. Row locks wait at most the store's lock timeout.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	st := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	if st.events > 0 {
		s.runHooks()
	}
	return nil
}

func (s *Store) q(ctx context.Context) querier {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return s.pool
}

// lockq returns the transaction a row lock must be taken in.
func (s *Store) lockq(ctx context.Context) (pgx.Tx, error) {
	st := txFrom(ctx)
	if st == nil {
		return nil, errors.New("postgres: lock outside transaction")
	}
	return st.tx, nil
}

// mapErr translates lock and serialization failures to pos.ErrConflict and
// unique violations to pos.ErrDuplicate.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "55P03", "40P01", "40001":
		return fmt.Errorf("%w: %s", pos.ErrConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", pos.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
