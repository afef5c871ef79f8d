package assistantstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type txKey struct{}

// querier is the subset of *sql.DB and *sql.Tx the stores use, so every
// query can transparently run inside an ambient transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside one sqlite transaction. Store calls made with the
// context fn receives join that transaction. Nested calls reuse the ambient
// transaction instead of opening a new one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s == nil || s.db == nil {
		return errors.New("assistant store: db is nil")
	}
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "assistant store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "assistant store: commit tx")
	}
	committed = true
	return nil
}
