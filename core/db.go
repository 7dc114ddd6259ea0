package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext

		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}

	// TxRunner runs fn inside a single unit of work.
	// Repositories called with the given executor share the transaction.
	TxRunner interface {
		WithTx(ctx context.Context, fn func(exec DBExecutor) error) error
	}
)

type sqlTxRunner struct {
	db DB
}

// NewTxRunner returns a TxRunner backed by database transactions.
func NewTxRunner(db DB) TxRunner {
	return &sqlTxRunner{db: db}
}

func (r *sqlTxRunner) WithTx(ctx context.Context, fn func(exec DBExecutor) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back transaction: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// NoopTxRunner runs fn directly, with a nil executor: repositories fall back to their own.
type NoopTxRunner struct{}

func (NoopTxRunner) WithTx(_ context.Context, fn func(exec DBExecutor) error) error {
	return fn(nil)
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// FilterOrderings keeps only orderings on allowed fields, so they can safely be used in ORDER BY clauses.
func FilterOrderings(ordering []DBOrdering, allowed ...string) []DBOrdering {
	filtered := make([]DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if ContainsString(allowed, ord.Field) {
			filtered = append(filtered, ord)
		}
	}
	return filtered
}
