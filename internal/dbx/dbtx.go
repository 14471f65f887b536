// Package dbx is the seam between the repositories and database/sql.
//
// Repositories hold a DBTX and never care whether it is the pool or a
// transaction. WithTx decides which: on the pool it opens a transaction,
// on a transaction it joins it, so services can nest units of work
// without tracking who owns the commit.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is the subset of database/sql used by the repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner opens transactions. *sql.DB and *sql.Conn implement it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// ErrCannotBegin is returned when q is neither a transaction nor able to
// open one.
var ErrCannotBegin = errors.New("dbx: handle cannot begin a transaction")

// WithTx runs fn inside a transaction on q.
//
// When q is already a *sql.Tx, fn runs on it and the outermost WithTx
// keeps control of commit and rollback; opts is ignored. Otherwise a new
// transaction is opened, committed when fn returns nil and rolled back
// when fn fails or panics. Panics are re-raised after the rollback and a
// failed rollback is joined to fn's error.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, q DBTX, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	if tx, ok := q.(*sql.Tx); ok {
		return fn(ctx, tx)
	}
	b, ok := q.(Beginner)
	if !ok {
		return ErrCannotBegin
	}

	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("dbx: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("dbx: rollback: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("dbx: commit: %w", cErr)
		}
	}()

	return fn(ctx, tx)
}
