// Package storage defines the transaction boundary shared by all stores.
//
// Every ingestion operation (member upsert, activity upsert, link
// resolution, conversation changes) runs inside a single transaction so a
// failure at any step leaves no partial linkage behind. Stores take an
// explicit Tx handle rather than opening their own, which lets the engine
// compose them inside one atomic scope.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrWrongTx is returned when a store receives a transaction handle that
// was not produced by its own backend.
var ErrWrongTx = errors.New("transaction handle belongs to a different storage backend")

// Tx is an open transaction. It must be finished with exactly one of
// Commit or Rollback.
type Tx interface {
	Commit() error
	Rollback() error
}

// Manager begins transactions for a storage backend.
type Manager interface {
	Begin(ctx context.Context) (Tx, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func WithTx(ctx context.Context, mgr Manager, fn func(tx Tx) error) error {
	tx, err := mgr.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	return nil
}
