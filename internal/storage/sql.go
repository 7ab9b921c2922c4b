package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLManager begins database/sql transactions against Postgres.
type SQLManager struct {
	db *sql.DB
}

func NewSQLManager(db *sql.DB) *SQLManager { return &SQLManager{db: db} }

func (m *SQLManager) Begin(ctx context.Context) (Tx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &SQLTx{tx: tx}, nil
}

// SQLTx wraps *sql.Tx behind the backend-neutral Tx interface.
type SQLTx struct {
	tx *sql.Tx
}

func (t *SQLTx) Commit() error   { return t.tx.Commit() }
func (t *SQLTx) Rollback() error { return t.tx.Rollback() }

// Unwrap returns the underlying *sql.Tx for use by Postgres stores.
func Unwrap(tx Tx) (*sql.Tx, error) {
	st, ok := tx.(*SQLTx)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrWrongTx, tx)
	}
	return st.tx, nil
}
