package main

import (
	"context"
	"database/sql"
	"time"

	"perimeter/internal/ledger"
	dErrors "perimeter/pkg/domain-errors"
	txcontext "perimeter/pkg/platform/tx"
)

const defaultLedgerTxTimeout = 5 * time.Second

// ledgerPostgresTx runs engine mutations inside a single database
// transaction. The transaction rides in the context; the ledger store picks
// it up and routes every statement through it.
type ledgerPostgresTx struct {
	db      *sql.DB
	store   *ledger.PostgresStore
	timeout time.Duration
}

func newLedgerPostgresTx(db *sql.DB, store *ledger.PostgresStore, timeout time.Duration) *ledgerPostgresTx {
	return &ledgerPostgresTx{db: db, store: store, timeout: timeout}
}

func (t *ledgerPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultLedgerTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
