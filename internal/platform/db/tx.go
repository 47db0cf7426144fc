package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxStarter begins transactions; *pgxpool.Pool and *pgx.Conn satisfy it.
type TxStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// snapshotTx is the isolation every multi-query report read uses.
var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// WithReadOnlyTx runs fn against one read-only snapshot. When ctx carries a
// deadline the server-side statement_timeout is capped to the time left, so a
// query the client gave up on does not keep running in Postgres.
func WithReadOnlyTx(ctx context.Context, db TxStarter, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, snapshotTx)
	if err != nil {
		return fmt.Errorf("platform/db: begin read-only tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := limitStatements(ctx, tx, time.Until(deadline)); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit read-only tx: %w", err)
	}
	return nil
}

func limitStatements(ctx context.Context, tx pgx.Tx, left time.Duration) error {
	ms := left.Milliseconds()
	if ms < 1 {
		return fmt.Errorf("platform/db: %w", context.DeadlineExceeded)
	}
	// SET cannot take bind parameters; set_config can.
	if _, err := tx.Exec(ctx, "SELECT set_config('statement_timeout', $1, true)", fmt.Sprintf("%dms", ms)); err != nil {
		return fmt.Errorf("platform/db: statement timeout: %w", err)
	}
	return nil
}
