package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// postgresExecutor runs statements against Postgres. The statement timeout
// is set with SET LOCAL so it dies with the transaction and never leaks
// into the pooled session.
type postgresExecutor struct {
	db   *sql.DB
	opts Options
}

func (e *postgresExecutor) Dialect() string { return "postgres" }

func (e *postgresExecutor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return classifyPostgres(err)
	}
	return nil
}

func (e *postgresExecutor) Close() error { return e.db.Close() }

func (e *postgresExecutor) Probe(ctx context.Context, sqlText string) error {
	return e.inReadOnlyTx(ctx, e.opts.ProbeTimeout, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "EXPLAIN (FORMAT JSON) "+sqlText)
		if err != nil {
			return err
		}
		defer rows.Close()
		return drain(rows)
	})
}

func (e *postgresExecutor) Execute(ctx context.Context, sqlText string) (*Result, error) {
	var res *Result
	start := time.Now()
	err := e.inReadOnlyTx(ctx, e.opts.ExecTimeout, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, sqlText)
		if err != nil {
			return err
		}
		defer rows.Close()
		res, err = scanRows(rows, e.opts.MaxRows)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// inReadOnlyTx runs fn inside a read-only transaction with a server-side
// statement timeout. The transaction is always rolled back.
func (e *postgresExecutor) inReadOnlyTx(ctx context.Context, timeout time.Duration, fn func(context.Context, *sql.Tx) error) error {
	// small grace so the server-side timeout fires before the context does
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classifyPostgres(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return classifyPostgres(err)
	}
	if err := fn(ctx, tx); err != nil {
		return classifyPostgres(err)
	}
	return nil
}
