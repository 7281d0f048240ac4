package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// mysqlExecutor runs statements against MySQL behind the same interface as
// the Postgres executor. The timeout uses max_execution_time, which only
// applies to SELECT, which is all the validator lets through.
type mysqlExecutor struct {
	db   *sql.DB
	opts Options
}

func (e *mysqlExecutor) Dialect() string { return "mysql" }

func (e *mysqlExecutor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return classifyMySQL(err)
	}
	return nil
}

func (e *mysqlExecutor) Close() error { return e.db.Close() }

func (e *mysqlExecutor) Probe(ctx context.Context, sqlText string) error {
	return e.inReadOnlyTx(ctx, e.opts.ProbeTimeout, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "EXPLAIN FORMAT=JSON "+sqlText)
		if err != nil {
			return err
		}
		defer rows.Close()
		return drain(rows)
	})
}

func (e *mysqlExecutor) Execute(ctx context.Context, sqlText string) (*Result, error) {
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

func (e *mysqlExecutor) inReadOnlyTx(ctx context.Context, timeout time.Duration, fn func(context.Context, *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return classifyMySQL(err)
	}
	defer conn.Close()

	// session variable, set before the transaction and reset after
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION max_execution_time = %d", timeout.Milliseconds())); err != nil {
		return classifyMySQL(err)
	}
	defer conn.ExecContext(context.Background(), "SET SESSION max_execution_time = 0")

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classifyMySQL(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return classifyMySQL(err)
	}
	return nil
}
