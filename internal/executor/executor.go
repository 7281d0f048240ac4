// Package executor runs validated SQL against the target warehouse behind
// two safety layers: every candidate is EXPLAIN-probed first, and execution
// happens inside a read-only transaction with a statement timeout and a row
// cap. Both supported dialects sit behind the same interface; nothing above
// this package knows which engine it is talking to.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/noah-collins1/NL2SQL-sub003/internal/config"
)

// Result is the outcome of a successful execution.
type Result struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated"`
	Elapsed   time.Duration            `json:"-"`
}

// Options are the safety tunables shared by both dialects.
type Options struct {
	ProbeTimeout time.Duration
	ExecTimeout  time.Duration
	MaxRows      int
}

// Executor is the dialect-neutral execution surface.
type Executor interface {
	// Dialect returns "postgres" or "mysql".
	Dialect() string
	// Probe plans the statement without running it. A nil error means the
	// engine accepted the SQL.
	Probe(ctx context.Context, sqlText string) error
	// Execute runs the statement in a read-only transaction and returns up
	// to MaxRows rows.
	Execute(ctx context.Context, sqlText string) (*Result, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the executor for the configured driver.
func Open(cfg config.Database, opts Options) (Executor, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 30 * time.Second
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	switch cfg.Driver {
	case "postgres":
		return &postgresExecutor{db: db, opts: opts}, nil
	case "mysql":
		return &mysqlExecutor{db: db, opts: opts}, nil
	}
	db.Close()
	return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}

// scanRows reads up to maxRows rows into ordered column/row form. Byte
// slices become strings so the rows marshal as JSON text rather than
// base64.
func scanRows(rows *sql.Rows, maxRows int) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols, Rows: make([]map[string]interface{}, 0, 16)}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// drain consumes and discards a result set; used by the EXPLAIN probes.
func drain(rows *sql.Rows) error {
	for rows.Next() {
	}
	return rows.Err()
}
