// Package audit records what the pipeline did: per-request records with
// stage timings and attempt outcomes, plus process-wide counters. Records
// are persisted asynchronously to a local SQLite file so a slow disk never
// blocks a request.
package audit

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Record is one completed request.
type Record struct {
	QueryID    string         `json:"query_id"`
	DatabaseID string         `json:"database_id"`
	Question   string         `json:"question"`
	SQL        string         `json:"sql,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	Attempts   int            `json:"attempts"`
	Succeeded  bool           `json:"succeeded"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	RowCount   int            `json:"row_count"`
	Confidence float64        `json:"confidence"`
	StageMS    map[string]int64 `json:"stage_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// stageJSON renders the stage timings for storage.
func (r *Record) stageJSON() string {
	if len(r.StageMS) == 0 {
		return "{}"
	}
	b, err := json.Marshal(r.StageMS)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Counters are process-wide tallies, safe for concurrent use.
type Counters struct {
	Requests  atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Repairs   atomic.Int64
}

// Observe folds one record into the counters.
func (c *Counters) Observe(rec *Record) {
	c.Requests.Add(1)
	if rec.Succeeded {
		c.Succeeded.Add(1)
	} else {
		c.Failed.Add(1)
	}
	if rec.Attempts > 1 {
		c.Repairs.Add(int64(rec.Attempts - 1))
	}
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests":  c.Requests.Load(),
		"succeeded": c.Succeeded.Load(),
		"failed":    c.Failed.Load(),
		"repairs":   c.Repairs.Load(),
	}
}
