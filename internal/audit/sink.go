package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const createTrailTable = `
CREATE TABLE IF NOT EXISTS query_trail (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id    TEXT NOT NULL,
	database_id TEXT NOT NULL,
	question    TEXT NOT NULL,
	sql_text    TEXT,
	intent      TEXT,
	attempts    INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	error_kind  TEXT,
	row_count   INTEGER NOT NULL,
	confidence  REAL NOT NULL,
	stage_ms    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_trail_created ON query_trail (created_at);
`

// Sink persists records to a SQLite trail file. Writes go through a
// buffered channel drained by one goroutine; when the buffer is full the
// record is dropped rather than blocking the pipeline.
type Sink struct {
	db      *sql.DB
	ch      chan *Record
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Dropped reports how many records were discarded because the buffer was
// full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// NewSink opens (and if needed creates) the trail database at path.
func NewSink(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTrailTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit trail: %w", err)
	}

	s := &Sink{
		db:   db,
		ch:   make(chan *Record, 256),
		done: make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Write queues one record; it never blocks.
func (s *Sink) Write(rec *Record) {
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) drain() {
	defer close(s.done)
	for rec := range s.ch {
		s.insert(rec)
	}
}

func (s *Sink) insert(rec *Record) {
	succeeded := 0
	if rec.Succeeded {
		succeeded = 1
	}
	_, _ = s.db.Exec(`
		INSERT INTO query_trail
		  (query_id, database_id, question, sql_text, intent, attempts,
		   succeeded, error_kind, row_count, confidence, stage_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.QueryID, rec.DatabaseID, rec.Question, rec.SQL, rec.Intent,
		rec.Attempts, succeeded, rec.ErrorKind, rec.RowCount, rec.Confidence,
		rec.stageJSON(), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
}

// Close flushes queued records and closes the file.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.ch) })
	<-s.done
	return s.db.Close()
}
