// Package pipeline wires the full question-to-rows flow: retrieve a schema
// packet, speculate K SQL drafts, validate and probe them, execute the best
// one, and repair on recoverable database errors within a bounded attempt
// budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-collins1/NL2SQL-sub003/internal/audit"
	"github.com/noah-collins1/NL2SQL-sub003/internal/config"
	"github.com/noah-collins1/NL2SQL-sub003/internal/executor"
	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/generate"
	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/prompt"
	"github.com/noah-collins1/NL2SQL-sub003/internal/retrieve"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/validate"
)

// ErrorInfo is the classified error surfaced to the caller.
type ErrorInfo struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	SQLState    string `json:"sqlstate,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// CandidateTrace describes one evaluated candidate for the trace block.
type CandidateTrace struct {
	SQL       string  `json:"sql"`
	Score     float64 `json:"score"`
	Lint      int     `json:"lint"`
	ExplainOK bool    `json:"explain_ok"`
}

// Trace is the optional per-request diagnostic block.
type Trace struct {
	StageMS      map[string]int64 `json:"stage_ms"`
	PromptTokens int              `json:"prompt_tokens"`
	Candidates   []CandidateTrace `json:"candidates,omitempty"`
	Backend      string           `json:"backend"`
}

// QueryResult is the full answer for one question.
type QueryResult struct {
	QueryID    string                   `json:"query_id"`
	SQL        string                   `json:"sql_generated,omitempty"`
	Columns    []string                 `json:"columns,omitempty"`
	Rows       []map[string]interface{} `json:"rows,omitempty"`
	RowCount   int                      `json:"row_count"`
	Truncated  bool                     `json:"truncated,omitempty"`
	Executed   bool                     `json:"executed"`
	Confidence float64                  `json:"confidence"`
	Intent     string                   `json:"intent,omitempty"`
	TablesUsed []string                 `json:"tables_used,omitempty"`
	Attempts   int                      `json:"attempts"`
	Notes      []string                 `json:"notes,omitempty"`
	Error      *ErrorInfo               `json:"error,omitempty"`
	Trace      *Trace                   `json:"trace,omitempty"`
}

// Options tune one request.
type Options struct {
	Trace bool
	// MaxRows caps the result rows for this request only; zero keeps the
	// configured default, values above the limit cap are clamped.
	MaxRows int
	// TimeoutMS is the overall request deadline; zero means no extra
	// deadline beyond the caller's context.
	TimeoutMS int
}

// Pipeline owns the stage components for one configured database.
type Pipeline struct {
	cfg       *config.Config
	retriever *retrieve.Retriever
	composer  *prompt.Composer
	gen       *generate.Speculator
	exec      executor.Executor
	validator *validate.Validator
	counters  *audit.Counters
	sink      *audit.Sink // nil when auditing is disabled
	log       *logger.Logger
}

// New assembles a pipeline.
func New(cfg *config.Config, retriever *retrieve.Retriever, gen *generate.Speculator,
	exec executor.Executor, sink *audit.Sink, log *logger.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		retriever: retriever,
		composer:  prompt.NewComposer(cfg.Database.Driver),
		gen:       gen,
		exec:      exec,
		validator: validate.New(cfg.Database.Driver, cfg.Executor.DefaultLimit, cfg.Executor.MaxLimit),
		counters:  &audit.Counters{},
		sink:      sink,
		log:       log,
	}
}

// Counters exposes the process-wide tallies.
func (p *Pipeline) Counters() *audit.Counters { return p.counters }

// Retriever exposes the retriever for the index subcommand.
func (p *Pipeline) Retriever() *retrieve.Retriever { return p.retriever }

// Health verifies the database and the generation backend are reachable.
func (p *Pipeline) Health(ctx context.Context) error {
	if err := p.exec.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := p.gen.Backend().Health(ctx); err != nil {
		return fmt.Errorf("generation backend: %w", err)
	}
	return nil
}

// Answer runs the full pipeline for one question. It always returns a
// QueryResult; failures are carried in the Error field, classified.
func (p *Pipeline) Answer(ctx context.Context, question string, opts Options) *QueryResult {
	if opts.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	validator := p.validator
	if opts.MaxRows > 0 {
		if opts.MaxRows > validator.MaxLimit {
			opts.MaxRows = validator.MaxLimit
		}
		scoped := *validator
		scoped.DefaultLimit = opts.MaxRows
		validator = &scoped
	}

	queryID := uuid.NewString()
	started := time.Now()
	stages := make(map[string]int64)
	res := &QueryResult{QueryID: queryID}

	p.log.Debugf("[%s] question: %s", queryID, question)

	// retrieval
	t0 := time.Now()
	packet, err := p.retriever.Retrieve(ctx, queryID, p.cfg.Database.DatabaseID, question)
	stages["retrieve"] = time.Since(t0).Milliseconds()
	if err != nil {
		return p.fail(res, question, stages, started, opts, asFault(ctx, err), nil)
	}
	res.Intent = packet.Intent
	res.TablesUsed = packet.TableNames()

	base := p.composer.Base(packet)
	promptTokens := p.composer.CountTokens(base)

	var deltas []prompt.Delta
	var prevSQL string
	var prevFault *fault.Fault
	var valIssues []string
	var tried []string
	var lastCands []CandidateTrace
	maxAttempts := p.cfg.Generation.MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		// repairs are targeted, so they take a single draft; only the first
		// attempt fans out
		k := 1
		if attempt == 1 {
			k = generate.Difficulty(question, packet)
		}

		t0 = time.Now()
		cands, err := p.gen.Generate(ctx, &generate.Request{
			QueryID:         queryID,
			Question:        question,
			Prompt:          p.composer.Compose(base, deltas),
			Attempt:         attempt,
			MaxAttempts:     maxAttempts,
			PreviousSQL:     prevSQL,
			ValidatorIssues: valIssues,
			DBError:         prevFault,
			Packet:          packet,
		}, k)
		stages["generate"] += time.Since(t0).Milliseconds()
		if err != nil {
			return p.fail(res, question, stages, started, opts, asFault(ctx, err), packet)
		}
		p.log.Debugf("[%s] attempt %d: %d unique candidates", queryID, attempt, len(cands))

		t0 = time.Now()
		scored := p.evaluate(ctx, validator, question, packet, cands)
		stages["evaluate"] += time.Since(t0).Milliseconds()
		lastCands = traceCandidates(scored)
		for _, sc := range scored {
			tried = append(tried, sc.cand.Normalized)
		}

		best, verdict := pickBest(scored)
		switch verdict.kind {
		case verdictDead:
			// every candidate tripped a fail-fast rule: not repairable
			f := fault.New(fault.KindValidationFailFast, "%s", verdict.reason)
			return p.fail(res, question, stages, started, opts, f, packet)

		case verdictRepair:
			if attempt == maxAttempts || !verdict.fault.Repairable() {
				return p.fail(res, question, stages, started, opts, verdict.fault, packet)
			}
			prevSQL = verdict.sql
			prevFault = verdict.fault
			valIssues = verdict.issues
			deltas = append(deltas, p.deltasForFault(verdict.fault, verdict.sql, packet)...)
			deltas = append(deltas, prompt.MultiCandidateDelta(dedup(tried)))
			res.Notes = append(res.Notes,
				fmt.Sprintf("attempt %d failed with %s; retrying", attempt, verdict.fault.Kind))
			continue
		}

		// execute the winner
		t0 = time.Now()
		execRes, execErr := p.exec.Execute(ctx, best.sql)
		stages["execute"] += time.Since(t0).Milliseconds()
		if execErr != nil {
			f := asFault(ctx, execErr)
			if attempt < maxAttempts && f.Repairable() {
				prevSQL = best.sql
				prevFault = f
				valIssues = validate.Messages(best.issues)
				deltas = append(deltas, p.deltasForFault(f, best.sql, packet)...)
				deltas = append(deltas, prompt.MultiCandidateDelta(dedup(tried)))
				res.Notes = append(res.Notes,
					fmt.Sprintf("attempt %d failed with %s (%s); retrying", attempt, f.Kind, f.SQLState))
				continue
			}
			return p.fail(res, question, stages, started, opts, f, packet)
		}

		// success
		capRows(execRes, opts.MaxRows)
		res.SQL = best.sql
		res.Columns = execRes.Columns
		res.Rows = execRes.Rows
		res.RowCount = execRes.RowCount
		res.Truncated = execRes.Truncated
		res.Executed = true
		res.Confidence = p.shapeConfidence(best, attempt)
		res.Notes = append(res.Notes, fixNotes(best.issues)...)
		if opts.Trace {
			res.Trace = &Trace{
				StageMS:      stages,
				PromptTokens: promptTokens,
				Candidates:   lastCands,
				Backend:      p.gen.Backend().Name(),
			}
		}
		p.finish(res, question, stages, started, packet, true, "")
		return res
	}

	// unreachable: the loop always returns
	f := fault.New(fault.KindServerInternal, "repair loop exited without a verdict")
	return p.fail(res, question, stages, started, opts, f, packet)
}

// RunSQL validates and executes operator-supplied SQL, skipping retrieval
// and generation. The same structural rules apply: SELECT-only, single
// statement, limit policy, unknown-table patching against the full catalog.
func (p *Pipeline) RunSQL(ctx context.Context, sqlText string) *QueryResult {
	queryID := uuid.NewString()
	started := time.Now()
	stages := make(map[string]int64)
	res := &QueryResult{QueryID: queryID, Attempts: 1, Confidence: 1}

	tables, err := p.retriever.Catalog(ctx)
	if err != nil {
		return p.fail(res, sqlText, stages, started, Options{}, asFault(ctx, err), nil)
	}
	packet := &schema.Packet{QueryID: queryID, DatabaseID: p.cfg.Database.DatabaseID}
	for _, t := range tables {
		packet.Tables = append(packet.Tables, schema.RankedTable{Table: t})
	}

	t0 := time.Now()
	fixed, issues := p.validator.Check(sqlText, "", packet)
	stages["validate"] = time.Since(t0).Milliseconds()
	if fatal, dead := validate.FailFast(issues); dead {
		f := fault.New(fault.KindValidationFailFast, "%s", fatal.Message)
		return p.fail(res, sqlText, stages, started, Options{}, f, packet)
	}
	if unfixed := validate.Unfixed(issues); len(unfixed) > 0 {
		f := fault.New(fault.KindUnknownTable, "%s", strings.Join(validate.Messages(unfixed), "; "))
		return p.fail(res, sqlText, stages, started, Options{}, f, packet)
	}

	t0 = time.Now()
	execRes, execErr := p.exec.Execute(ctx, fixed)
	stages["execute"] = time.Since(t0).Milliseconds()
	if execErr != nil {
		return p.fail(res, sqlText, stages, started, Options{}, asFault(ctx, execErr), packet)
	}

	res.SQL = fixed
	res.Columns = execRes.Columns
	res.Rows = execRes.Rows
	res.RowCount = execRes.RowCount
	res.Truncated = execRes.Truncated
	res.Executed = true
	res.Notes = fixNotes(issues)
	p.finish(res, sqlText, stages, started, packet, true, "")
	return res
}

// shapeConfidence starts from the draft confidence, shaves 0.1 per repair
// attempt with a floor of 0.5, then shaves 0.05 per lint finding.
func (p *Pipeline) shapeConfidence(best scoredCandidate, attempt int) float64 {
	conf := best.cand.Confidence
	if conf <= 0 {
		conf = 0.8
	}
	if attempt > 1 {
		conf -= 0.1 * float64(attempt-1)
		if conf < 0.5 {
			conf = 0.5
		}
	}
	conf -= 0.05 * float64(best.lint)
	if conf < 0.05 {
		conf = 0.05
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func (p *Pipeline) fail(res *QueryResult, question string, stages map[string]int64,
	started time.Time, opts Options, f *fault.Fault, packet *schema.Packet) *QueryResult {
	res.Error = &ErrorInfo{
		Kind:        string(f.Kind),
		Message:     f.Message,
		SQLState:    f.SQLState,
		Recoverable: f.Recoverable(),
	}
	if opts.Trace {
		res.Trace = &Trace{StageMS: stages, Backend: p.gen.Backend().Name()}
	}
	p.log.Warnf("[%s] failed: %s", res.QueryID, f.Error())
	p.finish(res, question, stages, started, packet, false, string(f.Kind))
	return res
}

func (p *Pipeline) finish(res *QueryResult, question string, stages map[string]int64,
	started time.Time, packet *schema.Packet, ok bool, errKind string) {
	stages["total"] = time.Since(started).Milliseconds()
	rec := &audit.Record{
		QueryID:    res.QueryID,
		DatabaseID: p.cfg.Database.DatabaseID,
		Question:   question,
		SQL:        res.SQL,
		Intent:     res.Intent,
		Attempts:   res.Attempts,
		Succeeded:  ok,
		ErrorKind:  errKind,
		RowCount:   res.RowCount,
		Confidence: res.Confidence,
		StageMS:    stages,
		CreatedAt:  time.Now(),
	}
	p.counters.Observe(rec)
	if p.sink != nil {
		p.sink.Write(rec)
	}
	if ok {
		p.log.Infof("[%s] answered in %d attempt(s), %d row(s)", res.QueryID, res.Attempts, res.RowCount)
	}
}

// asFault classifies an error, folding an expired request deadline into
// deadline_exceeded no matter which stage reported it first.
func asFault(ctx context.Context, err error) *fault.Fault {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.KindDeadlineExceeded, "request deadline exceeded")
	}
	if f, ok := err.(*fault.Fault); ok {
		return f
	}
	return fault.New(fault.KindServerInternal, "%v", err)
}

// capRows applies a per-request row cap on top of the pool-level one.
func capRows(res *executor.Result, maxRows int) {
	if maxRows > 0 && res.RowCount > maxRows {
		res.Rows = res.Rows[:maxRows]
		res.RowCount = maxRows
		res.Truncated = true
	}
}

// fixNotes surfaces the validator patches that were applied to the winning
// candidate.
func fixNotes(issues []validate.Issue) []string {
	var out []string
	for _, is := range issues {
		if is.Fixed {
			out = append(out, is.Message)
		}
	}
	return out
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
