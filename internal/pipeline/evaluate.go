package pipeline

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/generate"
	"github.com/noah-collins1/NL2SQL-sub003/internal/prompt"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/sqlscan"
	"github.com/noah-collins1/NL2SQL-sub003/internal/validate"
)

// scoredCandidate is one draft after validation and probing.
type scoredCandidate struct {
	cand      generate.Candidate
	sql       string // after validator patches
	issues    []validate.Issue
	lint      int
	failFast  bool
	fatal     validate.Issue // set when failFast
	unknown   []string       // unresolved table references
	explainOK bool
	probe     *fault.Fault
	score     float64
}

// evaluate validates every candidate, probes the survivors in parallel, and
// scores them. The validator is passed in so a per-request limit override
// applies to every candidate of the request.
func (p *Pipeline) evaluate(ctx context.Context, v *validate.Validator, question string,
	packet *schema.Packet, cands []generate.Candidate) []scoredCandidate {

	scored := make([]scoredCandidate, len(cands))
	for i, c := range cands {
		sc := scoredCandidate{cand: c}
		sc.sql, sc.issues = v.Check(c.SQL, question, packet)
		sc.lint = validate.LintCount(sc.issues)
		if fatal, dead := validate.FailFast(sc.issues); dead {
			sc.failFast = true
			sc.fatal = fatal
		}
		for _, is := range validate.Unfixed(sc.issues) {
			sc.unknown = append(sc.unknown, is.Message)
		}
		scored[i] = sc
	}

	// probe survivors in parallel, bounded
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range scored {
		if scored[i].failFast || len(scored[i].unknown) > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			if err := p.exec.Probe(gctx, scored[i].sql); err != nil {
				scored[i].probe = asFault(gctx, err)
			} else {
				scored[i].explainOK = true
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := range scored {
		scored[i].score = p.scoreCandidate(question, scored[i])
	}

	// deterministic ranking: score, then fewer lint findings, then shorter
	// SQL, then lexical
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.lint != b.lint {
			return a.lint < b.lint
		}
		if len(a.sql) != len(b.sql) {
			return len(a.sql) < len(b.sql)
		}
		return a.sql < b.sql
	})
	return scored
}

// scoreCandidate applies the fixed formula: start at 100, −25 per lint
// finding, −50 when EXPLAIN rejected it, +10 for a GROUP BY, +10 when a
// superlative question is answered with an ORDER BY.
func (p *Pipeline) scoreCandidate(question string, sc scoredCandidate) float64 {
	if sc.failFast {
		return -1000
	}
	score := 100.0
	score -= 25 * float64(sc.lint)
	if !sc.explainOK {
		score -= 50
	}
	if validate.HasTopLevel(sc.sql, "group") {
		score += 10
	}
	if validate.IsSuperlative(question) && validate.HasTopLevel(sc.sql, "order") {
		score += 10
	}
	return score
}

type verdictKind int

const (
	verdictExecute verdictKind = iota
	verdictRepair
	verdictDead
)

type verdict struct {
	kind   verdictKind
	fault  *fault.Fault
	sql    string
	issues []string
	reason string
}

// pickBest chooses what to do with an attempt's candidates: execute the top
// survivor, repair from the most informative failure, or declare the whole
// attempt dead when every draft tripped a fail-fast rule.
func pickBest(scored []scoredCandidate) (scoredCandidate, verdict) {
	for _, sc := range scored {
		if !sc.failFast && sc.explainOK {
			return sc, verdict{kind: verdictExecute}
		}
	}

	// no executable candidate; prefer an unresolved-table repair, then the
	// best probe failure
	for _, sc := range scored {
		if len(sc.unknown) > 0 && !sc.failFast {
			return sc, verdict{
				kind:   verdictRepair,
				fault:  fault.New(fault.KindUnknownTable, "%s", strings.Join(sc.unknown, "; ")),
				sql:    sc.sql,
				issues: validate.Messages(sc.issues),
			}
		}
	}
	for _, sc := range scored {
		if sc.probe != nil && !sc.failFast {
			return sc, verdict{
				kind:   verdictRepair,
				fault:  sc.probe,
				sql:    sc.sql,
				issues: validate.Messages(sc.issues),
			}
		}
	}

	reason := "all candidates were rejected by validation"
	if len(scored) > 0 {
		reason = scored[len(scored)-1].fatal.Message
		for _, sc := range scored {
			if sc.failFast {
				reason = sc.fatal.Message
				break
			}
		}
	}
	return scoredCandidate{}, verdict{kind: verdictDead, reason: reason}
}

// deltasForFault translates a database failure into the prompt deltas for
// the next attempt.
func (p *Pipeline) deltasForFault(f *fault.Fault, failedSQL string, packet *schema.Packet) []prompt.Delta {
	switch f.Kind {
	case fault.KindSyntaxError, fault.KindTypeMismatch:
		return []prompt.Delta{prompt.SyntaxDelta(f.Message, f.Position)}

	case fault.KindUnknownTable:
		var bad []string
		cte := validate.CTENames(sqlscan.Scan(failedSQL))
		for _, ref := range validate.TableRefs(sqlscan.Scan(failedSQL)) {
			bare := ref.Name
			if i := strings.LastIndex(bare, "."); i >= 0 {
				bare = bare[i+1:]
			}
			if _, isCTE := cte[strings.ToLower(bare)]; isCTE {
				continue
			}
			if _, ok := packet.Table(ref.Name); !ok {
				bad = append(bad, ref.Name)
			}
		}
		if len(bad) == 0 {
			bad = []string{"(unresolved)"}
		}
		return []prompt.Delta{prompt.UnknownTableDelta(dedup(bad), packet.TableNames())}

	case fault.KindUnknownColumn:
		// the surgical whitelist: the tables the failed SQL used, plus
		// their one-hop join partners from the packet
		wl := validate.Whitelist(failedSQL, packet)
		if len(wl) == 0 {
			for _, rt := range packet.Tables {
				addColumns(wl, rt.Table)
			}
		}
		used := make(map[string]bool, len(wl))
		for k := range wl {
			used[k] = true
		}
		for _, fk := range packet.FKEdges {
			neighbor := ""
			if used[fk.FromTable] && !used[fk.ToTable] {
				neighbor = fk.ToTable
			} else if used[fk.ToTable] && !used[fk.FromTable] {
				neighbor = fk.FromTable
			}
			if neighbor == "" {
				continue
			}
			if t, ok := packet.Table(neighbor); ok {
				addColumns(wl, t)
			}
		}
		return []prompt.Delta{prompt.ColumnWhitelistDelta(f.Message, wl)}
	}
	return []prompt.Delta{prompt.SyntaxDelta(f.Message, f.Position)}
}

func addColumns(wl map[string][]string, t *schema.Table) {
	key := t.QualifiedName()
	if _, ok := wl[key]; ok {
		return
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	wl[key] = cols
}

func traceCandidates(scored []scoredCandidate) []CandidateTrace {
	out := make([]CandidateTrace, len(scored))
	for i, sc := range scored {
		out[i] = CandidateTrace{
			SQL:       sc.sql,
			Score:     sc.score,
			Lint:      sc.lint,
			ExplainOK: sc.explainOK,
		}
	}
	return out
}
