package generate

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/sqlscan"
)

// Candidate is one deduplicated draft.
type Candidate struct {
	SQL         string
	Normalized  string
	Confidence  float64
	Temperature float64
	Notes       []string
}

// temperatureLadder spreads the parallel drafts across sampling
// temperatures; slot 0 is the near-greedy draft.
var temperatureLadder = []float64{0.0, 0.3, 0.5, 0.7, 0.9, 1.1}

// Difficulty picks the fan-out width K for a question: 2 for easy, 4 for
// medium, 6 for hard.
func Difficulty(question string, p *schema.Packet) int {
	tables := 0
	if p != nil {
		tables = len(p.Tables)
	}
	lower := strings.ToLower(question)
	conditions := strings.Count(lower, " and ") + strings.Count(lower, " or ") +
		strings.Count(lower, " except ") + strings.Count(lower, " but ")

	switch {
	case tables >= 4 || conditions >= 2 ||
		p != nil && (p.Intent == "trend" || p.Intent == "compare"):
		return 6
	case tables <= 1 && conditions == 0:
		return 2
	default:
		return 4
	}
}

// Speculator fans a request out to K parallel drafts.
type Speculator struct {
	backend Backend
	log     *logger.Logger
}

// NewSpeculator wraps a backend.
func NewSpeculator(backend Backend, log *logger.Logger) *Speculator {
	return &Speculator{backend: backend, log: log}
}

// Backend exposes the wrapped backend for health checks.
func (s *Speculator) Backend() Backend { return s.backend }

// Generate requests k drafts in parallel and returns the deduplicated
// candidates ordered by draft slot. Individual draft failures are tolerated;
// only a total wipeout is an error, reported as generation_failed.
func (s *Speculator) Generate(ctx context.Context, req *Request, k int) ([]Candidate, error) {
	if k < 1 {
		k = 1
	}
	if k > len(temperatureLadder) {
		k = len(temperatureLadder)
	}

	drafts := make([]*Response, k)
	temps := make([]float64, k)
	var mu sync.Mutex
	var lastErr error

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < k; i++ {
		i := i
		g.Go(func() error {
			r := *req
			r.Temperature = temperatureLadder[i]
			resp, err := s.backend.GenerateSQL(gctx, &r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Debugf("draft %d failed: %v", i, err)
				lastErr = err
				return nil // partial failure is fine
			}
			drafts[i] = resp
			temps[i] = r.Temperature
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, k)
	var out []Candidate
	for i, d := range drafts {
		if d == nil || d.SQL == "" {
			continue
		}
		norm := sqlscan.Normalize(d.SQL)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, Candidate{
			SQL:         d.SQL,
			Normalized:  norm,
			Confidence:  d.Confidence,
			Temperature: temps[i],
			Notes:       d.Notes,
		})
	}
	if len(out) == 0 {
		if f, ok := lastErr.(*fault.Fault); ok {
			return nil, f
		}
		if lastErr != nil {
			return nil, fault.New(fault.KindGenerationFailed, "all %d drafts failed: %v", k, lastErr)
		}
		return nil, fault.New(fault.KindGenerationFailed, "all %d drafts were empty", k)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Temperature < out[j].Temperature })
	return out, nil
}
