// Package generate produces SQL candidates. Two interchangeable backends
// are provided: the sidecar HTTP service (which builds its own prompt from
// the schema packet) and a direct LLM call driven by the composed prompt.
// On top of either, the speculator fans out K parallel drafts and dedups
// them by normalized SQL.
package generate

import (
	"context"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

// Request carries everything a backend may need for one draft. Attempt 1 is
// the initial generation; later attempts are repairs and carry the failed
// SQL plus the evidence.
type Request struct {
	QueryID         string
	Question        string
	Prompt          string // composed base+deltas, used by the model backend
	Temperature     float64
	Attempt         int
	MaxAttempts     int
	PreviousSQL     string
	ValidatorIssues []string
	DBError         *fault.Fault
	Packet          *schema.Packet
}

// Response is one backend draft.
type Response struct {
	SQL        string
	Confidence float64
	Notes      []string
}

// Backend turns a request into one SQL draft.
type Backend interface {
	Name() string
	GenerateSQL(ctx context.Context, req *Request) (*Response, error)
	// Health verifies the backend is reachable; used at serve startup.
	Health(ctx context.Context) error
}
