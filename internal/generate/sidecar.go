package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

// SidecarBackend talks to the generation sidecar over HTTP. The sidecar
// receives the schema packet, not a prompt: it owns its own prompting.
// Attempt 1 goes to /generate_sql, repairs go to /repair_sql.
type SidecarBackend struct {
	BaseURL string
	Client  *http.Client
}

// NewSidecarBackend builds a client for the sidecar base URL.
func NewSidecarBackend(baseURL string, timeout time.Duration) *SidecarBackend {
	return &SidecarBackend{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *SidecarBackend) Name() string { return "sidecar" }

// wire shapes for the sidecar contract

type sidecarTable struct {
	TableName   string  `json:"table_name"`
	TableSchema string  `json:"table_schema"`
	Module      string  `json:"module"`
	Gloss       string  `json:"gloss"`
	MSchema     string  `json:"m_schema"`
	Similarity  float64 `json:"similarity"`
	Source      string  `json:"source"`
	IsHub       bool    `json:"is_hub"`
}

type sidecarFK struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

type sidecarContext struct {
	QueryID    string         `json:"query_id"`
	DatabaseID string         `json:"database_id"`
	Question   string         `json:"question"`
	Tables     []sidecarTable `json:"tables"`
	FKEdges    []sidecarFK    `json:"fk_edges"`
	Modules    []string       `json:"modules"`
}

type sidecarDBError struct {
	SQLState string `json:"sqlstate"`
	Message  string `json:"message"`
	Position int    `json:"position,omitempty"`
}

type sidecarGenerateRequest struct {
	QueryID       string         `json:"query_id"`
	Question      string         `json:"question"`
	Temperature   float64        `json:"temperature"`
	SchemaContext sidecarContext `json:"schema_context"`
}

type sidecarRepairRequest struct {
	QueryID         string          `json:"query_id"`
	Question        string          `json:"question"`
	PreviousSQL     string          `json:"previous_sql"`
	ValidatorIssues []string        `json:"validator_issues"`
	DatabaseError   *sidecarDBError `json:"postgres_error,omitempty"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"max_attempts"`
	SchemaContext   sidecarContext  `json:"schema_context"`
}

type sidecarError struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type sidecarResponse struct {
	QueryID         string        `json:"query_id"`
	SQLGenerated    string        `json:"sql_generated"`
	ConfidenceScore float64       `json:"confidence_score"`
	TablesSelected  []string      `json:"tables_selected"`
	Intent          string        `json:"intent"`
	Notes           []string      `json:"notes"`
	Error           *sidecarError `json:"error"`
}

func packetToContext(p *schema.Packet) sidecarContext {
	sc := sidecarContext{
		QueryID:    p.QueryID,
		DatabaseID: p.DatabaseID,
		Question:   p.Question,
		Modules:    p.Modules,
	}
	for _, rt := range p.Tables {
		sc.Tables = append(sc.Tables, sidecarTable{
			TableName:   rt.Table.Name,
			TableSchema: rt.Table.Schema,
			Module:      rt.Table.Module,
			Gloss:       rt.Table.Gloss,
			MSchema:     rt.Table.CompactDDL(),
			Similarity:  rt.Score,
			Source:      rt.Source,
			IsHub:       rt.Table.IsHub,
		})
	}
	for _, fk := range p.FKEdges {
		sc.FKEdges = append(sc.FKEdges, sidecarFK(fk))
	}
	return sc
}

// GenerateSQL routes the request to the right sidecar endpoint and decodes
// the draft.
func (s *SidecarBackend) GenerateSQL(ctx context.Context, req *Request) (*Response, error) {
	var path string
	var payload interface{}
	if req.Attempt <= 1 {
		path = "/generate_sql"
		payload = sidecarGenerateRequest{
			QueryID:       req.QueryID,
			Question:      req.Question,
			Temperature:   req.Temperature,
			SchemaContext: packetToContext(req.Packet),
		}
	} else {
		path = "/repair_sql"
		rr := sidecarRepairRequest{
			QueryID:         req.QueryID,
			Question:        req.Question,
			PreviousSQL:     req.PreviousSQL,
			ValidatorIssues: req.ValidatorIssues,
			Attempt:         req.Attempt,
			MaxAttempts:     req.MaxAttempts,
			SchemaContext:   packetToContext(req.Packet),
		}
		if req.DBError != nil {
			rr.DatabaseError = &sidecarDBError{
				SQLState: req.DBError.SQLState,
				Message:  req.DBError.Message,
				Position: req.DBError.Position,
			}
		}
		payload = rr
	}

	out, err := s.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fault.New(fault.KindGenerationFailed, "sidecar %s: %s", out.Error.Type, out.Error.Message)
	}
	if out.SQLGenerated == "" {
		return nil, fault.New(fault.KindGenerationFailed, "sidecar returned an empty draft")
	}
	return &Response{
		SQL:        ExtractSQL(out.SQLGenerated),
		Confidence: out.ConfidenceScore,
		Notes:      out.Notes,
	}, nil
}

// Health probes the sidecar /health endpoint.
func (s *SidecarBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fault.New(fault.KindGenerationFailed, "sidecar unreachable: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fault.New(fault.KindGenerationFailed, "sidecar health returned %d", resp.StatusCode)
	}
	return nil
}

// post sends one JSON request with bounded retries on transport errors and
// 5xx responses.
func (s *SidecarBackend) post(ctx context.Context, path string, payload interface{}) (*sidecarResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var out sidecarResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("sidecar returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, msg))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fault.New(fault.KindGenerationFailed, "sidecar %s: %v", path, err)
	}
	return &out, nil
}
