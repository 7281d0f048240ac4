package generate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

func testLog() *logger.Logger { return logger.New(io.Discard, logger.LevelError) }

type stubBackend struct {
	fn    func(req *Request) (*Response, error)
	calls int64
}

func (s *stubBackend) Name() string                     { return "stub" }
func (s *stubBackend) Health(context.Context) error     { return nil }
func (s *stubBackend) GenerateSQL(_ context.Context, req *Request) (*Response, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.fn(req)
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"Here is the query:\n```sql\nSELECT a FROM t\n```\nHope that helps!", "SELECT a FROM t"},
		{"SQL: SELECT 1", "SELECT 1"},
		{"  \n SELECT 1 ;  ", "SELECT 1 ;"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractSQL(tc.in), "input: %q", tc.in)
	}
}

func TestSpeculatorDedups(t *testing.T) {
	backend := &stubBackend{fn: func(req *Request) (*Response, error) {
		if req.Temperature < 0.5 {
			// same statement modulo whitespace and keyword case
			return &Response{SQL: "select  1", Confidence: 0.8}, nil
		}
		return &Response{SQL: "SELECT 2", Confidence: 0.6}, nil
	}}
	s := NewSpeculator(backend, testLog())

	cands, err := s.Generate(context.Background(), &Request{Attempt: 1}, 4)
	require.NoError(t, err)
	require.Len(t, cands, 2, "duplicates must collapse on normalized SQL")
	assert.Equal(t, "select 1", cands[0].Normalized)
	assert.Equal(t, "select 2", cands[1].Normalized)
	assert.EqualValues(t, 4, backend.calls)
}

func TestSpeculatorToleratesPartialFailure(t *testing.T) {
	backend := &stubBackend{fn: func(req *Request) (*Response, error) {
		if req.Temperature > 0.1 {
			return nil, fault.New(fault.KindGenerationFailed, "flaky")
		}
		return &Response{SQL: "SELECT 1", Confidence: 0.9}, nil
	}}
	s := NewSpeculator(backend, testLog())

	cands, err := s.Generate(context.Background(), &Request{Attempt: 1}, 4)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "SELECT 1", cands[0].SQL)
}

func TestSpeculatorTotalFailure(t *testing.T) {
	backend := &stubBackend{fn: func(*Request) (*Response, error) {
		return nil, fault.New(fault.KindGenerationFailed, "down")
	}}
	s := NewSpeculator(backend, testLog())

	_, err := s.Generate(context.Background(), &Request{Attempt: 1}, 3)
	var f *fault.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, fault.KindGenerationFailed, f.Kind)
}

func TestDifficulty(t *testing.T) {
	small := &schema.Packet{Tables: make([]schema.RankedTable, 1)}
	medium := &schema.Packet{Tables: make([]schema.RankedTable, 3)}
	wide := &schema.Packet{Tables: make([]schema.RankedTable, 5)}
	trend := &schema.Packet{Tables: make([]schema.RankedTable, 2), Intent: "trend"}

	assert.Equal(t, 2, Difficulty("how many orders", small))
	assert.Equal(t, 4, Difficulty("orders by customer", medium))
	assert.Equal(t, 6, Difficulty("orders", wide))
	assert.Equal(t, 6, Difficulty("orders per month", trend))
	assert.Equal(t, 6, Difficulty("orders in berlin and munich but not online or phone", medium))
}

func TestSidecarBackendRoutes(t *testing.T) {
	var gotGenerate, gotRepair bool
	var repairBody sidecarRepairRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate_sql":
			gotGenerate = true
			json.NewEncoder(w).Encode(sidecarResponse{SQLGenerated: "SELECT 1", ConfidenceScore: 0.9})
		case "/repair_sql":
			gotRepair = true
			json.NewDecoder(r.Body).Decode(&repairBody)
			json.NewEncoder(w).Encode(sidecarResponse{SQLGenerated: "SELECT 2", ConfidenceScore: 0.7})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewSidecarBackend(srv.URL, 5*time.Second)
	packet := &schema.Packet{QueryID: "q1", Question: "how many"}

	resp, err := b.GenerateSQL(context.Background(), &Request{
		QueryID: "q1", Question: "how many", Attempt: 1, Packet: packet,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.SQL)
	assert.True(t, gotGenerate)

	dbErr := &fault.Fault{Kind: fault.KindUnknownColumn, SQLState: "42703", Message: "column does not exist", Position: 8}
	resp, err = b.GenerateSQL(context.Background(), &Request{
		QueryID: "q1", Question: "how many", Attempt: 2, MaxAttempts: 3,
		PreviousSQL: "SELECT nope FROM t", DBError: dbErr, Packet: packet,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", resp.SQL)
	require.True(t, gotRepair)
	assert.Equal(t, "SELECT nope FROM t", repairBody.PreviousSQL)
	require.NotNil(t, repairBody.DatabaseError)
	assert.Equal(t, "42703", repairBody.DatabaseError.SQLState)
	assert.Equal(t, 2, repairBody.Attempt)
}

func TestSidecarBackendErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sidecarResponse{
			Error: &sidecarError{Type: "llm_error", Message: "model overloaded", Recoverable: true},
		})
	}))
	defer srv.Close()

	b := NewSidecarBackend(srv.URL, 5*time.Second)
	_, err := b.GenerateSQL(context.Background(), &Request{Attempt: 1, Packet: &schema.Packet{}})
	var f *fault.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, fault.KindGenerationFailed, f.Kind)
	assert.Contains(t, f.Message, "model overloaded")
}
