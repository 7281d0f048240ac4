// Package fault defines the classified error model shared by the pipeline
// stages. Every failure that crosses a stage boundary is reduced to a Kind,
// a human-readable message and a recoverable flag so the repair controller
// can decide whether another attempt is worth making.
package fault

import "fmt"

// Kind names one class of pipeline failure.
type Kind string

const (
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	KindNoRelevantSchema     Kind = "no_relevant_schema"
	KindGenerationFailed     Kind = "generation_failed"
	KindValidationFailFast   Kind = "validation_fail_fast"
	KindSyntaxError          Kind = "syntax_error"
	KindUnknownTable         Kind = "unknown_table"
	KindUnknownColumn        Kind = "unknown_column"
	KindTypeMismatch         Kind = "type_mismatch"
	KindPermissionDenied     Kind = "permission_denied"
	KindConnectionError      Kind = "connection_error"
	KindResourceExhausted    Kind = "resource_exhausted"
	KindServerInternal       Kind = "server_internal"
	KindDeadlineExceeded     Kind = "deadline_exceeded"
	KindExecutionError       Kind = "execution_error"
)

// repairable kinds can be fed back to the generator with an error delta.
var repairable = map[Kind]bool{
	KindSyntaxError:   true,
	KindUnknownTable:  true,
	KindUnknownColumn: true,
	KindTypeMismatch:  true,
}

// recoverable kinds may succeed if the caller simply retries the request;
// infrastructure outages, timeouts and safety refusals are final.
var recoverable = map[Kind]bool{
	KindGenerationFailed: true,
	KindSyntaxError:      true,
	KindUnknownTable:     true,
	KindUnknownColumn:    true,
	KindTypeMismatch:     true,
}

// Repairable reports whether a fresh generation attempt with an error delta
// can plausibly fix this class of failure.
func (k Kind) Repairable() bool { return repairable[k] }

// Recoverable reports whether the caller may retry the whole request.
func (k Kind) Recoverable() bool { return recoverable[k] }

// Fault is a classified pipeline error.
type Fault struct {
	Kind     Kind
	Message  string
	SQLState string // five-character SQLSTATE when the database produced it
	Position int    // 1-based character offset into the SQL, 0 when unknown
}

// New creates a fault of the given kind.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.SQLState != "" {
		return fmt.Sprintf("%s [%s]: %s", f.Kind, f.SQLState, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Recoverable reports whether the caller may retry the whole request.
func (f *Fault) Recoverable() bool { return f.Kind.Recoverable() }

// Repairable reports whether the repair loop should take another attempt.
func (f *Fault) Repairable() bool { return f.Kind.Repairable() }
