// Package validate screens generated SQL before anything touches the
// database. It layers three passes over the tokenizer: structural rules that
// kill a candidate outright, rewrites and auto-fixes that patch a candidate
// in place, and lint findings that only lower its score.
package validate

import (
	"fmt"
	"strings"

	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/sqlscan"
)

// Severity orders the three classes of findings.
type Severity int

const (
	SeverityFailFast Severity = iota // candidate is dead
	SeverityRewrite                  // candidate was (or must be) rewritten
	SeverityAutoFix                  // candidate was patched in place
	SeverityLint                     // score penalty only
)

// Rule identifiers, stable across the tool response and the audit trail.
const (
	RuleNoSelect            = "NO_SELECT"
	RuleMultipleStatements  = "MULTIPLE_STATEMENTS"
	RuleDangerousKeyword    = "DANGEROUS_KEYWORD"
	RuleDangerousFunction   = "DANGEROUS_FUNCTION"
	RuleUnterminatedLiteral = "UNTERMINATED_LITERAL"
	RuleUnknownTable        = "UNKNOWN_TABLE"
	RuleMissingLimit        = "MISSING_LIMIT"
	RuleOversizedLimit      = "OVERSIZED_LIMIT"
	RuleDialectFunction     = "DIALECT_FUNCTION"
	RuleAggregateNoGroupBy  = "AGGREGATE_WITHOUT_GROUP_BY"
	RuleSuperlativeNoOrder  = "SUPERLATIVE_WITHOUT_ORDER"
)

// Issue is one validator finding.
type Issue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"-"`
	Message  string   `json:"message"`
	Fixed    bool     `json:"fixed,omitempty"` // a rewrite or auto-fix was applied
}

// Validator holds the tunables for a single dialect.
type Validator struct {
	Dialect      string // "postgres" or "mysql"
	DefaultLimit int
	MaxLimit     int
}

// New returns a validator with the given limit policy.
func New(dialect string, defaultLimit, maxLimit int) *Validator {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	return &Validator{Dialect: dialect, DefaultLimit: defaultLimit, MaxLimit: maxLimit}
}

// dangerousKeywords end a candidate immediately when they appear as code
// tokens anywhere in the statement. String literals and comments never
// trigger this: the tokenizer has already fenced them off. Other write and
// DDL heads (SET, CALL, VACUUM, ...) are unreachable here because the
// statement must begin with SELECT or WITH and a second statement trips
// MULTIPLE_STATEMENTS; several of them double as legitimate column names,
// so they are not screened mid-statement.
var dangerousKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "truncate": {},
	"alter": {}, "create": {}, "grant": {}, "revoke": {}, "copy": {},
}

// dangerousFunctions are blocked even in a SELECT.
var dangerousFunctions = map[string]struct{}{
	"pg_sleep": {}, "pg_sleep_for": {}, "pg_sleep_until": {},
	"pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"pg_terminate_backend": {}, "pg_cancel_backend": {}, "pg_reload_conf": {},
	"dblink": {}, "dblink_exec": {}, "dblink_connect": {},
	"lo_import": {}, "lo_export": {}, "set_config": {},
	"sleep": {}, "benchmark": {}, "load_file": {},
}

// Check validates and patches one candidate. It returns the (possibly
// rewritten) SQL and every finding, fail-fast findings first. The question
// feeds the superlative lint.
func (v *Validator) Check(sql, question string, p *schema.Packet) (string, []Issue) {
	var issues []Issue
	toks := sqlscan.Scan(sql)

	if bad, found := sqlscan.Unterminated(toks); found {
		return sql, []Issue{{
			Rule:     RuleUnterminatedLiteral,
			Severity: SeverityFailFast,
			Message:  fmt.Sprintf("unterminated literal or comment at offset %d", bad.Pos),
		}}
	}

	code := sqlscan.Code(toks)
	if len(code) == 0 || !(wordIs(code[0], "select") || wordIs(code[0], "with")) {
		return sql, []Issue{{
			Rule:     RuleNoSelect,
			Severity: SeverityFailFast,
			Message:  "only SELECT statements are allowed",
		}}
	}

	if n := sqlscan.Statements(toks); n > 1 {
		return sql, []Issue{{
			Rule:     RuleMultipleStatements,
			Severity: SeverityFailFast,
			Message:  fmt.Sprintf("expected one statement, found %d", n),
		}}
	}

	for i, t := range code {
		if t.Kind != sqlscan.KindWord {
			continue
		}
		lower := strings.ToLower(t.Text)
		if _, bad := dangerousKeywords[lower]; bad {
			return sql, []Issue{{
				Rule:     RuleDangerousKeyword,
				Severity: SeverityFailFast,
				Message:  fmt.Sprintf("keyword %q is not allowed", strings.ToUpper(lower)),
			}}
		}
		if _, bad := dangerousFunctions[lower]; bad && i+1 < len(code) && symIs(code[i+1], "(") {
			return sql, []Issue{{
				Rule:     RuleDangerousFunction,
				Severity: SeverityFailFast,
				Message:  fmt.Sprintf("function %s() is not allowed", lower),
			}}
		}
	}

	// patch passes, each one rescans
	var is []Issue
	sql, is = v.rewriteDialectFunctions(sql)
	issues = append(issues, is...)

	if p != nil {
		sql, is = v.rewriteUnknownTables(sql, p)
		issues = append(issues, is...)
	}

	sql, is = v.applyLimitPolicy(sql)
	issues = append(issues, is...)

	issues = append(issues, v.lint(sql, question)...)
	return sql, issues
}

// FailFast reports whether any finding kills the candidate.
func FailFast(issues []Issue) (Issue, bool) {
	for _, is := range issues {
		if is.Severity == SeverityFailFast {
			return is, true
		}
	}
	return Issue{}, false
}

// Unfixed returns findings that were not patched in place; the repair loop
// turns these into prompt deltas.
func Unfixed(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == SeverityRewrite && !is.Fixed {
			out = append(out, is)
		}
	}
	return out
}

// LintCount counts score-only findings.
func LintCount(issues []Issue) int {
	n := 0
	for _, is := range issues {
		if is.Severity == SeverityLint {
			n++
		}
	}
	return n
}

// Messages flattens findings for the generation backend.
func Messages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Rule + ": " + is.Message
	}
	return out
}
