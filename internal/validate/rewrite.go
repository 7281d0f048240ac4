package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/sqlscan"
)

// extractFns maps the MySQL-style date part functions onto EXTRACT for
// Postgres. The LLM produces these constantly regardless of the dialect in
// the prompt.
var extractFns = map[string]string{"year": "YEAR", "month": "MONTH", "day": "DAY"}

// rewriteDialectFunctions patches dialect-foreign function calls instead of
// letting them die in EXPLAIN. Only the Postgres dialect needs this; the
// MySQL forms are native there.
func (v *Validator) rewriteDialectFunctions(sql string) (string, []Issue) {
	if v.Dialect != "postgres" {
		return sql, nil
	}
	var issues []Issue
	for {
		toks := sqlscan.Scan(sql)
		code := sqlscan.Code(toks)
		patched := false
		for i := 0; i < len(code)-1 && !patched; i++ {
			if code[i].Kind != sqlscan.KindWord || !symIs(code[i+1], "(") {
				continue
			}
			lower := strings.ToLower(code[i].Text)
			word, paren := code[i], code[i+1]
			switch {
			case extractFns[lower] != "":
				// YEAR(x) -> EXTRACT(YEAR FROM x); the closing paren is reused
				sql = sql[:word.Pos] + "EXTRACT(" + extractFns[lower] + " FROM " + sql[paren.Pos+1:]
				issues = append(issues, Issue{
					Rule: RuleDialectFunction, Severity: SeverityAutoFix, Fixed: true,
					Message: fmt.Sprintf("%s() rewritten to EXTRACT(%s FROM ...)", strings.ToUpper(lower), extractFns[lower]),
				})
				patched = true
			case lower == "ifnull":
				sql = sql[:word.Pos] + "COALESCE" + sql[word.Pos+len(word.Text):]
				issues = append(issues, Issue{
					Rule: RuleDialectFunction, Severity: SeverityAutoFix, Fixed: true,
					Message: "IFNULL() rewritten to COALESCE()",
				})
				patched = true
			case lower == "curdate" && i+2 < len(code) && symIs(code[i+2], ")"):
				sql = sql[:word.Pos] + "CURRENT_DATE" + sql[code[i+2].Pos+1:]
				issues = append(issues, Issue{
					Rule: RuleDialectFunction, Severity: SeverityAutoFix, Fixed: true,
					Message: "CURDATE() rewritten to CURRENT_DATE",
				})
				patched = true
			}
		}
		if !patched {
			return sql, issues
		}
	}
}

// rewriteUnknownTables resolves table references that are not in the packet.
// A near-miss (case, plural, missing schema) is rewritten in place; anything
// else stays as a rewrite finding for the repair loop. CTE names are always
// legal.
func (v *Validator) rewriteUnknownTables(sql string, p *schema.Packet) (string, []Issue) {
	var issues []Issue
	for {
		toks := sqlscan.Scan(sql)
		cte := CTENames(toks)
		patched := false
		var unresolved []Issue
		for _, ref := range TableRefs(toks) {
			bare := ref.Name
			if i := strings.LastIndex(bare, "."); i >= 0 {
				bare = bare[i+1:]
			}
			if _, isCTE := cte[strings.ToLower(bare)]; isCTE {
				continue
			}
			if _, ok := p.Table(ref.Name); ok {
				continue
			}
			if fix, ok := nearestTable(ref.Name, p); ok {
				sql = sql[:ref.Pos] + fix + sql[ref.Pos+len(ref.Name):]
				issues = append(issues, Issue{
					Rule: RuleUnknownTable, Severity: SeverityRewrite, Fixed: true,
					Message: fmt.Sprintf("table %q rewritten to %q", ref.Name, fix),
				})
				patched = true
				break
			}
			unresolved = append(unresolved, Issue{
				Rule: RuleUnknownTable, Severity: SeverityRewrite,
				Message: fmt.Sprintf("table %q is not in the schema context (known: %s)", ref.Name, strings.Join(p.TableNames(), ", ")),
			})
		}
		if !patched {
			return sql, append(issues, unresolved...)
		}
	}
}

// nearestTable finds a catalog table that the reference almost names:
// case-insensitive match on bare or qualified name, or a trailing-s plural
// mismatch.
func nearestTable(name string, p *schema.Packet) (string, bool) {
	bare := name
	if i := strings.LastIndex(bare, "."); i >= 0 {
		bare = bare[i+1:]
	}
	lower := strings.ToLower(bare)
	for _, rt := range p.Tables {
		tl := strings.ToLower(rt.Table.Name)
		if tl == lower || tl == lower+"s" || tl+"s" == lower {
			return rt.Table.QualifiedName(), true
		}
	}
	return "", false
}

// applyLimitPolicy enforces the row-limit rules: a top-level SELECT without
// LIMIT gets the default appended, and a LIMIT above the cap is clamped.
func (v *Validator) applyLimitPolicy(sql string) (string, []Issue) {
	code := sqlscan.Code(sqlscan.Scan(sql))
	depth := 0
	for i, t := range code {
		switch {
		case symIs(t, "("):
			depth++
		case symIs(t, ")"):
			depth--
		case depth == 0 && wordIs(t, "limit") && i+1 < len(code) && code[i+1].Kind == sqlscan.KindNumber:
			val, err := strconv.Atoi(code[i+1].Text)
			if err != nil || val <= v.MaxLimit {
				return sql, nil
			}
			num := code[i+1]
			fixed := sql[:num.Pos] + strconv.Itoa(v.MaxLimit) + sql[num.Pos+len(num.Text):]
			return fixed, []Issue{{
				Rule: RuleOversizedLimit, Severity: SeverityAutoFix, Fixed: true,
				Message: fmt.Sprintf("LIMIT %d clamped to %d", val, v.MaxLimit),
			}}
		}
	}
	// insert after the last code token, before any trailing semicolon or
	// comment, so the LIMIT is live SQL rather than comment text
	insert := len(sql)
	for i := len(code) - 1; i >= 0; i-- {
		if symIs(code[i], ";") {
			continue
		}
		insert = code[i].Pos + len(code[i].Text)
		break
	}
	fixed := sql[:insert] + fmt.Sprintf(" LIMIT %d", v.DefaultLimit) + sql[insert:]
	return fixed, []Issue{{
		Rule: RuleMissingLimit, Severity: SeverityAutoFix, Fixed: true,
		Message: fmt.Sprintf("LIMIT %d appended", v.DefaultLimit),
	}}
}

var aggregateFns = map[string]struct{}{
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
	"array_agg": {}, "string_agg": {}, "group_concat": {},
}

// superlativeWords in the question mean the answer should be ordered.
var superlativeWords = []string{
	"most", "highest", "largest", "biggest", "greatest", "top ",
	"lowest", "smallest", "least", "fewest", "latest", "newest", "oldest",
	"maximum", "minimum", "best", "worst",
	"最多", "最高", "最大", "最少", "最低", "最新", "最早",
}

// IsSuperlative reports whether the question asks for an extreme, which a
// correct answer expresses as ORDER BY with a LIMIT.
func IsSuperlative(question string) bool {
	lower := strings.ToLower(question)
	for _, w := range superlativeWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// HasTopLevel reports whether keyword appears at paren depth zero.
func HasTopLevel(sql, keyword string) bool {
	depth := 0
	for _, t := range sqlscan.Code(sqlscan.Scan(sql)) {
		switch {
		case symIs(t, "("):
			depth++
		case symIs(t, ")"):
			depth--
		case depth == 0 && wordIs(t, keyword):
			return true
		}
	}
	return false
}

// lint produces the score-only findings.
func (v *Validator) lint(sql, question string) []Issue {
	var issues []Issue
	if v.aggregateWithoutGroupBy(sql) {
		issues = append(issues, Issue{
			Rule: RuleAggregateNoGroupBy, Severity: SeverityLint,
			Message: "aggregate mixed with bare columns but no GROUP BY",
		})
	}
	if IsSuperlative(question) && !HasTopLevel(sql, "order") {
		issues = append(issues, Issue{
			Rule: RuleSuperlativeNoOrder, Severity: SeverityLint,
			Message: "question asks for an extreme but the query has no ORDER BY",
		})
	}
	return issues
}

// aggregateWithoutGroupBy checks the top-level select list: an aggregate
// call next to a bare column reference, with no GROUP BY anywhere at the top
// level, almost always returns garbage.
func (v *Validator) aggregateWithoutGroupBy(sql string) bool {
	code := sqlscan.Code(sqlscan.Scan(sql))
	depth := 0
	inList := false
	agg, bare := false, false
	for i := 0; i < len(code); i++ {
		t := code[i]
		switch {
		case symIs(t, "("):
			depth++
		case symIs(t, ")"):
			depth--
		case depth == 0 && wordIs(t, "select"):
			inList = true
		case depth == 0 && wordIs(t, "from"):
			inList = false
		case depth == 0 && wordIs(t, "group"):
			return false
		case inList && depth == 0 && t.Kind == sqlscan.KindWord && !sqlscan.IsKeyword(t.Text):
			lower := strings.ToLower(t.Text)
			if _, isAgg := aggregateFns[lower]; isAgg && i+1 < len(code) && symIs(code[i+1], "(") {
				agg = true
				// skip the aggregate's argument list
				rest := skipParens(code[i+1:], 0)
				i += rest
			} else if !aliasPosition(code, i) && (i+1 >= len(code) || !symIs(code[i+1], "(")) {
				bare = true
			}
		}
	}
	return agg && bare
}

// aliasPosition reports whether the word at code[i] sits where an output
// alias would: right after AS, a closing paren, or another value token.
func aliasPosition(code []sqlscan.Token, i int) bool {
	if i == 0 {
		return false
	}
	prev := code[i-1]
	if wordIs(prev, "as") || symIs(prev, ")") {
		return true
	}
	switch prev.Kind {
	case sqlscan.KindQuotedIdent, sqlscan.KindString, sqlscan.KindNumber, sqlscan.KindDollarString:
		return true
	case sqlscan.KindWord:
		return !sqlscan.IsKeyword(prev.Text)
	}
	return false
}
