package validate

import (
	"strings"

	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/sqlscan"
)

// TableRef is one table referenced in a FROM or JOIN clause.
type TableRef struct {
	Name  string // as written, possibly schema-qualified
	Alias string // empty when the table has no alias
	Pos   int    // byte offset of the first name token
}

// clauseKeywords terminate a table reference inside FROM/JOIN parsing.
var clauseKeywords = map[string]struct{}{
	"on": {}, "using": {}, "where": {}, "group": {}, "order": {}, "having": {},
	"limit": {}, "offset": {}, "join": {}, "inner": {}, "left": {}, "right": {},
	"full": {}, "cross": {}, "union": {}, "intersect": {}, "except": {},
	"lateral": {}, "window": {},
}

// argKeywords are reserved words that still open an argument list when a
// paren follows, e.g. EXTRACT(YEAR FROM x) or CAST(x AS int). A FROM inside
// those parens separates arguments, never a table list.
var argKeywords = map[string]struct{}{
	"extract": {}, "cast": {}, "coalesce": {}, "filter": {}, "over": {}, "using": {},
}

// argSpans marks, per token, whether it sits inside a function-call argument
// list. A paren group counts as arguments when the token before the opener is
// an identifier or an argument-taking reserved word; subquery parens stay
// unmarked so their FROM clauses are still scanned.
func argSpans(code []sqlscan.Token) []bool {
	spans := make([]bool, len(code))
	var stack []bool
	for i, t := range code {
		if symIs(t, "(") {
			isArgs := false
			if i > 0 && isIdent(code[i-1]) {
				prev := strings.ToLower(code[i-1].Text)
				if !sqlscan.IsKeyword(prev) {
					isArgs = true
				} else if _, ok := argKeywords[prev]; ok {
					isArgs = true
				}
			}
			stack = append(stack, isArgs)
		}
		if len(stack) > 0 {
			spans[i] = stack[len(stack)-1]
		}
		if symIs(t, ")") && len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
	}
	return spans
}

// CTENames returns the names bound by a leading WITH clause. Those names are
// legal table references even though they are not in the catalog.
func CTENames(toks []sqlscan.Token) map[string]struct{} {
	names := make(map[string]struct{})
	code := sqlscan.Code(toks)
	i := 0
	if i >= len(code) || !wordIs(code[i], "with") {
		return names
	}
	i++
	if i < len(code) && wordIs(code[i], "recursive") {
		i++
	}
	for i < len(code) {
		if code[i].Kind != sqlscan.KindWord && code[i].Kind != sqlscan.KindQuotedIdent {
			break
		}
		names[strings.ToLower(identText(code[i]))] = struct{}{}
		i++
		// optional column list
		if i < len(code) && symIs(code[i], "(") {
			i = skipParens(code, i)
		}
		if i >= len(code) || !wordIs(code[i], "as") {
			break
		}
		i++
		// optional MATERIALIZED / NOT MATERIALIZED
		for i < len(code) && (wordIs(code[i], "not") || wordIs(code[i], "materialized")) {
			i++
		}
		if i >= len(code) || !symIs(code[i], "(") {
			break
		}
		i = skipParens(code, i)
		if i < len(code) && symIs(code[i], ",") {
			i++
			continue
		}
		break
	}
	return names
}

// TableRefs extracts every table referenced by FROM and JOIN clauses,
// skipping subqueries and function calls. CTE bodies are scanned too, so a
// reference inside a CTE is still checked against the catalog.
func TableRefs(toks []sqlscan.Token) []TableRef {
	code := sqlscan.Code(toks)
	args := argSpans(code)
	var refs []TableRef
	for i := 0; i < len(code); i++ {
		if args[i] || (!wordIs(code[i], "from") && !wordIs(code[i], "join")) {
			continue
		}
		j := i + 1
		for j < len(code) {
			if symIs(code[j], "(") {
				// subquery: skip the body, then its alias
				j = skipAlias(code, skipParens(code, j))
			} else {
				ref, next, ok := scanTableRef(code, j)
				if ok {
					refs = append(refs, ref)
					j = next
				} else if next < len(code) && symIs(code[next], "(") {
					// table function call
					j = skipAlias(code, skipParens(code, next))
				} else {
					break
				}
			}
			// a comma continues the FROM list
			if j < len(code) && symIs(code[j], ",") {
				j++
				continue
			}
			break
		}
	}
	return refs
}

// scanTableRef reads one dotted table name plus an optional alias starting
// at code[j].
func scanTableRef(code []sqlscan.Token, j int) (TableRef, int, bool) {
	if j >= len(code) || !isIdent(code[j]) || sqlscan.IsKeyword(code[j].Text) {
		return TableRef{}, j, false
	}
	ref := TableRef{Pos: code[j].Pos}
	name := identText(code[j])
	j++
	for j+1 < len(code) && symIs(code[j], ".") && isIdent(code[j+1]) {
		name += "." + identText(code[j+1])
		j += 2
	}
	// a following "(" means this was a function call, not a table
	if j < len(code) && symIs(code[j], "(") {
		return TableRef{}, j, false
	}
	ref.Name = name
	if j < len(code) && wordIs(code[j], "as") {
		j++
	}
	if j < len(code) && isIdent(code[j]) && !sqlscan.IsKeyword(code[j].Text) {
		if _, clause := clauseKeywords[strings.ToLower(code[j].Text)]; !clause {
			ref.Alias = identText(code[j])
			j++
		}
	}
	return ref, j, true
}

// skipAlias advances past an optional "AS name" or bare alias.
func skipAlias(code []sqlscan.Token, j int) int {
	if j < len(code) && wordIs(code[j], "as") {
		j++
	}
	if j < len(code) && isIdent(code[j]) && !sqlscan.IsKeyword(code[j].Text) {
		if _, clause := clauseKeywords[strings.ToLower(code[j].Text)]; !clause {
			j++
		}
	}
	return j
}

// Aliases maps every alias and bare table name (lowercased) to the table
// name as written in the SQL.
func Aliases(toks []sqlscan.Token) map[string]string {
	out := make(map[string]string)
	for _, ref := range TableRefs(toks) {
		if ref.Alias != "" {
			out[strings.ToLower(ref.Alias)] = ref.Name
		}
		out[strings.ToLower(ref.Name)] = ref.Name
		if i := strings.LastIndex(ref.Name, "."); i >= 0 {
			out[strings.ToLower(ref.Name[i+1:])] = ref.Name
		}
	}
	return out
}

// Whitelist resolves the tables referenced by sql against the packet and
// returns, per referenced table, the exact set of valid column names. The
// repair controller turns this into the column-whitelist delta after an
// undefined-column failure.
func Whitelist(sql string, p *schema.Packet) map[string][]string {
	out := make(map[string][]string)
	for _, name := range Aliases(sqlscan.Scan(sql)) {
		tbl, ok := p.Table(name)
		if !ok {
			continue
		}
		if _, seen := out[tbl.QualifiedName()]; seen {
			continue
		}
		cols := make([]string, len(tbl.Columns))
		for i, c := range tbl.Columns {
			cols[i] = c.Name
		}
		out[tbl.QualifiedName()] = cols
	}
	return out
}

func wordIs(t sqlscan.Token, kw string) bool {
	return t.Kind == sqlscan.KindWord && strings.EqualFold(t.Text, kw)
}

func symIs(t sqlscan.Token, s string) bool {
	return t.Kind == sqlscan.KindSymbol && t.Text == s
}

func isIdent(t sqlscan.Token) bool {
	return t.Kind == sqlscan.KindWord || t.Kind == sqlscan.KindQuotedIdent
}

// identText strips the surrounding quotes from a quoted identifier.
func identText(t sqlscan.Token) string {
	if t.Kind == sqlscan.KindQuotedIdent && len(t.Text) >= 2 {
		return strings.ReplaceAll(t.Text[1:len(t.Text)-1], `""`, `"`)
	}
	return t.Text
}

// skipParens advances past a balanced parenthesized group whose opening
// paren sits at code[i]. Returns the index just after the closer.
func skipParens(code []sqlscan.Token, i int) int {
	depth := 0
	for ; i < len(code); i++ {
		if symIs(code[i], "(") {
			depth++
		} else if symIs(code[i], ")") {
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}
