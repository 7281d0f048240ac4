package sqlscan

import "strings"

// reserved holds the SQL keywords the normalizer lowercases and the
// validator treats as non-identifiers when walking FROM clauses.
var reserved = map[string]struct{}{
	"all": {}, "and": {}, "any": {}, "as": {}, "asc": {}, "between": {},
	"by": {}, "case": {}, "cast": {}, "coalesce": {}, "cross": {},
	"current_date": {}, "current_timestamp": {}, "desc": {}, "distinct": {},
	"else": {}, "end": {}, "except": {}, "exists": {}, "extract": {},
	"false": {}, "filter": {}, "from": {}, "full": {}, "group": {},
	"having": {}, "ilike": {}, "in": {}, "inner": {}, "intersect": {},
	"interval": {}, "is": {}, "join": {}, "lateral": {}, "left": {},
	"like": {}, "limit": {}, "not": {}, "null": {}, "nulls": {},
	"offset": {}, "on": {}, "or": {}, "order": {}, "outer": {},
	"over": {}, "partition": {}, "right": {}, "select": {}, "then": {},
	"true": {}, "union": {}, "using": {}, "when": {}, "where": {},
	"window": {}, "with": {},
}

// IsKeyword reports whether word is a reserved SQL keyword (case-insensitive).
func IsKeyword(word string) bool {
	_, ok := reserved[strings.ToLower(word)]
	return ok
}

// Normalize produces the canonical form used as the dedup key for generated
// candidates: comments dropped, whitespace collapsed to single spaces,
// keywords lowercased, identifiers and literals preserved, trailing
// semicolons removed. Normalize is idempotent.
func Normalize(sql string) string {
	parts := make([]string, 0, 32)
	for _, t := range Code(Scan(sql)) {
		text := t.Text
		if t.Kind == KindWord && IsKeyword(text) {
			text = strings.ToLower(text)
		}
		parts = append(parts, text)
	}
	for len(parts) > 0 && parts[len(parts)-1] == ";" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, " ")
}
