package retrieve

import (
	"sort"
	"strings"
)

// Intent labels for a question. The intent feeds the trace, the superlative
// lint and the few-shot selection; it never gates execution.
const (
	IntentCount     = "count"
	IntentAggregate = "aggregate"
	IntentTrend     = "trend"
	IntentCompare   = "compare"
	IntentDetail    = "detail"
	IntentList      = "list"
)

var intentMarkers = []struct {
	intent  string
	markers []string
}{
	{IntentCount, []string{"how many", "count", "number of", "多少", "几个", "数量"}},
	{IntentTrend, []string{"trend", "over time", "per month", "monthly", "by year", "yearly", "per quarter", "趋势", "按月", "按年"}},
	{IntentCompare, []string{"compare", "versus", " vs ", "difference between", "对比", "比较"}},
	{IntentAggregate, []string{"total", "sum of", "average", "avg", "mean", "per ", "总", "平均", "合计"}},
	{IntentDetail, []string{"detail", "details", "information about", "info on", "show me the record", "明细", "详情"}},
}

// ClassifyIntent buckets a question by its phrasing. First marker match
// wins, in a fixed priority order; everything else is a list question.
func ClassifyIntent(question string) string {
	lower := strings.ToLower(question)
	for _, group := range intentMarkers {
		for _, m := range group.markers {
			if strings.Contains(lower, m) {
				return group.intent
			}
		}
	}
	return IntentList
}

// ExpandGlossary rewrites known abbreviations as "term (expansion)" so both
// the embedding and the keyword matcher see the full phrase. Longer terms
// are applied first so "po number" wins over "po".
func ExpandGlossary(question string, glossary map[string]string) string {
	if len(glossary) == 0 {
		return question
	}
	terms := make([]string, 0, len(glossary))
	for term := range glossary {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})

	lower := strings.ToLower(question)
	out := question
	for _, term := range terms {
		idx := indexWord(lower, term)
		if idx < 0 {
			continue
		}
		expansion := glossary[term]
		original := out[idx : idx+len(term)]
		out = out[:idx] + original + " (" + expansion + ")" + out[idx+len(term):]
		lower = strings.ToLower(out)
	}
	return out
}

// indexWord finds term in s at a word boundary.
func indexWord(s, term string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], term)
		if idx < 0 {
			return -1
		}
		idx += from
		beforeOK := idx == 0 || !isWordChar(s[idx-1])
		end := idx + len(term)
		afterOK := end >= len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return idx
		}
		from = idx + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
