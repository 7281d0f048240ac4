// Package prompt builds the generation prompt: an immutable base rendered
// once per request from the schema packet, plus ordered repair deltas
// appended across attempts. The base never changes between attempts, so the
// model sees a stable context with an append-only correction history.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

// DeltaKind fixes the order deltas appear in, regardless of when they were
// produced.
type DeltaKind int

const (
	DeltaSyntax DeltaKind = iota + 1
	DeltaUnknownTable
	DeltaColumnWhitelist
	DeltaMultiCandidate
)

// Delta is one correction block appended to the base prompt.
type Delta struct {
	Kind DeltaKind
	Text string
}

// SyntaxDelta reports a parser rejection back to the model.
func SyntaxDelta(message string, position int) Delta {
	text := fmt.Sprintf("The previous SQL was rejected by the database parser: %s.", message)
	if position > 0 {
		text += fmt.Sprintf(" The error is at character %d.", position)
	}
	return Delta{Kind: DeltaSyntax, Text: text + " Fix the syntax and regenerate."}
}

// UnknownTableDelta lists the tables the model may use after it referenced
// one that does not exist.
func UnknownTableDelta(badTables, allowed []string) Delta {
	return Delta{
		Kind: DeltaUnknownTable,
		Text: fmt.Sprintf(
			"The previous SQL referenced tables that do not exist: %s. Use only these tables: %s.",
			strings.Join(badTables, ", "), strings.Join(allowed, ", ")),
	}
}

// ColumnWhitelistDelta spells out the exact valid columns per table after an
// undefined-column failure. The list covers the tables the failed SQL used
// plus their one-hop join partners from the packet.
func ColumnWhitelistDelta(badColumn string, whitelist map[string][]string) Delta {
	keys := make([]string, 0, len(whitelist))
	for k := range whitelist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	if badColumn != "" {
		fmt.Fprintf(&b, "The previous SQL referenced a column that does not exist: %s.\n", badColumn)
	} else {
		b.WriteString("The previous SQL referenced a column that does not exist.\n")
	}
	b.WriteString("The tables you used (and their join partners) have exactly these columns:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, strings.Join(whitelist[k], ", "))
	}
	b.WriteString("Do not invent columns; if a concept is missing, join a table that has it.")
	return Delta{Kind: DeltaColumnWhitelist, Text: b.String()}
}

// MultiCandidateDelta asks for a different query than the ones already
// tried.
func MultiCandidateDelta(previous []string) Delta {
	var b strings.Builder
	b.WriteString("The following attempts were already tried and failed; produce a different query:\n")
	for _, p := range previous {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return Delta{Kind: DeltaMultiCandidate, Text: strings.TrimRight(b.String(), "\n")}
}

// Composer renders prompts for one dialect.
type Composer struct {
	dialect string

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewComposer creates a composer for "postgres" or "mysql".
func NewComposer(dialect string) *Composer {
	return &Composer{dialect: dialect}
}

// Base renders the immutable part of the prompt from the packet: system
// instructions, the schema DDL, the join graph, few-shot examples and the
// question.
func (c *Composer) Base(p *schema.Packet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an expert %s analyst. Write one SQL query that answers the question.\n", dialectName(c.dialect))
	b.WriteString("Rules:\n")
	b.WriteString("- Output exactly one SELECT statement, nothing else.\n")
	b.WriteString("- Use only the tables and columns listed below.\n")
	b.WriteString("- Qualify columns with table aliases when joining.\n")
	fmt.Fprintf(&b, "- Use %s syntax only.\n\n", dialectName(c.dialect))

	b.WriteString("Schema:\n")
	for _, rt := range p.Tables {
		b.WriteString(rt.Table.CompactDDL())
		b.WriteString("\n\n")
	}

	if len(p.FKEdges) > 0 {
		b.WriteString("Joins:\n")
		for _, fk := range p.FKEdges {
			fmt.Fprintf(&b, "  %s.%s = %s.%s\n", fk.FromTable, fk.FromColumn, fk.ToTable, fk.ToColumn)
		}
		b.WriteString("\n")
	}

	if ex := fewShot(c.dialect, p.Intent); ex != "" {
		b.WriteString("Example:\n")
		b.WriteString(ex)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", p.Question)
	b.WriteString("SQL:")
	return b.String()
}

// Compose appends the deltas to the base in their fixed order. Deltas of the
// same kind keep their insertion order.
func (c *Composer) Compose(base string, deltas []Delta) string {
	if len(deltas) == 0 {
		return base
	}
	sorted := make([]Delta, len(deltas))
	copy(sorted, deltas)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Kind < sorted[j].Kind })

	var b strings.Builder
	b.WriteString(base)
	for _, d := range sorted {
		b.WriteString("\n\n")
		b.WriteString(d.Text)
	}
	return b.String()
}

// CountTokens measures a prompt with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to a bytes/4 estimate rather than
// failing the request.
func (c *Composer) CountTokens(text string) int {
	c.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

func dialectName(dialect string) string {
	switch dialect {
	case "mysql":
		return "MySQL"
	default:
		return "PostgreSQL"
	}
}
