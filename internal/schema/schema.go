// Package schema holds the catalog model shared by the retriever, the prompt
// composer and the validator: tables with their columns, foreign-key edges,
// module assignments and the fingerprints used for embedding change
// detection.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Column is one column of a catalog table. FKTarget, when set, is the
// qualified "schema.table.column" this column references.
type Column struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Description string `json:"description,omitempty"`
	IsGeneric   bool   `json:"is_generic,omitempty"`
	IsPrimary   bool   `json:"is_primary,omitempty"`
	FKTarget    string `json:"fk_target,omitempty"`
}

// ForeignKey is one directed edge in the catalog FK graph. Expansion treats
// edges as undirected.
type ForeignKey struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// Table is one catalog table with its retrieval metadata.
type Table struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Module  string   `json:"module"`
	Gloss   string   `json:"gloss,omitempty"`
	IsHub   bool     `json:"is_hub,omitempty"`
	Columns []Column `json:"columns"`
}

// QualifiedName returns schema.name, or just name when the schema is empty.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column looks up a column by name, case-insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// EmbedText is the text embedded for table-level retrieval. It is the exact
// input covered by the fingerprint, so any change to it invalidates the
// stored vector.
func (t *Table) EmbedText() string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name + " " + c.DataType
	}
	return fmt.Sprintf("%s | %s | %s", t.QualifiedName(), t.Gloss, strings.Join(cols, ", "))
}

// Fingerprint hashes the identifying attributes of the table. Stored next to
// the embedding; a mismatch means the vector is stale.
func (t *Table) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(t.EmbedText()))
	h.Write([]byte{0})
	h.Write([]byte(t.Module))
	if t.IsHub {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CompactDDL renders the table as the pseudo-DDL block placed into prompts:
// one line per column with PK/FK markers, descriptions as trailing comments.
func (t *Table) CompactDDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", t.QualifiedName())
	if t.Gloss != "" {
		fmt.Fprintf(&b, " -- %s", t.Gloss)
	}
	b.WriteString("\n")
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "  %s %s", c.Name, c.DataType)
		if c.IsPrimary {
			b.WriteString(" PRIMARY KEY")
		}
		if c.FKTarget != "" {
			fmt.Fprintf(&b, " REFERENCES %s", c.FKTarget)
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		if c.Description != "" {
			fmt.Fprintf(&b, " -- %s", c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// RankedTable is a table selected by retrieval, with its fused score and
// provenance.
type RankedTable struct {
	Table          *Table   `json:"table"`
	Score          float64  `json:"score"`
	Source         string   `json:"source"` // "retrieved" or "fk_expansion"
	MatchedColumns []string `json:"matched_columns,omitempty"`
}

// Packet is the schema context handed to the prompt composer and validator:
// the ranked tables plus the FK edges among them.
type Packet struct {
	QueryID    string        `json:"query_id"`
	DatabaseID string        `json:"database_id"`
	Question   string        `json:"question"`
	Intent     string        `json:"intent,omitempty"`
	Tables     []RankedTable `json:"tables"`
	FKEdges    []ForeignKey  `json:"fk_edges,omitempty"`
	Modules    []string      `json:"modules,omitempty"`
}

// Table looks up a packet table by bare or qualified name.
func (p *Packet) Table(name string) (*Table, bool) {
	for _, rt := range p.Tables {
		if strings.EqualFold(rt.Table.Name, name) || strings.EqualFold(rt.Table.QualifiedName(), name) {
			return rt.Table, true
		}
	}
	return nil, false
}

// TableNames returns the qualified names of the packet tables in rank order.
func (p *Packet) TableNames() []string {
	names := make([]string, len(p.Tables))
	for i, rt := range p.Tables {
		names[i] = rt.Table.QualifiedName()
	}
	return names
}

// Sort orders ranked tables deterministically: score descending, then
// module, then qualified name. Equal inputs always produce equal packets.
func Sort(tables []RankedTable) {
	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].Score != tables[j].Score {
			return tables[i].Score > tables[j].Score
		}
		if tables[i].Table.Module != tables[j].Table.Module {
			return tables[i].Table.Module < tables[j].Table.Module
		}
		return tables[i].Table.QualifiedName() < tables[j].Table.QualifiedName()
	})
}
