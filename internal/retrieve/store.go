// Package retrieve turns a natural-language question into a SchemaPacket:
// the small set of catalog tables the generator is allowed to use. It fuses
// vector similarity over table and column embeddings with keyword evidence,
// then walks the foreign-key graph to pull in join partners.
package retrieve

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

// Hit is one vector search result. Key is "schema.table" for table hits and
// "schema.table.column" for column hits; Score is cosine similarity.
type Hit struct {
	Key   string
	Score float64
}

// Store is the schema index the retriever reads. The production
// implementation lives in Postgres; tests supply an in-memory one.
type Store interface {
	// Tables loads the full catalog with columns and retrieval metadata.
	Tables(ctx context.Context) ([]*schema.Table, error)
	// ForeignKeys loads every FK edge in the catalog.
	ForeignKeys(ctx context.Context) ([]schema.ForeignKey, error)
	// Glossary maps domain abbreviations to their expansions.
	Glossary(ctx context.Context) (map[string]string, error)
	// ModuleKeywords maps each business module to its routing vocabulary.
	ModuleKeywords(ctx context.Context) (map[string][]string, error)
	// SearchTables and SearchColumns run top-k similarity queries.
	SearchTables(ctx context.Context, vec []float32, k int) ([]Hit, error)
	SearchColumns(ctx context.Context, vec []float32, k int) ([]Hit, error)
	// ModuleCentroids returns the mean table embedding per module,
	// recomputed at indexing time.
	ModuleCentroids(ctx context.Context) (map[string][]float32, error)
	// Fingerprints returns the stored fingerprint per embedded table.
	Fingerprints(ctx context.Context) (map[string]string, error)
	// UpsertTableEmbedding stores a fresh vector and fingerprint.
	UpsertTableEmbedding(ctx context.Context, t *schema.Table, vec []float32) error
	Close() error
}

// pgStore is the Postgres index store. The index lives in ordinary tables
// (schema_tables, schema_columns, schema_fks, module_mapping, glossary,
// generic_columns) plus a pgvector-backed schema_embeddings table.
type pgStore struct {
	db *sql.DB
}

// OpenStore connects to the schema index database.
func OpenStore(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &pgStore{db: db}, nil
}

func (s *pgStore) Close() error { return s.db.Close() }

func (s *pgStore) Tables(ctx context.Context) ([]*schema.Table, error) {
	generic, err := s.genericColumns(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.table_schema, t.table_name,
		       COALESCE(m.module, 'common'), COALESCE(t.gloss, ''), COALESCE(t.is_hub, false)
		FROM schema_tables t
		LEFT JOIN module_mapping m
		  ON m.table_schema = t.table_schema AND m.table_name = t.table_name
		ORDER BY t.table_schema, t.table_name`)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string]*schema.Table)
	var tables []*schema.Table
	for rows.Next() {
		t := &schema.Table{}
		if err := rows.Scan(&t.Schema, &t.Name, &t.Module, &t.Gloss, &t.IsHub); err != nil {
			return nil, err
		}
		byKey[t.QualifiedName()] = t
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols, err := s.db.QueryContext(ctx, `
		SELECT table_schema, table_name, column_name,
		       COALESCE(data_type, ''), COALESCE(description, ''),
		       COALESCE(is_primary, false), COALESCE(fk_target, '')
		FROM schema_columns
		ORDER BY table_schema, table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	defer cols.Close()
	for cols.Next() {
		var sch, tbl string
		var c schema.Column
		if err := cols.Scan(&sch, &tbl, &c.Name, &c.DataType, &c.Description,
			&c.IsPrimary, &c.FKTarget); err != nil {
			return nil, err
		}
		if t, ok := byKey[sch+"."+tbl]; ok {
			t.Columns = append(t.Columns, c)
		}
	}
	if err := cols.Err(); err != nil {
		return nil, err
	}

	for _, t := range tables {
		schema.MarkGenericColumns(t, generic)
	}
	return tables, nil
}

func (s *pgStore) genericColumns(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT column_name FROM generic_columns`)
	if err != nil {
		return nil, fmt.Errorf("load generic columns: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out, rows.Err()
}

func (s *pgStore) ForeignKeys(ctx context.Context) ([]schema.ForeignKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_schema || '.' || from_table, from_column,
		       to_schema || '.' || to_table, to_column
		FROM schema_fks`)
	if err != nil {
		return nil, fmt.Errorf("load fks: %w", err)
	}
	defer rows.Close()
	var fks []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (s *pgStore) Glossary(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT term, expansion FROM glossary`)
	if err != nil {
		return nil, fmt.Errorf("load glossary: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var term, expansion string
		if err := rows.Scan(&term, &expansion); err != nil {
			return nil, err
		}
		out[strings.ToLower(term)] = expansion
	}
	return out, rows.Err()
}

func (s *pgStore) ModuleKeywords(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT module, keyword FROM module_keywords`)
	if err != nil {
		return nil, fmt.Errorf("load module keywords: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var module, kw string
		if err := rows.Scan(&module, &kw); err != nil {
			return nil, err
		}
		out[module] = append(out[module], strings.ToLower(kw))
	}
	return out, rows.Err()
}

func (s *pgStore) SearchTables(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	return s.search(ctx, "table", vec, k)
}

func (s *pgStore) SearchColumns(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	return s.search(ctx, "column", vec, k)
}

func (s *pgStore) search(ctx context.Context, objectType string, vec []float32, k int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_key, 1 - (embedding <=> $1::vector) AS score
		FROM schema_embeddings
		WHERE object_type = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, vectorLiteral(vec), objectType, k)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", objectType, err)
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Key, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *pgStore) ModuleCentroids(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(m.module, 'common'), AVG(e.embedding)::text
		FROM schema_embeddings e
		JOIN schema_tables t
		  ON t.table_schema || '.' || t.table_name = e.object_key
		LEFT JOIN module_mapping m
		  ON m.table_schema = t.table_schema AND m.table_name = t.table_name
		WHERE e.object_type = 'table'
		GROUP BY COALESCE(m.module, 'common')`)
	if err != nil {
		return nil, fmt.Errorf("load module centroids: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]float32)
	for rows.Next() {
		var module, lit string
		if err := rows.Scan(&module, &lit); err != nil {
			return nil, err
		}
		vec, err := parseVectorLiteral(lit)
		if err != nil {
			return nil, fmt.Errorf("centroid for module %s: %w", module, err)
		}
		out[module] = vec
	}
	return out, rows.Err()
}

func (s *pgStore) Fingerprints(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_key, fingerprint FROM schema_embeddings WHERE object_type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, fp string
		if err := rows.Scan(&key, &fp); err != nil {
			return nil, err
		}
		out[key] = fp
	}
	return out, rows.Err()
}

func (s *pgStore) UpsertTableEmbedding(ctx context.Context, t *schema.Table, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_embeddings (object_type, object_key, embedding, fingerprint, source_text)
		VALUES ('table', $1, $2::vector, $3, $4)
		ON CONFLICT (object_type, object_key)
		DO UPDATE SET embedding = EXCLUDED.embedding,
		              fingerprint = EXCLUDED.fingerprint,
		              source_text = EXCLUDED.source_text`,
		t.QualifiedName(), vectorLiteral(vec), t.Fingerprint(), t.EmbedText())
	if err != nil {
		return fmt.Errorf("upsert embedding for %s: %w", t.QualifiedName(), err)
	}
	return nil
}

// vectorLiteral renders a pgvector input literal.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVectorLiteral reads the "[x,y,...]" form pgvector prints.
func parseVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if lit == "" {
		return nil, nil
	}
	parts := strings.Split(lit, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("bad vector literal: %w", err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
