package retrieve

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/noah-collins1/NL2SQL-sub003/internal/config"
	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

// rrfK is the reciprocal-rank-fusion constant. Rank lists from different
// signals are combined as sum(1 / (rrfK + rank)).
const rrfK = 60

// Retriever builds SchemaPackets. Catalog metadata is loaded once on first
// use and shared by every request; only the vector searches hit the index
// per question.
type Retriever struct {
	store Store
	embed Embedder
	cfg   config.Retrieval
	log   *logger.Logger

	once    sync.Once
	loadErr error

	tables    map[string]*schema.Table // by qualified name
	ordered   []*schema.Table
	fks       []schema.ForeignKey
	fkAdj     map[string][]fkEdge
	glossary  map[string]string
	moduleKw  map[string][]string
	centroids map[string][]float32
}

type fkEdge struct {
	neighbor string
	edge     schema.ForeignKey
}

// New creates a retriever over the given store and embedder.
func New(store Store, embed Embedder, cfg config.Retrieval, log *logger.Logger) *Retriever {
	return &Retriever{store: store, embed: embed, cfg: cfg, log: log}
}

// load pulls the catalog into memory once.
func (r *Retriever) load(ctx context.Context) error {
	r.once.Do(func() {
		tables, err := r.store.Tables(ctx)
		if err != nil {
			r.loadErr = fault.New(fault.KindRetrievalUnavailable, "load catalog: %v", err)
			return
		}
		fks, err := r.store.ForeignKeys(ctx)
		if err != nil {
			r.loadErr = fault.New(fault.KindRetrievalUnavailable, "load fk graph: %v", err)
			return
		}
		glossary, err := r.store.Glossary(ctx)
		if err != nil {
			r.loadErr = fault.New(fault.KindRetrievalUnavailable, "load glossary: %v", err)
			return
		}
		moduleKw, err := r.store.ModuleKeywords(ctx)
		if err != nil {
			r.loadErr = fault.New(fault.KindRetrievalUnavailable, "load module keywords: %v", err)
			return
		}
		centroids, err := r.store.ModuleCentroids(ctx)
		if err != nil {
			r.loadErr = fault.New(fault.KindRetrievalUnavailable, "load module centroids: %v", err)
			return
		}

		r.tables = make(map[string]*schema.Table, len(tables))
		r.ordered = tables
		for _, t := range tables {
			r.tables[t.QualifiedName()] = t
		}
		r.fks = fks
		r.fkAdj = make(map[string][]fkEdge)
		for _, fk := range fks {
			// the graph is walked undirected
			r.fkAdj[fk.FromTable] = append(r.fkAdj[fk.FromTable], fkEdge{neighbor: fk.ToTable, edge: fk})
			r.fkAdj[fk.ToTable] = append(r.fkAdj[fk.ToTable], fkEdge{neighbor: fk.FromTable, edge: fk})
		}
		r.glossary = glossary
		r.moduleKw = moduleKw
		r.centroids = centroids
		r.log.Debugf("schema index loaded: %d tables, %d fk edges", len(tables), len(fks))
	})
	return r.loadErr
}

// Catalog returns every table in the loaded index, in store order.
func (r *Retriever) Catalog(ctx context.Context) ([]*schema.Table, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r.ordered, nil
}

// Retrieve builds the packet for one question.
func (r *Retriever) Retrieve(ctx context.Context, queryID, databaseID, question string) (*schema.Packet, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}

	expanded := ExpandGlossary(question, r.glossary)
	intent := ClassifyIntent(expanded)

	vecs, err := r.embed.Embed(ctx, []string{expanded})
	if err != nil {
		return nil, err
	}
	modules := r.routeModules(expanded, vecs[0])

	tableHits, err := r.store.SearchTables(ctx, vecs[0], r.cfg.TableTopK)
	if err != nil {
		return nil, fault.New(fault.KindRetrievalUnavailable, "table search: %v", err)
	}
	colHits, err := r.store.SearchColumns(ctx, vecs[0], r.cfg.ColumnTopK)
	if err != nil {
		return nil, fault.New(fault.KindRetrievalUnavailable, "column search: %v", err)
	}

	ranked := r.fuse(expanded, modules, tableHits, colHits)
	if len(ranked) == 0 || ranked[0].Score < r.cfg.MinScore {
		return nil, fault.New(fault.KindNoRelevantSchema,
			"no catalog table matched the question with enough confidence")
	}
	if len(ranked) > r.cfg.MaxTables {
		ranked = ranked[:r.cfg.MaxTables]
	}

	ranked = r.expandForeignKeys(expanded, colHits, ranked)

	packet := &schema.Packet{
		QueryID:    queryID,
		DatabaseID: databaseID,
		Question:   question,
		Intent:     intent,
		Tables:     ranked,
		FKEdges:    r.edgesAmong(ranked),
		Modules:    modules,
	}
	return packet, nil
}

// routeFloor is the combined keyword+centroid score a module needs to be
// kept; routeMax caps how many modules a question can span.
const (
	routeFloor = 0.5
	routeMax   = 3
)

// routeModules scores every module by keyword vocabulary overlap plus
// cosine similarity against its table-centroid vector, and keeps the best
// scorers above the floor (at most routeMax).
func (r *Retriever) routeModules(question string, qvec []float32) []string {
	lower := strings.ToLower(question)
	type moduleScore struct {
		module string
		score  float64
	}
	var scores []moduleScore
	seen := make(map[string]bool, len(r.moduleKw))
	for module, keywords := range r.moduleKw {
		seen[module] = true
		s := 0.0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				s++
			}
		}
		if c := cosine(qvec, r.centroids[module]); c > 0 {
			s += c
		}
		if s > 0 {
			scores = append(scores, moduleScore{module, s})
		}
	}
	// modules with centroids but no curated vocabulary still participate
	for module := range r.centroids {
		if seen[module] || module == "common" {
			continue
		}
		if c := cosine(qvec, r.centroids[module]); c > 0 {
			scores = append(scores, moduleScore{module, c})
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].module < scores[j].module
	})

	var out []string
	for _, ms := range scores {
		if ms.score >= routeFloor {
			out = append(out, ms.module)
		}
	}
	if len(out) == 0 && len(scores) > 0 {
		out = []string{scores[0].module}
	}
	if len(out) > routeMax {
		out = out[:routeMax]
	}
	return out
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// empty or lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fuse combines three rank lists with reciprocal rank fusion: vector hits
// on tables, vector hits on columns (generic columns downweighted), and
// keyword evidence. Hub tables get a flat bonus. The result is ordered
// deterministically.
func (r *Retriever) fuse(question string, modules []string, tableHits, colHits []Hit) []schema.RankedTable {
	allowed := func(t *schema.Table) bool {
		if len(modules) == 0 {
			return true
		}
		if t.Module == "common" {
			return true
		}
		for _, m := range modules {
			if t.Module == m {
				return true
			}
		}
		return false
	}

	scores := make(map[string]float64)
	matched := make(map[string][]string)

	for rank, hit := range tableHits {
		if t, ok := r.tables[hit.Key]; ok && allowed(t) {
			scores[hit.Key] += 1.0 / float64(rrfK+rank+1)
		}
	}

	for rank, hit := range colHits {
		dot := strings.LastIndex(hit.Key, ".")
		if dot < 0 {
			continue
		}
		tableKey, colName := hit.Key[:dot], hit.Key[dot+1:]
		t, ok := r.tables[tableKey]
		if !ok || !allowed(t) {
			continue
		}
		weight := 1.0
		if col, ok := t.Column(colName); ok && col.IsGeneric {
			weight = r.cfg.GenericWeight
		}
		scores[tableKey] += weight / float64(rrfK+rank+1)
		matched[tableKey] = append(matched[tableKey], colName)
	}

	for rank, key := range r.keywordRank(question) {
		if t, ok := r.tables[key]; ok && allowed(t) {
			scores[key] += 1.0 / float64(rrfK+rank+1)
		}
	}

	var ranked []schema.RankedTable
	for key, score := range scores {
		t := r.tables[key]
		if t.IsHub {
			score += r.cfg.HubBonus
		}
		ranked = append(ranked, schema.RankedTable{
			Table:          t,
			Score:          score,
			Source:         "retrieved",
			MatchedColumns: dedupStrings(matched[key]),
		})
	}
	schema.Sort(ranked)
	return ranked
}

// keywordRank orders tables by lexical evidence: question tokens appearing
// in the table name weigh most, then column names, then the gloss.
func (r *Retriever) keywordRank(question string) []string {
	words := questionWords(question)
	if len(words) == 0 {
		return nil
	}
	type kwScore struct {
		key   string
		score float64
	}
	var scored []kwScore
	for _, t := range r.ordered {
		name := strings.ToLower(t.Name)
		gloss := strings.ToLower(t.Gloss)
		s := 0.0
		for _, w := range words {
			if strings.Contains(name, w) {
				s += 3
			}
			for _, c := range t.Columns {
				if strings.Contains(strings.ToLower(c.Name), w) {
					s++
					break
				}
			}
			if gloss != "" && strings.Contains(gloss, w) {
				s += 0.5
			}
		}
		if s > 0 {
			scored = append(scored, kwScore{t.QualifiedName(), s})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].key < scored[j].key
	})
	out := make([]string, len(scored))
	for i, ks := range scored {
		out[i] = ks.key
	}
	return out
}

// expandForeignKeys pulls in up to FKHopCap unselected join partners of the
// retrieved tables, walking the FK graph undirected with a visited set. A
// neighbor qualifies only when it contributes a column the question matched,
// which keeps unrelated hubs from attaching themselves to every packet.
// Hub neighbors come first; ordering is deterministic.
func (r *Retriever) expandForeignKeys(question string, colHits []Hit, ranked []schema.RankedTable) []schema.RankedTable {
	if r.cfg.FKHopCap <= 0 {
		return ranked
	}
	visited := make(map[string]bool, len(ranked))
	for _, rt := range ranked {
		visited[rt.Table.QualifiedName()] = true
	}

	hitCols := make(map[string]bool, len(colHits))
	for _, h := range colHits {
		hitCols[strings.ToLower(h.Key)] = true
	}
	words := questionWords(question)
	contributes := func(key string) bool {
		t := r.tables[key]
		for _, c := range t.Columns {
			if hitCols[strings.ToLower(key+"."+c.Name)] {
				return true
			}
			if columnMatchesWords(c.Name, words) {
				return true
			}
		}
		return false
	}

	var candidates []string
	seen := make(map[string]bool)
	for _, rt := range ranked {
		for _, e := range r.fkAdj[rt.Table.QualifiedName()] {
			if visited[e.neighbor] || seen[e.neighbor] {
				continue
			}
			if _, ok := r.tables[e.neighbor]; !ok {
				continue
			}
			if !contributes(e.neighbor) {
				continue
			}
			seen[e.neighbor] = true
			candidates = append(candidates, e.neighbor)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		hi, hj := r.tables[candidates[i]].IsHub, r.tables[candidates[j]].IsHub
		if hi != hj {
			return hi
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > r.cfg.FKHopCap {
		candidates = candidates[:r.cfg.FKHopCap]
	}
	for _, key := range candidates {
		ranked = append(ranked, schema.RankedTable{
			Table:  r.tables[key],
			Source: "fk_expansion",
		})
	}
	return ranked
}

// edgesAmong filters the FK graph down to edges whose both endpoints made
// it into the packet.
func (r *Retriever) edgesAmong(ranked []schema.RankedTable) []schema.ForeignKey {
	in := make(map[string]bool, len(ranked))
	for _, rt := range ranked {
		in[rt.Table.QualifiedName()] = true
	}
	var edges []schema.ForeignKey
	for _, fk := range r.fks {
		if in[fk.FromTable] && in[fk.ToTable] {
			edges = append(edges, fk)
		}
	}
	return edges
}

// Reindex re-embeds every table whose fingerprint no longer matches the
// stored one and returns how many vectors were refreshed.
func (r *Retriever) Reindex(ctx context.Context) (int, error) {
	if err := r.load(ctx); err != nil {
		return 0, err
	}
	stored, err := r.store.Fingerprints(ctx)
	if err != nil {
		return 0, fault.New(fault.KindRetrievalUnavailable, "load fingerprints: %v", err)
	}

	var stale []*schema.Table
	for _, t := range r.ordered {
		if stored[t.QualifiedName()] != t.Fingerprint() {
			stale = append(stale, t)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	texts := make([]string, len(stale))
	for i, t := range stale {
		texts[i] = t.EmbedText()
	}
	vecs, err := r.embed.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, t := range stale {
		if err := r.store.UpsertTableEmbedding(ctx, t, vecs[i]); err != nil {
			return i, fault.New(fault.KindRetrievalUnavailable, "%v", err)
		}
	}
	return len(stale), nil
}

// columnMatchesWords checks whether any underscore-separated part of a
// column name lines up with a question word (allowing a plural "s").
func columnMatchesWords(col string, words []string) bool {
	for _, part := range strings.Split(strings.ToLower(col), "_") {
		if len(part) < 3 {
			continue
		}
		for _, w := range words {
			if part == w || part+"s" == w || w+"s" == part {
				return true
			}
		}
	}
	return false
}

func questionWords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 3 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true,
	"which": true, "who": true, "how": true, "many": true, "much": true,
	"are": true, "was": true, "were": true, "show": true, "list": true,
	"all": true, "per": true, "each": true, "from": true, "that": true,
	"have": true, "has": true, "does": true, "did": true, "their": true,
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
