package retrieve

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-collins1/NL2SQL-sub003/internal/config"
	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
	"github.com/noah-collins1/NL2SQL-sub003/internal/logger"
	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
)

type memStore struct {
	tables       []*schema.Table
	fks          []schema.ForeignKey
	glossary     map[string]string
	moduleKw     map[string][]string
	centroids    map[string][]float32
	tableHits    []Hit
	colHits      []Hit
	fingerprints map[string]string
	upserted     []string
}

func (m *memStore) Tables(context.Context) ([]*schema.Table, error)      { return m.tables, nil }
func (m *memStore) ForeignKeys(context.Context) ([]schema.ForeignKey, error) { return m.fks, nil }
func (m *memStore) Glossary(context.Context) (map[string]string, error)  { return m.glossary, nil }
func (m *memStore) ModuleKeywords(context.Context) (map[string][]string, error) {
	return m.moduleKw, nil
}
func (m *memStore) ModuleCentroids(context.Context) (map[string][]float32, error) {
	return m.centroids, nil
}
func (m *memStore) SearchTables(context.Context, []float32, int) ([]Hit, error) {
	return m.tableHits, nil
}
func (m *memStore) SearchColumns(context.Context, []float32, int) ([]Hit, error) {
	return m.colHits, nil
}
func (m *memStore) Fingerprints(context.Context) (map[string]string, error) {
	return m.fingerprints, nil
}
func (m *memStore) UpsertTableEmbedding(_ context.Context, t *schema.Table, _ []float32) error {
	m.upserted = append(m.upserted, t.QualifiedName())
	return nil
}
func (m *memStore) Close() error { return nil }

type memEmbedder struct{ dim int }

func (e *memEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func retrievalConfig() config.Retrieval {
	return config.Retrieval{
		TableTopK: 10, ColumnTopK: 10, MaxTables: 8,
		MinScore: 0.01, FKHopCap: 3, GenericWeight: 0.7, HubBonus: 0.05,
	}
}

func testLogger() *logger.Logger { return logger.New(io.Discard, logger.LevelError) }

func mkTable(sch, name, module string, hub bool, cols ...schema.Column) *schema.Table {
	return &schema.Table{Schema: sch, Name: name, Module: module, IsHub: hub, Columns: cols}
}

func newTestRetriever(t *testing.T, store *memStore) *Retriever {
	t.Helper()
	r := New(store, &memEmbedder{dim: 4}, retrievalConfig(), testLogger())
	require.NoError(t, r.load(context.Background()))
	return r
}

func TestFuseGenericColumnDownweight(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{
			mkTable("erp", "audit_log", "common", false, schema.Column{Name: "status", IsGeneric: true}),
			mkTable("erp", "invoices", "finance", false, schema.Column{Name: "total_amount"}),
		},
	}
	r := newTestRetriever(t, store)

	ranked := r.fuse("question", nil, nil, []Hit{
		{Key: "erp.audit_log.status", Score: 0.9},
		{Key: "erp.invoices.total_amount", Score: 0.8},
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "erp.invoices", ranked[0].Table.QualifiedName(),
		"a better-ranked generic column must lose to a specific column")
	assert.Equal(t, []string{"total_amount"}, ranked[0].MatchedColumns)
}

func TestFuseHubBonus(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{
			mkTable("erp", "aaa_plain", "sales", false),
			mkTable("erp", "orders", "sales", true),
		},
	}
	r := newTestRetriever(t, store)

	// identical vector evidence: the hub must come out ahead
	ranked := r.fuse("q", nil, []Hit{
		{Key: "erp.aaa_plain", Score: 0.9},
		{Key: "erp.orders", Score: 0.9},
	}, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "erp.orders", ranked[0].Table.QualifiedName())
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestFuseModuleRouting(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{
			mkTable("erp", "employees", "hr", false),
			mkTable("erp", "invoices", "finance", false),
			mkTable("erp", "dim_dates", "common", false),
		},
		moduleKw: map[string][]string{
			"hr":      {"employee", "salary"},
			"finance": {"invoice", "payment"},
		},
	}
	r := newTestRetriever(t, store)

	modules := r.routeModules("what is the average employee salary", nil)
	require.Equal(t, []string{"hr"}, modules)

	ranked := r.fuse("q", modules, []Hit{
		{Key: "erp.invoices", Score: 0.95}, // off-module, must be dropped
		{Key: "erp.employees", Score: 0.90},
		{Key: "erp.dim_dates", Score: 0.85}, // common module is always allowed
	}, nil)
	names := make([]string, len(ranked))
	for i, rt := range ranked {
		names[i] = rt.Table.QualifiedName()
	}
	assert.NotContains(t, names, "erp.invoices")
	assert.Contains(t, names, "erp.employees")
	assert.Contains(t, names, "erp.dim_dates")
}

func TestRouteModulesCentroids(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{
			mkTable("erp", "stock_levels", "inventory", false),
			mkTable("erp", "invoices", "finance", false),
		},
		moduleKw: map[string][]string{"finance": {"invoice"}},
		centroids: map[string][]float32{
			"inventory": {1, 0, 0, 0},
			"finance":   {0, 1, 0, 0},
		},
	}
	r := newTestRetriever(t, store)

	// no vocabulary hit for inventory, but the centroid lines up
	modules := r.routeModules("stock on hand", []float32{1, 0, 0, 0})
	require.Equal(t, []string{"inventory"}, modules)

	// keyword plus centroid evidence both count
	modules = r.routeModules("unpaid invoice aging", []float32{0, 1, 0, 0})
	require.Equal(t, []string{"finance"}, modules)
}

func TestRetrieveDeterministic(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{
			mkTable("erp", "orders", "sales", false, schema.Column{Name: "total_amount"}),
			mkTable("erp", "customers", "sales", false, schema.Column{Name: "customer_name"}),
		},
		tableHits: []Hit{{Key: "erp.orders", Score: 0.9}, {Key: "erp.customers", Score: 0.9}},
	}
	r := newTestRetriever(t, store)

	a, err := r.Retrieve(context.Background(), "q1", "db", "orders by customer")
	require.NoError(t, err)
	b, err := r.Retrieve(context.Background(), "q2", "db", "orders by customer")
	require.NoError(t, err)
	assert.Equal(t, a.TableNames(), b.TableNames())
}

func TestRetrieveNoRelevantSchema(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{mkTable("erp", "orders", "sales", false)},
	}
	r := newTestRetriever(t, store)

	_, err := r.Retrieve(context.Background(), "q", "db", "quantum flux capacitors")
	var f *fault.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, fault.KindNoRelevantSchema, f.Kind)
	assert.False(t, f.Recoverable())
}

func TestForeignKeyExpansion(t *testing.T) {
	store := &memStore{
		tables: []*schema.Table{
			mkTable("erp", "orders", "sales", false, schema.Column{Name: "order_id"}),
			mkTable("erp", "customers", "sales", true, schema.Column{Name: "customer_name"}),
			mkTable("erp", "order_items", "sales", false, schema.Column{Name: "item_name"}),
			mkTable("erp", "warehouses", "inventory", false, schema.Column{Name: "warehouse_name"}),
			// one hop, but nothing in the question matches its columns
			mkTable("erp", "payments", "finance", true, schema.Column{Name: "paid_at"}),
			mkTable("erp", "suppliers", "procurement", false, schema.Column{Name: "supplier_name"}),
		},
		fks: []schema.ForeignKey{
			{FromTable: "erp.orders", FromColumn: "customer_id", ToTable: "erp.customers", ToColumn: "customer_id"},
			{FromTable: "erp.order_items", FromColumn: "order_id", ToTable: "erp.orders", ToColumn: "order_id"},
			{FromTable: "erp.orders", FromColumn: "warehouse_id", ToTable: "erp.warehouses", ToColumn: "warehouse_id"},
			{FromTable: "erp.payments", FromColumn: "order_id", ToTable: "erp.orders", ToColumn: "order_id"},
			// two hops away from orders: must not be pulled in
			{FromTable: "erp.warehouses", FromColumn: "supplier_id", ToTable: "erp.suppliers", ToColumn: "supplier_id"},
		},
		moduleKw:  map[string][]string{"sales": {"order", "customer"}},
		tableHits: []Hit{{Key: "erp.orders", Score: 0.9}},
	}
	r := newTestRetriever(t, store)

	p, err := r.Retrieve(context.Background(), "q", "db", "order items per customer by warehouse")
	require.NoError(t, err)

	// routing keeps the sales tables; warehouses comes back through the FK
	// graph because the question names one of its columns
	names := p.TableNames()
	require.Len(t, names, 4)
	assert.ElementsMatch(t, []string{"erp.orders", "erp.customers", "erp.order_items"}, names[:3])
	assert.Equal(t, "erp.warehouses", names[3])
	assert.Equal(t, "fk_expansion", p.Tables[3].Source)
	assert.NotContains(t, names, "erp.suppliers", "two hops away")
	assert.NotContains(t, names, "erp.payments", "a hub without a matched column stays out")

	// only edges with both endpoints in the packet survive
	var sawWarehouseJoin bool
	for _, e := range p.FKEdges {
		assert.NotEqual(t, "erp.suppliers", e.ToTable)
		assert.NotEqual(t, "erp.payments", e.FromTable)
		if e.ToTable == "erp.warehouses" {
			sawWarehouseJoin = true
		}
	}
	assert.True(t, sawWarehouseJoin, "the expansion edge must reach the prompt")
}

func TestExpandGlossary(t *testing.T) {
	glossary := map[string]string{"po": "purchase order", "gmv": "gross merchandise value"}
	out := ExpandGlossary("total GMV per PO last month", glossary)
	assert.Contains(t, out, "GMV (gross merchandise value)")
	assert.Contains(t, out, "PO (purchase order)")

	// no boundary match inside words
	out = ExpandGlossary("export deposits", glossary)
	assert.Equal(t, "export deposits", out)
}

func TestClassifyIntent(t *testing.T) {
	cases := map[string]string{
		"how many orders were placed":       IntentCount,
		"total revenue per region":          IntentAggregate,
		"orders per month this year":        IntentTrend,
		"compare Q1 versus Q2 sales":        IntentCompare,
		"show details of invoice 42":       IntentDetail,
		"customers in Berlin":               IntentList,
	}
	for question, want := range cases {
		assert.Equal(t, want, ClassifyIntent(question), question)
	}
}

func TestReindex(t *testing.T) {
	orders := mkTable("erp", "orders", "sales", false, schema.Column{Name: "total_amount", DataType: "numeric"})
	customers := mkTable("erp", "customers", "sales", false, schema.Column{Name: "customer_name", DataType: "text"})
	store := &memStore{
		tables:       []*schema.Table{orders, customers},
		fingerprints: map[string]string{"erp.customers": customers.Fingerprint()},
	}
	r := newTestRetriever(t, store)

	n, err := r.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the table with a stale fingerprint is re-embedded")
	assert.Equal(t, []string{"erp.orders"}, store.upserted)
}
