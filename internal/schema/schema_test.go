package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	return &Table{
		Schema: "sales",
		Name:   "orders",
		Module: "sales",
		Gloss:  "customer orders",
		Columns: []Column{
			{Name: "order_id", DataType: "bigint", IsPrimary: true},
			{Name: "customer_id", DataType: "bigint", FKTarget: "sales.customers.customer_id"},
			{Name: "total_amount", DataType: "numeric(12,2)", Description: "order total incl. tax"},
			{Name: "status", DataType: "text"},
		},
	}
}

func TestQualifiedName(t *testing.T) {
	tbl := sampleTable()
	assert.Equal(t, "sales.orders", tbl.QualifiedName())
	tbl.Schema = ""
	assert.Equal(t, "orders", tbl.QualifiedName())
}

func TestFingerprintTracksEmbedText(t *testing.T) {
	a := sampleTable()
	b := sampleTable()
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Gloss = "customer purchase orders"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint(), "gloss change must invalidate the vector")

	c := sampleTable()
	c.Columns[0].DataType = "integer"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(), "type change must invalidate the vector")

	d := sampleTable()
	d.IsHub = true
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestCompactDDL(t *testing.T) {
	ddl := sampleTable().CompactDDL()
	assert.Contains(t, ddl, "CREATE TABLE sales.orders")
	assert.Contains(t, ddl, "-- customer orders")
	assert.Contains(t, ddl, "order_id bigint PRIMARY KEY")
	assert.Contains(t, ddl, "customer_id bigint REFERENCES sales.customers.customer_id")
	assert.Contains(t, ddl, "total_amount numeric(12,2), -- order total incl. tax")
}

func TestIsGenericColumn(t *testing.T) {
	generic := []string{"id", "status", "created_at", "updated_by", "tenant_id", "customer_id", "Remark"}
	for _, name := range generic {
		assert.True(t, IsGenericColumn(name), name)
	}
	specific := []string{"total_amount", "sku", "diagnosis", "unit_price"}
	for _, name := range specific {
		assert.False(t, IsGenericColumn(name), name)
	}
}

func TestSortDeterministic(t *testing.T) {
	mk := func(module, name string, score float64) RankedTable {
		return RankedTable{Table: &Table{Schema: "s", Name: name, Module: module}, Score: score}
	}
	tables := []RankedTable{
		mk("hr", "employees", 0.5),
		mk("finance", "invoices", 0.5),
		mk("finance", "accounts", 0.5),
		mk("sales", "orders", 0.9),
	}
	Sort(tables)
	got := make([]string, len(tables))
	for i, rt := range tables {
		got[i] = rt.Table.Name
	}
	assert.Equal(t, []string{"orders", "accounts", "invoices", "employees"}, got)
}

func TestPacketLookup(t *testing.T) {
	p := &Packet{Tables: []RankedTable{{Table: sampleTable()}}}
	_, ok := p.Table("orders")
	assert.True(t, ok)
	_, ok = p.Table("sales.orders")
	assert.True(t, ok)
	_, ok = p.Table("shipments")
	assert.False(t, ok)
}
