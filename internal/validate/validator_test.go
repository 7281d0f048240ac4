package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-collins1/NL2SQL-sub003/internal/schema"
	"github.com/noah-collins1/NL2SQL-sub003/internal/sqlscan"
)

func testPacket() *schema.Packet {
	orders := &schema.Table{
		Schema: "sales", Name: "orders", Module: "sales",
		Columns: []schema.Column{
			{Name: "order_id", DataType: "bigint"},
			{Name: "customer_id", DataType: "bigint"},
			{Name: "total_amount", DataType: "numeric"},
			{Name: "order_date", DataType: "date"},
		},
	}
	customers := &schema.Table{
		Schema: "sales", Name: "customers", Module: "sales",
		Columns: []schema.Column{
			{Name: "customer_id", DataType: "bigint"},
			{Name: "customer_name", DataType: "text"},
		},
	}
	return &schema.Packet{Tables: []schema.RankedTable{
		{Table: orders, Score: 0.9},
		{Table: customers, Score: 0.7},
	}}
}

func newTestValidator() *Validator { return New("postgres", 100, 1000) }

func TestFailFastRules(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		rule string
	}{
		{"insert", "INSERT INTO orders VALUES (1)", RuleNoSelect},
		{"update", "UPDATE orders SET total_amount = 0", RuleNoSelect},
		{"empty", "   ", RuleNoSelect},
		{"two statements", "SELECT 1; SELECT 2", RuleMultipleStatements},
		{"piggyback drop", "SELECT 1; DROP TABLE sales.orders", RuleMultipleStatements},
		{"embedded delete", "WITH x AS (SELECT 1) DELETE FROM sales.orders", RuleDangerousKeyword},
		{"sleep", "SELECT pg_sleep(10)", RuleDangerousFunction},
		{"file read", "SELECT pg_read_file('/etc/passwd')", RuleDangerousFunction},
		{"unterminated", "SELECT 'oops", RuleUnterminatedLiteral},
	}
	v := newTestValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, issues := v.Check(tc.sql, "", testPacket())
			fatal, found := FailFast(issues)
			require.True(t, found)
			assert.Equal(t, tc.rule, fatal.Rule)
		})
	}
}

func TestKeywordInsideLiteralIsAllowed(t *testing.T) {
	v := newTestValidator()
	sql := "SELECT customer_name FROM sales.customers WHERE customer_name = 'Mr. DROP TABLE; DELETE'"
	fixed, issues := v.Check(sql, "", testPacket())
	_, fatal := FailFast(issues)
	assert.False(t, fatal, "keywords inside a string literal must not trip the guard")
	assert.Contains(t, fixed, "'Mr. DROP TABLE; DELETE'")
}

func TestLimitPolicy(t *testing.T) {
	v := newTestValidator()

	fixed, issues := v.Check("SELECT order_id FROM sales.orders", "", testPacket())
	assert.Contains(t, fixed, "LIMIT 100")
	assert.True(t, hasRule(issues, RuleMissingLimit))

	fixed, issues = v.Check("SELECT order_id FROM sales.orders LIMIT 999999", "", testPacket())
	assert.Contains(t, fixed, "LIMIT 1000")
	assert.NotContains(t, fixed, "999999")
	assert.True(t, hasRule(issues, RuleOversizedLimit))

	// a LIMIT inside a subquery does not satisfy the top-level policy
	fixed, _ = v.Check("SELECT * FROM (SELECT order_id FROM sales.orders LIMIT 5) q", "", testPacket())
	assert.Contains(t, fixed, "q LIMIT 100")

	// the LIMIT lands before a trailing semicolon
	fixed, _ = v.Check("SELECT order_id FROM sales.orders;", "", testPacket())
	assert.Contains(t, fixed, "orders LIMIT 100")

	// and before a trailing comment, so it stays live SQL
	fixed, _ = v.Check("SELECT order_id FROM sales.orders -- recent orders", "", testPacket())
	assert.Contains(t, fixed, "orders LIMIT 100")
	assert.True(t, HasTopLevel(fixed, "limit"))
}

func TestKeywordLikeColumnNamesAllowed(t *testing.T) {
	v := newTestValidator()
	_, issues := v.Check("SELECT order_id, comment, lock FROM sales.orders", "", testPacket())
	_, fatal := FailFast(issues)
	assert.False(t, fatal, "comment and lock are column references here, not statements")
}

func TestDialectFunctionRewrites(t *testing.T) {
	v := newTestValidator()
	fixed, issues := v.Check(
		"SELECT order_id FROM sales.orders WHERE YEAR(order_date) = 2024 AND IFNULL(total_amount, 0) > 10",
		"", testPacket())
	assert.Contains(t, fixed, "EXTRACT(YEAR FROM order_date) = 2024")
	assert.Contains(t, fixed, "COALESCE(total_amount, 0)")
	assert.True(t, hasRule(issues, RuleDialectFunction))

	// a column actually named year is left alone
	fixed, _ = v.Check("SELECT order_id, order_date FROM sales.orders", "", testPacket())
	assert.NotContains(t, fixed, "EXTRACT")
}

func TestUnknownTableRewrite(t *testing.T) {
	v := newTestValidator()

	// plural near-miss rewritten in place
	fixed, issues := v.Check("SELECT order_id FROM sales.order", "", testPacket())
	assert.Contains(t, fixed, "FROM sales.orders")
	assert.True(t, hasRule(issues, RuleUnknownTable))
	_, fatal := FailFast(issues)
	assert.False(t, fatal)

	// unresolvable reference survives as an unfixed finding
	_, issues = v.Check("SELECT x FROM warehouse_shipments", "", testPacket())
	unfixed := Unfixed(issues)
	require.Len(t, unfixed, 1)
	assert.Equal(t, RuleUnknownTable, unfixed[0].Rule)

	// CTE names are legal
	_, issues = v.Check(
		"WITH top_orders AS (SELECT order_id FROM sales.orders LIMIT 10) SELECT order_id FROM top_orders",
		"", testPacket())
	assert.Empty(t, Unfixed(issues))
}

func TestLint(t *testing.T) {
	v := newTestValidator()

	_, issues := v.Check("SELECT customer_id, COUNT(*) FROM sales.orders", "", testPacket())
	assert.True(t, hasRule(issues, RuleAggregateNoGroupBy))

	_, issues = v.Check("SELECT customer_id, COUNT(*) FROM sales.orders GROUP BY customer_id", "", testPacket())
	assert.False(t, hasRule(issues, RuleAggregateNoGroupBy))

	_, issues = v.Check("SELECT COUNT(*) AS n FROM sales.orders", "", testPacket())
	assert.False(t, hasRule(issues, RuleAggregateNoGroupBy), "lone aggregate with alias is fine")

	_, issues = v.Check("SELECT customer_id FROM sales.orders", "which customer spent the most?", testPacket())
	assert.True(t, hasRule(issues, RuleSuperlativeNoOrder))

	_, issues = v.Check(
		"SELECT customer_id FROM sales.orders ORDER BY total_amount DESC LIMIT 1",
		"which customer spent the most?", testPacket())
	assert.False(t, hasRule(issues, RuleSuperlativeNoOrder))
}

func TestAliasesAndWhitelist(t *testing.T) {
	sql := "SELECT o.order_id, c.customer_name FROM sales.orders o JOIN sales.customers AS c ON o.customer_id = c.customer_id"
	aliases := Aliases(sqlscan.Scan(sql))
	assert.Equal(t, "sales.orders", aliases["o"])
	assert.Equal(t, "sales.customers", aliases["c"])
	assert.Equal(t, "sales.orders", aliases["orders"])

	wl := Whitelist(sql, testPacket())
	require.Contains(t, wl, "sales.orders")
	require.Contains(t, wl, "sales.customers")
	assert.Contains(t, wl["sales.orders"], "total_amount")
	assert.Contains(t, wl["sales.customers"], "customer_name")
}

func TestTableRefsIgnoreFunctionArguments(t *testing.T) {
	cases := []struct {
		name string
		sql  string
	}{
		{"extract", "SELECT EXTRACT(YEAR FROM order_date) FROM sales.orders"},
		{"substring", "SELECT SUBSTRING(customer_name FROM 1 FOR 3) FROM sales.orders"},
		{"trim", "SELECT TRIM(LEADING 'x' FROM customer_name) FROM sales.orders"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refs := TableRefs(sqlscan.Scan(tc.sql))
			require.Len(t, refs, 1)
			assert.Equal(t, "sales.orders", refs[0].Name)
		})
	}
}

func TestDialectRewriteKeepsTablesResolved(t *testing.T) {
	v := newTestValidator()
	fixed, issues := v.Check(
		"SELECT order_id FROM sales.orders WHERE YEAR(order_date) = 2024", "", testPacket())
	assert.Contains(t, fixed, "EXTRACT(YEAR FROM order_date)")
	assert.Empty(t, Unfixed(issues), "the rewritten EXTRACT must not read as a table reference")
	_, fatal := FailFast(issues)
	assert.False(t, fatal)
}

func TestTableRefsSkipSubqueriesAndFunctions(t *testing.T) {
	sql := "SELECT * FROM (SELECT 1) sub, sales.orders o JOIN generate_series(1, 10) g ON true"
	refs := TableRefs(sqlscan.Scan(sql))
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"sales.orders"}, names)
}

func hasRule(issues []Issue, rule string) bool {
	for _, is := range issues {
		if is.Rule == rule {
			return true
		}
	}
	return false
}
