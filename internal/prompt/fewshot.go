package prompt

// fewShot returns a worked example matching the question intent. The
// examples use neutral table names so the model imitates the shape, not the
// identifiers.
func fewShot(dialect, intent string) string {
	switch intent {
	case "count":
		return "Question: how many active customers are there?\n" +
			"SQL: SELECT COUNT(*) AS customer_count FROM crm.customers WHERE is_active = true;\n"
	case "aggregate":
		return "Question: total order amount per region\n" +
			"SQL: SELECT r.region_name, SUM(o.total_amount) AS total\n" +
			"FROM sales.orders o JOIN crm.regions r ON o.region_id = r.region_id\n" +
			"GROUP BY r.region_name ORDER BY total DESC LIMIT 100;\n"
	case "trend":
		if dialect == "mysql" {
			return "Question: orders per month in 2024\n" +
				"SQL: SELECT DATE_FORMAT(order_date, '%Y-%m') AS month, COUNT(*) AS orders\n" +
				"FROM sales.orders WHERE YEAR(order_date) = 2024\n" +
				"GROUP BY month ORDER BY month LIMIT 100;\n"
		}
		return "Question: orders per month in 2024\n" +
			"SQL: SELECT date_trunc('month', order_date) AS month, COUNT(*) AS orders\n" +
			"FROM sales.orders WHERE EXTRACT(YEAR FROM order_date) = 2024\n" +
			"GROUP BY month ORDER BY month LIMIT 100;\n"
	case "compare":
		return "Question: compare shipped and cancelled order counts\n" +
			"SQL: SELECT status, COUNT(*) AS orders FROM sales.orders\n" +
			"WHERE status IN ('shipped', 'cancelled') GROUP BY status LIMIT 100;\n"
	}
	return ""
}
