package schema

import "strings"

// genericNames are column names that appear on nearly every table and carry
// almost no retrieval signal. Column-level matches on them are downweighted
// during score fusion so that "status" in a question does not drag in every
// table with a status column.
var genericNames = map[string]struct{}{
	"id": {}, "uuid": {}, "code": {}, "name": {}, "type": {}, "status": {},
	"state": {}, "remark": {}, "remarks": {}, "description": {}, "note": {},
	"notes": {}, "version": {}, "sort_order": {}, "tenant_id": {}, "org_id": {},
	"created_at": {}, "updated_at": {}, "deleted_at": {}, "created_by": {},
	"updated_by": {}, "is_deleted": {}, "is_active": {}, "enabled": {},
}

// genericSuffixes catch the conventional audit and soft-delete columns that
// carry a table prefix, such as order_created_at.
var genericSuffixes = []string{"_id", "_code", "_at", "_by", "_flag"}

// IsGenericColumn reports whether a column name is a low-signal generic
// column for retrieval purposes.
func IsGenericColumn(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := genericNames[lower]; ok {
		return true
	}
	for _, suf := range genericSuffixes {
		if strings.HasSuffix(lower, suf) && len(lower) > len(suf) {
			return true
		}
	}
	return false
}

// MarkGenericColumns sets IsGeneric on every column of t that matches the
// generic patterns, plus any names in extra (loaded from the generic_columns
// catalog table).
func MarkGenericColumns(t *Table, extra map[string]struct{}) {
	for i := range t.Columns {
		lower := strings.ToLower(t.Columns[i].Name)
		if _, ok := extra[lower]; ok || IsGenericColumn(lower) {
			t.Columns[i].IsGeneric = true
		}
	}
}
