package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
)

func TestClassifyPostgres(t *testing.T) {
	cases := []struct {
		code     pq.ErrorCode
		kind     fault.Kind
		repairok bool
	}{
		{"42601", fault.KindSyntaxError, true},
		{"42P01", fault.KindUnknownTable, true},
		{"42703", fault.KindUnknownColumn, true},
		{"42804", fault.KindTypeMismatch, true},
		{"42883", fault.KindTypeMismatch, true},
		{"22012", fault.KindTypeMismatch, true}, // division by zero: data exception class
		{"42501", fault.KindPermissionDenied, false},
		{"28P01", fault.KindPermissionDenied, false},
		{"08006", fault.KindConnectionError, false},
		{"53200", fault.KindResourceExhausted, false},
		{"57014", fault.KindDeadlineExceeded, false},
		{"XX000", fault.KindServerInternal, false},
		{"23505", fault.KindExecutionError, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			f := classifyPostgres(&pq.Error{Code: tc.code, Message: "boom"})
			assert.Equal(t, tc.kind, f.Kind)
			assert.Equal(t, string(tc.code), f.SQLState)
			assert.Equal(t, tc.repairok, f.Repairable())
		})
	}
}

func TestClassifyPostgresPosition(t *testing.T) {
	f := classifyPostgres(&pq.Error{Code: "42601", Message: "syntax error", Position: "37"})
	assert.Equal(t, 37, f.Position)
}

func TestClassifyPostgresWrapped(t *testing.T) {
	err := fmt.Errorf("query: %w", &pq.Error{Code: "42703", Message: "column does not exist", Column: "total"})
	f := classifyPostgres(err)
	assert.Equal(t, fault.KindUnknownColumn, f.Kind)
	assert.Contains(t, f.Message, "total")
}

func TestClassifyMySQL(t *testing.T) {
	cases := []struct {
		number uint16
		kind   fault.Kind
	}{
		{1064, fault.KindSyntaxError},
		{1146, fault.KindUnknownTable},
		{1054, fault.KindUnknownColumn},
		{1052, fault.KindTypeMismatch},
		{1045, fault.KindPermissionDenied},
		{1040, fault.KindResourceExhausted},
		{3024, fault.KindDeadlineExceeded},
		{1213, fault.KindExecutionError},
	}
	for _, tc := range cases {
		f := classifyMySQL(&mysql.MySQLError{Number: tc.number, Message: "boom"})
		assert.Equal(t, tc.kind, f.Kind, "error %d", tc.number)
	}
}

func TestClassifyCommon(t *testing.T) {
	f := classifyPostgres(context.DeadlineExceeded)
	assert.Equal(t, fault.KindDeadlineExceeded, f.Kind)

	f = classifyMySQL(fmt.Errorf("dial: %w", errors.New("connection refused")))
	assert.Equal(t, fault.KindConnectionError, f.Kind)

	// an already-classified fault passes through untouched
	orig := fault.New(fault.KindNoRelevantSchema, "nothing matched")
	assert.Same(t, orig, classifyPostgres(fmt.Errorf("wrap: %w", orig)))
}
