package executor

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/noah-collins1/NL2SQL-sub003/internal/fault"
)

// classifyPostgres reduces a lib/pq error to the pipeline fault taxonomy.
// The SQLSTATE drives the repair controller: the recoverable classes come
// back as prompt deltas, everything else ends the request.
func classifyPostgres(err error) *fault.Fault {
	if f := classifyCommon(err); f != nil {
		return f
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fault.New(fault.KindExecutionError, "%v", err)
	}

	f := &fault.Fault{Message: pqErr.Message, SQLState: string(pqErr.Code)}
	if pqErr.Position != "" {
		if pos, perr := strconv.Atoi(pqErr.Position); perr == nil {
			f.Position = pos
		}
	}

	switch pqErr.Code {
	case "42601":
		f.Kind = fault.KindSyntaxError
	case "42P01":
		f.Kind = fault.KindUnknownTable
	case "42703":
		f.Kind = fault.KindUnknownColumn
		if pqErr.Column != "" {
			f.Message = f.Message + " (column " + pqErr.Column + ")"
		}
	case "42804", "42883", "42702", "42725":
		f.Kind = fault.KindTypeMismatch
	case "42501":
		f.Kind = fault.KindPermissionDenied
	case "57014":
		// statement_timeout fired
		f.Kind = fault.KindDeadlineExceeded
	default:
		switch pqErr.Code.Class() {
		case "22":
			f.Kind = fault.KindTypeMismatch
		case "08":
			f.Kind = fault.KindConnectionError
		case "28":
			f.Kind = fault.KindPermissionDenied
		case "53":
			f.Kind = fault.KindResourceExhausted
		case "57":
			f.Kind = fault.KindDeadlineExceeded
		case "58", "XX":
			f.Kind = fault.KindServerInternal
		default:
			f.Kind = fault.KindExecutionError
		}
	}
	return f
}

// classifyMySQL does the same for go-sql-driver error numbers.
func classifyMySQL(err error) *fault.Fault {
	if f := classifyCommon(err); f != nil {
		return f
	}
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		if errors.Is(err, mysql.ErrInvalidConn) {
			return fault.New(fault.KindConnectionError, "%v", err)
		}
		return fault.New(fault.KindExecutionError, "%v", err)
	}

	f := &fault.Fault{Message: myErr.Message, SQLState: strings.TrimRight(string(myErr.SQLState[:]), "\x00")}
	switch myErr.Number {
	case 1064:
		f.Kind = fault.KindSyntaxError
	case 1146, 1109:
		f.Kind = fault.KindUnknownTable
	case 1054:
		f.Kind = fault.KindUnknownColumn
	case 1052, 1305, 1582:
		f.Kind = fault.KindTypeMismatch
	case 1044, 1045, 1142, 1143:
		f.Kind = fault.KindPermissionDenied
	case 1040, 1041, 1203, 1226:
		f.Kind = fault.KindResourceExhausted
	case 1205, 3024:
		f.Kind = fault.KindDeadlineExceeded
	default:
		f.Kind = fault.KindExecutionError
	}
	return f
}

// classifyCommon handles the failures that are not engine-specific.
func classifyCommon(err error) *fault.Fault {
	if err == nil {
		return nil
	}
	var f *fault.Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.KindDeadlineExceeded, "statement timed out")
	}
	if errors.Is(err, context.Canceled) {
		return fault.New(fault.KindDeadlineExceeded, "request canceled")
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fault.New(fault.KindConnectionError, "%v", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.KindConnectionError, "%v", err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fault.New(fault.KindConnectionError, "%v", err)
	}
	return nil
}
