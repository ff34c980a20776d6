package pgsafe

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickchristie/pgsafe/internal/bind"
)

// ErrParameterCountMismatch is returned when supplied parameters do not line
// up with the statement's placeholders. It is raised before any database
// round-trip.
var ErrParameterCountMismatch = bind.ErrParameterCountMismatch

// ErrExecuteDisabled is returned by Execute when the engine is read-only.
var ErrExecuteDisabled = errors.New("execute is disabled in read-only mode")

// UnsafeStatementError is returned by ExecuteSafe when a statement is not
// classified read-only. No connection is acquired.
type UnsafeStatementError struct {
	Classification Classification
}

func (e *UnsafeStatementError) Error() string {
	return fmt.Sprintf("statement rejected by safe query gate (%s): %s", e.Classification.Kind, e.Classification.Reason)
}

// TableNotFoundError is returned when the table does not exist in the schema.
type TableNotFoundError struct {
	Schema string
	Table  string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found in schema %q", e.Table, e.Schema)
}

// SchemaNotFoundError is returned when the schema does not exist.
type SchemaNotFoundError struct {
	Schema string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("schema %q not found", e.Schema)
}

// ExecuteRejectedError is returned by Execute when an approval hook rejects
// the statement or fails to answer. No connection is acquired.
type ExecuteRejectedError struct {
	Err error
}

func (e *ExecuteRejectedError) Error() string {
	return e.Err.Error()
}

func (e *ExecuteRejectedError) Unwrap() error { return e.Err }

// Outcome reports what is known about a statement's effect when it fails.
type Outcome string

const (
	// OutcomeNotStarted: the statement never reached the database.
	OutcomeNotStarted Outcome = "not_started"
	// OutcomeRolledBack: the transaction was rolled back; nothing applied.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeCommitted: the transaction committed before the error surfaced.
	OutcomeCommitted Outcome = "committed"
	// OutcomeUnknown: the connection failed during COMMIT.
	OutcomeUnknown Outcome = "unknown"
)

// DriverExecutionError wraps any failure reported by the driver or server.
type DriverExecutionError struct {
	Op       string
	SQLState string
	Outcome  Outcome
	Err      error
}

func (e *DriverExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DriverExecutionError) Unwrap() error { return e.Err }

func driverError(op string, outcome Outcome, err error) *DriverExecutionError {
	de := &DriverExecutionError{Op: op, Outcome: outcome, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		de.SQLState = pgErr.Code
	}
	return de
}

// ErrorKind returns the error_type tag for err, as reported by the MCP tools.
func ErrorKind(err error) string {
	var (
		unsafe *UnsafeStatementError
		table  *TableNotFoundError
		schema *SchemaNotFoundError
		driver *DriverExecutionError
		denied *ExecuteRejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParameterCountMismatch):
		return "parameter_count_mismatch"
	case errors.As(err, &unsafe):
		return "unsafe_statement"
	case errors.As(err, &table):
		return "table_not_found"
	case errors.As(err, &schema):
		return "schema_not_found"
	case errors.Is(err, ErrExecuteDisabled):
		return "execute_disabled"
	case errors.As(err, &denied):
		return "execute_rejected"
	case errors.As(err, &driver):
		return "driver_execution"
	default:
		return "invalid_request"
	}
}
