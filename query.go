package pgsafe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickchristie/pgsafe/internal/approval"
	"github.com/rickchristie/pgsafe/internal/bind"
	"github.com/rickchristie/pgsafe/internal/classify"
)

const (
	pathSafe         = "safe"
	pathUnrestricted = "unrestricted"
)

// ExecuteSafe runs a statement only if it is classified read-only.
//
// The statement is classified before anything else; anything other than
// ReadOnly returns *UnsafeStatementError without touching the pool. Binding
// follows, then the statement is wrapped in a bounding subquery when it has no
// top-level LIMIT. Execution happens in a READ ONLY transaction that is always
// rolled back, and at most Query.MaxRows rows are returned.
func (e *Engine) ExecuteSafe(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := time.Now()

	if err := e.checkLength(req.Statement); err != nil {
		return nil, e.fail(ctx, pathSafe, req.Statement, err)
	}

	c := classify.Classify(req.Statement)
	e.metrics.RecordClassification(c.Kind.String())
	if c.Kind != classify.ReadOnly {
		return nil, e.fail(ctx, pathSafe, req.Statement, &UnsafeStatementError{Classification: toClassification(c)})
	}

	st, err := bindParameters(req.Statement, req.Parameters)
	if err != nil {
		return nil, e.fail(ctx, pathSafe, req.Statement, err)
	}
	maxRows := e.config.Query.MaxRows
	st = bind.WithRowLimit(st, maxRows+1)

	result, timeoutRule, err := e.run(ctx, execution{
		statement: st,
		matchSQL:  req.Statement,
		schema:    req.Schema,
		txOptions: pgx.TxOptions{AccessMode: pgx.ReadOnly},
		maxRows:   maxRows,
	})
	if err != nil {
		return nil, e.fail(ctx, pathSafe, req.Statement, err)
	}
	result.Classification = ReadOnly
	if result.Truncated {
		e.metrics.RecordTruncated()
		result.Notice = fmt.Sprintf("result truncated to %d rows; add a LIMIT or a narrower filter", maxRows)
	}
	e.finish(ctx, pathSafe, req.Statement, result, timeoutRule, start)
	return result, nil
}

// Execute runs any statement, parameterized, in its own transaction and
// commits it. The statement is still classified so the result can report
// what kind of statement ran, but the verdict does not gate execution.
// Configured approval hooks run after binding and before a connection is
// acquired. Returns ErrExecuteDisabled when the engine is read-only.
func (e *Engine) Execute(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := time.Now()

	if e.config.ReadOnly {
		return nil, e.fail(ctx, pathUnrestricted, req.Statement, ErrExecuteDisabled)
	}
	if err := e.checkLength(req.Statement); err != nil {
		return nil, e.fail(ctx, pathUnrestricted, req.Statement, err)
	}

	c := classify.Classify(req.Statement)
	e.metrics.RecordClassification(c.Kind.String())

	st, err := bindParameters(req.Statement, req.Parameters)
	if err != nil {
		return nil, e.fail(ctx, pathUnrestricted, req.Statement, err)
	}
	kind := toClassification(c).Kind
	if err := e.approvals.Check(ctx, approval.Request{
		Statement:      req.Statement,
		Classification: string(kind),
		Parameters:     req.Parameters,
		Schema:         req.Schema,
	}); err != nil {
		return nil, e.fail(ctx, pathUnrestricted, req.Statement, &ExecuteRejectedError{Err: err})
	}

	result, timeoutRule, err := e.run(ctx, execution{
		statement: st,
		matchSQL:  req.Statement,
		schema:    req.Schema,
		commit:    true,
	})
	if err != nil {
		return nil, e.fail(ctx, pathUnrestricted, req.Statement, err)
	}
	result.Classification = kind
	e.finish(ctx, pathUnrestricted, req.Statement, result, timeoutRule, start)
	return result, nil
}

type execution struct {
	statement bind.Statement
	// matchSQL is the caller's statement text, used for timeout rules.
	matchSQL  string
	schema    string
	txOptions pgx.TxOptions
	commit    bool
	maxRows   int
}

// run executes one bound statement inside a transaction on its own
// connection. It returns the name of the timeout rule that applied.
func (e *Engine) run(ctx context.Context, x execution) (*QueryResult, string, error) {
	d, timeoutRule := e.timeouts.Resolve(x.matchSQL)
	queryCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	conn, release, err := e.acquire(queryCtx)
	if err != nil {
		return nil, timeoutRule, driverError("acquire connection", OutcomeNotStarted, err)
	}
	defer release()

	tx, err := conn.BeginTx(queryCtx, x.txOptions)
	if err != nil {
		return nil, timeoutRule, driverError("begin transaction", OutcomeNotStarted, err)
	}
	// Parent ctx: queryCtx may already be cancelled when the statement timed out.
	defer tx.Rollback(ctx)

	if x.schema != "" {
		if err := setSearchPath(queryCtx, tx, x.schema); err != nil {
			return nil, timeoutRule, driverError("set search_path", OutcomeRolledBack, err)
		}
	}

	rows, err := tx.Query(queryCtx, x.statement.SQL, x.statement.Args...)
	if err != nil {
		return nil, timeoutRule, driverError("execute statement", OutcomeRolledBack, err)
	}
	result, err := collectRows(rows, x.maxRows)
	if err != nil {
		return nil, timeoutRule, driverError("execute statement", OutcomeRolledBack, err)
	}

	if x.commit {
		if err := tx.Commit(queryCtx); err != nil {
			return nil, timeoutRule, driverError("commit", commitOutcome(err), err)
		}
	}

	result.Rows = e.sanitizer.Rows(result.Rows)
	truncateToLength(result, e.config.Query.MaxResultLength)
	result.RowCount = len(result.Rows)
	return result, timeoutRule, nil
}

// commitOutcome maps a COMMIT failure to what is known about the transaction.
// A server-reported error means the server rolled back; anything else (a lost
// connection, a cancelled context) leaves the outcome unknown.
func commitOutcome(err error) Outcome {
	if errors.Is(err, pgx.ErrTxCommitRollback) {
		return OutcomeRolledBack
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return OutcomeRolledBack
	}
	return OutcomeUnknown
}

func setSearchPath(ctx context.Context, tx pgx.Tx, schema string) error {
	_, err := tx.Exec(ctx, "SELECT set_config('search_path', $1, true)", quoteIdent(schema))
	return err
}

func bindParameters(statement string, params Parameters) (bind.Statement, error) {
	switch p := params.(type) {
	case nil:
		return bind.Positional(statement, nil)
	case Positional:
		return bind.Positional(statement, p)
	case Named:
		return bind.Named(statement, p)
	default:
		return bind.Statement{}, fmt.Errorf("unsupported parameters type %T", params)
	}
}

func toClassification(c classify.Result) Classification {
	kind := Ambiguous
	switch c.Kind {
	case classify.ReadOnly:
		kind = ReadOnly
	case classify.Mutating:
		kind = Mutating
	}
	return Classification{Kind: kind, Reason: c.Reason}
}

func (e *Engine) checkLength(sql string) error {
	if len(sql) > e.config.Query.MaxSQLLength {
		return fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), e.config.Query.MaxSQLLength)
	}
	return nil
}

// collectRows reads rows into a QueryResult. When limit > 0, at most limit
// rows are kept and Truncated reports whether more were available.
func collectRows(rows pgx.Rows, limit int) (*QueryResult, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	result := &QueryResult{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if tag := rows.CommandTag(); reportsAffectedRows(tag) {
		n := tag.RowsAffected()
		result.AffectedRows = &n
	}
	return result, nil
}

func reportsAffectedRows(tag pgconn.CommandTag) bool {
	if tag.Insert() || tag.Update() || tag.Delete() {
		return true
	}
	s := tag.String()
	return strings.HasPrefix(s, "MERGE") || strings.HasPrefix(s, "COPY")
}

// truncateToLength drops trailing rows until the JSON encoding of the rows
// fits in maxLen characters.
func truncateToLength(result *QueryResult, maxLen int) {
	if maxLen <= 0 {
		return
	}
	total := 2 // []
	for i, row := range result.Rows {
		b, _ := json.Marshal(row)
		n := utf8.RuneCount(b)
		if i > 0 {
			n++ // comma
		}
		if total+n > maxLen {
			result.Rows = result.Rows[:i]
			result.Truncated = true
			result.Notice = fmt.Sprintf("result truncated to %d rows: encoded result exceeds %d characters", i, maxLen)
			return
		}
		total += n
	}
}

// fail logs a failed statement, counts it, and returns err unchanged.
func (e *Engine) fail(ctx context.Context, path, sql string, err error) error {
	outcome := "error"
	var (
		unsafe *UnsafeStatementError
		denied *ExecuteRejectedError
	)
	if errors.As(err, &unsafe) || errors.As(err, &denied) || errors.Is(err, ErrParameterCountMismatch) || errors.Is(err, ErrExecuteDisabled) {
		outcome = "rejected"
	}
	e.metrics.RecordStatement(path, outcome)

	logEvent := e.logger.Error().
		Err(err).
		Str("path", path).
		Str("error_type", ErrorKind(err)).
		Str("sql", truncateForLog(sql, 200))
	if id := requestIDFrom(ctx); id != "" {
		logEvent = logEvent.Str("request_id", id)
	}
	var de *DriverExecutionError
	if errors.As(err, &de) {
		logEvent = logEvent.Str("outcome", string(de.Outcome))
		if de.SQLState != "" {
			logEvent = logEvent.Str("sql_state", de.SQLState)
		}
	}
	logEvent.Msg("query error")
	return err
}

func (e *Engine) finish(ctx context.Context, path, sql string, result *QueryResult, timeoutRule string, start time.Time) {
	e.metrics.RecordStatement(path, "ok")

	logEvent := e.logger.Info().
		Str("path", path).
		Str("sql", truncateForLog(sql, 200)).
		Str("classification", string(result.Classification)).
		Dur("duration", time.Since(start)).
		Int("row_count", result.RowCount)
	if id := requestIDFrom(ctx); id != "" {
		logEvent = logEvent.Str("request_id", id)
	}
	if result.AffectedRows != nil {
		logEvent = logEvent.Int64("rows_affected", *result.AffectedRows)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if result.Truncated {
		logEvent = logEvent.Bool("truncated", true)
	}
	if e.sanitizer.HasRules() {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}

type requestIDKey struct{}

// WithRequestID returns a context whose log events carry id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
