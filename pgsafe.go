package pgsafe

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rickchristie/pgsafe/internal/approval"
	"github.com/rickchristie/pgsafe/internal/errprompt"
	"github.com/rickchristie/pgsafe/internal/metrics"
	"github.com/rickchristie/pgsafe/internal/sanitize"
	"github.com/rickchristie/pgsafe/internal/timeout"
)

// dbConn is the part of *pgxpool.Conn the engine uses.
type dbConn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Release()
}

// connPool is the part of *pgxpool.Pool the engine uses.
type connPool interface {
	Acquire(ctx context.Context) (dbConn, error)
	Ping(ctx context.Context) error
	Close()
}

type pgxPool struct {
	*pgxpool.Pool
}

func (p pgxPool) Acquire(ctx context.Context) (dbConn, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Engine implements the safe query gate, the unrestricted executor and the
// schema introspector over a pgx connection pool. All exported methods are
// safe for concurrent use.
type Engine struct {
	config    Config
	pool      connPool
	semaphore chan struct{}
	sanitizer *sanitize.Sanitizer
	prompts   *errprompt.Matcher
	timeouts  *timeout.Resolver
	approvals *approval.Gate
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// Option is a functional option for New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithMetrics registers the engine's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New creates an Engine connected to connString.
// Panics on invalid config. Returns error only for runtime failures such as
// an unparseable connection string.
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if connString == "" {
		panic("pgsafe: connString must be non-empty")
	}
	e := newEngine(config, logger, opts...)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(e.config.Pool.MaxConns)
	poolConfig.MinConns = int32(e.config.Pool.MinConns)
	// Extended protocol only: arguments never get interpolated client-side.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	if d := parsePoolDuration("max_conn_lifetime", e.config.Pool.MaxConnLifetime); d > 0 {
		poolConfig.MaxConnLifetime = d
	}
	if d := parsePoolDuration("max_conn_idle_time", e.config.Pool.MaxConnIdleTime); d > 0 {
		poolConfig.MaxConnIdleTime = d
	}
	if d := parsePoolDuration("health_check_period", e.config.Pool.HealthCheckPeriod); d > 0 {
		poolConfig.HealthCheckPeriod = d
	}

	if e.config.ReadOnly || e.config.Timezone != "" {
		readOnly, tz := e.config.ReadOnly, e.config.Timezone
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if readOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if tz != "" {
				if _, err := conn.Exec(ctx, "SELECT set_config('TimeZone', $1, false)", tz); err != nil {
					return fmt.Errorf("failed to set timezone: %w", err)
				}
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	e.pool = pgxPool{pool}
	return e, nil
}

// newEngine validates config and builds everything except the pool.
func newEngine(config Config, logger zerolog.Logger, opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if config.Pool.MaxConns <= 0 {
		panic("pgsafe: pool.max_conns must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("pgsafe: query.default_timeout_seconds must be > 0")
	}
	if config.Query.ListTablesTimeoutSeconds <= 0 {
		panic("pgsafe: query.list_tables_timeout_seconds must be > 0")
	}
	if config.Query.TableSchemaTimeoutSeconds <= 0 {
		panic("pgsafe: query.table_schema_timeout_seconds must be > 0")
	}
	if config.Query.MaxRows < 0 {
		panic("pgsafe: query.max_rows must be >= 0")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("pgsafe: query.max_sql_length must be >= 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("pgsafe: query.max_result_length must be >= 0")
	}
	if config.Query.MaxRows == 0 {
		config.Query.MaxRows = defaultMaxRows
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = defaultMaxSQLLength
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = defaultMaxResultLength
	}

	san, err := sanitize.New(mapSanitizationRules(config.Sanitization))
	if err != nil {
		panic("pgsafe: " + err.Error())
	}
	matcher, err := errprompt.New(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		panic("pgsafe: " + err.Error())
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Name:    r.Name,
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	resolver, err := timeout.New(timeout.Config{
		Default: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:   timeoutRules,
	})
	if err != nil {
		panic("pgsafe: " + err.Error())
	}

	hooks := make([]approval.Hook, len(config.ApprovalHooks))
	for i, h := range config.ApprovalHooks {
		hooks[i] = approval.Hook{
			Pattern: h.Pattern,
			Command: h.Command,
			Args:    h.Args,
			Timeout: time.Duration(h.TimeoutSeconds) * time.Second,
		}
	}
	approvals, err := approval.New(hooks, logger)
	if err != nil {
		panic("pgsafe: " + err.Error())
	}

	var collector *metrics.Collector
	if o.registerer != nil {
		collector = metrics.New(o.registerer)
	}

	return &Engine{
		config:    config,
		semaphore: make(chan struct{}, config.Pool.MaxConns),
		sanitizer: san,
		prompts:   matcher,
		timeouts:  resolver,
		approvals: approvals,
		metrics:   collector,
		logger:    logger,
	}
}

func parsePoolDuration(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("pgsafe: invalid pool.%s %q: %v", name, value, err))
	}
	return d
}

// Ping checks that a connection to the database can be established.
func (e *Engine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

// Close closes the connection pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// ReadOnly reports whether Execute is disabled.
func (e *Engine) ReadOnly() bool {
	return e.config.ReadOnly
}

// acquire takes a concurrency slot and a pooled connection. The returned
// release func gives both back and must be called exactly once.
func (e *Engine) acquire(ctx context.Context) (dbConn, func(), error) {
	select {
	case e.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(e.semaphore), ctx.Err())
	}
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		<-e.semaphore
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	done := e.metrics.Track()
	return conn, func() {
		done()
		conn.Release()
		<-e.semaphore
	}, nil
}

func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Columns:     r.Columns,
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Kind:    r.ErrorType,
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
