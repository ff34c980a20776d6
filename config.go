package pgsafe

// Config is the engine configuration used by New.
type Config struct {
	Pool         PoolConfig         `json:"pool"`
	Query        QueryConfig        `json:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`
	// ApprovalHooks must all accept a statement before Execute runs it.
	ApprovalHooks []ApprovalHook `json:"approval_hooks"`
	// ReadOnly sets default_transaction_read_only on every connection and
	// disables Execute.
	ReadOnly bool   `json:"read_only"`
	Timezone string `json:"timezone"`
}

// ServerConfig embeds Config and adds the fields only the server needs.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used by the server.
type ConnectionConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
	User     string `json:"user"`
	Password string `json:"-"`
	SSLMode  string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// ServerSettings holds transport settings.
type ServerSettings struct {
	Transport          string `json:"transport"` // stdio, sse, streamable-http
	Host               string `json:"host"`
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
	MetricsEnabled     bool   `json:"metrics_enabled"`
	MetricsPath        string `json:"metrics_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, or file path
}

// QueryConfig holds statement execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds     int `json:"default_timeout_seconds"`
	ListTablesTimeoutSeconds  int `json:"list_tables_timeout_seconds"`
	TableSchemaTimeoutSeconds int `json:"table_schema_timeout_seconds"`
	// MaxRows caps the rows returned by ExecuteSafe. Zero means 1000.
	MaxRows         int           `json:"max_rows"`
	MaxSQLLength    int           `json:"max_sql_length"`
	MaxResultLength int           `json:"max_result_length"`
	TimeoutRules    []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Name           string `json:"name"`
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule attaches a guidance message to errors matching Pattern.
// ErrorType optionally restricts the rule to one error_type.
type ErrorPromptRule struct {
	ErrorType string `json:"error_type"`
	Pattern   string `json:"pattern"`
	Message   string `json:"message"`
}

// SanitizationRule masks result values matching Pattern. An empty Columns
// list applies the rule to every column.
type SanitizationRule struct {
	Columns     []string `json:"columns"`
	Pattern     string   `json:"pattern"`
	Replacement string   `json:"replacement"`
	Description string   `json:"description"`
}

// ApprovalHook runs Command for Execute statements matching Pattern. The
// command reads a JSON request on stdin and answers {"accept": bool,
// "reason": string} on stdout. Anything else rejects the statement.
type ApprovalHook struct {
	Pattern        string   `json:"pattern"`
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

const (
	defaultMaxRows         = 1000
	defaultMaxSQLLength    = 100000
	defaultMaxResultLength = 100000
	defaultSchema          = "public"
)
