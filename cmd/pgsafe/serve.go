package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/rickchristie/pgsafe"
	"github.com/rickchristie/pgsafe/internal/metrics"
)

const (
	defaultConfigPath = ".pgsafe/config.json"
	defaultTransport  = "streamable-http"
	defaultPort       = 8000

	defaultMaxConns              = 5
	defaultQueryTimeoutSeconds   = 30
	defaultCatalogTimeoutSeconds = 10

	mcpEndpoint     = "/mcp"
	sseEndpoint     = "/sse"
	messageEndpoint = "/message"
)

type serveFlags struct {
	transport string
	host      string
	port      int
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var flags serveFlags
	fs.StringVar(&flags.transport, "transport", "", "Transport: stdio, sse or streamable-http (default streamable-http)")
	fs.StringVar(&flags.host, "host", "", "Host to bind to (default all interfaces)")
	fs.IntVar(&flags.port, "port", 0, fmt.Sprintf("Port to listen on (default %d)", defaultPort))
	fs.Parse(args)

	// A missing .env is not an error.
	_ = godotenv.Load()

	// 1. Load ServerConfig, then environment and flag overrides
	serverConfig, err := prepareServerConfig(flags)
	if err != nil {
		return err
	}

	// 2. Resolve connection string
	connString := os.Getenv("PGSAFE_PG_CONNSTRING")
	if connString == "" {
		conn := serverConfig.Connection
		if isTTY(os.Stdin.Fd()) {
			if conn.User == "" {
				conn.User = promptInput("Username: ")
			}
			if conn.Password == "" {
				conn.Password = promptPassword("Password: ")
			}
		}
		connString = buildConnString(conn)
	}

	// 3. Setup logger
	logger, err := setupLogger(serverConfig.Logging, serverConfig.Server.Transport)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Create the engine
	var opts []pgsafe.Option
	var reg *prometheus.Registry
	if serverConfig.Server.MetricsEnabled {
		reg = newRegistry()
		opts = append(opts, pgsafe.WithMetrics(reg))
	}
	engine, err := pgsafe.New(ctx, connString, serverConfig.Config, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	// 5. Test database connection
	logger.Info().Msg("testing database connection")
	if err := engine.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	// 6. Serve
	mcpServer := newMCPServer(engine, logger)
	if serverConfig.Server.Transport == "stdio" {
		logger.Info().Str("transport", "stdio").Msg("starting pgsafe server")
		return server.ServeStdio(mcpServer)
	}

	addr := net.JoinHostPort(serverConfig.Server.Host, strconv.Itoa(serverConfig.Server.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPHandler(serverConfig.Server, mcpServer, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().
		Str("transport", serverConfig.Server.Transport).
		Str("addr", addr).
		Msg("starting pgsafe server")
	return serveHTTP(ctx, httpSrv, logger)
}

func newMCPServer(engine *pgsafe.Engine, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("pgsafe", version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	pgsafe.RegisterMCPTools(mcpServer, engine)
	return mcpServer
}

// newHTTPHandler routes the MCP transport endpoints plus the optional health
// check and metrics endpoints. reg may be nil when metrics are disabled.
func newHTTPHandler(settings pgsafe.ServerSettings, mcpServer *server.MCPServer, reg *prometheus.Registry) http.Handler {
	router := mux.NewRouter()

	// Process liveness only, not DB connectivity.
	if settings.HealthCheckEnabled {
		router.HandleFunc(settings.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		}).Methods(http.MethodGet)
	}
	if settings.MetricsEnabled && reg != nil {
		router.Handle(settings.MetricsPath, metrics.Handler(reg)).Methods(http.MethodGet)
	}

	switch settings.Transport {
	case "sse":
		sseServer := server.NewSSEServer(mcpServer,
			server.WithSSEEndpoint(sseEndpoint),
			server.WithMessageEndpoint(messageEndpoint),
		)
		router.Handle(sseEndpoint, sseServer.SSEHandler())
		router.Handle(messageEndpoint, sseServer.MessageHandler())
	default:
		router.Handle(mcpEndpoint, server.NewStreamableHTTPServer(mcpServer,
			server.WithEndpointPath(mcpEndpoint),
			server.WithStateLess(true),
		))
	}
	return router
}

func serveHTTP(ctx context.Context, httpSrv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down pgsafe server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// prepareServerConfig loads the config file, applies DB_* and flag overrides,
// fills engine defaults and validates the result. A config built from the
// environment alone is complete after this step.
func prepareServerConfig(flags serveFlags) (*pgsafe.ServerConfig, error) {
	serverConfig, err := loadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyEnv(serverConfig); err != nil {
		return nil, err
	}
	applyFlags(&serverConfig.Server, flags)
	if err := validateServerSettings(serverConfig.Server); err != nil {
		return nil, err
	}
	applyEngineDefaults(&serverConfig.Config)
	if err := validateEngineConfig(serverConfig.Config); err != nil {
		return nil, err
	}
	return serverConfig, nil
}

// loadServerConfig reads PGSAFE_CONFIG_PATH, or .pgsafe/config.json when it
// is unset. Only an explicitly named file must exist.
func loadServerConfig() (*pgsafe.ServerConfig, error) {
	configPath := os.Getenv("PGSAFE_CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = defaultConfigPath
	}

	var config pgsafe.ServerConfig
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// applyEnv overrides connection settings and the row cap from DB_* variables.
func applyEnv(config *pgsafe.ServerConfig) error {
	conn := &config.Connection
	for name, dst := range map[string]*string{
		"DB_HOST":     &conn.Host,
		"DB_DATABASE": &conn.DBName,
		"DB_USER":     &conn.User,
		"DB_PASSWORD": &conn.Password,
		"DB_SSLMODE":  &conn.SSLMode,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	for name, dst := range map[string]*int{
		"DB_PORT":     &conn.Port,
		"DB_MAX_ROWS": &config.Query.MaxRows,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", name, v)
		}
		*dst = n
	}
	return nil
}

func applyFlags(settings *pgsafe.ServerSettings, flags serveFlags) {
	if flags.transport != "" {
		settings.Transport = flags.transport
	}
	if flags.host != "" {
		settings.Host = flags.host
	}
	if flags.port > 0 {
		settings.Port = flags.port
	}
	if settings.Transport == "" {
		settings.Transport = defaultTransport
	}
	if settings.Port == 0 {
		settings.Port = defaultPort
	}
}

func validateServerSettings(settings pgsafe.ServerSettings) error {
	switch settings.Transport {
	case "stdio", "sse", "streamable-http":
	default:
		return fmt.Errorf("unknown transport %q, must be one of: stdio, sse, streamable-http", settings.Transport)
	}
	if settings.Port <= 0 {
		return fmt.Errorf("server.port must be > 0, got %d", settings.Port)
	}
	if settings.HealthCheckEnabled && settings.HealthCheckPath == "" {
		return errors.New("server.health_check_path must be set when health_check_enabled is true")
	}
	if settings.MetricsEnabled && settings.MetricsPath == "" {
		return errors.New("server.metrics_path must be set when metrics_enabled is true")
	}
	return nil
}

// applyEngineDefaults fills the settings pgsafe.New requires to be positive
// when the config leaves them unset.
func applyEngineDefaults(config *pgsafe.Config) {
	if config.Pool.MaxConns == 0 {
		config.Pool.MaxConns = defaultMaxConns
	}
	if config.Query.DefaultTimeoutSeconds == 0 {
		config.Query.DefaultTimeoutSeconds = defaultQueryTimeoutSeconds
	}
	if config.Query.ListTablesTimeoutSeconds == 0 {
		config.Query.ListTablesTimeoutSeconds = defaultCatalogTimeoutSeconds
	}
	if config.Query.TableSchemaTimeoutSeconds == 0 {
		config.Query.TableSchemaTimeoutSeconds = defaultCatalogTimeoutSeconds
	}
}

// validateEngineConfig reports the pool and query settings pgsafe.New would
// panic on.
func validateEngineConfig(config pgsafe.Config) error {
	for _, f := range []struct {
		name  string
		value int
		min   int
	}{
		{"pool.max_conns", config.Pool.MaxConns, 1},
		{"pool.min_conns", config.Pool.MinConns, 0},
		{"query.default_timeout_seconds", config.Query.DefaultTimeoutSeconds, 1},
		{"query.list_tables_timeout_seconds", config.Query.ListTablesTimeoutSeconds, 1},
		{"query.table_schema_timeout_seconds", config.Query.TableSchemaTimeoutSeconds, 1},
		{"query.max_rows", config.Query.MaxRows, 0},
		{"query.max_sql_length", config.Query.MaxSQLLength, 0},
		{"query.max_result_length", config.Query.MaxResultLength, 0},
	} {
		if f.value < f.min {
			return fmt.Errorf("%s must be >= %d, got %d", f.name, f.min, f.value)
		}
	}
	if config.Pool.MinConns > config.Pool.MaxConns {
		return fmt.Errorf("pool.min_conns (%d) must not exceed pool.max_conns (%d)", config.Pool.MinConns, config.Pool.MaxConns)
	}
	for name, value := range map[string]string{
		"pool.max_conn_lifetime":   config.Pool.MaxConnLifetime,
		"pool.max_conn_idle_time":  config.Pool.MaxConnIdleTime,
		"pool.health_check_period": config.Pool.HealthCheckPeriod,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s %q is not a valid duration: %w", name, value, err)
		}
	}
	return nil
}

func buildConnString(conn pgsafe.ConnectionConfig) string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteConnValue(value))
		}
	}
	add("host", conn.Host)
	if conn.Port > 0 {
		add("port", strconv.Itoa(conn.Port))
	}
	add("dbname", conn.DBName)
	add("user", conn.User)
	add("password", conn.Password)
	add("sslmode", conn.SSLMode)
	return strings.Join(parts, " ")
}

// quoteConnValue quotes a keyword/value connection string value when it
// contains spaces, quotes or backslashes.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// setupLogger builds the process logger. The stdio transport owns stdout, so
// "stdout" output is redirected to stderr there.
func setupLogger(config pgsafe.LoggingConfig, transport string) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" && transport != "stdio" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}
