// Package configure implements the interactive wizard behind `pgsafe configure`.
package configure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rickchristie/pgsafe"
)

var (
	sslModes   = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	transports = []string{"stdio", "sse", "streamable-http"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
	errorTypes = []string{"parameter_count_mismatch", "unsafe_statement", "table_not_found", "schema_not_found", "execute_disabled", "execute_rejected", "driver_execution", "invalid_request"}
)

// Run reads the config at configPath (if any), prompts for every field and
// writes the result back. The password is never prompted for or written.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}
	p := &prompter{scanner: bufio.NewScanner(input), output: output, isNew: isNew}

	fmt.Fprintf(output, "pgsafe configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n\n", configPath)

	fmt.Fprintf(output, "=== Connection ===\n")
	cfg.Connection.Host = p.text("connection.host", "", cfg.Connection.Host)
	cfg.Connection.Port = p.integer("connection.port", cfg.Connection.Port, 1)
	cfg.Connection.DBName = p.required("connection.dbname", cfg.Connection.DBName)
	cfg.Connection.SSLMode = p.choice("connection.sslmode", cfg.Connection.SSLMode, sslModes)

	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Transport = p.choice("server.transport", cfg.Server.Transport, transports)
	cfg.Server.Host = p.text("server.host", "empty = all interfaces", cfg.Server.Host)
	cfg.Server.Port = p.integer("server.port", cfg.Server.Port, 1)
	cfg.Server.HealthCheckEnabled = p.boolean("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.text("server.health_check_path", "e.g. /healthz, required when health_check_enabled is true", cfg.Server.HealthCheckPath)
	cfg.Server.MetricsEnabled = p.boolean("server.metrics_enabled", cfg.Server.MetricsEnabled)
	cfg.Server.MetricsPath = p.text("server.metrics_path", "e.g. /metrics, required when metrics_enabled is true", cfg.Server.MetricsPath)

	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.choice("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.choice("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.text("logging.output", "stdout, stderr, or file path", cfg.Logging.Output)

	fmt.Fprintf(output, "\n=== Pool ===\n")
	cfg.Pool.MaxConns = p.integer("pool.max_conns", cfg.Pool.MaxConns, 1)
	cfg.Pool.MinConns = p.integer("pool.min_conns", cfg.Pool.MinConns, 0)
	cfg.Pool.MaxConnLifetime = p.duration("pool.max_conn_lifetime", cfg.Pool.MaxConnLifetime)
	cfg.Pool.MaxConnIdleTime = p.duration("pool.max_conn_idle_time", cfg.Pool.MaxConnIdleTime)
	cfg.Pool.HealthCheckPeriod = p.duration("pool.health_check_period", cfg.Pool.HealthCheckPeriod)

	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.DefaultTimeoutSeconds = p.integer("query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, 1)
	cfg.Query.ListTablesTimeoutSeconds = p.integer("query.list_tables_timeout_seconds", cfg.Query.ListTablesTimeoutSeconds, 1)
	cfg.Query.TableSchemaTimeoutSeconds = p.integer("query.table_schema_timeout_seconds", cfg.Query.TableSchemaTimeoutSeconds, 1)
	cfg.Query.MaxRows = p.integer("query.max_rows", cfg.Query.MaxRows, 1)
	cfg.Query.MaxSQLLength = p.integer("query.max_sql_length", cfg.Query.MaxSQLLength, 1)
	cfg.Query.MaxResultLength = p.integer("query.max_result_length", cfg.Query.MaxResultLength, 1)

	fmt.Fprintf(output, "\n=== General ===\n")
	cfg.ReadOnly = p.boolean("read_only", cfg.ReadOnly)
	cfg.Timezone = p.timezone(cfg.Timezone)

	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.Query.TimeoutRules = editList(p, "timeout rule", cfg.Query.TimeoutRules,
		func(r pgsafe.TimeoutRule) string {
			return fmt.Sprintf("name=%q pattern=%q timeout_seconds=%d", r.Name, r.Pattern, r.TimeoutSeconds)
		},
		func() pgsafe.TimeoutRule {
			return pgsafe.TimeoutRule{
				Name:           p.field("name"),
				Pattern:        p.regexField("pattern"),
				TimeoutSeconds: p.requiredPositive("timeout_seconds"),
			}
		})

	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = editList(p, "error prompt", cfg.ErrorPrompts,
		func(r pgsafe.ErrorPromptRule) string {
			return fmt.Sprintf("error_type=%q pattern=%q message=%q", r.ErrorType, r.Pattern, r.Message)
		},
		func() pgsafe.ErrorPromptRule {
			return pgsafe.ErrorPromptRule{
				ErrorType: p.choice("  error_type (empty = any)", "", errorTypes),
				Pattern:   p.regexField("pattern"),
				Message:   p.field("message"),
			}
		})

	fmt.Fprintf(output, "\n=== Sanitization Rules ===\n")
	cfg.Sanitization = editList(p, "sanitization rule", cfg.Sanitization,
		func(r pgsafe.SanitizationRule) string {
			return fmt.Sprintf("columns=%v pattern=%q replacement=%q description=%q", r.Columns, r.Pattern, r.Replacement, r.Description)
		},
		func() pgsafe.SanitizationRule {
			return pgsafe.SanitizationRule{
				Columns:     splitList(p.field("columns (comma-separated, empty = all)")),
				Pattern:     p.regexField("pattern"),
				Replacement: p.field("replacement"),
				Description: p.field("description"),
			}
		})

	fmt.Fprintf(output, "\n=== Approval Hooks (execute_query) ===\n")
	cfg.ApprovalHooks = editList(p, "approval hook", cfg.ApprovalHooks,
		func(h pgsafe.ApprovalHook) string {
			return fmt.Sprintf("pattern=%q command=%q args=%v timeout_seconds=%d", h.Pattern, h.Command, h.Args, h.TimeoutSeconds)
		},
		func() pgsafe.ApprovalHook {
			return pgsafe.ApprovalHook{
				Pattern:        p.regexField("pattern"),
				Command:        p.requiredField("command"),
				Args:           strings.Fields(p.field("args (space-separated)")),
				TimeoutSeconds: p.requiredPositive("timeout_seconds"),
			}
		})

	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

func loadExisting(configPath string) (*pgsafe.ServerConfig, bool) {
	cfg := &pgsafe.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	// Start from whatever was parseable.
	_ = json.Unmarshal(data, cfg)
	return cfg, false
}

func applyDefaults(cfg *pgsafe.ServerConfig) {
	cfg.Connection.Host = "localhost"
	cfg.Connection.Port = 5432
	cfg.Connection.SSLMode = "prefer"
	cfg.Server.Transport = "streamable-http"
	cfg.Server.Port = 8000
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Pool.MaxConns = 5
	cfg.Pool.MaxConnLifetime = "1h"
	cfg.Pool.MaxConnIdleTime = "30m"
	cfg.Pool.HealthCheckPeriod = "1m"
	cfg.Query.DefaultTimeoutSeconds = 30
	cfg.Query.ListTablesTimeoutSeconds = 10
	cfg.Query.TableSchemaTimeoutSeconds = 10
	cfg.Query.MaxRows = 1000
	cfg.Query.MaxSQLLength = 100000
	cfg.Query.MaxResultLength = 100000
}

func writeConfig(configPath string, cfg *pgsafe.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}
	return nil
}

type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

func (p *prompter) label() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

// ask prints one prompt and loops until validate accepts the input. An empty
// line keeps current.
func (p *prompter) ask(field, hint, shown string, validate func(string) error) (string, bool) {
	for {
		if hint != "" {
			fmt.Fprintf(p.output, "%s [%s] (%s: %s): ", field, hint, p.label(), shown)
		} else {
			fmt.Fprintf(p.output, "%s (%s: %s): ", field, p.label(), shown)
		}
		input := p.readLine()
		if input == "" {
			return "", false
		}
		if validate != nil {
			if err := validate(input); err != nil {
				fmt.Fprintf(p.output, "  %v, try again.\n", err)
				continue
			}
		}
		return input, true
	}
}

func (p *prompter) text(field, hint, current string) string {
	if input, ok := p.ask(field, hint, strconv.Quote(current), nil); ok {
		return input
	}
	return current
}

func (p *prompter) integer(field string, current, min int) int {
	hint := fmt.Sprintf("must be >= %d", min)
	if min == 1 {
		hint = "must be > 0"
	}
	for {
		input, ok := p.ask(field, hint, strconv.Itoa(current), func(s string) error {
			v, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid integer %q", s)
			}
			if v < min {
				return fmt.Errorf("value %d is below %d", v, min)
			}
			return nil
		})
		if ok {
			v, _ := strconv.Atoi(input)
			return v
		}
		if current >= min {
			return current
		}
		fmt.Fprintf(p.output, "  Current value %d is below %d, enter a value.\n", current, min)
	}
}

// required is text that cannot be left empty.
func (p *prompter) required(field, current string) string {
	for {
		if input, ok := p.ask(field, "required", strconv.Quote(current), nil); ok {
			return input
		}
		if current != "" {
			return current
		}
		fmt.Fprintf(p.output, "  Value is required, try again.\n")
	}
}

func (p *prompter) boolean(field string, current bool) bool {
	input, ok := p.ask(field, "", strconv.FormatBool(current), func(s string) error {
		if _, known := parseBool(s); !known {
			return fmt.Errorf("invalid value %q, use true/false/yes/no", s)
		}
		return nil
	})
	if !ok {
		return current
	}
	v, _ := parseBool(input)
	return v
}

func parseBool(s string) (value, known bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

func (p *prompter) duration(field, current string) string {
	input, ok := p.ask(field, "Go duration: e.g. 1h, 30m, 1m30s", strconv.Quote(current), func(s string) error {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid Go duration %q", s)
		}
		return nil
	})
	if !ok {
		return current
	}
	return input
}

func (p *prompter) timezone(current string) string {
	input, ok := p.ask("timezone", "e.g. UTC, America/New_York, empty = server default", strconv.Quote(current), func(s string) error {
		if _, err := time.LoadLocation(s); err != nil {
			return fmt.Errorf("invalid IANA timezone %q", s)
		}
		return nil
	})
	if !ok {
		return current
	}
	return input
}

func (p *prompter) choice(field, current string, allowed []string) string {
	shown := fmt.Sprintf("%q, options: %s", current, strings.Join(allowed, ", "))
	input, ok := p.ask(field, "", shown, func(s string) error {
		for _, v := range allowed {
			if s == v {
				return nil
			}
		}
		return fmt.Errorf("invalid value %q, must be one of: %s", s, strings.Join(allowed, ", "))
	})
	if !ok {
		return current
	}
	return input
}

// Field prompts for new list entries.

func (p *prompter) field(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

func (p *prompter) requiredField(name string) string {
	for {
		if v := p.field(name); v != "" {
			return v
		}
		fmt.Fprintf(p.output, "  Value is required, try again.\n")
	}
}

func (p *prompter) regexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input := p.readLine()
		if input == "" {
			return ""
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

func (p *prompter) requiredPositive(name string) int {
	for {
		fmt.Fprintf(p.output, "  %s (must be > 0): ", name)
		v, err := strconv.Atoi(p.readLine())
		if err != nil || v <= 0 {
			fmt.Fprintf(p.output, "  Value is required and must be > 0, try again.\n")
			continue
		}
		return v
	}
}

// editList shows items and loops over add/remove until the user continues.
func editList[T any](p *prompter, label string, items []T, describe func(T) string, add func() T) []T {
	for {
		if len(items) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, item := range items {
			fmt.Fprintf(p.output, "  [%d] %s\n", i, describe(item))
		}
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		switch strings.ToLower(p.readLine()) {
		case "a":
			items = append(items, add())
		case "r":
			items = removeByIndex(p, label, items)
		case "c", "":
			return items
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	idx, err := strconv.Atoi(p.readLine())
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
