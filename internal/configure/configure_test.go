package configure

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rickchristie/pgsafe"
)

// Prompt index map for allEnterInputs:
//
//	0-3:   connection (host, port, dbname, sslmode)
//	4-10:  server (transport, host, port, health_check_enabled, health_check_path, metrics_enabled, metrics_path)
//	11-13: logging (level, format, output)
//	14-18: pool (max_conns, min_conns, max_conn_lifetime, max_conn_idle_time, health_check_period)
//	19-24: query (default, list_tables, table_schema timeouts, max_rows, max_sql_length, max_result_length)
//	25-26: general (read_only, timezone)
//	27-30: list editors (timeout_rules, error_prompts, sanitization, approval_hooks)
const promptCount = 31

func allEnterInputs(overrides map[int]string) string {
	lines := make([]string, promptCount)
	for i := 27; i < promptCount; i++ {
		lines[i] = "c"
	}
	for k, v := range overrides {
		lines[k] = v
	}
	return strings.Join(lines, "\n") + "\n"
}

func validExistingConfig() *pgsafe.ServerConfig {
	cfg := &pgsafe.ServerConfig{}
	applyDefaults(cfg)
	cfg.Connection.DBName = "testdb"
	return cfg
}

func writeExisting(t *testing.T, cfg *pgsafe.ServerConfig) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := writeConfig(path, cfg); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	return path
}

func readConfig(t *testing.T, path string) pgsafe.ServerConfig {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	var cfg pgsafe.ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse written config: %v", err)
	}
	return cfg
}

func testPrompter(input string, isNew bool) (*prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return &prompter{scanner: bufio.NewScanner(strings.NewReader(input)), output: &out, isNew: isNew}, &out
}

func TestRun_NewConfig_DefaultsWrittenToFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	var output bytes.Buffer
	if err := run(path, strings.NewReader(allEnterInputs(map[int]string{2: "appdb"})), &output); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	out := output.String()
	if strings.Contains(out, "(current:") || !strings.Contains(out, `(default: "localhost")`) {
		t.Fatalf("new config should show default labels, output:\n%s", out)
	}

	cfg := readConfig(t, path)
	if cfg.Connection.DBName != "appdb" || cfg.Connection.Port != 5432 {
		t.Fatalf("unexpected connection %+v", cfg.Connection)
	}
	if cfg.Server.Transport != "streamable-http" || cfg.Server.Port != 8000 {
		t.Fatalf("unexpected server settings %+v", cfg.Server)
	}
	if cfg.Query.MaxRows != 1000 || cfg.Query.TableSchemaTimeoutSeconds != 10 {
		t.Fatalf("unexpected query config %+v", cfg.Query)
	}
}

func TestRun_ExistingConfig_PreservesValues(t *testing.T) {
	t.Parallel()
	existing := validExistingConfig()
	existing.ReadOnly = true
	existing.Sanitization = []pgsafe.SanitizationRule{{Columns: []string{"email"}, Pattern: ".+", Replacement: "***"}}
	path := writeExisting(t, existing)

	var output bytes.Buffer
	if err := run(path, strings.NewReader(allEnterInputs(nil)), &output); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	if !strings.Contains(output.String(), `(current: "testdb")`) {
		t.Fatalf("existing config should show current labels, output:\n%s", output.String())
	}

	cfg := readConfig(t, path)
	if !cfg.ReadOnly || cfg.Connection.DBName != "testdb" {
		t.Fatalf("values not preserved: %+v", cfg)
	}
	if len(cfg.Sanitization) != 1 || cfg.Sanitization[0].Columns[0] != "email" {
		t.Fatalf("sanitization rules not preserved: %+v", cfg.Sanitization)
	}
}

func TestRun_Overrides(t *testing.T) {
	t.Parallel()
	path := writeExisting(t, validExistingConfig())

	input := allEnterInputs(map[int]string{
		4:  "stdio",
		22: "250",
		25: "yes",
		26: "UTC",
		27: "a\nslow\npg_sleep\n5\nc",
		28: "a\nunsafe_statement\n.*\nUse execute_query.\nc",
		30: "a\n(?i)drop\n\n/usr/local/bin/approve\n--strict --team data\n15\nc",
	})
	var output bytes.Buffer
	if err := run(path, strings.NewReader(input), &output); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	cfg := readConfig(t, path)
	if cfg.Server.Transport != "stdio" || cfg.Query.MaxRows != 250 || !cfg.ReadOnly || cfg.Timezone != "UTC" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.Query.TimeoutRules) != 1 || cfg.Query.TimeoutRules[0] != (pgsafe.TimeoutRule{Name: "slow", Pattern: "pg_sleep", TimeoutSeconds: 5}) {
		t.Fatalf("unexpected timeout rules %+v", cfg.Query.TimeoutRules)
	}
	if len(cfg.ErrorPrompts) != 1 || cfg.ErrorPrompts[0].ErrorType != "unsafe_statement" {
		t.Fatalf("unexpected error prompts %+v", cfg.ErrorPrompts)
	}
	// The empty command answer is asked again.
	if len(cfg.ApprovalHooks) != 1 {
		t.Fatalf("expected one approval hook, got %+v", cfg.ApprovalHooks)
	}
	hook := cfg.ApprovalHooks[0]
	if hook.Pattern != "(?i)drop" || hook.Command != "/usr/local/bin/approve" || strings.Join(hook.Args, ",") != "--strict,--team,data" || hook.TimeoutSeconds != 15 {
		t.Fatalf("unexpected approval hook %+v", hook)
	}
}

func TestRun_DBNameRequired(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")

	// First answer for dbname is empty and must be asked again.
	var output bytes.Buffer
	if err := run(path, strings.NewReader(allEnterInputs(map[int]string{2: "\nappdb"})), &output); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	if !strings.Contains(output.String(), "Value is required") {
		t.Fatalf("expected required message, output:\n%s", output.String())
	}
	if cfg := readConfig(t, path); cfg.Connection.DBName != "appdb" {
		t.Fatalf("expected dbname appdb, got %q", cfg.Connection.DBName)
	}
}

func TestChoice(t *testing.T) {
	t.Parallel()
	p, out := testPrompter("bogus\nverify-full\n", true)
	if got := p.choice("connection.sslmode", "prefer", sslModes); got != "verify-full" {
		t.Fatalf("expected verify-full, got %q", got)
	}
	if !strings.Contains(out.String(), "options: disable, allow, prefer") {
		t.Fatalf("expected options in prompt, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), `invalid value "bogus"`) {
		t.Fatalf("expected rejection message, got:\n%s", out.String())
	}

	p, _ = testPrompter("\n", false)
	if got := p.choice("logging.level", "warn", logLevels); got != "warn" {
		t.Fatalf("expected empty input to keep current, got %q", got)
	}
}

func TestInteger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		current int
		min     int
		want    int
	}{
		{"accepts valid", "42\n", 5, 1, 42},
		{"empty keeps current", "\n", 5, 1, 5},
		{"rejects zero then accepts", "0\n7\n", 5, 1, 7},
		{"rejects negative then accepts", "-3\n7\n", 5, 0, 7},
		{"rejects non-integer then accepts", "abc\n7\n", 5, 1, 7},
		{"accepts zero when allowed", "0\n", 5, 0, 0},
		{"rejects enter when current invalid", "\n9\n", 0, 1, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := testPrompter(tt.input, false)
			if got := p.integer("field", tt.current, tt.min); got != tt.want {
				t.Fatalf("integer() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBooleanDurationTimezone(t *testing.T) {
	t.Parallel()

	p, _ := testPrompter("maybe\nno\n", false)
	if got := p.boolean("read_only", true); got {
		t.Fatal("expected false after invalid then 'no'")
	}

	p, out := testPrompter("5 minutes\n5m\n", false)
	if got := p.duration("pool.max_conn_idle_time", "30m"); got != "5m" {
		t.Fatalf("expected 5m, got %q", got)
	}
	if !strings.Contains(out.String(), "invalid Go duration") {
		t.Fatalf("expected duration rejection, got:\n%s", out.String())
	}

	p, _ = testPrompter("Mars/Olympus\nAsia/Tokyo\n", false)
	if got := p.timezone(""); got != "Asia/Tokyo" {
		t.Fatalf("expected Asia/Tokyo, got %q", got)
	}

	p, _ = testPrompter("\n", false)
	if got := p.timezone(""); got != "" {
		t.Fatalf("expected empty timezone kept, got %q", got)
	}
}

func TestEditList_Remove(t *testing.T) {
	t.Parallel()
	p, out := testPrompter("r\n0\nc\n", false)
	rules := []pgsafe.TimeoutRule{{Pattern: "a", TimeoutSeconds: 1}, {Pattern: "b", TimeoutSeconds: 2}}
	got := editList(p, "timeout rule", rules,
		func(r pgsafe.TimeoutRule) string { return r.Pattern },
		func() pgsafe.TimeoutRule { return pgsafe.TimeoutRule{} })
	if len(got) != 1 || got[0].Pattern != "b" {
		t.Fatalf("expected only rule b left, got %+v", got)
	}
	if !strings.Contains(out.String(), "[1] b") {
		t.Fatalf("expected listing before removal, got:\n%s", out.String())
	}
}

func TestRegexField(t *testing.T) {
	t.Parallel()
	p, out := testPrompter("[bad(\n^ok$\n", false)
	if got := p.regexField("pattern"); got != "^ok$" {
		t.Fatalf("expected ^ok$, got %q", got)
	}
	if !strings.Contains(out.String(), "Invalid regex") {
		t.Fatalf("expected regex rejection, got:\n%s", out.String())
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	if got := splitList(" email, phone ,,ssn"); strings.Join(got, "|") != "email|phone|ssn" {
		t.Fatalf("unexpected split %v", got)
	}
	if got := splitList(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestLoadExisting(t *testing.T) {
	t.Parallel()
	cfg, isNew := loadExisting(filepath.Join(t.TempDir(), "missing.json"))
	if !isNew || cfg == nil {
		t.Fatal("expected a new config for a missing file")
	}

	path := writeExisting(t, validExistingConfig())
	cfg, isNew = loadExisting(path)
	if isNew || cfg.Connection.DBName != "testdb" {
		t.Fatalf("expected existing config to load, got new=%v %+v", isNew, cfg.Connection)
	}
}
