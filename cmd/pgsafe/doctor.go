package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"time"

	"github.com/rickchristie/pgsafe"
)

var knownErrorTypes = []string{
	"parameter_count_mismatch",
	"unsafe_statement",
	"table_not_found",
	"schema_not_found",
	"execute_disabled",
	"execute_rejected",
	"driver_execution",
	"invalid_request",
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	fs.Parse(args)

	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor, *configPath)
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "pgsafe %s\n\n", version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgsafe doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check results.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*pgsafe.ServerConfig, bool) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

	var config pgsafe.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file is valid JSON: %v", err))
		return nil, false
	}
	printCheck(w, useColor, true, "Config file is valid JSON")

	allPassed := true
	check := func(pass bool, msg string) {
		printCheck(w, useColor, pass, msg)
		if !pass {
			allPassed = false
		}
	}

	if config.Connection.DBName == "" {
		check(false, "connection.dbname is set")
	} else {
		check(true, fmt.Sprintf("connection.dbname is set (%s)", config.Connection.DBName))
	}

	// Apply serve's defaults so an omitted transport or port passes.
	applyFlags(&config.Server, serveFlags{})
	if err := validateServerSettings(config.Server); err != nil {
		check(false, err.Error())
	} else {
		check(true, fmt.Sprintf("server settings are valid (transport %s, port %d)", config.Server.Transport, config.Server.Port))
	}

	// Same defaults as serve: unset pool and timeout settings are filled in.
	applyEngineDefaults(&config.Config)
	if err := validateEngineConfig(config.Config); err != nil {
		check(false, err.Error())
	} else {
		check(true, fmt.Sprintf("pool and query settings are valid (max_conns %d, default timeout %ds)",
			config.Pool.MaxConns, config.Query.DefaultTimeoutSeconds))
	}

	if config.Timezone != "" {
		if _, err := time.LoadLocation(config.Timezone); err != nil {
			check(false, fmt.Sprintf("timezone %q is a valid IANA name", config.Timezone))
		} else {
			check(true, fmt.Sprintf("timezone %q is a valid IANA name", config.Timezone))
		}
	}

	for i, rule := range config.ErrorPrompts {
		if rule.ErrorType != "" && !slices.Contains(knownErrorTypes, rule.ErrorType) {
			check(false, fmt.Sprintf("error_prompts[%d].error_type %q is known", i, rule.ErrorType))
		}
	}

	for i, hook := range config.ApprovalHooks {
		if hook.Command == "" {
			check(false, fmt.Sprintf("approval_hooks[%d].command is set", i))
		} else if _, err := exec.LookPath(hook.Command); err != nil {
			check(false, fmt.Sprintf("approval_hooks[%d].command %q is executable: %v", i, hook.Command, err))
		}
		if hook.TimeoutSeconds <= 0 {
			check(false, fmt.Sprintf("approval_hooks[%d].timeout_seconds is > 0", i))
		}
	}

	regexOK := true
	compile := func(field string, pattern string) {
		if _, err := regexp.Compile(pattern); err != nil {
			check(false, fmt.Sprintf("%s regex compiles: %v", field, err))
			regexOK = false
		}
	}
	for i, rule := range config.ErrorPrompts {
		compile(fmt.Sprintf("error_prompts[%d]", i), rule.Pattern)
	}
	for i, rule := range config.Sanitization {
		compile(fmt.Sprintf("sanitization[%d]", i), rule.Pattern)
	}
	for i, rule := range config.Query.TimeoutRules {
		compile(fmt.Sprintf("timeout_rules[%d]", i), rule.Pattern)
	}
	for i, hook := range config.ApprovalHooks {
		compile(fmt.Sprintf("approval_hooks[%d]", i), hook.Pattern)
	}
	if regexOK {
		check(true, "All regex patterns compile")
	}

	return &config, allPassed
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP connection config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *pgsafe.ServerConfig) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if config.Server.Transport == "stdio" {
		subheading("Claude Code")
		fmt.Fprintf(w, "  Run this command to add the server:\n\n")
		fmt.Fprintf(w, "    claude mcp add postgres -- pgsafe serve --transport stdio\n\n")
		subheading("Any MCP client (stdio)")
		fmt.Fprint(w, `  {
    "mcpServers": {
      "postgres": {
        "command": "pgsafe",
        "args": ["serve", "--transport", "stdio"]
      }
    }
  }
`)
		return
	}

	host := config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	endpoint, claudeTransport := mcpEndpoint, "http"
	if config.Server.Transport == "sse" {
		endpoint, claudeTransport = sseEndpoint, "sse"
	}
	url := fmt.Sprintf("http://%s:%d%s", host, config.Server.Port, endpoint)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport %s postgres %s\n\n", claudeTransport, url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "type": "%s",
        "url": "%s"
      }
    }
  }
`, claudeTransport, url)
	fmt.Fprintln(w)

	subheading("Gemini CLI (~/.gemini/settings.json)")
	urlKey := "httpUrl"
	if config.Server.Transport == "sse" {
		urlKey = "url"
	}
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "%s": "%s"
      }
    }
  }
`, urlKey, url)
	fmt.Fprintln(w)

	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Windsurf (~/.codeium/windsurf/mcp_config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "serverUrl": "%s"
      }
    }
  }
`, url)
}
