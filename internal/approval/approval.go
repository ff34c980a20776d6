// Package approval runs external commands that must accept a statement before
// the unrestricted executor runs it.
//
// A hook receives a JSON Request on stdin and answers with a JSON Response on
// stdout. Any failure to get an accepting answer (non-zero exit, timeout,
// unparseable output) rejects the statement.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// Hook runs Command with Args for statements matching Pattern.
type Hook struct {
	Pattern string
	Command string
	Args    []string
	Timeout time.Duration
}

// Request is the document written to a hook's stdin.
type Request struct {
	Statement      string `json:"statement"`
	Classification string `json:"classification"`
	Parameters     any    `json:"parameters,omitempty"`
	Schema         string `json:"schema,omitempty"`
}

// Response is the document a hook writes to stdout.
type Response struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason,omitempty"`
}

// RejectedError is returned when a hook ran and answered accept=false.
type RejectedError struct {
	Command string
	Reason  string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("statement rejected by approval hook %s", e.Command)
	}
	return fmt.Sprintf("statement rejected by approval hook %s: %s", e.Command, e.Reason)
}

type compiledHook struct {
	pattern *regexp.Regexp
	command string
	args    []string
	timeout time.Duration
}

// Gate checks statements against the configured hooks in order. A Gate with
// no hooks accepts everything.
type Gate struct {
	hooks  []compiledHook
	logger zerolog.Logger
}

// New compiles hooks. Returns an error on an invalid pattern, an empty
// command or a non-positive timeout.
func New(hooks []Hook, logger zerolog.Logger) (*Gate, error) {
	compiled := make([]compiledHook, len(hooks))
	for i, h := range hooks {
		re, err := regexp.Compile(h.Pattern)
		if err != nil {
			return nil, fmt.Errorf("approval: invalid regex pattern %q: %w", h.Pattern, err)
		}
		if h.Command == "" {
			return nil, fmt.Errorf("approval: hook %d has no command", i)
		}
		if h.Timeout <= 0 {
			return nil, fmt.Errorf("approval: hook %q must have a positive timeout", h.Command)
		}
		compiled[i] = compiledHook{pattern: re, command: h.Command, args: h.Args, timeout: h.Timeout}
	}
	return &Gate{hooks: compiled, logger: logger}, nil
}

// Check runs every hook whose pattern matches req.Statement. It stops at the
// first hook that does not accept.
func (g *Gate) Check(ctx context.Context, req Request) error {
	if len(g.hooks) == 0 {
		return nil
	}
	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("approval: failed to encode request: %w", err)
	}

	for _, hook := range g.hooks {
		if !hook.pattern.MatchString(req.Statement) {
			continue
		}
		output, err := g.execute(ctx, hook, input)
		if err != nil {
			return err
		}
		var resp Response
		if err := json.Unmarshal(output, &resp); err != nil {
			return fmt.Errorf("approval hook returned unparseable response (command: %s): %w", hook.command, err)
		}
		if !resp.Accept {
			return &RejectedError{Command: hook.command, Reason: resp.Reason}
		}
	}
	return nil
}

func (g *Gate) execute(ctx context.Context, hook compiledHook, input []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, hook.timeout)
	defer cancel()

	// No shell: the command runs directly with its own args.
	cmd := exec.CommandContext(ctx, hook.command, hook.args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if stderr.Len() > 0 {
		g.logger.Debug().Str("command", hook.command).Str("stderr", stderr.String()).Msg("approval hook stderr output")
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("approval hook timed out after %s: %s", hook.timeout, hook.command)
		}
		return nil, fmt.Errorf("approval hook failed (command: %s): %w", hook.command, err)
	}
	return output, nil
}
