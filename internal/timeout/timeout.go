// Package timeout resolves the deadline applied to each statement.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule applies Timeout to statements matching Pattern. Name identifies the
// rule in logs; when empty the pattern itself is used.
type Rule struct {
	Name    string
	Pattern string
	Timeout time.Duration
}

// Config is the resolver's own config type.
type Config struct {
	Default time.Duration
	Rules   []Rule
}

type compiledRule struct {
	name    string
	pattern *regexp.Regexp
	timeout time.Duration
}

// Resolver picks a statement timeout. The first matching rule wins.
type Resolver struct {
	rules []compiledRule
	def   time.Duration
}

// New compiles config. Returns an error on an invalid pattern or a
// non-positive duration.
func New(config Config) (*Resolver, error) {
	if config.Default <= 0 {
		return nil, fmt.Errorf("timeout: default must be positive, got %s", config.Default)
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %w", r.Pattern, err)
		}
		if r.Timeout <= 0 {
			return nil, fmt.Errorf("timeout: rule %q must have a positive timeout", r.Pattern)
		}
		name := r.Name
		if name == "" {
			name = r.Pattern
		}
		compiled[i] = compiledRule{name: name, pattern: re, timeout: r.Timeout}
	}
	return &Resolver{rules: compiled, def: config.Default}, nil
}

// Resolve returns the timeout for sql and the name of the rule that produced
// it, or "" when the default applies.
func (r *Resolver) Resolve(sql string) (time.Duration, string) {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.name
		}
	}
	return r.def, ""
}
