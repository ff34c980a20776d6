// Package errprompt attaches operator-written guidance to tool errors.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule attaches Message to errors whose text matches Pattern. When Kind is
// set the rule only fires for errors of that kind (for example
// "unsafe_statement" or "driver_execution").
type Rule struct {
	Kind    string
	Pattern string
	Message string
}

type compiledRule struct {
	kind    string
	pattern *regexp.Regexp
	message string
}

// Matcher returns guidance prompts for errors. A nil *Matcher matches nothing.
type Matcher struct {
	rules []compiledRule
}

// New compiles rules. Returns an error on the first invalid pattern.
func New(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %w", r.Pattern, err)
		}
		compiled[i] = compiledRule{kind: r.Kind, pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks kind and msg against every rule, top to bottom, and joins the
// messages of all matching rules with newlines. Returns "" when nothing matches.
func (m *Matcher) Match(kind, msg string) string {
	if m == nil {
		return ""
	}
	var matches []string
	for _, rule := range m.rules {
		if rule.kind != "" && rule.kind != kind {
			continue
		}
		if rule.pattern.MatchString(msg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}
