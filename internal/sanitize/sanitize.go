// Package sanitize masks sensitive values in query results before they are
// returned to the client.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule masks every match of Pattern with Replacement. When Columns is empty the
// rule applies to every column; otherwise only to the named result columns
// (case-insensitive).
type Rule struct {
	Columns     []string
	Pattern     string
	Replacement string
}

type compiledRule struct {
	columns     map[string]bool
	pattern     *regexp.Regexp
	replacement string
}

func (r compiledRule) appliesTo(column string) bool {
	return len(r.columns) == 0 || r.columns[strings.ToLower(column)]
}

// Sanitizer rewrites string values inside result rows. A nil *Sanitizer is
// valid and leaves rows untouched.
type Sanitizer struct {
	rules []compiledRule
}

// New compiles rules. Returns an error on the first invalid pattern.
func New(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %w", r.Pattern, err)
		}
		cr := compiledRule{pattern: re, replacement: r.Replacement}
		if len(r.Columns) > 0 {
			cr.columns = make(map[string]bool, len(r.Columns))
			for _, c := range r.Columns {
				cr.columns[strings.ToLower(c)] = true
			}
		}
		compiled = append(compiled, cr)
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules reports whether any rule is configured.
func (s *Sanitizer) HasRules() bool {
	return s != nil && len(s.rules) > 0
}

// Rows masks values in place and returns rows. JSON objects and arrays held in
// a column are walked recursively; the column's rules apply to every string
// found inside them. Non-string scalars are never modified.
func (s *Sanitizer) Rows(rows []map[string]any) []map[string]any {
	if !s.HasRules() {
		return rows
	}
	cache := make(map[string][]compiledRule)
	for _, row := range rows {
		for col, v := range row {
			rules, ok := cache[col]
			if !ok {
				rules = s.rulesFor(col)
				cache[col] = rules
			}
			if len(rules) > 0 {
				row[col] = mask(v, rules)
			}
		}
	}
	return rows
}

func (s *Sanitizer) rulesFor(column string) []compiledRule {
	var out []compiledRule
	for _, r := range s.rules {
		if r.appliesTo(column) {
			out = append(out, r)
		}
	}
	return out
}

func mask(v any, rules []compiledRule) any {
	switch val := v.(type) {
	case string:
		for _, r := range rules {
			val = r.pattern.ReplaceAllString(val, r.replacement)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = mask(item, rules)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = mask(item, rules)
		}
		return val
	default:
		// json.Number has an underlying string type but does not match
		// case string, so numbers pass through untouched.
		return v
	}
}
