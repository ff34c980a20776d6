// Package bind turns caller-supplied parameters into a statement and an
// ordered argument list for the driver.
//
// Two placeholder styles are recognised: positional $1, $2, ... (the native
// PostgreSQL form) and named @name (the pgx named-argument convention). A
// named mapping is rewritten into positional form by replacing each @name
// token with $k; nothing else in the statement text is touched and no value is
// ever written into it. The ? character is not a placeholder because it is the
// jsonb key-exists operator. An @name must not directly follow another
// operator character: "id=@id" scans as the operator =@, so write "id = @id".
package bind

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rickchristie/pgsafe/internal/sqllex"
)

// ErrParameterCountMismatch is returned when the supplied parameters do not
// line up with the placeholders in the statement.
var ErrParameterCountMismatch = errors.New("parameter count mismatch")

// Statement is SQL text plus the values bound to its $n placeholders.
type Statement struct {
	SQL  string
	Args []any
}

type placeholders struct {
	positional []sqllex.Token
	named      []sqllex.Token
}

func scan(sql string) (placeholders, error) {
	tokens, err := sqllex.Lex(sql)
	if err != nil {
		return placeholders{}, fmt.Errorf("bind: %w", err)
	}
	var p placeholders
	for _, tok := range tokens {
		switch tok.Kind {
		case sqllex.Positional:
			p.positional = append(p.positional, tok)
		case sqllex.Named:
			p.named = append(p.named, tok)
		}
	}
	if len(p.positional) > 0 && len(p.named) > 0 {
		return placeholders{}, fmt.Errorf("%w: statement mixes $n and @name placeholders", ErrParameterCountMismatch)
	}
	return p, nil
}

// Positional binds values to $1..$n. The highest placeholder index must equal
// len(values) and every index in between must be referenced.
func Positional(sql string, values []any) (Statement, error) {
	p, err := scan(sql)
	if err != nil {
		return Statement{}, err
	}
	if len(p.named) > 0 {
		return Statement{}, fmt.Errorf("%w: statement uses named placeholders (@%s) but %d positional values were supplied",
			ErrParameterCountMismatch, p.named[0].Name(), len(values))
	}

	seen := make(map[int]bool)
	highest := 0
	for _, tok := range p.positional {
		n, err := strconv.Atoi(tok.Text[1:])
		if err != nil || n < 1 {
			return Statement{}, fmt.Errorf("%w: invalid placeholder %s", ErrParameterCountMismatch, tok.Text)
		}
		seen[n] = true
		if n > highest {
			highest = n
		}
	}
	if highest != len(values) {
		return Statement{}, fmt.Errorf("%w: statement references %d positional placeholders, %d values supplied",
			ErrParameterCountMismatch, highest, len(values))
	}
	for i := 1; i <= highest; i++ {
		if !seen[i] {
			return Statement{}, fmt.Errorf("%w: placeholder $%d is never referenced", ErrParameterCountMismatch, i)
		}
	}

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = Normalize(v)
	}
	return Statement{SQL: sql, Args: args}, nil
}

// Named rewrites @name placeholders to $k in order of first appearance and
// binds values accordingly. Repeated names reuse the same $k. Every referenced
// name must be present in values and every key in values must be referenced.
func Named(sql string, values map[string]any) (Statement, error) {
	p, err := scan(sql)
	if err != nil {
		return Statement{}, err
	}
	if len(p.positional) > 0 {
		return Statement{}, fmt.Errorf("%w: statement uses positional placeholders (%s) but named values were supplied",
			ErrParameterCountMismatch, p.positional[0].Text)
	}

	index := make(map[string]int)
	var args []any
	var b strings.Builder
	last := 0
	for _, tok := range p.named {
		name := tok.Name()
		k, ok := index[name]
		if !ok {
			v, present := values[name]
			if !present {
				return Statement{}, fmt.Errorf("%w: no value supplied for @%s", ErrParameterCountMismatch, name)
			}
			args = append(args, Normalize(v))
			k = len(args)
			index[name] = k
		}
		b.WriteString(sql[last:tok.Start])
		b.WriteString("$")
		b.WriteString(strconv.Itoa(k))
		last = tok.End
	}
	b.WriteString(sql[last:])

	var unused []string
	for name := range values {
		if _, ok := index[name]; !ok {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return Statement{}, fmt.Errorf("%w: values supplied for unreferenced parameters: %s",
			ErrParameterCountMismatch, strings.Join(unused, ", "))
	}
	return Statement{SQL: b.String(), Args: args}, nil
}

// Normalize converts a JSON-decoded value into the form handed to the driver.
// Whole float64 numbers become int64 so integer columns accept them; nil stays
// nil (SQL NULL). Arrays are normalized element-wise. Everything else is
// returned unchanged.
func Normalize(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && val >= math.MinInt64 && val < math.MaxInt64 {
			return int64(val)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	default:
		return v
	}
}

// HasTopLevelLimit reports whether sql carries a LIMIT or FETCH clause outside
// any parentheses.
func HasTopLevelLimit(sql string) bool {
	tokens, err := sqllex.Lex(sql)
	if err != nil {
		return false
	}
	for _, tok := range tokens {
		if tok.Depth != 0 {
			continue
		}
		switch tok.Keyword() {
		case "LIMIT", "FETCH":
			return true
		}
	}
	return false
}

// WithRowLimit wraps st in a bounding subquery limited to n rows. The limit is
// bound as the next positional parameter. Statements that already carry a
// top-level LIMIT or FETCH are returned unchanged, as is st when n <= 0.
func WithRowLimit(st Statement, n int) Statement {
	if n <= 0 || HasTopLevelLimit(st.SQL) {
		return st
	}
	body := trimTrailingSeparators(st.SQL)
	args := make([]any, len(st.Args), len(st.Args)+1)
	copy(args, st.Args)
	args = append(args, int64(n))
	// Newlines keep a trailing line comment from swallowing the closing paren.
	sql := "SELECT * FROM (\n" + body + "\n) AS bounded LIMIT $" + strconv.Itoa(len(args))
	return Statement{SQL: sql, Args: args}
}

func trimTrailingSeparators(sql string) string {
	tokens, err := sqllex.Lex(sql)
	if err != nil {
		return sql
	}
	end := len(sql)
	for i := len(tokens) - 1; i >= 0; i-- {
		switch tokens[i].Kind {
		case sqllex.Semicolon:
			end = tokens[i].Start
		case sqllex.Comment:
			continue
		default:
			return strings.TrimRightFunc(sql[:end], isSpace)
		}
	}
	return strings.TrimRightFunc(sql[:end], isSpace)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}
