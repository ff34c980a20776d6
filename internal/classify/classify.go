// Package classify decides whether a SQL statement is strictly read-only.
//
// Classification is lexical first: the statement is tokenized, leading
// comments are skipped and the keyword stream is checked for a SELECT/WITH
// opener, statement separators, mutating keywords and row-locking clauses.
// A statement that passes is then confirmed by PostgreSQL's own parser
// (pg_query). The confirmation can only downgrade a ReadOnly verdict to
// Ambiguous, never upgrade one.
//
// This is a conservative gate, not a semantic analyzer. A SELECT that calls a
// side-effecting function (nextval, set_config, pg_terminate_backend, or a
// vendor extension) is syntactically read-only and is classified ReadOnly.
// Callers that execute ReadOnly statements must still run them inside a
// read-only transaction.
package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rickchristie/pgsafe/internal/sqllex"
)

// Kind is the verdict of a classification.
type Kind int

const (
	// Ambiguous statements could not be confidently proven read-only and are
	// treated as unsafe.
	Ambiguous Kind = iota
	ReadOnly
	Mutating
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "read_only"
	case Mutating:
		return "mutating"
	default:
		return "ambiguous"
	}
}

// Result is a terminal classification. Reason is a human-readable explanation
// suitable for returning to the caller.
type Result struct {
	Kind   Kind
	Reason string
}

// mutatingKeywords cause a statement to be rejected wherever they appear,
// including inside CTEs and subqueries.
var mutatingKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"MERGE":    true,
	"COPY":     true,
}

// Classify returns the classification of statement. It never returns ReadOnly
// for input it cannot confidently recognise.
func Classify(statement string) Result {
	all, err := sqllex.Lex(statement)
	if err != nil {
		return ambiguous("%v", err)
	}

	// Leading comments are stripped; everything after a separator, comments
	// included, makes the statement a batch.
	start := 0
	for start < len(all) && all[start].Kind == sqllex.Comment {
		start++
	}
	all = all[start:]
	if len(all) == 0 {
		return ambiguous("empty statement")
	}
	for i, tok := range all {
		if tok.Kind != sqllex.Semicolon {
			continue
		}
		for _, rest := range all[i+1:] {
			if rest.Kind == sqllex.Comment {
				return ambiguous("content after statement separator: a ';' followed by a comment is not allowed")
			}
			if rest.Kind != sqllex.Semicolon {
				return ambiguous("multiple statements are not allowed")
			}
		}
		all = all[:i]
		break
	}

	tokens := sqllex.WithoutComments(all)
	if len(tokens) == 0 {
		return ambiguous("empty statement")
	}

	first := tokens[0].Keyword()
	if mutatingKeywords[first] {
		return Result{Kind: Mutating, Reason: fmt.Sprintf("%s statements modify the database", first)}
	}
	if first != "SELECT" && first != "WITH" {
		if first == "" {
			return ambiguous("statement does not begin with a keyword")
		}
		return ambiguous("unrecognized statement type %s: only SELECT and WITH ... SELECT are read-only", first)
	}

	for i, tok := range tokens {
		kw := tok.Keyword()
		if mutatingKeywords[kw] {
			if kw == "UPDATE" && i > 0 && isLockingPrefix(tokens, i) {
				return ambiguous("row-locking clause FOR UPDATE acquires locks and is not treated as read-only")
			}
			return ambiguous("statement contains mutating keyword %s", kw)
		}
		if kw == "FOR" && i+1 < len(tokens) {
			switch tokens[i+1].Keyword() {
			case "SHARE", "UPDATE", "NO", "KEY":
				return ambiguous("row-locking clause FOR %s acquires locks and is not treated as read-only", tokens[i+1].Keyword())
			}
		}
		if kw == "INTO" {
			return ambiguous("SELECT ... INTO creates a table")
		}
	}

	return confirm(withParams(statement, tokens))
}

// withParams replaces each @name placeholder with $k so the parser sees a
// parameter instead of the @ operator applied to a word that may be a
// keyword, as in LIMIT @limit.
func withParams(statement string, tokens []sqllex.Token) string {
	var b strings.Builder
	index := make(map[string]int)
	last := 0
	for _, tok := range tokens {
		if tok.Kind != sqllex.Named {
			continue
		}
		k, ok := index[tok.Name()]
		if !ok {
			k = len(index) + 1
			index[tok.Name()] = k
		}
		b.WriteString(statement[last:tok.Start])
		b.WriteString("$" + strconv.Itoa(k))
		last = tok.End
	}
	if last == 0 {
		return statement
	}
	b.WriteString(statement[last:])
	return b.String()
}

// isLockingPrefix reports whether the UPDATE at tokens[i] is the tail of a
// FOR UPDATE or FOR NO KEY UPDATE clause.
func isLockingPrefix(tokens []sqllex.Token, i int) bool {
	prev := tokens[i-1].Keyword()
	if prev == "FOR" {
		return true
	}
	return prev == "KEY" && i >= 3 && tokens[i-2].Keyword() == "NO" && tokens[i-3].Keyword() == "FOR"
}

func ambiguous(format string, args ...interface{}) Result {
	return Result{Kind: Ambiguous, Reason: fmt.Sprintf(format, args...)}
}

// Summary is a short single-line form of the result, used in log events.
func (r Result) Summary() string {
	return r.Kind.String() + ": " + strings.TrimSpace(r.Reason)
}
