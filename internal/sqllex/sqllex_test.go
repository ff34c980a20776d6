package sqllex

import (
	"errors"
	"strings"
	"testing"
)

func kinds(tokens []Token) []Kind {
	out := make([]Kind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func mustLex(t *testing.T, sql string) []Token {
	t.Helper()
	tokens, err := Lex(sql)
	if err != nil {
		t.Fatalf("unexpected error lexing %q: %v", sql, err)
	}
	return tokens
}

func TestLexSimpleSelect(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "SELECT id FROM users WHERE id = $1;")
	want := []Kind{Word, Word, Word, Word, Word, Word, Operator, Positional, Semicolon}
	got := kinds(tokens)
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if tokens[7].Text != "$1" {
		t.Fatalf("expected placeholder text $1, got %q", tokens[7].Text)
	}
}

func TestLexKeywordsInsideLiteralsAreHidden(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT 'DROP TABLE users'",
		"SELECT 'it''s; DELETE'",
		`SELECT E'\'; DELETE FROM t; --'`,
		"SELECT $$ DELETE FROM t $$",
		"SELECT $body$ INSERT INTO t $body$",
		`SELECT "delete" FROM t`,
		"SELECT 1 -- DROP TABLE t",
		"SELECT /* UPDATE t SET x = 1 */ 1",
		"SELECT /* outer /* nested */ DELETE */ 1",
	}
	for _, sql := range cases {
		tokens := mustLex(t, sql)
		for _, tok := range tokens {
			switch tok.Keyword() {
			case "DROP", "DELETE", "INSERT", "UPDATE":
				t.Fatalf("keyword %s leaked out of literal in %q", tok.Keyword(), sql)
			}
		}
	}
}

func TestLexPlaceholders(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "SELECT * FROM t WHERE a = @first AND b = $12 AND c::text = @first_2 AND d @> '{}'")
	var positional, named []string
	for _, tok := range tokens {
		switch tok.Kind {
		case Positional:
			positional = append(positional, tok.Text)
		case Named:
			named = append(named, tok.Name())
		}
	}
	if len(positional) != 1 || positional[0] != "$12" {
		t.Fatalf("expected [$12], got %v", positional)
	}
	if len(named) != 2 || named[0] != "first" || named[1] != "first_2" {
		t.Fatalf("expected [first first_2], got %v", named)
	}
}

func TestLexPlaceholderInsideStringIsData(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "SELECT '$1', '@name', $$ $2 $$")
	for _, tok := range tokens {
		if tok.Kind == Positional || tok.Kind == Named {
			t.Fatalf("unexpected placeholder token %q", tok.Text)
		}
	}
}

func TestLexDepth(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "SELECT (SELECT 1) LIMIT 5")
	for _, tok := range tokens {
		if tok.Keyword() == "LIMIT" && tok.Depth != 0 {
			t.Fatalf("expected LIMIT at depth 0, got %d", tok.Depth)
		}
		if tok.Text == "1" && tok.Depth != 1 {
			t.Fatalf("expected inner literal at depth 1, got %d", tok.Depth)
		}
	}
}

func TestLexIdentifierWithDollar(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "SELECT foo$bar FROM t")
	if tokens[1].Kind != Word || tokens[1].Text != "foo$bar" {
		t.Fatalf("expected word foo$bar, got %s %q", tokens[1].Kind, tokens[1].Text)
	}
}

func TestLexUnterminated(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT 'abc",
		`SELECT "abc`,
		"SELECT /* never closed",
		"SELECT $$ body",
		`SELECT E'abc\'`,
	}
	for _, sql := range cases {
		_, err := Lex(sql)
		var se *ScanError
		if !errors.As(err, &se) {
			t.Fatalf("expected ScanError for %q, got %v", sql, err)
		}
	}
}

func TestLexNamedPlaceholderKeywords(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "SELECT * FROM EVENTS WHERE TS BETWEEN @from AND @to AND GRP = @group LIMIT @limit OFFSET @offset")
	var named []string
	for _, tok := range tokens {
		// Statement keywords are written upper-case; lower-case words can
		// only come from placeholder names.
		if tok.Kind == Word && tok.Text != strings.ToUpper(tok.Text) {
			t.Fatalf("placeholder name %q leaked as a word", tok.Text)
		}
		if tok.Kind == Named {
			named = append(named, tok.Name())
		}
	}
	want := []string{"from", "to", "group", "limit", "offset"}
	if len(named) != len(want) {
		t.Fatalf("expected %v, got %v", want, named)
	}
	for i := range want {
		if named[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, named)
		}
	}
}

func TestLexAtOperatorsAreNotPlaceholders(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT * FROM docs WHERE tsv @@to_tsquery($1)",
		"SELECT * FROM docs WHERE tsv @@ to_tsquery($1)",
		"SELECT @ x FROM t",
		"SELECT * FROM t WHERE tags @>array['a']",
		"SELECT * FROM t WHERE id=@id",
	}
	for _, sql := range cases {
		for _, tok := range mustLex(t, sql) {
			if tok.Kind == Named {
				t.Fatalf("unexpected named placeholder %q in %q", tok.Text, sql)
			}
		}
	}
}

func TestWithoutComments(t *testing.T) {
	t.Parallel()
	tokens := mustLex(t, "-- leading\n/* block */ SELECT 1")
	got := WithoutComments(tokens)
	if len(got) != 2 || got[0].Keyword() != "SELECT" {
		t.Fatalf("expected [SELECT 1], got %v", got)
	}
}
