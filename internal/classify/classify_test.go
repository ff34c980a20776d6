package classify

import (
	"strings"
	"testing"

	"github.com/rickchristie/pgsafe/internal/sqllex"
)

func mustTokens(t *testing.T, sql string) []sqllex.Token {
	t.Helper()
	tokens, err := sqllex.Lex(sql)
	if err != nil {
		t.Fatalf("Lex(%q): %v", sql, err)
	}
	return tokens
}

func assertKind(t *testing.T, sql string, want Kind) Result {
	t.Helper()
	got := Classify(sql)
	if got.Kind != want {
		t.Fatalf("Classify(%q): expected %s, got %s (%s)", sql, want, got.Kind, got.Reason)
	}
	if got.Reason == "" {
		t.Fatalf("Classify(%q): expected a reason, got empty string", sql)
	}
	return got
}

func TestReadOnlySelects(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT 1",
		"select * from users",
		"SELECT * FROM users WHERE id = $1",
		"SELECT * FROM users WHERE name = @name",
		"  \n\tSELECT 1  ",
		"SELECT 1;",
		"-- leading comment\nSELECT 1",
		"/* block */ SELECT 1",
		"SELECT 'DROP TABLE users' AS label",
		`SELECT "update" FROM audit`,
		"SELECT updated_at, created_by FROM events",
		"WITH recent AS (SELECT * FROM orders WHERE created_at > now() - interval '1 day') SELECT count(*) FROM recent",
		"SELECT a FROM t UNION ALL SELECT b FROM u",
		"SELECT data @> '{\"a\":1}' FROM docs",
		"SELECT data ? 'key' FROM docs",
		"SELECT * FROM t ORDER BY id LIMIT 10 OFFSET 5",
		"SELECT $$ DELETE FROM t $$",
	}
	for _, sql := range cases {
		assertKind(t, sql, ReadOnly)
	}
}

func TestMutatingLeadingKeywords(t *testing.T) {
	t.Parallel()
	cases := []string{
		"INSERT INTO t VALUES (1)",
		"update t set x = 1",
		"DELETE FROM t",
		"DROP TABLE t",
		"ALTER TABLE t ADD COLUMN c int",
		"CREATE TABLE t (id int)",
		"TRUNCATE t",
		"GRANT SELECT ON t TO bob",
		"REVOKE SELECT ON t FROM bob",
		"MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE",
		"COPY t TO STDOUT",
		"/* hide */ DELETE FROM t",
		"-- comment\nDROP TABLE t",
	}
	for _, sql := range cases {
		got := Classify(sql)
		if got.Kind == ReadOnly {
			t.Fatalf("Classify(%q): mutating statement classified ReadOnly", sql)
		}
		assertKind(t, sql, Mutating)
	}
}

func TestMultiStatementRejected(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT * FROM t; DROP TABLE t",
		"SELECT 1; SELECT 2",
		"SELECT 1;--",
		"SELECT 1; -- trailing",
		"SELECT 1; /* trailing */",
	}
	for _, sql := range cases {
		assertKind(t, sql, Ambiguous)
	}
}

func TestMutatingKeywordInsideSelect(t *testing.T) {
	t.Parallel()
	got := assertKind(t, "WITH gone AS (DELETE FROM t RETURNING *) SELECT * FROM gone", Ambiguous)
	if !strings.Contains(got.Reason, "DELETE") {
		t.Fatalf("expected reason to name DELETE, got %q", got.Reason)
	}
	assertKind(t, "WITH x AS (INSERT INTO t VALUES (1) RETURNING id) SELECT id FROM x", Ambiguous)
	assertKind(t, "SELECT * FROM (UPDATE t SET a = 1 RETURNING *) s", Ambiguous)
}

func TestUnrecognizedStatements(t *testing.T) {
	t.Parallel()
	cases := []string{
		"",
		"   ",
		"-- only a comment",
		";",
		"EXPLAIN SELECT 1",
		"SHOW search_path",
		"VACUUM t",
		"SET search_path = evil",
		"DO $$ BEGIN DELETE FROM t; END $$",
		"CALL proc()",
		"(SELECT 1)",
		"VALUES (1)",
		"BEGIN",
	}
	for _, sql := range cases {
		assertKind(t, sql, Ambiguous)
	}
}

func TestLockingClausesAreAmbiguous(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT * FROM t FOR UPDATE",
		"SELECT * FROM t WHERE id = 1 FOR NO KEY UPDATE",
		"SELECT * FROM t FOR SHARE",
		"SELECT * FROM t FOR KEY SHARE",
		"select * from t for update skip locked",
	}
	for _, sql := range cases {
		got := assertKind(t, sql, Ambiguous)
		if !strings.Contains(got.Reason, "lock") {
			t.Fatalf("Classify(%q): expected locking reason, got %q", sql, got.Reason)
		}
	}
}

func TestSelectIntoIsAmbiguous(t *testing.T) {
	t.Parallel()
	assertKind(t, "SELECT * INTO new_table FROM t", Ambiguous)
}

func TestUnterminatedIsAmbiguous(t *testing.T) {
	t.Parallel()
	assertKind(t, "SELECT 'abc", Ambiguous)
	assertKind(t, "SELECT 1 /* open", Ambiguous)
}

func TestNamedPlaceholdersWithKeywordNames(t *testing.T) {
	t.Parallel()
	cases := []string{
		"SELECT * FROM events WHERE ts BETWEEN @from AND @to",
		"SELECT * FROM events ORDER BY ts LIMIT @limit OFFSET @offset",
		"SELECT * FROM events WHERE grp = @group",
		"SELECT * FROM events WHERE a = @select OR b = @select",
		"SELECT * FROM events WHERE note = @update",
	}
	for _, sql := range cases {
		assertKind(t, sql, ReadOnly)
	}
}

func TestWithParams(t *testing.T) {
	t.Parallel()
	sql := "SELECT * FROM t WHERE a = @from AND b = '@to' AND c = @limit OR d = @from"
	tokens := mustTokens(t, sql)
	want := "SELECT * FROM t WHERE a = $1 AND b = '@to' AND c = $2 OR d = $1"
	if got := withParams(sql, tokens); got != want {
		t.Fatalf("withParams:\n got  %q\n want %q", got, want)
	}
	if got := withParams("SELECT 1", mustTokens(t, "SELECT 1")); got != "SELECT 1" {
		t.Fatalf("expected statement unchanged, got %q", got)
	}
}

func TestAtOperatorsStayReadOnly(t *testing.T) {
	t.Parallel()
	assertKind(t, "SELECT * FROM docs WHERE tsv @@ to_tsquery($1)", ReadOnly)
	assertKind(t, "SELECT * FROM docs WHERE tsv @@to_tsquery($1)", ReadOnly)
	assertKind(t, "SELECT @ x FROM t", ReadOnly)
}

func TestParserConfirmationDowngrades(t *testing.T) {
	t.Parallel()
	// Lexically a SELECT, but not valid SQL.
	got := assertKind(t, "SELECT FROM FROM WHERE", Ambiguous)
	if !strings.Contains(got.Reason, "parse") {
		t.Fatalf("expected parse error reason, got %q", got.Reason)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	if ReadOnly.String() != "read_only" || Mutating.String() != "mutating" || Ambiguous.String() != "ambiguous" {
		t.Fatalf("unexpected kind strings: %s %s %s", ReadOnly, Mutating, Ambiguous)
	}
}
