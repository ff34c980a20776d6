// Package sqllex splits PostgreSQL statement text into tokens for keyword and
// placeholder detection. Tokenizing is done by PostgreSQL's own scanner
// (pg_query), so a keyword or placeholder inside a string literal, a quoted
// identifier, a dollar-quoted body or a comment is never reported. It is not
// a parser.
//
// A named placeholder is a lone @ operator immediately followed by an
// identifier or keyword, as in "id = @id" or "LIMIT @limit". The scanner folds
// runs of operator characters into one operator, so "tsv @@ q" and "id=@id"
// contain no placeholder. The absolute value operator must be separated from
// its operand ("@ x") to stay an operator.
package sqllex

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Kind identifies the class of a token.
type Kind int

const (
	Word        Kind = iota // keyword or bare identifier
	QuotedIdent             // "identifier", U&"identifier"
	String                  // 'literal', E'literal', $tag$body$tag$, B'', X''
	Number
	Positional // $1
	Named      // @name
	Semicolon
	LParen
	RParen
	Comment // -- line or /* block */
	Operator
)

func (k Kind) String() string {
	switch k {
	case Word:
		return "word"
	case QuotedIdent:
		return "quoted_ident"
	case String:
		return "string"
	case Number:
		return "number"
	case Positional:
		return "positional"
	case Named:
		return "named"
	case Semicolon:
		return "semicolon"
	case LParen:
		return "lparen"
	case RParen:
		return "rparen"
	case Comment:
		return "comment"
	case Operator:
		return "operator"
	default:
		return "unknown"
	}
}

// Token is a single lexical unit. Start and End are byte offsets into the
// original statement. Depth is the parenthesis nesting level the token sits at.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
	Depth int
}

// Keyword returns the upper-cased text of a Word token, or "" for any other kind.
func (t Token) Keyword() string {
	if t.Kind != Word {
		return ""
	}
	return strings.ToUpper(t.Text)
}

// Name returns the placeholder name of a Named token without the leading '@'.
func (t Token) Name() string {
	if t.Kind != Named {
		return ""
	}
	return t.Text[1:]
}

// ScanError is returned when the scanner rejects the statement, for example
// an unterminated literal, quoted identifier or comment.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("cannot tokenize statement: %v", e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Lex tokenizes sql. Whitespace is dropped; comments are kept as Comment tokens.
func Lex(sql string) ([]Token, error) {
	result, err := pg_query.Scan(sql)
	if err != nil {
		return nil, &ScanError{Err: err}
	}

	tokens := make([]Token, 0, len(result.Tokens))
	depth := 0
	for i := 0; i < len(result.Tokens); i++ {
		st := result.Tokens[i]
		start, end := int(st.Start), int(st.End)
		kind := kindOf(st, sql[start:end])

		if kind == Operator && sql[start:end] == "@" && i+1 < len(result.Tokens) {
			next := result.Tokens[i+1]
			if int(next.Start) == end && kindOf(next, sql[next.Start:next.End]) == Word {
				end = int(next.End)
				kind = Named
				i++
			}
		}

		if kind == RParen && depth > 0 {
			depth--
		}
		tokens = append(tokens, Token{Kind: kind, Text: sql[start:end], Start: start, End: end, Depth: depth})
		if kind == LParen {
			depth++
		}
	}
	return tokens, nil
}

func kindOf(st *pg_query.ScanToken, text string) Kind {
	switch st.Token {
	case pg_query.Token_IDENT:
		if strings.HasPrefix(text, `"`) {
			return QuotedIdent
		}
		return Word
	case pg_query.Token_UIDENT:
		return QuotedIdent
	case pg_query.Token_SCONST, pg_query.Token_USCONST, pg_query.Token_BCONST, pg_query.Token_XCONST:
		return String
	case pg_query.Token_ICONST, pg_query.Token_FCONST:
		return Number
	case pg_query.Token_PARAM:
		return Positional
	case pg_query.Token_ASCII_59:
		return Semicolon
	case pg_query.Token_ASCII_40:
		return LParen
	case pg_query.Token_ASCII_41:
		return RParen
	case pg_query.Token_SQL_COMMENT, pg_query.Token_C_COMMENT:
		return Comment
	}
	if st.KeywordKind != pg_query.KeywordKind_NO_KEYWORD {
		return Word
	}
	return Operator
}

// WithoutComments returns tokens with every Comment removed.
func WithoutComments(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind != Comment {
			out = append(out, t)
		}
	}
	return out
}
