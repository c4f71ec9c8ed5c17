package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcnc-org/Snow-sub003/internal/token"
)

func collect(t *testing.T, src string) []token.Token {
	t.Helper()
	l := New(src)
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return toks
}

func TestKeywordsAndTypesAndIdents(t *testing.T) {
	toks := collect(t, "module function declare const byte int double foo_bar True")

	want := []token.Kind{
		token.MODULE, token.FUNCTION, token.DECLARE, token.CONST,
		token.TYPE_BYTE, token.TYPE_INT, token.TYPE_DOUBLE,
		token.IDENT, token.IDENT, token.EOF,
	}
	require.Len(t, toks, len(want))
	for i, k := range want {
		assert.Equalf(t, k, toks[i].Kind, "token %d (%q)", i, toks[i].Lexeme)
	}
}

func TestBooleanLiterals(t *testing.T) {
	toks := collect(t, "true false")
	require.Len(t, toks, 3)
	assert.Equal(t, token.BOOL, toks[0].Kind)
	assert.Equal(t, "true", toks[0].Lexeme)
	assert.Equal(t, token.BOOL, toks[1].Kind)
	assert.Equal(t, "false", toks[1].Lexeme)
}

func TestOperatorsGreedyLongestMatch(t *testing.T) {
	toks := collect(t, "== != <= >= && || = ! < > : , . ( ) [ ]")
	want := []token.Kind{
		token.EQ, token.NE, token.LE, token.GE, token.AND, token.OR,
		token.ASSIGN, token.NOT, token.LT, token.GT, token.COLON,
		token.COMMA, token.DOT, token.LPAREN, token.RPAREN,
		token.LBRACKET, token.RBRACKET, token.EOF,
	}
	require.Len(t, toks, len(want))
	for i, k := range want {
		assert.Equal(t, k, toks[i].Kind)
	}
}

func TestNumberSuffixesAndDefaults(t *testing.T) {
	cases := []struct {
		src       string
		isFloat   bool
		suffix    token.NumberSuffix
		digits    string
	}{
		{"42", false, token.SuffixNone, "42"},
		{"42i", false, token.SuffixInt, "42"},
		{"42L", false, token.SuffixLong, "42"},
		{"3.14", true, token.SuffixNone, "3.14"},
		{"3.14f", true, token.SuffixFloat, "3.14"},
		{"1_000_000", false, token.SuffixNone, "1000000"},
		{"9B", false, token.SuffixByte, "9"},
	}
	for _, c := range cases {
		l := New(c.src)
		tok := l.NextToken()
		assert.Equalf(t, token.NUMBER, tok.Kind, "src=%q", c.src)
		assert.Equalf(t, c.digits, tok.Lexeme, "src=%q", c.src)
		assert.Equalf(t, c.isFloat, tok.IsFloat, "src=%q", c.src)
		assert.Equalf(t, c.suffix, tok.NumSuffix, "src=%q", c.src)
		assert.Empty(t, l.Errors(), "src=%q", c.src)
	}
}

func TestNumberErrors(t *testing.T) {
	l := New("3.q")
	l.NextToken()
	require.NotEmpty(t, l.Errors(), "dot not followed by digit should be a LexError")

	l = New("3q")
	l.NextToken()
	require.NotEmpty(t, l.Errors(), "non-suffix letter abutting digits should be a LexError")

	l = New("3 L")
	l.NextToken()
	require.NotEmpty(t, l.Errors(), "whitespace before suffix letter should be a LexError")
}

func TestStringEscapesAndUnicodeEscape(t *testing.T) {
	l := New(`"line\ntab\tquote\"back\\slashA"`)
	tok := l.NextToken()
	require.Equal(t, token.STRING, tok.Kind)
	assert.Equal(t, "line\ntab\tquote\"back\\slashA", tok.Lexeme)
	assert.Empty(t, l.Errors())
}

func TestUnterminatedStringRecoversAtNewline(t *testing.T) {
	l := New("\"abc\ndeclare")
	tok := l.NextToken()
	assert.Equal(t, token.STRING, tok.Kind)
	require.NotEmpty(t, l.Errors())

	next := l.NextToken()
	assert.Equal(t, token.NEWLINE, next.Kind, "lexing continues past the faulty token")

	decl := l.NextToken()
	assert.Equal(t, token.DECLARE, decl.Kind)
}

func TestCommentsLineAndBlockNonNesting(t *testing.T) {
	toks := collect(t, "declare // trailing comment\nx /* /* inner */ still-comment */ int")
	var kinds []token.Kind
	for _, tk := range toks {
		kinds = append(kinds, tk.Kind)
	}
	assert.Contains(t, kinds, token.DECLARE)
	assert.Contains(t, kinds, token.IDENT)
	assert.Contains(t, kinds, token.TYPE_INT)
}

func TestNewlineNormalization(t *testing.T) {
	for _, src := range []string{"a\nb", "a\rb", "a\r\nb"} {
		toks := collect(t, src)
		require.Len(t, toks, 4, "src=%q", src)
		assert.Equal(t, token.NEWLINE, toks[1].Kind, "src=%q", src)
	}
}

func TestLineColTracking(t *testing.T) {
	toks := collect(t, "declare x\ndeclare y")
	require.True(t, len(toks) >= 6)
	assert.Equal(t, 1, toks[0].Line)
	// after the newline the next declare is on line 2
	var secondDeclareLine int
	seen := 0
	for _, tk := range toks {
		if tk.Kind == token.DECLARE {
			seen++
			if seen == 2 {
				secondDeclareLine = tk.Line
			}
		}
	}
	assert.Equal(t, 2, secondDeclareLine)
}

func TestIllegalCharacter(t *testing.T) {
	l := New("@")
	tok := l.NextToken()
	assert.Equal(t, token.ILLEGAL, tok.Kind)
	require.NotEmpty(t, l.Errors())
}

// TestRoundTrip exercises the lexer round-trip invariant of spec.md §8:
// the concatenation of token lexemes separated by single spaces
// reproduces the source up to whitespace/comment equivalence.
func TestRoundTrip(t *testing.T) {
	src := "module: M\n  function: main returns: int\n"
	l := New(src)
	var lexemes []string
	for {
		tok := l.NextToken()
		if tok.Kind == token.EOF {
			break
		}
		if tok.Kind == token.NEWLINE {
			lexemes = append(lexemes, "\n")
			continue
		}
		lexemes = append(lexemes, tok.Lexeme)
	}
	rebuilt := ""
	for i, lx := range lexemes {
		if i > 0 && lx != "\n" && lexemes[i-1] != "\n" {
			rebuilt += " "
		}
		rebuilt += lx
	}
	assert.Equal(t, "module : M\nfunction : main returns : int\n", rebuilt)
}
