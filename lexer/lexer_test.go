package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// represents a test case for Lex: source text in, expected token kinds and
// lexemes out. Mirrors the teacher's TestConsumeToken table shape in
// lexer/lexer_test.go.
type lexCase struct {
	name     string
	input    string
	expected []Token
}

func TestLex_ModuleSkeleton(t *testing.T) {
	tests := []lexCase{
		{
			name:  "empty module",
			input: `(module)`,
			expected: []Token{
				NewToken(LParen, "("),
				NewToken(Keyword, "module"),
				NewToken(RParen, ")"),
			},
		},
		{
			name:  "nested parens",
			input: `(module (func))`,
			expected: []Token{
				NewToken(LParen, "("),
				NewToken(Keyword, "module"),
				NewToken(LParen, "("),
				NewToken(Keyword, "func"),
				NewToken(RParen, ")"),
				NewToken(RParen, ")"),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			toks, err := Lex(tc.input)
			require.NoError(t, err)
			require.Len(t, toks, len(tc.expected))
			for i, want := range tc.expected {
				assert.Equal(t, want.Kind, toks[i].Kind, "token %d kind", i)
				assert.Equal(t, want.Lexeme, toks[i].Lexeme, "token %d lexeme", i)
			}
		})
	}
}

func TestLex_Literals(t *testing.T) {
	toks, err := Lex(`i32.const 42 -7 3.14 "hi\20there"`)
	require.NoError(t, err)
	require.Len(t, toks, 5)
	assert.Equal(t, Opcode, toks[0].Kind)
	assert.Equal(t, "i32.const", toks[0].Lexeme)
	assert.Equal(t, Nat, toks[1].Kind)
	assert.Equal(t, Int, toks[2].Kind)
	assert.Equal(t, Float, toks[3].Kind)
	assert.Equal(t, Text, toks[4].Kind)
	assert.Equal(t, "hi there", toks[4].Lexeme)
}

func TestLex_SymbolicName(t *testing.T) {
	toks, err := Lex(`$my-func.1`)
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, Symbol, toks[0].Kind)
	assert.Equal(t, "$my-func.1", toks[0].Lexeme)
}

func TestLex_LineAndBlockComments(t *testing.T) {
	toks, err := Lex("(module ;; a comment\n (; nested (; block ;) comment ;) (func))")
	require.NoError(t, err)
	var kinds []Kind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []Kind{LParen, Keyword, LParen, Keyword, RParen, RParen}, kinds)
}

func TestLex_OpcodeDenormalizesStackEffect(t *testing.T) {
	toks, err := Lex(`i32.add`)
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, byte(0x6A), toks[0].OpcodeInfo.Byte)
	assert.Len(t, toks[0].OpcodeInfo.Effect.Pop, 2)
	assert.Len(t, toks[0].OpcodeInfo.Effect.Push, 1)
}

func TestLex_PositionTracking(t *testing.T) {
	toks, err := Lex("(module\n  (func))")
	require.NoError(t, err)
	require.True(t, len(toks) >= 3)
	// the second "(module" line's indented "(func" should be on line 2
	for _, tok := range toks {
		if tok.Kind == Keyword && tok.Lexeme == "func" {
			assert.Equal(t, 2, tok.Line)
		}
	}
}

func TestLex_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unterminated string", `"abc`},
		{"unterminated block comment", `(; never closes`},
		{"unknown character", "`"},
		{"empty symbol", "$ "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Lex(tc.input)
			require.Error(t, err)
			var lexErr *LexError
			assert.ErrorAs(t, err, &lexErr)
		})
	}
}
