package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywat/watc/lexer"
)

func build(t *testing.T, src string) Tree {
	t.Helper()
	toks, err := lexer.Lex(src)
	require.NoError(t, err)
	tr, err := Build(toks)
	require.NoError(t, err)
	return tr
}

func TestBuild_EmptyModule(t *testing.T) {
	tr := build(t, `(module)`)
	mod := tr.Module()
	require.False(t, mod.IsLeaf())
	require.Len(t, mod.Children, 1)
	assert.Equal(t, "module", mod.Children[0].Leaf.Lexeme)
}

func TestBuild_NestedGroups(t *testing.T) {
	tr := build(t, `(module (func (param i32) (result i32) local.get 0))`)
	mod := tr.Module()
	require.Len(t, mod.Children, 2)
	funcNode := mod.Children[1]
	require.False(t, funcNode.IsLeaf())
	assert.Equal(t, "func", funcNode.Children[0].Leaf.Lexeme)
	assert.Equal(t, "param", funcNode.Children[1].Children[0].Leaf.Lexeme)
}

func TestBuild_UnbalancedParens(t *testing.T) {
	toks, err := lexer.Lex(`(module (func)`)
	require.NoError(t, err)
	_, err = Build(toks)
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestBuild_ExtraClosingParen(t *testing.T) {
	toks, err := lexer.Lex(`(module))`)
	require.NoError(t, err)
	_, err = Build(toks)
	require.Error(t, err)
}

func TestBuild_NoTopLevelForm(t *testing.T) {
	toks, err := lexer.Lex(`42`)
	require.NoError(t, err)
	_, err = Build(toks)
	require.Error(t, err)
}

func TestBuild_StrayTokensAfterModule(t *testing.T) {
	toks, err := lexer.Lex(`(module) (module)`)
	require.NoError(t, err)
	_, err = Build(toks)
	require.Error(t, err)
}

func TestStrings_DropsPositionMetadata(t *testing.T) {
	tr := build(t, `(module (func nop))`)
	st := Strings(tr)
	assert.Equal(t, "func", st.Children[1].Children[0].Leaf)
	assert.Equal(t, "nop", st.Children[1].Children[1].Leaf)
}
