package watc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywat/watc/check"
	"github.com/tinywat/watc/ir"
	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/tree"
)

func TestCompile_NopFunctionProducesValidMagicAndVersion(t *testing.T) {
	out, err := Compile(`(module (func nop))`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, out[:8])
}

func TestCompile_LexErrorPropagates(t *testing.T) {
	_, err := Compile(`(module (func "unterminated`)
	require.Error(t, err)
}

func TestCompile_TypeErrorPropagates(t *testing.T) {
	_, err := Compile(`(module (func (result i32) i32.const 0 i64.eq))`)
	require.Error(t, err)
	var terr *check.TypeError
	require.ErrorAs(t, err, &terr)
}

func TestParse_ReturnsModuleTree(t *testing.T) {
	pt, err := Parse(`(module (func nop))`)
	require.NoError(t, err)
	module := pt.Module()
	require.False(t, module.IsLeaf())
	assert.Equal(t, "module", module.Children[0].Leaf.Lexeme)
}

func TestGetStringParseTree_DropsPositionMetadata(t *testing.T) {
	st, err := GetStringParseTree(`(module (func nop))`)
	require.NoError(t, err)
	assert.Equal(t, "module", st.Children[0].Leaf)
}

func TestCompileParseTree_AcceptsOrdinaryParseTree(t *testing.T) {
	pt, err := Parse(`(module (func nop))`)
	require.NoError(t, err)
	out, err := CompileParseTree(pt)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, out[:8])
}

func TestCompileParseTree_AcceptsStringTreeAndReconstructsTokens(t *testing.T) {
	st, err := GetStringParseTree(`(module (func (export "f") (result i32) i32.const 42))`)
	require.NoError(t, err)
	out, err := CompileParseTree(st)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, out[:8])
}

func TestCompileParseTree_RejectsUnrelatedType(t *testing.T) {
	_, err := CompileParseTree(42)
	require.Error(t, err)
}

// direct-pipeline sanity check: lexer + tree + ir + check agree with what
// Compile produces end to end, so a break in any one stage surfaces here
// too.
func TestCompile_MatchesManualPipeline(t *testing.T) {
	src := `(module (func (param i32) (result i32) local.get 0 local.get 0 i32.add))`
	toks, err := lexer.Lex(src)
	require.NoError(t, err)
	tr, err := tree.Build(toks)
	require.NoError(t, err)
	mod, err := ir.Lower(tr)
	require.NoError(t, err)
	require.NoError(t, check.CheckModule(mod))

	out, err := Compile(src)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
