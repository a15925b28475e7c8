package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/opcode"
	"github.com/tinywat/watc/tree"
)

func lower(t *testing.T, src string) *Module {
	t.Helper()
	toks, err := lexer.Lex(src)
	require.NoError(t, err)
	tr, err := tree.Build(toks)
	require.NoError(t, err)
	mod, err := Lower(tr)
	require.NoError(t, err)
	return mod
}

func lexemes(toks []lexer.Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Lexeme
	}
	return out
}

// Scenario 1: a single nop function with an empty signature and no exports.
func TestLower_NopFunction(t *testing.T) {
	mod := lower(t, `(module (func nop))`)
	require.Len(t, mod.TypeSection, 1)
	assert.Equal(t, SignatureType{}, mod.TypeSection[0])
	require.Len(t, mod.Functions, 1)
	assert.Equal(t, uint32(0), mod.Functions[0].TypeIndex)
	assert.Empty(t, mod.Exports)
	assert.Equal(t, []string{"nop"}, lexemes(FlatTokens(mod.Functions[0].Body)))
}

// Scenario 2: stack-form arithmetic, no folding.
func TestLower_StackFormArithmetic(t *testing.T) {
	mod := lower(t, `(module (func (result i32) i32.const 0 i32.const 0 i32.eq))`)
	require.Len(t, mod.TypeSection, 1)
	assert.Equal(t, SignatureType{Results: []opcode.ValType{opcode.I32}}, mod.TypeSection[0])
	got := lexemes(FlatTokens(mod.Functions[0].Body))
	assert.Equal(t, []string{"i32.const", "0", "i32.const", "0", "i32.eq"}, got)
}

// Scenario 3: folded operands unfold operator-last, immediates after.
func TestLower_FoldedOperandsUnfoldInStackOrder(t *testing.T) {
	mod := lower(t, `(module (func (param $a f64) (param $b f64) (result f64)
		(f64.add (local.get $a) (local.get $b))))`)
	got := lexemes(FlatTokens(mod.Functions[0].Body))
	assert.Equal(t, []string{"local.get", "0", "local.get", "1", "f64.add"}, got)
}

// Scenario 4: inline export shorthand synthesizes an ExportExpression.
func TestLower_InlineExportShorthand(t *testing.T) {
	mod := lower(t, `(module (func (export "fn") (param) (result)))`)
	require.Len(t, mod.Exports, 1)
	assert.Equal(t, ExportExpression{Name: "fn", Kind: ExportFunc, Index: 0}, *mod.Exports[0])
	assert.Equal(t, SignatureType{}, mod.TypeSection[0])
}

// Scenario 5: a standalone export form forward-references a later function.
func TestLower_ExportResolvesForwardFunctionReference(t *testing.T) {
	mod := lower(t, `(module (func $a) (func $b) (export "x" (func $b)))`)
	require.Len(t, mod.Exports, 1)
	assert.Equal(t, uint32(1), mod.Exports[0].Index)
}

// Scenario 6: a labeled folded block unfolds to an explicit header and end.
func TestLower_FoldedBlockWithLabel(t *testing.T) {
	mod := lower(t, `(module (func (block $L nop)))`)
	body := mod.Functions[0].Body
	require.Len(t, body.Items, 1)
	block := body.Items[0]
	require.Equal(t, ExprBlock, block.Kind)
	assert.Equal(t, "block", block.BlockKind)
	assert.Equal(t, "$L", block.Label)
	assert.Equal(t, SignatureType{}, block.Signature)
	got := lexemes(FlatTokens(mod.Functions[0].Body))
	assert.Equal(t, []string{"block", "nop", "end"}, got)
}

// Negative: duplicate signatures across functions intern to one entry
// (invariant 1/2, and the "two functions, one entry" negative test).
func TestLower_DuplicateSignaturesInternToOneEntry(t *testing.T) {
	mod := lower(t, `(module
		(func $a (param i32) (result i32) local.get 0)
		(func $b (param i32) (result i32) local.get 0))`)
	require.Len(t, mod.TypeSection, 1)
	assert.Equal(t, uint32(0), mod.Functions[0].TypeIndex)
	assert.Equal(t, uint32(0), mod.Functions[1].TypeIndex)
}

// Negative: an unresolved local name is a NameError.
func TestLower_UnresolvedLocalIsNameError(t *testing.T) {
	toks, err := lexer.Lex(`(module (func (param $a i32) local.get $missing))`)
	require.NoError(t, err)
	tr, err := tree.Build(toks)
	require.NoError(t, err)
	_, err = Lower(tr)
	require.Error(t, err)
	var nerr *NameError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "$missing", nerr.Name)
}

// Negative: an unresolved branch label is a NameError.
func TestLower_UnresolvedLabelIsNameError(t *testing.T) {
	toks, err := lexer.Lex(`(module (func (block $L br $missing)))`)
	require.NoError(t, err)
	tr, err := tree.Build(toks)
	require.NoError(t, err)
	_, err = Lower(tr)
	require.Error(t, err)
	var nerr *NameError
	require.ErrorAs(t, err, &nerr)
}

// br resolves to the nesting depth of the matching label (invariant 6).
func TestLower_BranchResolvesNestingDepth(t *testing.T) {
	mod := lower(t, `(module (func (block $outer (block $inner br $outer))))`)
	outer := mod.Functions[0].Body.Items[0]
	inner := outer.Body.Items[0]
	brLeaf := inner.Body.Items[0]
	require.Equal(t, ExprLeaf, brLeaf.Kind)
	assert.Equal(t, "br", brLeaf.Leaf.Lexeme)
	brImm := inner.Body.Items[1]
	assert.Equal(t, "1", brImm.Leaf.Lexeme)
}

// Named parameters resolve to their declared slot (invariant 5).
func TestLower_NamedParamResolvesToDeclaredSlot(t *testing.T) {
	mod := lower(t, `(module (func (param $a i32) (param $b i32) (result i32) local.get $b))`)
	got := lexemes(FlatTokens(mod.Functions[0].Body))
	assert.Equal(t, []string{"local.get", "1"}, got)
}

// SPEC_FULL §4.6: all four export kinds are supported, not just func.
func TestLower_AllExportKindsSupported(t *testing.T) {
	mod := lower(t, `(module
		(table $t 1 funcref)
		(memory $m 1)
		(global $g i32 (i32.const 0))
		(export "t" (table $t))
		(export "m" (memory $m))
		(export "g" (global $g)))`)
	require.Len(t, mod.Exports, 3)
	assert.Equal(t, ExportTable, mod.Exports[0].Kind)
	assert.Equal(t, ExportMemory, mod.Exports[1].Kind)
	assert.Equal(t, ExportGlobal, mod.Exports[2].Kind)
}

// SPEC_FULL §4.6: an import occupies function index 0, ahead of any defined
// function.
func TestLower_ImportOccupiesFunctionIndexZero(t *testing.T) {
	mod := lower(t, `(module
		(import "env" "log" (func $log (param i32)))
		(func $main call $log))`)
	require.Len(t, mod.Imports, 1)
	got := lexemes(FlatTokens(mod.Functions[0].Body))
	assert.Equal(t, []string{"call", "0"}, got)
}

// SPEC_FULL §4.6: a start field resolves its function reference.
func TestLower_StartFieldResolvesReference(t *testing.T) {
	mod := lower(t, `(module (func $init nop) (start $init))`)
	require.NotNil(t, mod.Start)
	assert.Equal(t, uint32(0), *mod.Start)
}

// Unfold is idempotent on its own output (invariant 3).
func TestUnfold_IsIdempotent(t *testing.T) {
	mod := lower(t, `(module (func (param $a f64) (param $b f64) (result f64)
		(f64.add (local.get $a) (local.get $b))))`)
	once := Unfold(mod.Functions[0].Body)
	twice := Unfold(once)
	assert.Equal(t, lexemes(FlatTokens(once)), lexemes(FlatTokens(twice)))
}

// Unfold is the identity on a body with no s-expressions (invariant 4).
func TestUnfold_IdentityOnFlatBody(t *testing.T) {
	mod := lower(t, `(module (func (result i32) i32.const 1 i32.const 2 i32.add))`)
	before := lexemes(FlatTokens(mod.Functions[0].Body))
	after := lexemes(FlatTokens(Unfold(mod.Functions[0].Body)))
	assert.Equal(t, before, after)
}
