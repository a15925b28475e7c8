package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywat/watc/ir"
	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/opcode"
	"github.com/tinywat/watc/tree"
)

func lowerModule(t *testing.T, src string) *ir.Module {
	t.Helper()
	toks, err := lexer.Lex(src)
	require.NoError(t, err)
	tr, err := tree.Build(toks)
	require.NoError(t, err)
	mod, err := ir.Lower(tr)
	require.NoError(t, err)
	return mod
}

// Scenario 1: an empty entry/exit stack type-checks trivially.
func TestCheckModule_NopFunctionChecksTrivially(t *testing.T) {
	mod := lowerModule(t, `(module (func nop))`)
	assert.NoError(t, CheckModule(mod))
}

// Scenario 2: stack trace [] -> [i32] -> [i32,i32] -> [i32].
func TestCheckModule_StackFormArithmeticChecks(t *testing.T) {
	mod := lowerModule(t, `(module (func (result i32) i32.const 0 i32.const 0 i32.eq))`)
	assert.NoError(t, CheckModule(mod))
}

// Scenario 3: folded form with named params type-checks (f64,f64)->(f64).
func TestCheckModule_FoldedOperandsCheck(t *testing.T) {
	mod := lowerModule(t, `(module (func (param $a f64) (param $b f64) (result f64)
		(f64.add (local.get $a) (local.get $b))))`)
	assert.NoError(t, CheckModule(mod))
}

// Scenario 6: a labeled block with empty entry and exit stacks.
func TestCheckModule_EmptyBlockChecks(t *testing.T) {
	mod := lowerModule(t, `(module (func (block $L nop)))`)
	assert.NoError(t, CheckModule(mod))
}

// Negative: i32.const 0 i64.eq fails with the exact expected/got pair spec.md
// §8 names.
func TestCheckModule_OperandTypeMismatch(t *testing.T) {
	mod := lowerModule(t, `(module (func (result i32) i32.const 0 i64.eq))`)
	err := CheckModule(mod)
	require.Error(t, err)
	var terr *TypeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []opcode.ValType{opcode.I64, opcode.I64}, terr.Expected)
	assert.Equal(t, []opcode.ValType{opcode.I32}, terr.Got)
}

// A function whose body leaves the wrong type on the stack at its end is a
// TypeError naming the declared result types.
func TestCheckModule_FunctionEndStackMismatch(t *testing.T) {
	mod := lowerModule(t, `(module (func (result i32) f64.const 0))`)
	err := CheckModule(mod)
	require.Error(t, err)
	var terr *TypeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []opcode.ValType{opcode.I32}, terr.Expected)
}

// call's consumed/produced types resolve dynamically via the callee's
// signature.
func TestCheckModule_CallResolvesCalleeSignature(t *testing.T) {
	mod := lowerModule(t, `(module
		(func $double (param i32) (result i32) local.get 0 local.get 0 i32.add)
		(func (param i32) (result i32) local.get 0 call $double))`)
	assert.NoError(t, CheckModule(mod))
}

// call_indirect's type immediate indexes the interned type section and
// additionally pops the I32 table index on top of the callee's params.
func TestCheckModule_CallIndirectChecks(t *testing.T) {
	mod := lowerModule(t, `(module
		(table $t 1 funcref)
		(func (param i32) (result i32) local.get 0 local.get 0 call_indirect 0))`)
	assert.NoError(t, CheckModule(mod))
}

// A global's constant initializer is checked against its declared type.
func TestCheckModule_GlobalInitChecks(t *testing.T) {
	mod := lowerModule(t, `(module (global $g i32 (i32.const 0)))`)
	assert.NoError(t, CheckModule(mod))
}

// A global.get of an imported immutable global resolves its type through
// the import's carried GlobalType, not a defined global's.
func TestCheckModule_GlobalGetOfImportedGlobal(t *testing.T) {
	mod := lowerModule(t, `(module
		(import "env" "base" (global $base i32))
		(global $g i32 (global.get $base)))`)
	assert.NoError(t, CheckModule(mod))
}

// An if/else block's branches are each checked against the block's result
// type independently.
func TestCheckModule_IfElseBothBranchesChecked(t *testing.T) {
	mod := lowerModule(t, `(module
		(func (param i32) (result i32)
			local.get 0
			(if (result i32) (then i32.const 1) (else i32.const 0))))`)
	assert.NoError(t, CheckModule(mod))
}
