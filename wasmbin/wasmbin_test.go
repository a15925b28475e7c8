package wasmbin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywat/watc/check"
	"github.com/tinywat/watc/internal/leb128"
	"github.com/tinywat/watc/ir"
	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/tree"
)

func compile(t *testing.T, src string) []byte {
	t.Helper()
	toks, err := lexer.Lex(src)
	require.NoError(t, err)
	tr, err := tree.Build(toks)
	require.NoError(t, err)
	mod, err := ir.Lower(tr)
	require.NoError(t, err)
	require.NoError(t, check.CheckModule(mod))
	out, err := Encode(mod)
	require.NoError(t, err)
	return out
}

func TestEncode_MagicAndVersion(t *testing.T) {
	out := compile(t, `(module)`)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, out)
}

func TestEncode_NopFunctionHasTypeFunctionAndCodeSections(t *testing.T) {
	out := compile(t, `(module (func nop))`)
	assert.Greater(t, len(out), 8)

	sections := splitSections(t, out)
	require.Contains(t, sections, byte(sectionType))
	require.Contains(t, sections, byte(sectionFunction))
	require.Contains(t, sections, byte(sectionCode))

	// type section: 1 entry, () -> ()
	assert.Equal(t, []byte{0x01, 0x60, 0x00, 0x00}, sections[sectionType])
	// function section: 1 entry, type index 0
	assert.Equal(t, []byte{0x01, 0x00}, sections[sectionFunction])
	// code section: 1 entry, size 3, 0 locals, nop, end
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x01, 0x0B}, sections[sectionCode])
}

func TestEncode_I32ConstEncodesSignedLEB128(t *testing.T) {
	out := compile(t, `(module (func (result i32) i32.const 624485))`)
	sections := splitSections(t, out)
	code := sections[sectionCode]
	// vec(1 entry) size localsvec(0) i32.const(0x41) <leb128> end(0x0B)
	want := []byte{0x01}
	body := []byte{0x00, 0x41, 0xe5, 0x8e, 0x26, 0x0B}
	want = append(want, byte(len(body)))
	want = append(want, body...)
	assert.Equal(t, want, code)
}

func TestEncode_FoldedAndUnfoldedFormsProduceIdenticalCode(t *testing.T) {
	folded := compile(t, `(module (func (param $a i32) (param $b i32) (result i32) (i32.add (local.get $a) (local.get $b))))`)
	unfolded := compile(t, `(module (func (param $a i32) (param $b i32) (result i32) local.get $a local.get $b i32.add))`)
	assert.Equal(t, folded, unfolded)
}

func TestEncode_ExportSectionEncodesNameAndIndex(t *testing.T) {
	out := compile(t, `(module (func $f (export "f") nop))`)
	sections := splitSections(t, out)
	exp := sections[sectionExport]
	require.NotNil(t, exp)
	assert.Equal(t, byte(0x01), exp[0])       // vec count
	assert.Equal(t, byte(0x01), exp[1])       // name length
	assert.Equal(t, byte('f'), exp[2])        // name bytes
	assert.Equal(t, byte(0x00), exp[3])       // export kind: func
	assert.Equal(t, byte(0x00), exp[4])       // function index 0
}

func TestEncode_ImportOccupiesLowFunctionIndex(t *testing.T) {
	out := compile(t, `(module
		(import "env" "log" (func $log (param i32)))
		(func (export "run") (param i32) local.get 0 call $log))`)
	sections := splitSections(t, out)
	require.Contains(t, sections, byte(sectionImport))
	// the call immediate must be index 0 (the import), not 1
	code := sections[sectionCode]
	assert.Contains(t, string(code), string([]byte{0x20, 0x00, 0x10, 0x00}))
}

func TestEncode_GlobalSectionEncodesInitExpr(t *testing.T) {
	out := compile(t, `(module (global $g (mut i32) (i32.const 7)))`)
	sections := splitSections(t, out)
	g := sections[sectionGlobal]
	require.NotNil(t, g)
	want := []byte{0x01, 0x7F, 0x01, 0x41, 0x07, 0x0B}
	assert.Equal(t, want, g)
}

func TestEncode_StartSectionEncodesBareIndex(t *testing.T) {
	out := compile(t, `(module (func $init nop) (start $init))`)
	sections := splitSections(t, out)
	s, ok := sections[sectionStart]
	require.True(t, ok)
	idx, n := leb128.Uvarint32(s)
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, len(s), n)
}

func TestEncode_BlockWithEmptySignatureUsesEmptyBlockType(t *testing.T) {
	out := compile(t, `(module (func (block $L nop)))`)
	sections := splitSections(t, out)
	code := sections[sectionCode]
	// localsvec(0) block(0x02) blocktype(0x40) nop(0x01) end(0x0B) end(0x0B)
	assert.Contains(t, string(code), string([]byte{0x02, 0x40, 0x01, 0x0B, 0x0B}))
}

// splitSections walks out past the magic+version header and returns each
// section's raw body keyed by its section id, for tests to assert against
// without hand-decoding the whole module.
func splitSections(t *testing.T, out []byte) map[byte][]byte {
	t.Helper()
	require.GreaterOrEqual(t, len(out), 8)
	sections := map[byte][]byte{}
	i := 8
	for i < len(out) {
		id := out[i]
		i++
		size, n := leb128.Uvarint32(out[i:])
		require.Greater(t, n, 0)
		i += n
		require.LessOrEqual(t, i+int(size), len(out))
		sections[id] = out[i : i+int(size)]
		i += int(size)
	}
	return sections
}
