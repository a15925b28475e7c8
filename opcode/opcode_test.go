package opcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValType_EncodingAndString(t *testing.T) {
	cases := []struct {
		v    ValType
		enc  byte
		name string
	}{
		{I32, 0x7F, "i32"},
		{I64, 0x7E, "i64"},
		{F32, 0x7D, "f32"},
		{F64, 0x7C, "f64"},
		{FuncRef, 0x70, "funcref"},
		{ExternRef, 0x6F, "externref"},
	}
	for _, c := range cases {
		assert.Equal(t, c.enc, c.v.Encoding(), c.name)
		assert.Equal(t, c.name, c.v.String())
	}
}

func TestValTypeByName_UnknownReturnsFalse(t *testing.T) {
	_, ok := ValTypeByName("i128")
	assert.False(t, ok)
}

func TestLookup_ControlAndArithmeticOpcodes(t *testing.T) {
	cases := []struct {
		name string
		b    byte
	}{
		{"unreachable", 0x00},
		{"nop", 0x01},
		{"end", 0x0B},
		{"call", 0x10},
		{"local.get", 0x20},
		{"i32.const", 0x41},
		{"i32.add", 0x6A},
		{"memory.grow", 0x40},
	}
	for _, c := range cases {
		info, ok := Lookup(c.name)
		assert.True(t, ok, c.name)
		assert.Equal(t, c.b, info.Byte, c.name)
		assert.Equal(t, c.name, info.Name)
	}
}

func TestLookup_MiscPrefixedOpcode(t *testing.T) {
	info, ok := Lookup("i32.trunc_sat_f32_s")
	assert.True(t, ok)
	assert.Equal(t, byte(0xFC), info.Prefix)
	assert.Equal(t, byte(0x00), info.Byte)
}

func TestLookup_UnknownMnemonicReturnsFalse(t *testing.T) {
	_, ok := Lookup("not.a.real.opcode")
	assert.False(t, ok)
}

func TestLookup_IfPopsI32Condition(t *testing.T) {
	info, ok := Lookup("if")
	assert.True(t, ok)
	assert.Equal(t, []ValType{I32}, info.Effect.Pop)
}
