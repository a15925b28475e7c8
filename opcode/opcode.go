// Package opcode is the static, read-only table the rest of the compiler
// consults to turn an instruction mnemonic into its binary opcode byte and
// its abstract stack effect. Nothing in this package is specific to the
// lexer, the IR, or the type checker — they all look values up here instead
// of hard-coding opcode identities, the way the teacher's lexer package
// hard-codes keyword-to-TokenType mappings in a single lookup table rather
// than scattering string comparisons across the codebase.
package opcode

// ValType is one of the scalar WebAssembly value types, plus the two
// reference types needed for tables and `call_indirect`/`ref.null`.
type ValType byte

const (
	I32 ValType = iota
	I64
	F32
	F64
	FuncRef
	ExternRef
)

// String returns the WAT spelling of a value type, e.g. "i32".
func (v ValType) String() string {
	switch v {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return "invalid"
	}
}

// Encoding is the single byte this value type occupies in the binary format.
func (v ValType) Encoding() byte {
	switch v {
	case I32:
		return 0x7F
	case I64:
		return 0x7E
	case F32:
		return 0x7D
	case F64:
		return 0x7C
	case FuncRef:
		return 0x70
	case ExternRef:
		return 0x6F
	default:
		return 0x00
	}
}

// ValTypeByName looks up a value type by its WAT mnemonic ("i32", "f64", ...).
// The bool is false when name isn't a recognized value type.
func ValTypeByName(name string) (ValType, bool) {
	v, ok := valTypeNames[name]
	return v, ok
}

var valTypeNames = map[string]ValType{
	"i32":       I32,
	"i64":       I64,
	"f32":       F32,
	"f64":       F64,
	"funcref":   FuncRef,
	"externref": ExternRef,
}

// Effect is an instruction's abstract stack effect: the value types it pops,
// in bottom-to-top declaration order, and the value types it pushes, also
// bottom-to-top.
type Effect struct {
	Pop  []ValType
	Push []ValType
}

// Info is everything the lexer denormalizes onto an opcode token and the
// type checker needs to verify a use of that opcode.
type Info struct {
	Name   string // WAT mnemonic, e.g. "i32.add"
	Byte   byte   // binary opcode
	Prefix byte   // 0 for single-byte opcodes; otherwise a multi-byte prefix (e.g. the 0xFC misc prefix)
	Effect Effect
}

// table is populated once at init time and never mutated afterward — the
// only process-wide state this compiler carries, per spec.md §5.
var table map[string]Info

// Lookup returns the Info for a WAT mnemonic. The bool is false if name is
// not a recognized opcode.
func Lookup(name string) (Info, bool) {
	info, ok := table[name]
	return info, ok
}

func reg(name string, b byte, pop, push []ValType) {
	table[name] = Info{Name: name, Byte: b, Effect: Effect{Pop: pop, Push: push}}
}

func regMisc(name string, b byte, pop, push []ValType) {
	table[name] = Info{Name: name, Byte: b, Prefix: 0xFC, Effect: Effect{Pop: pop, Push: push}}
}

func init() {
	table = make(map[string]Info, 256)
	registerControl()
	registerVariable()
	registerMemory()
	registerNumeric()
	registerReference()
}

// registerControl covers the control-flow and parametric instructions named
// in spec.md §6: nop, unreachable, block/loop/if/else/end, br, br_if,
// br_table, return, call, call_indirect, drop, select.
func registerControl() {
	reg("unreachable", 0x00, nil, nil)
	reg("nop", 0x01, nil, nil)
	// block/loop/if/else/end have no signature-dependent stack effect here
	// (only if's I32 condition is listed): their effect depends on the
	// block's declared signature and is computed by the type checker
	// directly from the BlockExpression, not this table.
	reg("block", 0x02, nil, nil)
	reg("loop", 0x03, nil, nil)
	reg("if", 0x04, []ValType{I32}, nil)
	reg("else", 0x05, nil, nil)
	reg("end", 0x0B, nil, nil)
	reg("br", 0x0C, nil, nil)
	reg("br_if", 0x0D, []ValType{I32}, nil)
	reg("br_table", 0x0E, []ValType{I32}, nil)
	reg("return", 0x0F, nil, nil)
	reg("call", 0x10, nil, nil)
	reg("call_indirect", 0x11, []ValType{I32}, nil)
	reg("drop", 0x1A, nil, nil)
	reg("select", 0x1B, nil, nil)
}

// registerVariable covers local/global access.
func registerVariable() {
	reg("local.get", 0x20, nil, nil)
	reg("local.set", 0x21, nil, nil)
	reg("local.tee", 0x22, nil, nil)
	reg("global.get", 0x23, nil, nil)
	reg("global.set", 0x24, nil, nil)
}

// registerMemory covers the load/store family plus memory.size/memory.grow.
// Immediate-bearing instructions (align/offset, index) do not carry their
// immediates in this table — those are parsed by the lowering stage and
// encoded by the binary writer; this table only carries the opcode byte and
// abstract stack effect used by the type checker.
func registerMemory() {
	loads := []struct {
		name string
		b    byte
		t    ValType
	}{
		{"i32.load", 0x28, I32}, {"i64.load", 0x29, I64},
		{"f32.load", 0x2A, F32}, {"f64.load", 0x2B, F64},
		{"i32.load8_s", 0x2C, I32}, {"i32.load8_u", 0x2D, I32},
		{"i32.load16_s", 0x2E, I32}, {"i32.load16_u", 0x2F, I32},
		{"i64.load8_s", 0x30, I64}, {"i64.load8_u", 0x31, I64},
		{"i64.load16_s", 0x32, I64}, {"i64.load16_u", 0x33, I64},
		{"i64.load32_s", 0x34, I64}, {"i64.load32_u", 0x35, I64},
	}
	for _, l := range loads {
		reg(l.name, l.b, []ValType{I32}, []ValType{l.t})
	}
	stores := []struct {
		name string
		b    byte
		t    ValType
	}{
		{"i32.store", 0x36, I32}, {"i64.store", 0x37, I64},
		{"f32.store", 0x38, F32}, {"f64.store", 0x39, F64},
		{"i32.store8", 0x3A, I32}, {"i32.store16", 0x3B, I32},
		{"i64.store8", 0x3C, I64}, {"i64.store16", 0x3D, I64}, {"i64.store32", 0x3E, I64},
	}
	for _, s := range stores {
		reg(s.name, s.b, []ValType{I32, s.t}, nil)
	}
	reg("memory.size", 0x3F, nil, []ValType{I32})
	reg("memory.grow", 0x40, []ValType{I32}, []ValType{I32})
}

func registerReference() {
	reg("ref.null", 0xD0, nil, nil) // push type is the immediate reftype; resolved by the type checker
	reg("ref.is_null", 0xD1, nil, []ValType{I32})
	reg("ref.func", 0xD2, nil, []ValType{FuncRef})
}

// registerNumeric registers const, comparison, and arithmetic/bitwise
// operators for all four numeric types, plus conversions. The table is
// built with small loops instead of ~200 duplicated literal entries, the
// way the teacher's KEYWORDS_MAP in lexer/token.go is one map literal rather
// than a chain of string comparisons — here the repetition is across types
// rather than across keywords, so loops replace the literal.
func registerNumeric() {
	reg("i32.const", 0x41, nil, []ValType{I32})
	reg("i64.const", 0x42, nil, []ValType{I64})
	reg("f32.const", 0x43, nil, []ValType{F32})
	reg("f64.const", 0x44, nil, []ValType{F64})

	type cmp struct {
		name string
		b    byte
	}
	i32cmp := []cmp{
		{"eqz", 0x45}, {"eq", 0x46}, {"ne", 0x47}, {"lt_s", 0x48}, {"lt_u", 0x49},
		{"gt_s", 0x4A}, {"gt_u", 0x4B}, {"le_s", 0x4C}, {"le_u", 0x4D}, {"ge_s", 0x4E}, {"ge_u", 0x4F},
	}
	for _, c := range i32cmp {
		name := "i32." + c.name
		if c.name == "eqz" {
			reg(name, c.b, []ValType{I32}, []ValType{I32})
		} else {
			reg(name, c.b, []ValType{I32, I32}, []ValType{I32})
		}
	}
	i64cmp := []cmp{
		{"eqz", 0x50}, {"eq", 0x51}, {"ne", 0x52}, {"lt_s", 0x53}, {"lt_u", 0x54},
		{"gt_s", 0x55}, {"gt_u", 0x56}, {"le_s", 0x57}, {"le_u", 0x58}, {"ge_s", 0x59}, {"ge_u", 0x5A},
	}
	for _, c := range i64cmp {
		name := "i64." + c.name
		if c.name == "eqz" {
			reg(name, c.b, []ValType{I64}, []ValType{I32})
		} else {
			reg(name, c.b, []ValType{I64, I64}, []ValType{I32})
		}
	}
	f32cmp := []cmp{{"eq", 0x5B}, {"ne", 0x5C}, {"lt", 0x5D}, {"gt", 0x5E}, {"le", 0x5F}, {"ge", 0x60}}
	for _, c := range f32cmp {
		reg("f32."+c.name, c.b, []ValType{F32, F32}, []ValType{I32})
	}
	f64cmp := []cmp{{"eq", 0x61}, {"ne", 0x62}, {"lt", 0x63}, {"gt", 0x64}, {"le", 0x65}, {"ge", 0x66}}
	for _, c := range f64cmp {
		reg("f64."+c.name, c.b, []ValType{F64, F64}, []ValType{I32})
	}

	i32arith := []cmp{
		{"clz", 0x67}, {"ctz", 0x68}, {"popcnt", 0x69}, {"add", 0x6A}, {"sub", 0x6B}, {"mul", 0x6C},
		{"div_s", 0x6D}, {"div_u", 0x6E}, {"rem_s", 0x6F}, {"rem_u", 0x70}, {"and", 0x71}, {"or", 0x72},
		{"xor", 0x73}, {"shl", 0x74}, {"shr_s", 0x75}, {"shr_u", 0x76}, {"rotl", 0x77}, {"rotr", 0x78},
	}
	unary := map[string]bool{"clz": true, "ctz": true, "popcnt": true}
	for _, a := range i32arith {
		if unary[a.name] {
			reg("i32."+a.name, a.b, []ValType{I32}, []ValType{I32})
		} else {
			reg("i32."+a.name, a.b, []ValType{I32, I32}, []ValType{I32})
		}
	}
	i64arith := []cmp{
		{"clz", 0x79}, {"ctz", 0x7A}, {"popcnt", 0x7B}, {"add", 0x7C}, {"sub", 0x7D}, {"mul", 0x7E},
		{"div_s", 0x7F}, {"div_u", 0x80}, {"rem_s", 0x81}, {"rem_u", 0x82}, {"and", 0x83}, {"or", 0x84},
		{"xor", 0x85}, {"shl", 0x86}, {"shr_s", 0x87}, {"shr_u", 0x88}, {"rotl", 0x89}, {"rotr", 0x8A},
	}
	for _, a := range i64arith {
		if unary[a.name] {
			reg("i64."+a.name, a.b, []ValType{I64}, []ValType{I64})
		} else {
			reg("i64."+a.name, a.b, []ValType{I64, I64}, []ValType{I64})
		}
	}

	f32unary := []cmp{{"abs", 0x8B}, {"neg", 0x8C}, {"ceil", 0x8D}, {"floor", 0x8E}, {"trunc", 0x8F}, {"nearest", 0x90}, {"sqrt", 0x91}}
	for _, u := range f32unary {
		reg("f32."+u.name, u.b, []ValType{F32}, []ValType{F32})
	}
	f32binary := []cmp{{"add", 0x92}, {"sub", 0x93}, {"mul", 0x94}, {"div", 0x95}, {"min", 0x96}, {"max", 0x97}, {"copysign", 0x98}}
	for _, b := range f32binary {
		reg("f32."+b.name, b.b, []ValType{F32, F32}, []ValType{F32})
	}
	f64unary := []cmp{{"abs", 0x99}, {"neg", 0x9A}, {"ceil", 0x9B}, {"floor", 0x9C}, {"trunc", 0x9D}, {"nearest", 0x9E}, {"sqrt", 0x9F}}
	for _, u := range f64unary {
		reg("f64."+u.name, u.b, []ValType{F64}, []ValType{F64})
	}
	f64binary := []cmp{{"add", 0xA0}, {"sub", 0xA1}, {"mul", 0xA2}, {"div", 0xA3}, {"min", 0xA4}, {"max", 0xA5}, {"copysign", 0xA6}}
	for _, b := range f64binary {
		reg("f64."+b.name, b.b, []ValType{F64, F64}, []ValType{F64})
	}

	reg("i32.wrap_i64", 0xA7, []ValType{I64}, []ValType{I32})
	reg("i32.trunc_f32_s", 0xA8, []ValType{F32}, []ValType{I32})
	reg("i32.trunc_f32_u", 0xA9, []ValType{F32}, []ValType{I32})
	reg("i32.trunc_f64_s", 0xAA, []ValType{F64}, []ValType{I32})
	reg("i32.trunc_f64_u", 0xAB, []ValType{F64}, []ValType{I32})
	reg("i64.extend_i32_s", 0xAC, []ValType{I32}, []ValType{I64})
	reg("i64.extend_i32_u", 0xAD, []ValType{I32}, []ValType{I64})
	reg("i64.trunc_f32_s", 0xAE, []ValType{F32}, []ValType{I64})
	reg("i64.trunc_f32_u", 0xAF, []ValType{F32}, []ValType{I64})
	reg("i64.trunc_f64_s", 0xB0, []ValType{F64}, []ValType{I64})
	reg("i64.trunc_f64_u", 0xB1, []ValType{F64}, []ValType{I64})
	reg("f32.convert_i32_s", 0xB2, []ValType{I32}, []ValType{F32})
	reg("f32.convert_i32_u", 0xB3, []ValType{I32}, []ValType{F32})
	reg("f32.convert_i64_s", 0xB4, []ValType{I64}, []ValType{F32})
	reg("f32.convert_i64_u", 0xB5, []ValType{I64}, []ValType{F32})
	reg("f32.demote_f64", 0xB6, []ValType{F64}, []ValType{F32})
	reg("f64.convert_i32_s", 0xB7, []ValType{I32}, []ValType{F64})
	reg("f64.convert_i32_u", 0xB8, []ValType{I32}, []ValType{F64})
	reg("f64.convert_i64_s", 0xB9, []ValType{I64}, []ValType{F64})
	reg("f64.convert_i64_u", 0xBA, []ValType{I64}, []ValType{F64})
	reg("f64.promote_f32", 0xBB, []ValType{F32}, []ValType{F64})
	reg("i32.reinterpret_f32", 0xBC, []ValType{F32}, []ValType{I32})
	reg("i64.reinterpret_f64", 0xBD, []ValType{F64}, []ValType{I64})
	reg("f32.reinterpret_i32", 0xBE, []ValType{I32}, []ValType{F32})
	reg("f64.reinterpret_i64", 0xBF, []ValType{I64}, []ValType{F64})

	reg("i32.extend8_s", 0xC0, []ValType{I32}, []ValType{I32})
	reg("i32.extend16_s", 0xC1, []ValType{I32}, []ValType{I32})
	reg("i64.extend8_s", 0xC2, []ValType{I64}, []ValType{I64})
	reg("i64.extend16_s", 0xC3, []ValType{I64}, []ValType{I64})
	reg("i64.extend32_s", 0xC4, []ValType{I64}, []ValType{I64})

	regMisc("i32.trunc_sat_f32_s", 0x00, []ValType{F32}, []ValType{I32})
	regMisc("i32.trunc_sat_f32_u", 0x01, []ValType{F32}, []ValType{I32})
	regMisc("i32.trunc_sat_f64_s", 0x02, []ValType{F64}, []ValType{I32})
	regMisc("i32.trunc_sat_f64_u", 0x03, []ValType{F64}, []ValType{I32})
	regMisc("i64.trunc_sat_f32_s", 0x04, []ValType{F32}, []ValType{I64})
	regMisc("i64.trunc_sat_f32_u", 0x05, []ValType{F32}, []ValType{I64})
	regMisc("i64.trunc_sat_f64_s", 0x06, []ValType{F64}, []ValType{I64})
	regMisc("i64.trunc_sat_f64_u", 0x07, []ValType{F64}, []ValType{I64})
}

// IsBlockKeyword reports whether name opens a structured control construct.
func IsBlockKeyword(name string) bool {
	return name == "block" || name == "loop" || name == "if"
}
