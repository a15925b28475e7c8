package ir

// immediateOverrides lists the fixed-arity opcodes whose folded-form
// operands include one or more immediates — slots consumed directly by the
// instruction's own encoding rather than produced by a nested value
// expression. Every other opcode's operands are assumed to be pure stack
// operands: as many of them as opcode.Info.Effect.Pop declares.
//
// br_table is irregular (a variable number of label immediates followed by
// exactly one stack-operand index) and is special-cased in immediateCount
// (and in lowerBareInstruction's bare-form scan) instead of living in this
// table.
var immediateOverrides = map[string]int{
	"local.get": 1, "local.set": 1, "local.tee": 1,
	"global.get": 1, "global.set": 1,
	"br": 1, "br_if": 1, "ref.func": 1, "ref.null": 1,
	"i32.const": 1, "i64.const": 1, "f32.const": 1, "f64.const": 1,
	"call": 1, "call_indirect": 1,
}

// immediateCount returns how many of an instruction's total operands are
// immediates rather than stack operands, given its mnemonic and its total
// operand count (args is ignored except for br_table, where it determines
// how many leading label immediates precede the trailing index operand).
// ImmediateCount exports immediateCount for callers outside this package
// (the check package, when walking a folded ExprOperation's Operands).
func ImmediateCount(name string, args int) int {
	return immediateCount(name, args)
}

func immediateCount(name string, args int) int {
	if name == "br_table" {
		if args == 0 {
			return 0
		}
		return args - 1
	}
	if n, ok := immediateOverrides[name]; ok {
		return n
	}
	return 0
}
