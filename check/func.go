package check

import (
	"fmt"
	"strconv"

	"github.com/tinywat/watc/ir"
	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/opcode"
)

// CheckModule type-checks every function body and every constant
// initializer expression (global, elem offset, data offset) in mod, per
// spec.md §4.4 and SPEC_FULL §4.6. It stops at the first error, per spec.md
// §7's propagation policy.
func CheckModule(mod *ir.Module) error {
	for _, fn := range mod.Functions {
		if err := checkFunction(mod, fn); err != nil {
			return err
		}
	}
	for _, g := range mod.GlobalVars {
		if err := checkConst(mod, g.Init, []opcode.ValType{g.Type}); err != nil {
			return err
		}
	}
	for _, el := range mod.Elems {
		if err := checkConst(mod, el.Offset, []opcode.ValType{opcode.I32}); err != nil {
			return err
		}
	}
	for _, d := range mod.Datas {
		if err := checkConst(mod, d.Offset, []opcode.ValType{opcode.I32}); err != nil {
			return err
		}
	}
	return nil
}

// funcChecker carries the context a function body (or a standalone const
// expression) needs to resolve an immediate-typed opcode's dynamic effect —
// the local environment for local.*, the module for global.*/call/
// call_indirect. One is built per function or per standalone const
// expression, mirroring ir.funcContext's per-function lifetime.
type funcChecker struct {
	mod        *ir.Module
	localTypes []opcode.ValType
	funcName   string
}

func checkFunction(mod *ir.Module, fn *ir.FunctionExpression) error {
	fc := &funcChecker{
		mod:        mod,
		funcName:   fn.Signature.Name,
		localTypes: append(append([]opcode.ValType{}, fn.Signature.Sig.Params...), fn.Signature.LocalTypes...),
	}
	var s stack
	if err := fc.checkExpr(fn.Body, &s); err != nil {
		return err
	}
	if !s.equal(fn.Signature.Sig.Results) {
		return &TypeError{Expected: fn.Signature.Sig.Results, Got: append(stack(nil), s...), Pos: "function end"}
	}
	return nil
}

func checkConst(mod *ir.Module, e ir.TokenExpr, want []opcode.ValType) error {
	fc := &funcChecker{mod: mod}
	var s stack
	if err := fc.checkExpr(e, &s); err != nil {
		return err
	}
	if !s.equal(want) {
		return &TypeError{Expected: want, Got: append(stack(nil), s...), Pos: "constant expression"}
	}
	return nil
}

// checkExpr dispatches on e.Kind, following spec.md §4.4's three rules plus
// the ExprLeaf/ExprUnfolded cases ir's sealed sum type adds around them.
func (fc *funcChecker) checkExpr(e ir.TokenExpr, s *stack) error {
	switch e.Kind {
	case ir.ExprEmpty:
		return nil
	case ir.ExprLeaf:
		return fc.applyLeaf(e.Leaf, nil, s)
	case ir.ExprUnfolded:
		return fc.checkSequence(e.Items, s)
	case ir.ExprOperation:
		return fc.checkOperation(e, s)
	case ir.ExprBlock:
		return fc.checkBlock(e, s)
	default:
		return &TypeError{Pos: "unknown token-expression kind"}
	}
}

// checkSequence walks a bare-form instruction run. Stack operands never
// appear as trailing tokens in bare form (ir's lowering guarantees this),
// so any leaf following an opcode that is not itself an opcode or a block
// keyword must be one of that opcode's immediates; the run of such leaves
// is consumed together with the opcode that owns them.
func (fc *funcChecker) checkSequence(items []ir.TokenExpr, s *stack) error {
	i := 0
	for i < len(items) {
		item := items[i]
		if item.Kind == ir.ExprLeaf && item.Leaf.Kind == lexer.Opcode {
			j := i + 1
			var imm []ir.TokenExpr
			for j < len(items) && items[j].Kind == ir.ExprLeaf &&
				items[j].Leaf.Kind != lexer.Opcode && items[j].Leaf.Kind != lexer.Keyword {
				imm = append(imm, items[j])
				j++
			}
			if err := fc.applyLeaf(item.Leaf, imm, s); err != nil {
				return err
			}
			i = j
			continue
		}
		if err := fc.checkExpr(item, s); err != nil {
			return err
		}
		i++
	}
	return nil
}

func (fc *funcChecker) applyLeaf(op lexer.Token, imm []ir.TokenExpr, s *stack) error {
	consumed, produced, err := fc.effectFor(op, imm)
	if err != nil {
		return err
	}
	if err := s.pop(op, consumed); err != nil {
		return err
	}
	s.push(produced...)
	return nil
}

// checkOperation implements spec.md §4.4's OperationTree rule: each
// stack-operand argument is checked on a fresh inner stack that starts
// empty, the inner stack's final contents must equal the operator's
// consumed types, and the operation's net effect on the outer stack is the
// operator's consumed→produced pair. Leading immediate operands (this
// repository's addition over spec.md's generic model, see DESIGN.md) are not
// stack-checked — they feed effectFor directly, the same as in bare form.
func (fc *funcChecker) checkOperation(e ir.TokenExpr, s *stack) error {
	nImm := ir.ImmediateCount(e.Operator.Lexeme, len(e.Operands))
	if nImm > len(e.Operands) {
		nImm = 0
	}
	immOperands, stackOperands := e.Operands[:nImm], e.Operands[nImm:]

	var inner stack
	for _, operand := range stackOperands {
		if err := fc.checkExpr(operand, &inner); err != nil {
			return err
		}
	}
	consumed, produced, err := fc.effectFor(e.Operator, immOperands)
	if err != nil {
		return err
	}
	if !inner.equal(consumed) {
		return newTypeError(e.Operator, consumed, append(stack(nil), inner...))
	}
	s.push(produced...)
	return nil
}

// checkBlock implements spec.md §4.4's BlockExpression rule, extended the
// way standard WebAssembly validation extends it: a block/loop/if also pops
// its parameter types from the enclosing stack on entry (an `if` pops one
// more leading I32 condition, on top of the params) and pushes its result
// types back on exit — the same consumed→produced shape as a function call,
// which is the natural completion of "seeded with the block's parameter
// types" once blocks are allowed to nest inside an outer, non-empty stack.
func (fc *funcChecker) checkBlock(e ir.TokenExpr, s *stack) error {
	head := lexer.NewTokenAt(lexer.Keyword, e.BlockKind, e.Line, e.Col, 0)
	want := append([]opcode.ValType{}, e.Signature.Params...)
	if e.BlockKind == "if" {
		want = append(want, opcode.I32)
	}
	if err := s.pop(head, want); err != nil {
		return err
	}

	thenStack := stack(append([]opcode.ValType{}, e.Signature.Params...))
	if err := fc.checkExpr(e.Body, &thenStack); err != nil {
		return err
	}
	if !thenStack.equal(e.Signature.Results) {
		return &TypeError{Expected: e.Signature.Results, Got: append(stack(nil), thenStack...), Pos: e.BlockKind, Line: e.Line, Col: e.Col}
	}

	if e.BlockKind == "if" && e.ElseBody.Kind != ir.ExprEmpty {
		elseStack := stack(append([]opcode.ValType{}, e.Signature.Params...))
		if err := fc.checkExpr(e.ElseBody, &elseStack); err != nil {
			return err
		}
		if !elseStack.equal(e.Signature.Results) {
			return &TypeError{Expected: e.Signature.Results, Got: append(stack(nil), elseStack...), Pos: "else", Line: e.Line, Col: e.Col}
		}
	}

	s.push(e.Signature.Results...)
	return nil
}

// effectFor returns the consumed/produced types of op given its already-
// resolved immediate operands. Most opcodes' effect is static — looked up
// directly in the opcode table — but local.*, global.*, call, and
// call_indirect carry a type that depends on their immediate (the declared
// local/global/function/type-section entry), so those are resolved
// dynamically against fc's function and module context; ref.null likewise
// pushes the reference type its own immediate names.
func (fc *funcChecker) effectFor(op lexer.Token, imm []ir.TokenExpr) (consumed, produced []opcode.ValType, err error) {
	switch op.Lexeme {
	case "local.get":
		t, e := fc.localType(op, imm)
		if e != nil {
			return nil, nil, e
		}
		return nil, []opcode.ValType{t}, nil
	case "local.set":
		t, e := fc.localType(op, imm)
		if e != nil {
			return nil, nil, e
		}
		return []opcode.ValType{t}, nil, nil
	case "local.tee":
		t, e := fc.localType(op, imm)
		if e != nil {
			return nil, nil, e
		}
		return []opcode.ValType{t}, []opcode.ValType{t}, nil
	case "global.get":
		t, e := fc.globalType(op, imm)
		if e != nil {
			return nil, nil, e
		}
		return nil, []opcode.ValType{t}, nil
	case "global.set":
		t, e := fc.globalType(op, imm)
		if e != nil {
			return nil, nil, e
		}
		return []opcode.ValType{t}, nil, nil
	case "call":
		sig, e := fc.callSignature(op, imm)
		if e != nil {
			return nil, nil, e
		}
		return sig.Params, sig.Results, nil
	case "call_indirect":
		idx, e := immIndex(op, imm)
		if e != nil {
			return nil, nil, e
		}
		if int(idx) >= len(fc.mod.TypeSection) {
			return nil, nil, newFormErrorAsType(op, "call_indirect type index out of range")
		}
		sig := fc.mod.TypeSection[idx]
		consumed = append(append([]opcode.ValType{}, sig.Params...), opcode.I32)
		return consumed, sig.Results, nil
	case "ref.null":
		if len(imm) != 1 || imm[0].Kind != ir.ExprLeaf {
			return nil, nil, newFormErrorAsType(op, "ref.null requires a reference-type immediate")
		}
		vt, ok := opcode.ValTypeByName(imm[0].Leaf.Lexeme)
		if !ok {
			return nil, nil, newFormErrorAsType(op, "ref.null requires a reference-type immediate")
		}
		return nil, []opcode.ValType{vt}, nil
	default:
		info, ok := opcode.Lookup(op.Lexeme)
		if !ok {
			return nil, nil, newFormErrorAsType(op, "unknown opcode %q", op.Lexeme)
		}
		return info.Effect.Pop, info.Effect.Push, nil
	}
}

func (fc *funcChecker) localType(op lexer.Token, imm []ir.TokenExpr) (opcode.ValType, error) {
	idx, err := immIndex(op, imm)
	if err != nil {
		return 0, err
	}
	if int(idx) >= len(fc.localTypes) {
		return 0, &ir.NameError{Function: fc.funcName, Name: strconv.FormatUint(uint64(idx), 10), Line: op.Line, Col: op.Column}
	}
	return fc.localTypes[idx], nil
}

func (fc *funcChecker) globalType(op lexer.Token, imm []ir.TokenExpr) (opcode.ValType, error) {
	idx, err := immIndex(op, imm)
	if err != nil {
		return 0, err
	}
	vt, _, ok := fc.mod.GlobalTypeAt(idx)
	if !ok {
		return 0, &ir.NameError{Function: fc.funcName, Name: strconv.FormatUint(uint64(idx), 10), Line: op.Line, Col: op.Column}
	}
	return vt, nil
}

func (fc *funcChecker) callSignature(op lexer.Token, imm []ir.TokenExpr) (ir.SignatureType, error) {
	idx, err := immIndex(op, imm)
	if err != nil {
		return ir.SignatureType{}, err
	}
	sig, ok := fc.mod.FuncSignatureAt(idx)
	if !ok {
		return ir.SignatureType{}, &ir.NameError{Function: fc.funcName, Name: strconv.FormatUint(uint64(idx), 10), Line: op.Line, Col: op.Column}
	}
	return sig, nil
}

func immIndex(op lexer.Token, imm []ir.TokenExpr) (uint32, error) {
	if len(imm) != 1 || imm[0].Kind != ir.ExprLeaf || imm[0].Leaf.Kind != lexer.Nat {
		return 0, newFormErrorAsType(op, "%s requires a numeric index immediate", op.Lexeme)
	}
	v, err := strconv.ParseUint(imm[0].Leaf.Lexeme, 0, 32)
	if err != nil {
		return 0, newFormErrorAsType(op, "index %q out of range", imm[0].Leaf.Lexeme)
	}
	return uint32(v), nil
}

// newFormErrorAsType reports an internal consistency failure between the ir
// and check packages (a well-lowered module should never reach here) as an
// ir.InternalError, per spec.md §7's taxonomy.
func newFormErrorAsType(op lexer.Token, format string, args ...interface{}) error {
	return &ir.InternalError{Message: fmt.Sprintf(format, args...) + " at " + op.Lexeme}
}
