package ir

import (
	"strconv"

	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/opcode"
	"github.com/tinywat/watc/tree"
)

// lowerBody lowers a flat instr* sequence — a function body, a global's or
// data/elem segment's constant expression, a block's body — into a single
// ExprUnfolded TokenExpr, per spec.md §4.3's "Body lowering". It walks items
// left to right: a folded s-expression group lowers via lowerFolded; a bare
// opcode leaf consumes however many immediate tokens follow it and emits
// them alongside it; a bare block/loop/if keyword starts lowerBareBlock,
// which consumes the whole stack-form construct up to its matching `end`.
func (l *lowerer) lowerBody(items []tree.Node, ctx *funcContext) (TokenExpr, error) {
	var result []TokenExpr
	i := 0
	for i < len(items) {
		item := items[i]
		if item.IsLeaf() {
			tok := *item.Leaf
			switch {
			case tok.Kind == lexer.Keyword && opcode.IsBlockKeyword(tok.Lexeme):
				blockExpr, consumed, err := l.lowerBareBlock(items[i:], ctx)
				if err != nil {
					return TokenExpr{}, err
				}
				result = append(result, blockExpr)
				i += consumed
			case tok.Kind == lexer.Opcode:
				leaves, consumed, err := l.lowerBareInstruction(items[i:], ctx, tok)
				if err != nil {
					return TokenExpr{}, err
				}
				result = append(result, leaves...)
				i += consumed
			default:
				return TokenExpr{}, newFormError(tok.Line, tok.Column, "unexpected token %q in instruction position", tok.Lexeme)
			}
			continue
		}
		expr, err := l.lowerFolded(item, ctx)
		if err != nil {
			return TokenExpr{}, err
		}
		result = append(result, expr)
		i++
	}
	return TokenExpr{Kind: ExprUnfolded, Items: result}, nil
}

// lowerBareInstruction consumes a bare-form opcode token together with
// however many immediate tokens follow it. Stack operands never appear as
// following tokens in bare form — they are whatever preceding instructions
// already pushed — so only immediates are consumed here.
func (l *lowerer) lowerBareInstruction(items []tree.Node, ctx *funcContext, opTok lexer.Token) ([]TokenExpr, int, error) {
	result := []TokenExpr{{Kind: ExprLeaf, Leaf: opTok}}
	i := 1
	if opTok.Lexeme == "br_table" {
		for i < len(items) && items[i].IsLeaf() && (items[i].Leaf.Kind == lexer.Symbol || items[i].Leaf.Kind == lexer.Nat) {
			resolved, err := l.resolveImmediateToken(ctx, opTok.Lexeme, *items[i].Leaf)
			if err != nil {
				return nil, 0, err
			}
			result = append(result, TokenExpr{Kind: ExprLeaf, Leaf: resolved})
			i++
		}
		return result, i, nil
	}
	n := immediateCount(opTok.Lexeme, 1)
	for k := 0; k < n; k++ {
		if i >= len(items) || !items[i].IsLeaf() {
			return nil, 0, newFormError(opTok.Line, opTok.Column, "%s requires an immediate operand", opTok.Lexeme)
		}
		resolved, err := l.resolveImmediateToken(ctx, opTok.Lexeme, *items[i].Leaf)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, TokenExpr{Kind: ExprLeaf, Leaf: resolved})
		i++
	}
	return result, i, nil
}

// lowerBareBlock lowers a stack-form `block`/`loop`/`if ... end` construct
// found as a run of leaf tokens in the flat body stream (as opposed to a
// folded `(block ...)` group, handled by lowerFoldedBlock). Group items
// within the run are atomic — any block/loop/if/end leaves they contain
// belong to that group's own recursive lowering, not to this scan — so the
// matching-`end` search only inspects leaf items.
func (l *lowerer) lowerBareBlock(items []tree.Node, ctx *funcContext) (TokenExpr, int, error) {
	head := items[0].Leaf
	kind := head.Lexeme
	i := 1
	label := ""
	if i < len(items) && items[i].IsLeaf() && items[i].Leaf.Kind == lexer.Symbol {
		label = items[i].Leaf.Lexeme
		i++
	}
	params, _, results, consumed, err := l.parseParamsResults(items[i:])
	if err != nil {
		return TokenExpr{}, 0, err
	}
	i += consumed
	sig := SignatureType{Params: params, Results: results}

	ctx.pushLabel(label)
	defer ctx.popLabel()

	depth := 0
	thenEndPos, elsePos := -1, -1
	j := i
scan:
	for j < len(items) {
		it := items[j]
		if it.IsLeaf() && it.Leaf.Kind == lexer.Keyword {
			switch {
			case opcode.IsBlockKeyword(it.Leaf.Lexeme):
				depth++
			case it.Leaf.Lexeme == "end":
				if depth == 0 {
					thenEndPos = j
					break scan
				}
				depth--
			case it.Leaf.Lexeme == "else" && depth == 0 && kind == "if":
				elsePos = j
			}
		}
		j++
	}
	if thenEndPos < 0 {
		return TokenExpr{}, 0, newFormError(head.Line, head.Column, "unterminated %s: missing end", kind)
	}

	var bodyItems, elseItems []tree.Node
	if elsePos >= 0 {
		bodyItems = items[i:elsePos]
		elseItems = items[elsePos+1 : thenEndPos]
	} else {
		bodyItems = items[i:thenEndPos]
	}
	bodyExpr, err := l.lowerBody(bodyItems, ctx)
	if err != nil {
		return TokenExpr{}, 0, err
	}
	var elseExpr TokenExpr
	if kind == "if" && elsePos >= 0 {
		elseExpr, err = l.lowerBody(elseItems, ctx)
		if err != nil {
			return TokenExpr{}, 0, err
		}
	}
	return TokenExpr{
		Kind: ExprBlock, BlockKind: kind, Signature: sig, Label: label,
		Body: bodyExpr, ElseBody: elseExpr, Line: head.Line, Col: head.Column,
	}, thenEndPos + 1, nil
}

// lowerFolded lowers a single s-expression group at instruction position:
// either a folded operation `(op args...)` or a folded block/loop/if.
func (l *lowerer) lowerFolded(item tree.Node, ctx *funcContext) (TokenExpr, error) {
	if len(item.Children) == 0 || item.Children[0].Leaf == nil {
		line, col := nodePos(item)
		return TokenExpr{}, newFormError(line, col, "expected an operator at the head of a folded form")
	}
	head := item.Children[0].Leaf
	switch head.Kind {
	case lexer.Keyword:
		if opcode.IsBlockKeyword(head.Lexeme) {
			return l.lowerFoldedBlock(item, ctx)
		}
		return TokenExpr{}, newFormError(head.Line, head.Column, "unexpected keyword %q in instruction position", head.Lexeme)
	case lexer.Opcode:
		return l.lowerFoldedOperation(item, ctx, *head)
	default:
		return TokenExpr{}, newFormError(head.Line, head.Column, "expected an opcode or a block keyword")
	}
}

// lowerFoldedOperation lowers `(op args...)`. The leading immediateCount(op)
// args are immediates (resolved and emitted after the operator by Unfold);
// the rest are stack-operand sub-expressions (unfolded before the operator).
func (l *lowerer) lowerFoldedOperation(item tree.Node, ctx *funcContext, opTok lexer.Token) (TokenExpr, error) {
	args := item.Children[1:]
	nImm := immediateCount(opTok.Lexeme, len(args))
	if nImm > len(args) {
		return TokenExpr{}, newFormError(opTok.Line, opTok.Column, "%s requires %d immediate operand(s)", opTok.Lexeme, nImm)
	}
	var operands []TokenExpr
	for _, a := range args[:nImm] {
		if !a.IsLeaf() {
			line, col := nodePos(a)
			return TokenExpr{}, newFormError(line, col, "%s expects an immediate, not a nested form", opTok.Lexeme)
		}
		resolved, err := l.resolveImmediateToken(ctx, opTok.Lexeme, *a.Leaf)
		if err != nil {
			return TokenExpr{}, err
		}
		operands = append(operands, TokenExpr{Kind: ExprLeaf, Leaf: resolved})
	}
	for _, a := range args[nImm:] {
		if a.IsLeaf() {
			tok := *a.Leaf
			if tok.Kind != lexer.Opcode {
				return TokenExpr{}, newFormError(tok.Line, tok.Column, "expected a value-producing instruction")
			}
			if len(tok.OpcodeInfo.Effect.Pop) > 0 || immediateCount(tok.Lexeme, 0) > 0 {
				return TokenExpr{}, newFormError(tok.Line, tok.Column, "%s needs parentheses to take its own operands", tok.Lexeme)
			}
			operands = append(operands, TokenExpr{Kind: ExprLeaf, Leaf: tok})
			continue
		}
		nested, err := l.lowerFolded(a, ctx)
		if err != nil {
			return TokenExpr{}, err
		}
		operands = append(operands, nested)
	}
	return TokenExpr{Kind: ExprOperation, Operator: opTok, Operands: operands}, nil
}

// lowerFoldedBlock lowers a folded `(block ...)`/`(loop ...)`/`(if ...)`.
// `if` additionally requires a `(then ...)` subform and accepts an optional
// `(else ...)` subform, per spec.md §4.3.
func (l *lowerer) lowerFoldedBlock(item tree.Node, ctx *funcContext) (TokenExpr, error) {
	head := item.Children[0].Leaf
	kind := head.Lexeme
	rest := item.Children[1:]
	i := 0
	label := ""
	if i < len(rest) && rest[i].IsLeaf() && rest[i].Leaf.Kind == lexer.Symbol {
		label = rest[i].Leaf.Lexeme
		i++
	}
	params, _, results, consumed, err := l.parseParamsResults(rest[i:])
	if err != nil {
		return TokenExpr{}, err
	}
	i += consumed
	sig := SignatureType{Params: params, Results: results}

	ctx.pushLabel(label)
	defer ctx.popLabel()
	remaining := rest[i:]

	if kind != "if" {
		body, err := l.lowerBody(remaining, ctx)
		if err != nil {
			return TokenExpr{}, err
		}
		return TokenExpr{Kind: ExprBlock, BlockKind: kind, Signature: sig, Label: label, Body: body, Line: head.Line, Col: head.Column}, nil
	}

	if len(remaining) == 0 || remaining[0].IsLeaf() || len(remaining[0].Children) == 0 ||
		remaining[0].Children[0].Leaf == nil || remaining[0].Children[0].Leaf.Lexeme != "then" {
		return TokenExpr{}, newFormError(head.Line, head.Column, "a folded if requires a (then ...) form")
	}
	thenBody, err := l.lowerBody(remaining[0].Children[1:], ctx)
	if err != nil {
		return TokenExpr{}, err
	}
	var elseBody TokenExpr
	if len(remaining) > 1 {
		if remaining[1].IsLeaf() || len(remaining[1].Children) == 0 ||
			remaining[1].Children[0].Leaf == nil || remaining[1].Children[0].Leaf.Lexeme != "else" {
			return TokenExpr{}, newFormError(head.Line, head.Column, "expected (else ...) after (then ...)")
		}
		elseBody, err = l.lowerBody(remaining[1].Children[1:], ctx)
		if err != nil {
			return TokenExpr{}, err
		}
	}
	return TokenExpr{Kind: ExprBlock, BlockKind: "if", Signature: sig, Label: label, Body: thenBody, ElseBody: elseBody, Line: head.Line, Col: head.Column}, nil
}

// resolveImmediateToken resolves a raw immediate token against the name
// environment appropriate to the owning opcode: locals for local.*, globals
// for global.*, functions for call/ref.func, and labels for br/br_if/
// br_table. Numeric and text immediates (i32.const 42, ref.null funcref)
// pass through unchanged.
func (l *lowerer) resolveImmediateToken(ctx *funcContext, opName string, tok lexer.Token) (lexer.Token, error) {
	switch tok.Kind {
	case lexer.Nat, lexer.Int, lexer.Float, lexer.Text, lexer.ValueType:
		return tok, nil
	case lexer.Symbol:
		switch opName {
		case "local.get", "local.set", "local.tee":
			idx, ok := ctx.localIndex(tok.Lexeme)
			if !ok {
				return tok, newNameError(ctx.funcName, tok.Lexeme, tok.Line, tok.Column)
			}
			return numericToken(tok, idx), nil
		case "global.get", "global.set":
			idx, ok := l.globalIndex(tok.Lexeme)
			if !ok {
				return tok, newNameError(ctx.funcName, tok.Lexeme, tok.Line, tok.Column)
			}
			return numericToken(tok, idx), nil
		case "call", "ref.func":
			idx, ok := l.funcIndex(tok.Lexeme)
			if !ok {
				return tok, newNameError(ctx.funcName, tok.Lexeme, tok.Line, tok.Column)
			}
			return numericToken(tok, idx), nil
		case "br", "br_if", "br_table":
			depth, ok := ctx.labelDepth(tok.Lexeme)
			if !ok {
				return tok, newNameError(ctx.funcName, tok.Lexeme, tok.Line, tok.Column)
			}
			return numericToken(tok, depth), nil
		default:
			return tok, newFormError(tok.Line, tok.Column, "a symbolic name is not valid here for %s", opName)
		}
	default:
		return tok, newFormError(tok.Line, tok.Column, "unexpected token kind as an immediate for %s", opName)
	}
}

func numericToken(orig lexer.Token, idx uint32) lexer.Token {
	return lexer.NewTokenAt(lexer.Nat, strconv.FormatUint(uint64(idx), 10), orig.Line, orig.Column, orig.IndexInSource)
}
