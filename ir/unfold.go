package ir

import "github.com/tinywat/watc/lexer"

// blockHeader/elseMarker/endMarker are the synthetic tokens Unfold inserts
// for a BlockExpression's header, else branch, and terminator, per spec.md
// §3's post-lowering invariant ("explicit header and matching end tokens
// (plus else for if forms)"). They carry no source position since they are
// not read from the source text.
func blockHeaderToken(kind string) lexer.Token { return lexer.NewToken(lexer.Keyword, kind) }

var elseMarker = lexer.NewToken(lexer.Keyword, "else")
var endMarker = lexer.NewToken(lexer.Keyword, "end")

// Unfold desugars a TokenExpr into its stack-form token sequence, per
// spec.md §4.3's unfold: an OperationTree unfolds to the concatenation of
// its operands' unfoldings followed by the operator; a BlockExpression
// unfolds to its header, its body's unfolding, (an else marker and the else
// body's unfolding, for `if`), and a terminating end. Unfold is total and
// idempotent (spec.md §8, invariant 3): applying it to its own output (a
// flat ExprUnfolded of ExprLeaf items) reproduces the same flat sequence.
func Unfold(e TokenExpr) TokenExpr {
	toks := flatten(e)
	items := make([]TokenExpr, len(toks))
	for i, t := range toks {
		items[i] = TokenExpr{Kind: ExprLeaf, Leaf: t}
	}
	return TokenExpr{Kind: ExprUnfolded, Items: items}
}

func flatten(e TokenExpr) []lexer.Token {
	switch e.Kind {
	case ExprEmpty:
		return nil
	case ExprLeaf:
		return []lexer.Token{e.Leaf}
	case ExprOperation:
		nImm := immediateCount(e.Operator.Lexeme, len(e.Operands))
		if nImm > len(e.Operands) {
			nImm = 0
		}
		immOperands, stackOperands := e.Operands[:nImm], e.Operands[nImm:]
		var out []lexer.Token
		for _, operand := range stackOperands {
			out = append(out, flatten(operand)...)
		}
		out = append(out, e.Operator)
		for _, operand := range immOperands {
			out = append(out, flatten(operand)...)
		}
		return out
	case ExprUnfolded:
		var out []lexer.Token
		for _, item := range e.Items {
			out = append(out, flatten(item)...)
		}
		return out
	case ExprBlock:
		var out []lexer.Token
		out = append(out, blockHeaderToken(e.BlockKind))
		out = append(out, flatten(e.Body)...)
		if e.BlockKind == "if" {
			out = append(out, elseMarker)
			out = append(out, flatten(e.ElseBody)...)
		}
		out = append(out, endMarker)
		return out
	default:
		return nil
	}
}

// FlatTokens exposes flatten for callers (the type checker, the binary
// writer) that only need the fully unfolded token sequence, not the
// wrapping TokenExpr.
func FlatTokens(e TokenExpr) []lexer.Token { return flatten(e) }
