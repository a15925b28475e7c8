// Package watc is the public API surface spec.md §6 names: a small
// orchestration layer wiring lexer → tree → ir → check → wasmbin, the way
// the teacher's main.go/main/main.go wire lexer → parser → evaluator behind
// a handful of top-level functions.
package watc

import (
	"fmt"

	"github.com/tinywat/watc/check"
	"github.com/tinywat/watc/ir"
	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/tree"
	"github.com/tinywat/watc/wasmbin"
)

// Compile runs the full pipeline spec.md §6 calls `compile`: lex, parse,
// lower to IR, type-check, and encode to the canonical WebAssembly binary
// module. The returned error is one of *lexer.LexError, *tree.ParseError,
// *ir.FormError, *ir.NameError, *check.TypeError, or *ir.InternalError (see
// spec.md §7's error taxonomy), depending on which stage first rejects the
// source; an immediate the encoder cannot write (for example a br_table with
// no labels) surfaces as a plain error from wasmbin.Encode.
func Compile(source string) ([]byte, error) {
	t, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return CompileParseTree(t)
}

// Parse runs only the lex + parse stages spec.md §6 calls `parse`, stopping
// short of lowering — useful for callers that want the raw parse tree
// (tooling, REPL "dump" modes) without committing to the rest of the
// pipeline.
func Parse(source string) (tree.Tree, error) {
	toks, err := lexer.Lex(source)
	if err != nil {
		return tree.Tree{}, err
	}
	return tree.Build(toks)
}

// GetStringParseTree runs Parse and strips every field but each token's
// lexeme, per spec.md §6's `getStringParseTree` debugging operation.
func GetStringParseTree(source string) (tree.StringTree, error) {
	t, err := Parse(source)
	if err != nil {
		return tree.StringTree{}, err
	}
	return tree.Strings(t), nil
}

// CompileParseTree runs the lower/check/encode stages directly on an
// already-parsed tree, skipping lex+parse, per spec.md §6's
// `compileParseTree`. t must be a tree.Tree (the ordinary parse tree
// Parse returns) or a tree.StringTree (the lexeme-only debug tree
// GetStringParseTree returns) — spec.md §6 allows either, since a
// TreeOfStrings can be rebuilt into a tree.Tree by single-token-lexing
// each leaf string (its position metadata is then absent, since the
// original source positions were already discarded by GetStringParseTree).
func CompileParseTree(t interface{}) ([]byte, error) {
	var pt tree.Tree
	switch v := t.(type) {
	case tree.Tree:
		pt = v
	case tree.StringTree:
		converted, err := treeFromStrings(v)
		if err != nil {
			return nil, err
		}
		pt = converted
	default:
		return nil, fmt.Errorf("watc: CompileParseTree expects a tree.Tree or tree.StringTree, got %T", t)
	}

	mod, err := ir.Lower(pt)
	if err != nil {
		return nil, err
	}
	if err := check.CheckModule(mod); err != nil {
		return nil, err
	}
	return wasmbin.Encode(mod)
}

// treeFromStrings rebuilds a tree.Tree from a tree.StringTree by
// single-token-lexing each leaf (lexer.go's Lexer.Next exists precisely for
// this case — see its doc comment).
func treeFromStrings(st tree.StringTree) (tree.Tree, error) {
	module, err := nodeFromStrings(st)
	if err != nil {
		return tree.Tree{}, err
	}
	return tree.Tree{Root: tree.Node{Children: []tree.Node{module}}}, nil
}

func nodeFromStrings(st tree.StringTree) (tree.Node, error) {
	if st.Leaf != "" {
		tok, err := singleToken(st.Leaf)
		if err != nil {
			return tree.Node{}, err
		}
		return tree.Node{Leaf: &tok}, nil
	}
	children := make([]tree.Node, len(st.Children))
	for i, c := range st.Children {
		n, err := nodeFromStrings(c)
		if err != nil {
			return tree.Node{}, err
		}
		children[i] = n
	}
	return tree.Node{Children: children}, nil
}

// singleToken lexes exactly one token from s, with its position metadata
// zeroed out (it never existed — s came from a StringTree, not source
// text), per spec.md §6's "position metadata will be absent" note.
func singleToken(s string) (lexer.Token, error) {
	tok, err := lexer.New(s).Next()
	if err != nil {
		return lexer.Token{}, err
	}
	tok.Line, tok.Column, tok.IndexInSource = 0, 0, 0
	return tok, nil
}
