// Package tree builds the balanced-paren parse tree described in spec.md
// §3/§4.2: a rose tree whose internal nodes are s-expressions and whose
// leaves are non-paren tokens, rooted at a synthetic node holding the single
// top-level `(module ...)` form. The algorithm is a single left-to-right
// scan with a stack of open nodes, structured the way the teacher's
// Parser keeps a cursor (CurrToken/NextToken) over the token stream in
// parser/parser.go — here the cursor is implicit in the scan, and the
// "lookahead" is just whichever paren appears next.
package tree

import (
	"strings"

	"github.com/tinywat/watc/lexer"
)

// Node is one s-expression group (Children holds its Token or Node
// elements) or, when it has no children and Leaf is set, a single non-paren
// token.
type Node struct {
	Leaf     *lexer.Token
	Children []Node
}

// IsLeaf reports whether n is a leaf token rather than an s-expression.
func (n Node) IsLeaf() bool { return n.Leaf != nil }

// Tree is the parse tree: a synthetic root containing exactly one child,
// the top-level `module` expression, per spec.md §3's ParseTree invariant.
type Tree struct {
	Root Node
}

// Module returns the tree's single top-level `(module ...)` node.
func (t Tree) Module() Node { return t.Root.Children[0] }

// Build consumes a token sequence and produces a Tree, per spec.md §4.2.
// ParseError is returned for unbalanced parens, a missing top-level module
// form, or stray tokens following it.
func Build(tokens []lexer.Token) (Tree, error) {
	root := &frame{}
	stack := []*frame{root}

	for _, tok := range tokens {
		switch tok.Kind {
		case lexer.LParen:
			child := &frame{}
			stack = append(stack, child)
		case lexer.RParen:
			if len(stack) <= 1 {
				return Tree{}, newParseError(tok.Line, tok.Column, "unexpected ')' with no matching '('")
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, Node{Children: closed.toNodes()})
		default:
			t := tok
			leaf := Node{Leaf: &t}
			cur := stack[len(stack)-1]
			cur.children = append(cur.children, leaf)
		}
	}

	if len(stack) != 1 {
		return Tree{}, newParseError(0, 0, "unbalanced parens: %d unclosed '('", len(stack)-1)
	}
	rootChildren := root.children
	if len(rootChildren) == 0 {
		return Tree{}, newParseError(0, 0, "no top-level module form")
	}
	if len(rootChildren) > 1 {
		return Tree{}, newParseError(0, 0, "unexpected tokens after top-level module form")
	}
	top := rootChildren[0]
	if top.IsLeaf() || len(top.Children) == 0 || top.Children[0].Leaf == nil ||
		top.Children[0].Leaf.Kind != lexer.Keyword || top.Children[0].Leaf.Lexeme != "module" {
		return Tree{}, newParseError(0, 0, "expected top-level '(module ...)' form")
	}
	return Tree{Root: Node{Children: rootChildren}}, nil
}

// frame is the builder's working representation of an as-yet-unclosed
// s-expression: a plain slice of already-finished child Nodes, distinct from
// the finished, immutable Node/Tree the caller receives.
type frame struct {
	children []Node
}

func (f *frame) toNodes() []Node { return f.children }

// Strings renders the tree with lexemes only (no position metadata), for
// spec.md §6's getStringParseTree debugging operation.
func Strings(t Tree) StringTree {
	return toStringTree(t.Module())
}

// StringTree is a tree of lexemes, used by GetStringParseTree for debug
// dumps — it drops every field except the text a reader would see. The yaml
// tags let callers (cmd/watc's `--tree` mode) marshal it directly with
// yaml.v3 instead of hand-rolling a printer.
type StringTree struct {
	Leaf     string       `yaml:"leaf,omitempty"`
	Children []StringTree `yaml:"children,omitempty"`
}

func toStringTree(n Node) StringTree {
	if n.IsLeaf() {
		if n.Leaf.Kind == lexer.Text {
			return StringTree{Leaf: quoteText(n.Leaf.Lexeme)}
		}
		return StringTree{Leaf: n.Leaf.Lexeme}
	}
	st := StringTree{}
	for _, c := range n.Children {
		st.Children = append(st.Children, toStringTree(c))
	}
	return st
}

// quoteText re-wraps a Text token's already-unescaped Lexeme in quotes, so
// that lexing it back (via a fresh scan, as compileParseTree's single-token
// mode does) reproduces a Text token rather than misreading the content as
// a bareword. Only the two escapes scanText itself recognizes as plain
// characters worth escaping are reversed here (quote and backslash); `\n`
// and `\t` are folded back to their escape forms too.
func quoteText(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
