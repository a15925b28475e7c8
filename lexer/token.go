// Package lexer turns WebAssembly-text source into a flat token stream.
// The overall shape — a struct that walks the source byte by byte tracking
// line/column, a keyword lookup table, and a constructor pair (bare vs.
// with-metadata) for tokens — follows the teacher's lexer package; the
// token kinds and scanning rules themselves are specific to the
// parenthesized WAT surface syntax described in spec.md §3/§4.1.
package lexer

import "github.com/tinywat/watc/opcode"

// Kind is the closed enumeration of lexical token kinds named in spec.md §3.
type Kind int

const (
	LParen Kind = iota
	RParen
	Keyword   // module, func, param, result, local, export, import, block, loop, if, else, end, table, memory, global, data, elem, start, then, mut
	ValueType // i32, i64, f32, f64, funcref, externref
	Opcode    // a typed instruction mnemonic, e.g. i32.add
	Nat       // unsigned integer literal
	Int       // signed integer literal
	Float     // floating point literal
	Text      // double-quoted string literal
	Symbol    // $name
	EOF
)

func (k Kind) String() string {
	switch k {
	case LParen:
		return "("
	case RParen:
		return ")"
	case Keyword:
		return "keyword"
	case ValueType:
		return "valtype"
	case Opcode:
		return "opcode"
	case Nat:
		return "nat"
	case Int:
		return "int"
	case Float:
		return "float"
	case Text:
		return "text"
	case Symbol:
		return "symbol"
	case EOF:
		return "eof"
	default:
		return "invalid"
	}
}

// keywords is the closed set of structural keywords spec.md §3 names. Any
// other bare identifier-shaped run is either a value type, an opcode, a
// number, or a lex error — see classifyWord in lexer.go.
var keywords = map[string]bool{
	"module": true, "func": true, "param": true, "result": true, "local": true,
	"export": true, "import": true, "block": true, "loop": true, "if": true,
	"else": true, "end": true, "table": true, "memory": true, "global": true,
	"data": true, "elem": true, "start": true, "then": true, "mut": true,
}

// Token is a lexical atom with position metadata. Opcode tokens additionally
// carry the denormalized opcode byte and stack effect fetched from the
// opcode table at lex time, per spec.md §3's Token definition.
type Token struct {
	Kind          Kind
	Lexeme        string
	Line          int
	Column        int
	IndexInSource int

	// Populated only when Kind == Opcode.
	OpcodeInfo opcode.Info
}

// NewToken creates a bare token with no position metadata, mirroring the
// teacher's NewToken constructor used in tests where position is irrelevant.
func NewToken(kind Kind, lexeme string) Token {
	return Token{Kind: kind, Lexeme: lexeme}
}

// NewTokenAt creates a token with full position metadata, mirroring the
// teacher's NewTokenWithMetadata constructor.
func NewTokenAt(kind Kind, lexeme string, line, col, idx int) Token {
	return Token{Kind: kind, Lexeme: lexeme, Line: line, Column: col, IndexInSource: idx}
}

// IsParen reports whether tok is an opening or closing paren.
func (t Token) IsParen() bool { return t.Kind == LParen || t.Kind == RParen }
