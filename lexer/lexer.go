package lexer

import (
	"strings"

	"github.com/tinywat/watc/opcode"
)

// Lexer scans WebAssembly-text source into tokens. It tracks its position
// much like the teacher's Lexer struct (Src/Current/Position/Line/Column),
// but the scanning rules are s-expression rules: parens are always
// single-byte tokens, everything else is either a quoted string, a `$name`
// symbol, or a "bareword" run terminated by whitespace or a paren.
type Lexer struct {
	src  string
	pos  int // byte offset of the next unread byte
	line int
	col  int
}

// New creates a Lexer positioned at the start of src.
func New(src string) *Lexer {
	return &Lexer{src: src, pos: 0, line: 1, col: 1}
}

// Lex tokenizes source in full, returning the ordered token sequence with
// whitespace and comments removed, per spec.md §4.1's contract. This is the
// entry point most callers use; Lexer.Next exists for callers (watc's
// single-token mode in CompileParseTree, per spec.md §6's compileParseTree
// contract) that want one token at a time.
func Lex(source string) ([]Token, error) {
	lx := New(source)
	var toks []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind == EOF {
			return toks, nil
		}
		toks = append(toks, tok)
	}
}

func (lx *Lexer) peekByte(off int) (byte, bool) {
	i := lx.pos + off
	if i < 0 || i >= len(lx.src) {
		return 0, false
	}
	return lx.src[i], true
}

func (lx *Lexer) advance() byte {
	b := lx.src[lx.pos]
	lx.pos++
	if b == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return b
}

func (lx *Lexer) atEnd() bool { return lx.pos >= len(lx.src) }

// skipWhitespaceAndComments advances past runs of ASCII whitespace, line
// comments (`;; ...` to end of line), and nestable block comments
// (`(; ... ;)`), returning an error for an unterminated block comment.
func (lx *Lexer) skipWhitespaceAndComments() error {
	for !lx.atEnd() {
		b, _ := lx.peekByte(0)
		switch {
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			lx.advance()
			continue
		case b == '(' :
			if nb, ok := lx.peekByte(1); ok && nb == ';' {
				startLine, startCol := lx.line, lx.col
				lx.advance()
				lx.advance()
				depth := 1
				for depth > 0 {
					if lx.atEnd() {
						return newLexError(startLine, startCol, "unterminated block comment")
					}
					c := lx.advance()
					if c == '(' {
						if nb2, ok := lx.peekByte(0); ok && nb2 == ';' {
							lx.advance()
							depth++
						}
					} else if c == ';' {
						if nb2, ok := lx.peekByte(0); ok && nb2 == ')' {
							lx.advance()
							depth--
						}
					}
				}
				continue
			}
			return nil
		case b == ';':
			if nb, ok := lx.peekByte(1); ok && nb == ';' {
				lx.advance()
				lx.advance()
				for !lx.atEnd() {
					c, _ := lx.peekByte(0)
					if c == '\n' {
						break
					}
					lx.advance()
				}
				continue
			}
			return nil
		default:
			return nil
		}
	}
	return nil
}

// Next scans and returns the next token, or a Kind==EOF token once the
// source is exhausted.
func (lx *Lexer) Next() (Token, error) {
	if err := lx.skipWhitespaceAndComments(); err != nil {
		return Token{}, err
	}
	if lx.atEnd() {
		return Token{Kind: EOF, Line: lx.line, Column: lx.col, IndexInSource: lx.pos}, nil
	}

	line, col, idx := lx.line, lx.col, lx.pos
	b, _ := lx.peekByte(0)

	switch b {
	case '(':
		lx.advance()
		return NewTokenAt(LParen, "(", line, col, idx), nil
	case ')':
		lx.advance()
		return NewTokenAt(RParen, ")", line, col, idx), nil
	case '"':
		return lx.scanText(line, col, idx)
	case '$':
		return lx.scanSymbol(line, col, idx)
	default:
		return lx.scanWord(line, col, idx)
	}
}

func isWordDelim(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '(' || b == ')'
}

// idChar reports whether b is a legal continuation character for both
// symbolic names and bareword runs (opcodes, keywords, numbers), per the
// character set spec.md §4.1 gives for `$name` symbols.
func idChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '_', '.', '+', '-', '*', '/', '\\', '^', '~', '=', '<', '>', '!',
		'?', '@', '#', '$', '%', '&', '|', ':', '\'', '`':
		return true
	}
	return false
}

func (lx *Lexer) scanSymbol(line, col, idx int) (Token, error) {
	lx.advance() // consume '$'
	start := lx.pos
	for !lx.atEnd() {
		b, _ := lx.peekByte(0)
		if isWordDelim(b) || !idChar(b) {
			break
		}
		lx.advance()
	}
	if lx.pos == start {
		return Token{}, newLexError(line, col, "empty symbolic name")
	}
	lexeme := "$" + lx.src[start:lx.pos]
	return NewTokenAt(Symbol, lexeme, line, col, idx), nil
}

func (lx *Lexer) scanText(line, col, idx int) (Token, error) {
	lx.advance() // consume opening quote
	var sb strings.Builder
	for {
		if lx.atEnd() {
			return Token{}, newLexError(line, col, "unterminated string literal")
		}
		c := lx.advance()
		if c == '"' {
			break
		}
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if lx.atEnd() {
			return Token{}, newLexError(line, col, "unterminated escape sequence")
		}
		esc := lx.advance()
		switch esc {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case '"':
			sb.WriteByte('"')
		case '\\':
			sb.WriteByte('\\')
		default:
			hi, ok1 := hexDigit(esc)
			lo, ok2 := byte(0), false
			if ok1 && !lx.atEnd() {
				lo, ok2 = hexDigit(lx.advance())
			}
			if !ok1 || !ok2 {
				return Token{}, newLexError(line, col, "invalid escape sequence \\%c", esc)
			}
			sb.WriteByte(hi<<4 | lo)
		}
	}
	return NewTokenAt(Text, sb.String(), line, col, idx), nil
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}

func (lx *Lexer) scanWord(line, col, idx int) (Token, error) {
	start := lx.pos
	for !lx.atEnd() {
		b, _ := lx.peekByte(0)
		if isWordDelim(b) {
			break
		}
		if !idChar(b) {
			return Token{}, newLexError(line, col, "unexpected character %q", b)
		}
		lx.advance()
	}
	word := lx.src[start:lx.pos]
	if word == "" {
		return Token{}, newLexError(line, col, "unexpected character")
	}
	return classifyWord(word, line, col, idx)
}

// classifyWord implements spec.md §4.1's dispatch: keyword, else value type
// or opcode (both closed sets looked up via the opcode table / value-type
// table), else a numeric literal, else a lex error.
func classifyWord(word string, line, col, idx int) (Token, error) {
	if keywords[word] {
		return NewTokenAt(Keyword, word, line, col, idx), nil
	}
	if _, ok := opcode.ValTypeByName(word); ok {
		return NewTokenAt(ValueType, word, line, col, idx), nil
	}
	if info, ok := opcode.Lookup(word); ok {
		tok := NewTokenAt(Opcode, word, line, col, idx)
		tok.OpcodeInfo = info
		return tok, nil
	}
	if kind, ok := classifyNumber(word); ok {
		return NewTokenAt(kind, word, line, col, idx), nil
	}
	return Token{}, newLexError(line, col, "unrecognized token %q", word)
}

// classifyNumber recognizes WAT numeric literals: unsigned ("Nat"), signed
// integers, and floats, including hex (0x-prefixed) variants and the `inf`/
// `nan`/`nan:0x...` float spellings (SPEC_FULL.md §4.7).
func classifyNumber(word string) (Kind, bool) {
	s := word
	signed := false
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		signed = true
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	if s == "inf" || s == "nan" {
		return Float, true
	}
	if strings.HasPrefix(s, "nan:0x") && len(s) > 6 && allHex(s[6:]) {
		return Float, true
	}

	hex := false
	body := s
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		hex = true
		body = s[2:]
	}

	digitOK := func(b byte) bool {
		if hex {
			_, ok := hexDigit(b)
			return ok
		}
		return b >= '0' && b <= '9'
	}

	i := 0
	sawDigit := false
	for i < len(body) && (digitOK(body[i]) || body[i] == '_') {
		if body[i] != '_' {
			sawDigit = true
		}
		i++
	}
	if !sawDigit {
		return 0, false
	}
	isFloat := false
	if i < len(body) && body[i] == '.' {
		isFloat = true
		i++
		for i < len(body) && (digitOK(body[i]) || body[i] == '_') {
			i++
		}
	}
	expMarker := byte('e')
	if hex {
		expMarker = 'p'
	}
	if i < len(body) && (body[i] == expMarker || body[i] == expMarker-('a'-'A')) {
		isFloat = true
		i++
		if i < len(body) && (body[i] == '+' || body[i] == '-') {
			i++
		}
		expStart := i
		for i < len(body) && body[i] >= '0' && body[i] <= '9' {
			i++
		}
		if i == expStart {
			return 0, false
		}
	}
	if i != len(body) {
		return 0, false
	}
	if isFloat {
		return Float, true
	}
	if signed {
		return Int, true
	}
	return Nat, true
}

func allHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if _, ok := hexDigit(s[i]); !ok {
			return false
		}
	}
	return true
}
