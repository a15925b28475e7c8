// Package ir lowers a parse tree into the module intermediate representation
// spec.md §3 defines: interned signatures, indexed functions and exports,
// and a TokenExpression sum type describing each function body before and
// after folded-form desugaring. The lowering algorithm itself is the
// subject of spec.md §4.3; this file holds only the data types.
//
// Where the teacher models its AST as a family of Go types behind a
// NodeVisitor interface (parser/node.go), spec.md §9 calls for a sealed sum
// type instead: TokenExpr below is one struct with a Kind tag, and callers
// switch on Kind rather than type-asserting or double-dispatching through a
// visitor. The zero value of ExprKind is ExprEmpty, so a zero TokenExpr is
// exactly spec.md's EmptyTokenExpression — no constructor needed for it.
package ir

import (
	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/opcode"
)

// SignatureType is an ordered parameter list and ordered result list,
// compared structurally, per spec.md §3.
type SignatureType struct {
	Params  []opcode.ValType
	Results []opcode.ValType
}

// Equal reports structural equality between two signatures.
func (s SignatureType) Equal(o SignatureType) bool {
	return valTypesEqual(s.Params, o.Params) && valTypesEqual(s.Results, o.Results)
}

func valTypesEqual(a, b []opcode.ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FunctionSignature is a SignatureType plus the surface-level names and
// locals a `func` form declares, per spec.md §3.
type FunctionSignature struct {
	Sig        SignatureType
	Name       string // "" if the function has no $id
	ExportName string // "" if no inline (export "...") shorthand was present

	ParamNames []string        // len == len(Sig.Params); "" for an unnamed slot
	LocalTypes []opcode.ValType // locals declared after params
	LocalNames []string        // len == len(LocalTypes); "" for an unnamed slot
}

// ExprKind is the tag of the TokenExpr sealed sum type (spec.md §3/§9).
type ExprKind int

const (
	ExprEmpty ExprKind = iota // the unit body; zero value
	ExprLeaf                  // a single Token — an opcode, immediate, or symbolic-name operand
	ExprOperation             // a folded s-expression: OperationTree{operator, operands}
	ExprUnfolded              // a flat stack-form sequence of items
	ExprBlock                 // block | loop | if, with signature/label/body(/else)
)

// TokenExpr is the tagged variant described in spec.md §3. Only the fields
// relevant to Kind are populated; this matches the teacher's convention in
// parser/enum_node.go of one struct carrying every variant's fields behind
// a discriminant, rather than spec.md's class-hierarchy phrasing.
type TokenExpr struct {
	Kind ExprKind

	// ExprLeaf
	Leaf lexer.Token

	// ExprOperation
	Operator lexer.Token
	Operands []TokenExpr

	// ExprUnfolded
	Items []TokenExpr

	// ExprBlock
	BlockKind string // "block", "loop", or "if"
	Signature SignatureType
	Label     string // "" if the block has no $label
	Body      TokenExpr
	ElseBody  TokenExpr // only meaningful when BlockKind == "if"; zero value (ExprEmpty) when no (else ...) was written
	Line, Col int       // the block's opening keyword position, for TypeError reporting
}

// ExportKind is one of the four WebAssembly export/import kinds (SPEC_FULL
// §3.1 resolves spec.md §9's open question: all four are supported, not
// just func).
type ExportKind int

const (
	ExportFunc ExportKind = iota
	ExportTable
	ExportMemory
	ExportGlobal
)

func (k ExportKind) String() string {
	switch k {
	case ExportFunc:
		return "func"
	case ExportTable:
		return "table"
	case ExportMemory:
		return "memory"
	case ExportGlobal:
		return "global"
	default:
		return "invalid"
	}
}

// Ref is a reference to an entry in one of the module's index spaces: either
// already resolved to a numeric Index, or still carrying the symbolic Name
// that resolution fills in during the forward-reference pass (spec.md
// §4.3's "Symbolic-name resolution").
type Ref struct {
	Resolved bool
	Index    uint32
	Name     string // "$id" form; only meaningful when !Resolved
}

// ExportExpression is (exportName, exportKind, reference), per spec.md §3.
type ExportExpression struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// ImportExpression describes a `(import "module" "name" (kind ...))` field
// (SPEC_FULL §3.1/§4.6).
type ImportExpression struct {
	Module string
	Name   string
	Kind   ExportKind
	// TypeIndex is only meaningful when Kind == ExportFunc.
	TypeIndex uint32
	// GlobalType/GlobalMutable are only meaningful when Kind == ExportGlobal;
	// the type checker needs them to validate a `global.get` of an imported
	// global inside another global's constant init expression (SPEC_FULL
	// §4.6).
	GlobalType    opcode.ValType
	GlobalMutable bool
	// TableRefType/TableLimits are only meaningful when Kind == ExportTable.
	TableRefType opcode.ValType
	TableLimits  Limits
	// MemLimits is only meaningful when Kind == ExportMemory.
	MemLimits Limits
}

// FunctionExpression owns its FunctionSignature and lowered body.
type FunctionExpression struct {
	Signature FunctionSignature
	Body      TokenExpr
	TypeIndex uint32 // index into Module.TypeSection
}

// Limits is the min/max pair shared by table and memory declarations.
type Limits struct {
	Min     uint32
	Max     uint32
	HasMax  bool
}

// Table is a `(table ...)` field.
type Table struct {
	Name    string
	RefType opcode.ValType // FuncRef or ExternRef
	Limits  Limits
}

// Memory is a `(memory ...)` field.
type Memory struct {
	Name   string
	Limits Limits
}

// Global is a `(global ...)` field: a typed, optionally-mutable storage
// location initialized by a constant expression.
type Global struct {
	Name    string
	Type    opcode.ValType
	Mutable bool
	Init    TokenExpr // a constant instruction sequence; see checkConst in package check
}

// Elem is an `(elem ...)` active element segment.
type Elem struct {
	TableIndex uint32
	Offset     TokenExpr
	FuncIndexes []Ref
}

// Data is a `(data ...)` active data segment.
type Data struct {
	MemIndex uint32
	Offset   TokenExpr
	Bytes    []byte
}

// Module is the root IR (ModuleExpression in spec.md §3). TypeSection is
// spec.md's globalTypes — renamed here to avoid colliding with GlobalVars,
// per SPEC_FULL.md §3.1's naming resolution.
type Module struct {
	TypeSection []SignatureType
	Functions   []*FunctionExpression
	Imports     []*ImportExpression
	Exports     []*ExportExpression
	Tables      []*Table
	Mems        []*Memory
	GlobalVars  []*Global
	Elems       []*Elem
	Datas       []*Data
	Start       *uint32

	// importedFuncs is the count of Functions-index-space slots consumed
	// by func imports, which occupy the low end of the function index
	// space ahead of any defined function (SPEC_FULL §4.6).
	importedFuncs uint32
}

// AddGlobalType interns t into TypeSection, scanning for structural
// equality and appending only if absent (spec.md §4.3's addGlobalType).
// First insertion wins the index.
func (m *Module) AddGlobalType(t SignatureType) uint32 {
	for i, existing := range m.TypeSection {
		if existing.Equal(t) {
			return uint32(i)
		}
	}
	m.TypeSection = append(m.TypeSection, t)
	return uint32(len(m.TypeSection) - 1)
}

// ResolveGlobalTypeIndex returns t's position in TypeSection. It is an
// InternalError for a queried type to be absent, per spec.md §4.3 — that
// means a function was added without registering its signature first.
func (m *Module) ResolveGlobalTypeIndex(t SignatureType) (uint32, error) {
	for i, existing := range m.TypeSection {
		if existing.Equal(t) {
			return uint32(i), nil
		}
	}
	return 0, &InternalError{Message: "queried signature is not interned in TypeSection"}
}

// FuncIndexOf returns the absolute function-index-space position of the
// nth defined function (as opposed to imported function).
func (m *Module) FuncIndexOf(definedFuncPos int) uint32 {
	return m.importedFuncs + uint32(definedFuncPos)
}

// FuncSignatureAt returns the signature occupying function-index-space slot
// idx, searching imported functions first (they occupy the low end of the
// space) and then defined functions, per SPEC_FULL §4.6. Used by the type
// checker to resolve a `call`'s consumed/produced types.
func (m *Module) FuncSignatureAt(idx uint32) (SignatureType, bool) {
	pos := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != ExportFunc {
			continue
		}
		if pos == idx {
			return m.TypeSection[imp.TypeIndex], true
		}
		pos++
	}
	definedIdx := idx - pos
	if int(definedIdx) >= len(m.Functions) {
		return SignatureType{}, false
	}
	fn := m.Functions[definedIdx]
	return m.TypeSection[fn.TypeIndex], true
}

// GlobalTypeAt returns the value type and mutability of the global
// occupying global-index-space slot idx, imports first then defined
// globals, per SPEC_FULL §4.6.
func (m *Module) GlobalTypeAt(idx uint32) (opcode.ValType, bool, bool) {
	pos := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != ExportGlobal {
			continue
		}
		if pos == idx {
			return imp.GlobalType, imp.GlobalMutable, true
		}
		pos++
	}
	definedIdx := idx - pos
	if int(definedIdx) >= len(m.GlobalVars) {
		return 0, false, false
	}
	g := m.GlobalVars[definedIdx]
	return g.Type, g.Mutable, true
}
