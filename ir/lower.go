package ir

import (
	"strconv"

	"github.com/tinywat/watc/lexer"
	"github.com/tinywat/watc/opcode"
	"github.com/tinywat/watc/tree"
)

// lowerer carries the state threaded through Lower's three passes: the
// module-global name environments (spec.md §4.3's symbolic-name resolution)
// and the work deferred from the header pass to the forward-reference pass.
// Nothing here is shared across calls to Lower — a fresh lowerer is built
// per module, matching spec.md §5's "no process-wide mutable state beyond
// the opcode table" rule.
type lowerer struct {
	mod *Module

	funcNames   map[string]uint32
	globalNames map[string]uint32
	tableNames  map[string]uint32
	memNames    map[string]uint32

	importedTables  uint32
	importedMems    uint32
	importedGlobals uint32

	pendingFuncs   []*pendingFunc
	pendingExports []tree.Node
	pendingElems   []tree.Node
	pendingStart   *tree.Node
}

type pendingFunc struct {
	expr      *FunctionExpression
	bodyNodes []tree.Node
	ctx       funcContext
}

// Lower runs spec.md §4.3's algorithm: a header pass that assigns every
// index-space slot and collects module-global names (permitting functions
// declared later in the source to be called by functions declared earlier),
// then a body pass lowering each function now that every name is known,
// then a resolution pass for the forms (export, start, elem) that only need
// the name tables, not a body, and so can wait until last.
func Lower(t tree.Tree) (*Module, error) {
	modNode := t.Module()
	l := &lowerer{
		mod:         &Module{},
		funcNames:   map[string]uint32{},
		globalNames: map[string]uint32{},
		tableNames:  map[string]uint32{},
		memNames:    map[string]uint32{},
	}

	for _, field := range modNode.Children[1:] {
		if field.IsLeaf() || len(field.Children) == 0 {
			line, col := nodePos(field)
			return nil, newFormError(line, col, "expected a module field")
		}
		head := field.Children[0]
		if head.Leaf == nil || head.Leaf.Kind != lexer.Keyword {
			line, col := nodePos(head)
			return nil, newFormError(line, col, "expected a field keyword")
		}
		var err error
		switch head.Leaf.Lexeme {
		case "import":
			err = l.lowerImport(field)
		case "func":
			err = l.lowerFuncHeader(field)
		case "table":
			err = l.lowerTable(field)
		case "memory":
			err = l.lowerMemory(field)
		case "global":
			err = l.lowerGlobal(field)
		case "data":
			err = l.lowerData(field)
		case "export":
			l.pendingExports = append(l.pendingExports, field)
		case "elem":
			l.pendingElems = append(l.pendingElems, field)
		case "start":
			if l.pendingStart != nil {
				err = newFormError(head.Leaf.Line, head.Leaf.Column, "a module may declare at most one start function")
			} else {
				fieldCopy := field
				l.pendingStart = &fieldCopy
			}
		default:
			err = newFormError(head.Leaf.Line, head.Leaf.Column, "unknown module field %q", head.Leaf.Lexeme)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, pf := range l.pendingFuncs {
		body, err := l.lowerBody(pf.bodyNodes, &pf.ctx)
		if err != nil {
			return nil, err
		}
		pf.expr.Body = body
	}

	for _, ex := range l.pendingExports {
		if err := l.resolveExport(ex); err != nil {
			return nil, err
		}
	}
	if l.pendingStart != nil {
		if err := l.resolveStart(*l.pendingStart); err != nil {
			return nil, err
		}
	}
	for _, el := range l.pendingElems {
		if err := l.resolveElem(el); err != nil {
			return nil, err
		}
	}

	return l.mod, nil
}

func nodePos(n tree.Node) (int, int) {
	if n.IsLeaf() {
		return n.Leaf.Line, n.Leaf.Column
	}
	if len(n.Children) > 0 {
		return nodePos(n.Children[0])
	}
	return 0, 0
}

func requireText(n tree.Node) (string, error) {
	if !n.IsLeaf() || n.Leaf.Kind != lexer.Text {
		line, col := nodePos(n)
		return "", newFormError(line, col, "expected a string literal")
	}
	return n.Leaf.Lexeme, nil
}

func requireNat(n tree.Node) (uint32, error) {
	if !n.IsLeaf() || n.Leaf.Kind != lexer.Nat {
		line, col := nodePos(n)
		return 0, newFormError(line, col, "expected an unsigned integer literal")
	}
	v, convErr := strconv.ParseUint(n.Leaf.Lexeme, 0, 32)
	if convErr != nil {
		return 0, newFormError(n.Leaf.Line, n.Leaf.Column, "integer literal %q out of range", n.Leaf.Lexeme)
	}
	return uint32(v), nil
}

// parseLimits reads a table/memory Limits: one Nat (min) or two (min, max).
func parseLimits(nodes []tree.Node) (min, max uint32, hasMax bool, consumed int, err error) {
	if len(nodes) == 0 {
		return 0, 0, false, 0, newFormError(0, 0, "expected a limits pair (min, or min max)")
	}
	min, err = requireNat(nodes[0])
	if err != nil {
		return 0, 0, false, 0, err
	}
	if len(nodes) > 1 && nodes[1].IsLeaf() && nodes[1].Leaf.Kind == lexer.Nat {
		max, err = requireNat(nodes[1])
		if err != nil {
			return 0, 0, false, 0, err
		}
		return min, max, true, 2, nil
	}
	return min, 0, false, 1, nil
}

// parseParamsResults consumes as many leading (param ...) / (result ...)
// groups as are present, in either order, per spec.md §4.3's typeuse
// grammar. It stops — without error — at the first item that is not one of
// these two forms, returning how many nodes it consumed.
func (l *lowerer) parseParamsResults(nodes []tree.Node) (params []opcode.ValType, paramNames []string, results []opcode.ValType, consumed int, err error) {
	i := 0
	for i < len(nodes) {
		g := nodes[i]
		if g.IsLeaf() || len(g.Children) == 0 || g.Children[0].Leaf == nil {
			break
		}
		head := g.Children[0].Leaf
		switch head.Lexeme {
		case "param":
			rest := g.Children[1:]
			if len(rest) >= 1 && rest[0].IsLeaf() && rest[0].Leaf.Kind == lexer.Symbol {
				if len(rest) != 2 {
					return nil, nil, nil, 0, newFormError(head.Line, head.Column, "a named param declares exactly one type")
				}
				vt, ok := opcode.ValTypeByName(rest[1].Leaf.Lexeme)
				if !ok {
					return nil, nil, nil, 0, newFormError(rest[1].Leaf.Line, rest[1].Leaf.Column, "expected a value type")
				}
				params = append(params, vt)
				paramNames = append(paramNames, rest[0].Leaf.Lexeme)
			} else {
				for _, r := range rest {
					if !r.IsLeaf() {
						line, col := nodePos(r)
						return nil, nil, nil, 0, newFormError(line, col, "expected a value type")
					}
					vt, ok := opcode.ValTypeByName(r.Leaf.Lexeme)
					if !ok {
						return nil, nil, nil, 0, newFormError(r.Leaf.Line, r.Leaf.Column, "expected a value type")
					}
					params = append(params, vt)
					paramNames = append(paramNames, "")
				}
			}
		case "result":
			for _, r := range g.Children[1:] {
				if !r.IsLeaf() {
					line, col := nodePos(r)
					return nil, nil, nil, 0, newFormError(line, col, "expected a value type")
				}
				vt, ok := opcode.ValTypeByName(r.Leaf.Lexeme)
				if !ok {
					return nil, nil, nil, 0, newFormError(r.Leaf.Line, r.Leaf.Column, "expected a value type")
				}
				results = append(results, vt)
			}
		default:
			return params, paramNames, results, i, nil
		}
		i++
	}
	return params, paramNames, results, i, nil
}

// parseLocals consumes leading (local ...) groups the same way
// parseParamsResults consumes (param ...) groups.
func (l *lowerer) parseLocals(nodes []tree.Node) (types []opcode.ValType, names []string, consumed int, err error) {
	i := 0
	for i < len(nodes) {
		g := nodes[i]
		if g.IsLeaf() || len(g.Children) == 0 || g.Children[0].Leaf == nil || g.Children[0].Leaf.Lexeme != "local" {
			break
		}
		head := g.Children[0].Leaf
		rest := g.Children[1:]
		if len(rest) >= 1 && rest[0].IsLeaf() && rest[0].Leaf.Kind == lexer.Symbol {
			if len(rest) != 2 {
				return nil, nil, 0, newFormError(head.Line, head.Column, "a named local declares exactly one type")
			}
			vt, ok := opcode.ValTypeByName(rest[1].Leaf.Lexeme)
			if !ok {
				return nil, nil, 0, newFormError(rest[1].Leaf.Line, rest[1].Leaf.Column, "expected a value type")
			}
			types = append(types, vt)
			names = append(names, rest[0].Leaf.Lexeme)
		} else {
			for _, r := range rest {
				if !r.IsLeaf() {
					line, col := nodePos(r)
					return nil, nil, 0, newFormError(line, col, "expected a value type")
				}
				vt, ok := opcode.ValTypeByName(r.Leaf.Lexeme)
				if !ok {
					return nil, nil, 0, newFormError(r.Leaf.Line, r.Leaf.Column, "expected a value type")
				}
				types = append(types, vt)
				names = append(names, "")
			}
		}
		i++
	}
	return types, names, i, nil
}

func (l *lowerer) lowerFuncHeader(f tree.Node) error {
	children := f.Children[1:]
	i := 0
	name := ""
	if i < len(children) && children[i].IsLeaf() && children[i].Leaf.Kind == lexer.Symbol {
		name = children[i].Leaf.Lexeme
		i++
	}
	inlineExport := ""
	for i < len(children) && !children[i].IsLeaf() && len(children[i].Children) > 0 &&
		children[i].Children[0].Leaf != nil && children[i].Children[0].Leaf.Lexeme == "export" {
		txt, err := requireText(children[i].Children[1])
		if err != nil {
			return err
		}
		inlineExport = txt
		i++
	}

	params, paramNames, results, consumed, err := l.parseParamsResults(children[i:])
	if err != nil {
		return err
	}
	i += consumed
	localTypes, localNames, consumed2, err := l.parseLocals(children[i:])
	if err != nil {
		return err
	}
	i += consumed2
	bodyNodes := children[i:]

	sig := SignatureType{Params: params, Results: results}
	typeIdx := l.mod.AddGlobalType(sig)
	fe := &FunctionExpression{
		Signature: FunctionSignature{
			Sig: sig, Name: name, ExportName: inlineExport,
			ParamNames: paramNames, LocalTypes: localTypes, LocalNames: localNames,
		},
		TypeIndex: typeIdx,
	}
	l.mod.Functions = append(l.mod.Functions, fe)
	funcIdx := l.mod.FuncIndexOf(len(l.mod.Functions) - 1)
	if name != "" {
		if _, dup := l.funcNames[name]; dup {
			head := f.Children[0].Leaf
			return newFormError(head.Line, head.Column, "duplicate function name %q", name)
		}
		l.funcNames[name] = funcIdx
	}
	if inlineExport != "" {
		l.mod.Exports = append(l.mod.Exports, &ExportExpression{Name: inlineExport, Kind: ExportFunc, Index: funcIdx})
	}

	localEnv := make([]string, 0, len(paramNames)+len(localNames))
	localEnv = append(localEnv, paramNames...)
	localEnv = append(localEnv, localNames...)
	l.pendingFuncs = append(l.pendingFuncs, &pendingFunc{
		expr:      fe,
		bodyNodes: bodyNodes,
		ctx:       funcContext{funcName: name, localNames: localEnv},
	})
	return nil
}

func (l *lowerer) lowerImport(f tree.Node) error {
	children := f.Children[1:]
	if len(children) < 3 {
		head := f.Children[0].Leaf
		return newFormError(head.Line, head.Column, "import requires a module name, a field name, and a descriptor")
	}
	modName, err := requireText(children[0])
	if err != nil {
		return err
	}
	fieldName, err := requireText(children[1])
	if err != nil {
		return err
	}
	desc := children[2]
	if desc.IsLeaf() || len(desc.Children) == 0 || desc.Children[0].Leaf == nil {
		line, col := nodePos(desc)
		return newFormError(line, col, "import descriptor must be (func|table|memory|global ...)")
	}
	head := desc.Children[0].Leaf
	rest := desc.Children[1:]

	switch head.Lexeme {
	case "func":
		i := 0
		id := ""
		if i < len(rest) && rest[i].IsLeaf() && rest[i].Leaf.Kind == lexer.Symbol {
			id = rest[i].Leaf.Lexeme
			i++
		}
		params, _, results, _, err := l.parseParamsResults(rest[i:])
		if err != nil {
			return err
		}
		sig := SignatureType{Params: params, Results: results}
		typeIdx := l.mod.AddGlobalType(sig)
		idx := l.mod.importedFuncs
		l.mod.importedFuncs++
		l.mod.Imports = append(l.mod.Imports, &ImportExpression{Module: modName, Name: fieldName, Kind: ExportFunc, TypeIndex: typeIdx})
		if id != "" {
			l.funcNames[id] = idx
		}
	case "table":
		i := 0
		id := ""
		if i < len(rest) && rest[i].IsLeaf() && rest[i].Leaf.Kind == lexer.Symbol {
			id = rest[i].Leaf.Lexeme
			i++
		}
		min, max, hasMax, consumed, err := parseLimits(rest[i:])
		if err != nil {
			return err
		}
		i += consumed
		if i >= len(rest) {
			return newFormError(head.Line, head.Column, "table import requires a reference type")
		}
		if !rest[i].IsLeaf() {
			line, col := nodePos(rest[i])
			return newFormError(line, col, "expected a reference type")
		}
		refType, ok := opcode.ValTypeByName(rest[i].Leaf.Lexeme)
		if !ok {
			return newFormError(rest[i].Leaf.Line, rest[i].Leaf.Column, "expected funcref or externref")
		}
		idx := l.importedTables
		l.importedTables++
		l.mod.Imports = append(l.mod.Imports, &ImportExpression{
			Module: modName, Name: fieldName, Kind: ExportTable,
			TableRefType: refType, TableLimits: Limits{Min: min, Max: max, HasMax: hasMax},
		})
		if id != "" {
			l.tableNames[id] = idx
		}
	case "memory":
		i := 0
		id := ""
		if i < len(rest) && rest[i].IsLeaf() && rest[i].Leaf.Kind == lexer.Symbol {
			id = rest[i].Leaf.Lexeme
			i++
		}
		min, max, hasMax, _, err := parseLimits(rest[i:])
		if err != nil {
			return err
		}
		idx := l.importedMems
		l.importedMems++
		l.mod.Imports = append(l.mod.Imports, &ImportExpression{
			Module: modName, Name: fieldName, Kind: ExportMemory,
			MemLimits: Limits{Min: min, Max: max, HasMax: hasMax},
		})
		if id != "" {
			l.memNames[id] = idx
		}
	case "global":
		i := 0
		id := ""
		if i < len(rest) && rest[i].IsLeaf() && rest[i].Leaf.Kind == lexer.Symbol {
			id = rest[i].Leaf.Lexeme
			i++
		}
		if i >= len(rest) {
			return newFormError(head.Line, head.Column, "global import requires a type")
		}
		mutable, err := globalValType(rest[i])
		if err != nil {
			return err
		}
		vt := globalValTypeOf(rest[i])
		idx := l.importedGlobals
		l.importedGlobals++
		l.mod.Imports = append(l.mod.Imports, &ImportExpression{
			Module: modName, Name: fieldName, Kind: ExportGlobal,
			GlobalType: vt, GlobalMutable: mutable,
		})
		if id != "" {
			l.globalNames[id] = idx
		}
	default:
		return newFormError(head.Line, head.Column, "unknown import descriptor %q", head.Lexeme)
	}
	return nil
}

// globalValType parses a global's type subform: a bare value type, or
// (mut value-type) for a mutable global. Returns whether it is mutable.
func globalValType(n tree.Node) (bool, error) {
	if n.IsLeaf() {
		if _, ok := opcode.ValTypeByName(n.Leaf.Lexeme); !ok {
			return false, newFormError(n.Leaf.Line, n.Leaf.Column, "expected a value type")
		}
		return false, nil
	}
	if len(n.Children) != 2 || n.Children[0].Leaf == nil || n.Children[0].Leaf.Lexeme != "mut" {
		line, col := nodePos(n)
		return false, newFormError(line, col, "expected a value type or (mut value-type)")
	}
	if !n.Children[1].IsLeaf() {
		line, col := nodePos(n.Children[1])
		return false, newFormError(line, col, "expected a value type")
	}
	if _, ok := opcode.ValTypeByName(n.Children[1].Leaf.Lexeme); !ok {
		return false, newFormError(n.Children[1].Leaf.Line, n.Children[1].Leaf.Column, "expected a value type")
	}
	return true, nil
}

func globalValTypeOf(n tree.Node) opcode.ValType {
	if n.IsLeaf() {
		vt, _ := opcode.ValTypeByName(n.Leaf.Lexeme)
		return vt
	}
	vt, _ := opcode.ValTypeByName(n.Children[1].Leaf.Lexeme)
	return vt
}

func (l *lowerer) lowerTable(f tree.Node) error {
	children := f.Children[1:]
	i := 0
	name := ""
	if i < len(children) && children[i].IsLeaf() && children[i].Leaf.Kind == lexer.Symbol {
		name = children[i].Leaf.Lexeme
		i++
	}
	min, max, hasMax, consumed, err := parseLimits(children[i:])
	if err != nil {
		return err
	}
	i += consumed
	if i >= len(children) || !children[i].IsLeaf() {
		head := f.Children[0].Leaf
		return newFormError(head.Line, head.Column, "table requires a reference type")
	}
	vt, ok := opcode.ValTypeByName(children[i].Leaf.Lexeme)
	if !ok || (vt != opcode.FuncRef && vt != opcode.ExternRef) {
		return newFormError(children[i].Leaf.Line, children[i].Leaf.Column, "expected funcref or externref")
	}
	tbl := &Table{Name: name, RefType: vt, Limits: Limits{Min: min, Max: max, HasMax: hasMax}}
	l.mod.Tables = append(l.mod.Tables, tbl)
	idx := l.importedTables + uint32(len(l.mod.Tables)-1)
	if name != "" {
		l.tableNames[name] = idx
	}
	return nil
}

func (l *lowerer) lowerMemory(f tree.Node) error {
	children := f.Children[1:]
	i := 0
	name := ""
	if i < len(children) && children[i].IsLeaf() && children[i].Leaf.Kind == lexer.Symbol {
		name = children[i].Leaf.Lexeme
		i++
	}
	min, max, hasMax, _, err := parseLimits(children[i:])
	if err != nil {
		return err
	}
	mem := &Memory{Name: name, Limits: Limits{Min: min, Max: max, HasMax: hasMax}}
	l.mod.Mems = append(l.mod.Mems, mem)
	idx := l.importedMems + uint32(len(l.mod.Mems)-1)
	if name != "" {
		l.memNames[name] = idx
	}
	return nil
}

func (l *lowerer) lowerGlobal(f tree.Node) error {
	children := f.Children[1:]
	i := 0
	name := ""
	if i < len(children) && children[i].IsLeaf() && children[i].Leaf.Kind == lexer.Symbol {
		name = children[i].Leaf.Lexeme
		i++
	}
	if i >= len(children) {
		head := f.Children[0].Leaf
		return newFormError(head.Line, head.Column, "global requires a type")
	}
	mutable, err := globalValType(children[i])
	if err != nil {
		return err
	}
	vt := globalValTypeOf(children[i])
	i++

	ctx := funcContext{}
	initExpr, err := l.lowerBody(children[i:], &ctx)
	if err != nil {
		return err
	}
	g := &Global{Name: name, Type: vt, Mutable: mutable, Init: initExpr}
	l.mod.GlobalVars = append(l.mod.GlobalVars, g)
	idx := l.importedGlobals + uint32(len(l.mod.GlobalVars)-1)
	if name != "" {
		l.globalNames[name] = idx
	}
	return nil
}

func (l *lowerer) lowerData(f tree.Node) error {
	children := f.Children[1:]
	i := 0
	memIdx := uint32(0)
	if i < len(children) && children[i].IsLeaf() && (children[i].Leaf.Kind == lexer.Nat || children[i].Leaf.Kind == lexer.Symbol) {
		idx, err := l.resolveIndexRef(ExportMemory, children[i])
		if err != nil {
			return err
		}
		memIdx = idx
		i++
	}
	if i >= len(children) {
		head := f.Children[0].Leaf
		return newFormError(head.Line, head.Column, "data segment requires an offset")
	}
	offsetNodes := unwrapOffset(children[i])
	i++
	ctx := funcContext{}
	offsetExpr, err := l.lowerBody(offsetNodes, &ctx)
	if err != nil {
		return err
	}
	var buf []byte
	for ; i < len(children); i++ {
		txt, err := requireText(children[i])
		if err != nil {
			return err
		}
		buf = append(buf, []byte(txt)...)
	}
	l.mod.Datas = append(l.mod.Datas, &Data{MemIndex: memIdx, Offset: offsetExpr, Bytes: buf})
	return nil
}

// unwrapOffset accepts either the explicit `(offset instr*)` form or the
// abbreviated bare folded constant expression wabt's text format also
// permits in a data/elem segment.
func unwrapOffset(n tree.Node) []tree.Node {
	if !n.IsLeaf() && len(n.Children) > 0 && n.Children[0].IsLeaf() && n.Children[0].Leaf.Lexeme == "offset" {
		return n.Children[1:]
	}
	return []tree.Node{n}
}

func (l *lowerer) resolveIndexRef(kind ExportKind, n tree.Node) (uint32, error) {
	if !n.IsLeaf() {
		line, col := nodePos(n)
		return 0, newFormError(line, col, "expected an index or a symbolic name")
	}
	tok := *n.Leaf
	if tok.Kind == lexer.Nat {
		v, err := strconv.ParseUint(tok.Lexeme, 0, 32)
		if err != nil {
			return 0, newFormError(tok.Line, tok.Column, "integer literal %q out of range", tok.Lexeme)
		}
		return uint32(v), nil
	}
	if tok.Kind == lexer.Symbol {
		var idx uint32
		var ok bool
		switch kind {
		case ExportFunc:
			idx, ok = l.funcIndex(tok.Lexeme)
		case ExportTable:
			idx, ok = l.tableIndex(tok.Lexeme)
		case ExportMemory:
			idx, ok = l.memIndex(tok.Lexeme)
		case ExportGlobal:
			idx, ok = l.globalIndex(tok.Lexeme)
		}
		if !ok {
			return 0, newNameError("", tok.Lexeme, tok.Line, tok.Column)
		}
		return idx, nil
	}
	return 0, newFormError(tok.Line, tok.Column, "expected an index or a symbolic name")
}

func (l *lowerer) resolveExport(f tree.Node) error {
	children := f.Children[1:]
	if len(children) < 2 {
		head := f.Children[0].Leaf
		return newFormError(head.Line, head.Column, "export requires a name and a reference")
	}
	name, err := requireText(children[0])
	if err != nil {
		return err
	}
	refNode := children[1]
	if refNode.IsLeaf() || len(refNode.Children) == 0 || refNode.Children[0].Leaf == nil {
		line, col := nodePos(refNode)
		return newFormError(line, col, "export reference must be (func|table|memory|global ...)")
	}
	var kind ExportKind
	kindHead := refNode.Children[0].Leaf
	switch kindHead.Lexeme {
	case "func":
		kind = ExportFunc
	case "table":
		kind = ExportTable
	case "memory":
		kind = ExportMemory
	case "global":
		kind = ExportGlobal
	default:
		return newFormError(kindHead.Line, kindHead.Column, "unknown export kind %q", kindHead.Lexeme)
	}
	if len(refNode.Children) < 2 {
		return newFormError(kindHead.Line, kindHead.Column, "export reference is missing an index")
	}
	idx, err := l.resolveIndexRef(kind, refNode.Children[1])
	if err != nil {
		return err
	}
	l.mod.Exports = append(l.mod.Exports, &ExportExpression{Name: name, Kind: kind, Index: idx})
	return nil
}

func (l *lowerer) resolveStart(f tree.Node) error {
	children := f.Children[1:]
	head := f.Children[0].Leaf
	if len(children) != 1 {
		return newFormError(head.Line, head.Column, "start requires exactly one function reference")
	}
	idx, err := l.resolveIndexRef(ExportFunc, children[0])
	if err != nil {
		return err
	}
	sig, ok := l.mod.FuncSignatureAt(idx)
	if !ok {
		return newFormError(head.Line, head.Column, "start function index %d out of range", idx)
	}
	if len(sig.Params) != 0 || len(sig.Results) != 0 {
		return newFormError(head.Line, head.Column, "start function must have signature () -> ()")
	}
	v := idx
	l.mod.Start = &v
	return nil
}

func (l *lowerer) resolveElem(f tree.Node) error {
	children := f.Children[1:]
	i := 0
	tableIdx := uint32(0)
	if i < len(children) && children[i].IsLeaf() && (children[i].Leaf.Kind == lexer.Nat || children[i].Leaf.Kind == lexer.Symbol) {
		idx, err := l.resolveIndexRef(ExportTable, children[i])
		if err != nil {
			return err
		}
		if idx >= l.importedTables+uint32(len(l.mod.Tables)) {
			return newFormError(children[i].Leaf.Line, children[i].Leaf.Column, "elem table index %d out of range", idx)
		}
		tableIdx = idx
		i++
	}
	if i >= len(children) {
		head := f.Children[0].Leaf
		return newFormError(head.Line, head.Column, "elem segment requires an offset")
	}
	offsetNodes := unwrapOffset(children[i])
	i++
	ctx := funcContext{}
	offsetExpr, err := l.lowerBody(offsetNodes, &ctx)
	if err != nil {
		return err
	}
	var refs []Ref
	for ; i < len(children); i++ {
		idx, err := l.resolveIndexRef(ExportFunc, children[i])
		if err != nil {
			return err
		}
		refs = append(refs, Ref{Resolved: true, Index: idx})
	}
	l.mod.Elems = append(l.mod.Elems, &Elem{TableIndex: tableIdx, Offset: offsetExpr, FuncIndexes: refs})
	return nil
}
