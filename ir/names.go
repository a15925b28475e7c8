package ir

// funcContext threads the per-function name environments through the body
// lowering visitor. Per spec.md §9's design note, no parent back-pointers
// are stored on IR nodes; instead this struct is passed explicitly down the
// recursion, the way the teacher's Parser carries its own Env/LetVars maps
// as plain fields rather than having each node reach up to a parent scope.
type funcContext struct {
	funcName   string   // for NameError attribution; "" if the function is anonymous
	localNames []string // parameter names followed by local names, in declaration order
	labelStack []string // block labels; the last element is the innermost enclosing block
}

// localIndex resolves `$x` to the smallest index whose slot name matches,
// per spec.md §4.3/§8 invariant 5.
func (fc *funcContext) localIndex(name string) (uint32, bool) {
	for i, n := range fc.localNames {
		if n == name {
			return uint32(i), true
		}
	}
	return 0, false
}

func (fc *funcContext) pushLabel(name string) { fc.labelStack = append(fc.labelStack, name) }

func (fc *funcContext) popLabel() { fc.labelStack = fc.labelStack[:len(fc.labelStack)-1] }

// labelDepth resolves `br $L` to the nesting depth from the innermost
// enclosing block (depth 0), per spec.md §4.3/§8 invariant 6.
func (fc *funcContext) labelDepth(name string) (uint32, bool) {
	for i := len(fc.labelStack) - 1; i >= 0; i-- {
		if fc.labelStack[i] == name {
			return uint32(len(fc.labelStack) - 1 - i), true
		}
	}
	return 0, false
}

// funcIndex resolves a module-global function name to its index in the
// function index space (imports first, then defined functions in
// declaration order), per spec.md §4.3's module-global name environment.
func (l *lowerer) funcIndex(name string) (uint32, bool) {
	idx, ok := l.funcNames[name]
	return idx, ok
}

func (l *lowerer) globalIndex(name string) (uint32, bool) {
	idx, ok := l.globalNames[name]
	return idx, ok
}

func (l *lowerer) tableIndex(name string) (uint32, bool) {
	idx, ok := l.tableNames[name]
	return idx, ok
}

func (l *lowerer) memIndex(name string) (uint32, bool) {
	idx, ok := l.memNames[name]
	return idx, ok
}
