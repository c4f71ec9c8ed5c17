package vm

// ClassInfo is one struct's runtime metadata: its field count (the
// flattened, inheritance-merged layout internal/sema already computed)
// and its own declared methods (simple name -> entry PC). Inherited,
// unoverridden methods are NOT copied in here; Lookup walks Parent at
// dispatch time, matching spec.md §9's vtable-inheritance invariant
// ("vtable(C).lookup(m) equals vtable(P).lookup(m) when C doesn't
// override m") literally rather than precomputing a flattened table.
type ClassInfo struct {
	Name      string
	Parent    string
	NumFields int
	Methods   map[string]int
}

// ClassTable is the program-wide struct/vtable registry, built by
// internal/compiler from internal/sema's struct layout and
// internal/backend's resolved label addresses.
type ClassTable struct {
	classes map[string]*ClassInfo
}

func NewClassTable(classes map[string]*ClassInfo) *ClassTable {
	return &ClassTable{classes: classes}
}

func (t *ClassTable) Get(name string) (*ClassInfo, bool) {
	c, ok := t.classes[name]
	return c, ok
}

// All returns every registered class, for callers that need to
// serialize the whole table (cmd/snow's classes sidecar file).
func (t *ClassTable) All() map[string]*ClassInfo {
	return t.classes
}

// Lookup resolves methodName against class's own methods, then its
// ancestors in order, stopping at the first match (the nearest
// override wins).
func (t *ClassTable) Lookup(class, methodName string) (int, bool) {
	for name := class; name != ""; {
		info, ok := t.classes[name]
		if !ok {
			return 0, false
		}
		if pc, ok := info.Methods[methodName]; ok {
			return pc, true
		}
		name = info.Parent
	}
	return 0, false
}

// IsSubclassOf walks the Parent chain, mirroring sema.Context's check,
// for callers that only have a ClassTable (e.g. diagnostics).
func (t *ClassTable) IsSubclassOf(child, ancestor string) bool {
	for name := child; name != ""; {
		if name == ancestor {
			return true
		}
		info, ok := t.classes[name]
		if !ok {
			return false
		}
		name = info.Parent
	}
	return false
}
