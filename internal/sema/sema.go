// Package sema implements Snow's semantic pre-pass, per spec.md §4.3:
// struct-layout registration with inheritance merge and cycle
// detection, constructor/method lowering to flat functions
// (`T.__init__N`, `T.m_K`), function-signature collection, and
// `declare const` folding into the global-const table.
package sema

import (
	"fmt"

	"github.com/jcnc-org/Snow-sub003/internal/ast"
	"github.com/jcnc-org/Snow-sub003/internal/diag"
	"github.com/jcnc-org/Snow-sub003/internal/ir"
	"github.com/jcnc-org/Snow-sub003/internal/types"
)

// FieldSlot is one entry of a struct's flattened field layout.
type FieldSlot struct {
	Name string
	Type types.Type
}

// StructLayout is spec.md §3's "struct layout table" entry: the
// struct's ordered field list (parent fields first) and its parent
// name, plus its declaring source's name for diagnostics.
type StructLayout struct {
	Name    string
	Parent  string
	Fields  []FieldSlot
	Methods map[string]string // simple method name -> qualified function name, own declarations only
}

// IndexOf returns the slot index of a field by name.
func (s *StructLayout) IndexOf(name string) (int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// FuncSig is the function-signature table entry: a qualified name's
// return type and full parameter-type list (including the implicit
// `this` for methods, prepended).
type FuncSig struct {
	QualifiedName string
	ReturnType    types.Type
	ParamTypes    []types.Type
	ParamNames    []string
}

// GlobalVar is the global-variable table entry. SlotIndex is left at
// -1 until internal/regalloc assigns it a reserved slot.
type GlobalVar struct {
	Name      string
	Type      types.Type
	SlotIndex int
}

// Context holds the process-wide global tables of spec.md §3, built up
// across every source file of a compile.
type Context struct {
	Structs      map[string]*StructLayout
	FuncSigs     map[string]*FuncSig
	GlobalConsts map[string]ir.Constant
	GlobalVars   map[string]*GlobalVar

	// Functions accumulates every flattened, qualified Function ready
	// for IR building: module-level functions as-is, plus constructors
	// and methods lowered from structs.
	Functions []*ast.Function

	Diags diag.List
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{
		Structs:      make(map[string]*StructLayout),
		FuncSigs:     make(map[string]*FuncSig),
		GlobalConsts: make(map[string]ir.Constant),
		GlobalVars:   make(map[string]*GlobalVar),
	}
}

// RegisterStructs walks the inheritance chain of every struct in
// structs, producing merged field layouts (parent layout copied first,
// subclass fields appended in declaration order, duplicates by name
// skipped) and detecting inheritance cycles via an iterative
// ancestor walk with a visited set.
func (c *Context) RegisterStructs(file string, structs []*ast.Struct) {
	byName := make(map[string]*ast.Struct, len(structs))
	for _, s := range structs {
		if _, dup := byName[s.Name]; dup {
			c.Diags.Add(file, s.P.Line, s.P.Col, diag.DuplicateName,
				"struct %q declared more than once", s.Name)
			continue
		}
		byName[s.Name] = s
	}
	for _, s := range structs {
		c.resolveLayout(file, s, byName, map[string]bool{})
	}
}

func (c *Context) resolveLayout(file string, s *ast.Struct, byName map[string]*ast.Struct, visiting map[string]bool) *StructLayout {
	if existing, ok := c.Structs[s.Name]; ok {
		return existing
	}
	if visiting[s.Name] {
		c.Diags.Add(file, s.P.Line, s.P.Col, diag.DuplicateName,
			"inheritance cycle detected at struct %q", s.Name)
		layout := &StructLayout{Name: s.Name}
		c.Structs[s.Name] = layout
		return layout
	}
	visiting[s.Name] = true

	var fields []FieldSlot
	parentName := s.Parent
	if s.Parent != "" {
		parent, ok := byName[s.Parent]
		if !ok {
			c.Diags.Add(file, s.P.Line, s.P.Col, diag.UnresolvedSymbol,
				"struct %q extends unknown struct %q", s.Name, s.Parent)
			parentName = ""
		} else {
			parentLayout := c.resolveLayout(file, parent, byName, visiting)
			fields = append(fields, parentLayout.Fields...)
		}
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.Name] = true
	}
	for _, f := range s.Fields {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		fields = append(fields, FieldSlot{Name: f.Name, Type: types.FromName(f.Type.Name)})
	}

	layout := &StructLayout{Name: s.Name, Parent: parentName, Fields: fields}
	c.Structs[s.Name] = layout
	delete(visiting, s.Name)
	return layout
}

// LowerStruct lowers s's constructors and methods to flat, qualified
// *ast.Function values (`T.__init__N`, `T.m_K`) appended to c.Functions,
// and registers their signatures in c.FuncSigs. Constructors that share
// an arity and parameter-type signature are reported as CtorAmbiguous
// (spec.md §4.2: "each must differ by arity or parameter types").
func (c *Context) LowerStruct(file string, s *ast.Struct) {
	seenCtorSigs := make(map[string]bool)
	for _, ctor := range s.Inits {
		sigKey := ctorSignatureKey(ctor)
		if seenCtorSigs[sigKey] {
			c.Diags.Add(file, ctor.P.Line, ctor.P.Col, diag.CtorAmbiguous,
				"struct %q has two constructors with the same arity and parameter types", s.Name)
			continue
		}
		seenCtorSigs[sigKey] = true

		qualified := fmt.Sprintf("%s.__init__%d", s.Name, len(ctor.Params))
		lowered := &ast.Function{
			Name:       qualified,
			Params:     prependThis(s.Name, ctor.Params),
			ReturnType: ast.TypeExpr{Name: "void"},
			Body:       ctor.Body,
			P:          ctor.P,
		}
		c.Functions = append(c.Functions, lowered)
		c.registerSig(lowered)
	}

	for _, m := range s.Methods {
		qualified := fmt.Sprintf("%s.%s_%d", s.Name, m.Name, len(m.Params)+1)
		lowered := &ast.Function{
			Name:       qualified,
			Params:     prependThis(s.Name, m.Params),
			ReturnType: m.ReturnType,
			Body:       m.Body,
			P:          m.P,
		}
		c.Functions = append(c.Functions, lowered)
		c.registerSig(lowered)

		if layout, ok := c.Structs[s.Name]; ok {
			if layout.Methods == nil {
				layout.Methods = make(map[string]string)
			}
			layout.Methods[m.Name] = qualified
		}
	}
}

// ResolveMethod finds the qualified function implementing methodName
// for structName, walking the parent chain so an unoverridden method
// resolves to the nearest ancestor that declares it (spec.md §9's
// vtable-inheritance invariant).
func (c *Context) ResolveMethod(structName, methodName string) (string, bool) {
	for name := structName; name != ""; {
		layout, ok := c.Structs[name]
		if !ok {
			return "", false
		}
		if qualified, ok := layout.Methods[methodName]; ok {
			return qualified, true
		}
		name = layout.Parent
	}
	return "", false
}

func prependThis(structName string, params []*ast.Parameter) []*ast.Parameter {
	this := &ast.Parameter{Name: "this", Type: ast.TypeExpr{Name: structName}}
	out := make([]*ast.Parameter, 0, len(params)+1)
	out = append(out, this)
	out = append(out, params...)
	return out
}

func ctorSignatureKey(fn *ast.Function) string {
	key := fmt.Sprintf("%d", len(fn.Params))
	for _, p := range fn.Params {
		key += ":" + p.Type.Name
	}
	return key
}

// RegisterFunction registers a module-level function's signature and
// appends it to c.Functions (module-level functions need no name
// qualification beyond what the parser/caller already assigned).
func (c *Context) RegisterFunction(qualifiedName string, fn *ast.Function) {
	renamed := *fn
	renamed.Name = qualifiedName
	c.Functions = append(c.Functions, &renamed)
	c.registerSig(&renamed)
}

func (c *Context) registerSig(fn *ast.Function) {
	paramTypes := make([]types.Type, len(fn.Params))
	paramNames := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		paramTypes[i] = types.FromName(p.Type.Name)
		paramNames[i] = p.Name
	}
	c.FuncSigs[fn.Name] = &FuncSig{
		QualifiedName: fn.Name,
		ReturnType:    types.FromName(fn.ReturnType.Name),
		ParamTypes:    paramTypes,
		ParamNames:    paramNames,
	}
}

// FoldGlobals registers every top-level declaration as a global. Const
// declarations are folded via ir.Fold (spec.md §4.3); a const whose
// initializer does not fold is TypeMismatch (constants must be
// compile-time evaluable). Non-const globals are registered into
// GlobalVars with no folded value.
func (c *Context) FoldGlobals(file, modulePrefix string, globals []*ast.Declaration) {
	lookup := func(name string) (ir.Constant, bool) {
		if v, ok := c.GlobalConsts[name]; ok {
			return v, true
		}
		v, ok := c.GlobalConsts[modulePrefix+"."+name]
		return v, ok
	}
	for _, g := range globals {
		qualified := modulePrefix + "." + g.Name
		if g.Const {
			if g.Value == nil {
				c.Diags.Add(file, g.P.Line, g.P.Col, diag.TypeMismatch,
					"const %q requires an initializer", g.Name)
				continue
			}
			val, ok := ir.Fold(g.Value, lookup)
			if !ok {
				c.Diags.Add(file, g.P.Line, g.P.Col, diag.TypeMismatch,
					"const %q initializer is not compile-time evaluable", g.Name)
				continue
			}
			c.GlobalConsts[qualified] = val
			continue
		}
		c.GlobalVars[qualified] = &GlobalVar{
			Name:      qualified,
			Type:      types.FromName(g.Type.Name),
			SlotIndex: -1,
		}
	}
}

// FieldIndex implements ir.StructInfo, answering field lookups against
// the merged inheritance layout built by RegisterStructs.
func (c *Context) FieldIndex(structName, fieldName string) (int, types.Type, bool) {
	layout, ok := c.Structs[structName]
	if !ok {
		return 0, nil, false
	}
	idx, ok := layout.IndexOf(fieldName)
	if !ok {
		return 0, nil, false
	}
	return idx, layout.Fields[idx].Type, true
}

// Parent implements backend.StructInfo: the immediate parent name of a
// registered struct, if any.
func (c *Context) Parent(structName string) (string, bool) {
	layout, ok := c.Structs[structName]
	if !ok || layout.Parent == "" {
		return "", false
	}
	return layout.Parent, true
}

// IsSubclassOf implements ir.StructInfo, walking the Parent chain.
func (c *Context) IsSubclassOf(child, ancestor string) bool {
	for name := child; name != ""; {
		if name == ancestor {
			return true
		}
		layout, ok := c.Structs[name]
		if !ok {
			return false
		}
		name = layout.Parent
	}
	return false
}

// Signature implements ir.FuncInfo.
func (c *Context) Signature(qualifiedName string) (types.Type, []types.Type, bool) {
	sig, ok := c.FuncSigs[qualifiedName]
	if !ok {
		return nil, nil, false
	}
	return sig.ReturnType, sig.ParamTypes, true
}

// ConstLookup implements ir.GlobalInfo.
func (c *Context) ConstLookup(name string) (ir.Constant, bool) {
	v, ok := c.GlobalConsts[name]
	return v, ok
}

// VarType implements ir.GlobalInfo.
func (c *Context) VarType(name string) (types.Type, bool) {
	v, ok := c.GlobalVars[name]
	if !ok {
		return nil, false
	}
	return v.Type, true
}

// WrapScript wraps loose top-level statements (script-mode fallback,
// spec.md §4.2) into a synthetic `_start` function with no parameters
// and a void return type, and registers it like any other function.
func (c *Context) WrapScript(moduleName string, stmts []ast.Stmt) {
	if len(stmts) == 0 {
		return
	}
	fn := &ast.Function{
		Name:       moduleName + "._start",
		ReturnType: ast.TypeExpr{Name: "void"},
		Body:       stmts,
	}
	c.Functions = append(c.Functions, fn)
	c.registerSig(fn)
}
