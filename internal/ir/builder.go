package ir

import (
	"fmt"
	"strings"

	"github.com/jcnc-org/Snow-sub003/internal/ast"
	"github.com/jcnc-org/Snow-sub003/internal/diag"
	"github.com/jcnc-org/Snow-sub003/internal/token"
	"github.com/jcnc-org/Snow-sub003/internal/types"
)

// StructInfo is the subset of internal/sema.Context's struct-layout
// table the builder needs. Defined here (rather than importing sema
// directly) so internal/sema can depend on internal/ir — for
// Constant/Fold — without a package cycle; internal/sema.Context
// satisfies this interface.
type StructInfo interface {
	FieldIndex(structName, fieldName string) (index int, typ types.Type, ok bool)
	IsSubclassOf(child, ancestor string) bool
}

// FuncInfo is the subset of the function-signature table the builder
// needs for return-type lookups.
type FuncInfo interface {
	Signature(qualifiedName string) (returnType types.Type, paramTypes []types.Type, ok bool)
}

// GlobalInfo is the subset of the global tables the builder needs.
type GlobalInfo interface {
	ConstLookup(name string) (Constant, bool)
	VarType(name string) (types.Type, bool)
}

// Builder lowers ast.Function bodies to IR, per spec.md §4.3.
type Builder struct {
	Structs       StructInfo
	Funcs         FuncInfo
	Globals       GlobalInfo
	KnownModules  map[string]bool
}

// NewBuilder creates a Builder over the compile's shared tables.
func NewBuilder(structs StructInfo, funcs FuncInfo, globals GlobalInfo, knownModules map[string]bool) *Builder {
	return &Builder{Structs: structs, Funcs: funcs, Globals: globals, KnownModules: knownModules}
}

type varBinding struct {
	reg Reg
	typ types.Type
}

type loopCtx struct {
	condLabel, stepLabel, endLabel string
}

// fn is the per-function lowering state.
type fn struct {
	b            *Builder
	regs         *VRegAllocator
	scope        map[string]varBinding
	code         []Instr
	loops        []loopCtx
	labelCounter int
	thisType     string // "" unless the function is a lowered constructor/method
	modulePrefix string
	imports      []string
	diags        diag.List
	qualifiedName string
}

// Build lowers fn into an IR Function. modulePrefix is fn's declaring
// module name (used to resolve unqualified globals/functions);
// imports is that module's import list, searched after the local
// module for unqualified calls (spec.md §4.3).
func (bld *Builder) Build(astFn *ast.Function, modulePrefix string, imports []string) (*Function, diag.List) {
	f := &fn{
		b:            bld,
		regs:         NewVRegAllocator(),
		scope:        make(map[string]varBinding),
		modulePrefix: modulePrefix,
		imports:      imports,
		qualifiedName: astFn.Name,
	}

	paramNames := make([]string, len(astFn.Params))
	for i, p := range astFn.Params {
		paramNames[i] = p.Name
	}
	paramRegs := f.regs.MapParams(paramNames)
	paramTypes := make([]types.Type, len(astFn.Params))
	for i, p := range astFn.Params {
		typ := types.FromName(p.Type.Name)
		paramTypes[i] = typ
		f.scope[p.Name] = varBinding{reg: paramRegs[i], typ: typ}
		if p.Name == "this" {
			f.thisType = p.Type.Name
		}
	}

	for _, s := range astFn.Body {
		f.lowerStmt(s)
	}

	retType := types.FromName(astFn.ReturnType.Name)
	if _, isVoid := retType.(types.Void); !isVoid && !allPathsReturn(astFn.Body) {
		f.diags.Add("", astFn.P.Line, astFn.P.Col, diag.ReturnMissing,
			"function %q does not return a value on all paths", astFn.Name)
	}

	return &Function{
		Name:       astFn.Name,
		ParamRegs:  paramRegs,
		ParamTypes: paramTypes,
		ReturnType: retType,
		Code:       f.code,
		NumRegs:    f.regs.NumRegs(),
	}, f.diags
}

func allPathsReturn(stmts []ast.Stmt) bool {
	for _, s := range stmts {
		switch st := s.(type) {
		case *ast.ReturnStmt:
			return true
		case *ast.IfStmt:
			if len(st.Else) > 0 && allPathsReturn(st.Then) && allPathsReturn(st.Else) {
				return true
			}
		}
	}
	return false
}

func (f *fn) emit(i Instr) { f.code = append(f.code, i) }

func (f *fn) newLabel(tag string) string {
	f.labelCounter++
	return fmt.Sprintf("%s.%s%d", f.qualifiedName, tag, f.labelCounter)
}

func (f *fn) constReg(c Constant) Reg {
	r := f.regs.Fresh()
	f.emit(&LoadConst{Dst: r, Value: c})
	return r
}

// --- Statements -------------------------------------------------------

func (f *fn) lowerStmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.DeclStmt:
		f.lowerDecl(st.Decl)
	case *ast.AssignStmt:
		f.lowerAssign(st)
	case *ast.IndexAssignStmt:
		f.lowerIndexAssign(st)
	case *ast.ExprStmt:
		f.lowerExprStmt(st.X)
	case *ast.IfStmt:
		f.lowerIf(st)
	case *ast.LoopStmt:
		f.lowerLoop(st)
	case *ast.ReturnStmt:
		f.lowerReturn(st)
	case *ast.BreakStmt:
		f.lowerBreak(st.P)
	case *ast.ContinueStmt:
		f.lowerContinue(st.P)
	}
}

func (f *fn) lowerDecl(d *ast.Declaration) {
	declType := types.FromName(d.Type.Name)
	reg := f.regs.MapVar(d.Name)
	if d.Value == nil {
		f.scope[d.Name] = varBinding{reg: reg, typ: declType}
		return
	}
	if ne, ok := d.Value.(*ast.NewExpr); ok {
		valReg, valType := f.lowerNew(ne)
		f.emit(&Move{Dst: reg, Src: valReg})
		if st, ok := valType.(types.Struct); ok && f.b.Structs.IsSubclassOf(st.Name, declType.String()) {
			declType = valType
		}
		f.scope[d.Name] = varBinding{reg: reg, typ: declType}
		return
	}
	valReg, valType := f.lowerExpr(d.Value)
	valReg = f.narrow(valReg, valType, declType)
	f.emit(&Move{Dst: reg, Src: valReg})
	f.scope[d.Name] = varBinding{reg: reg, typ: declType}
}

func (f *fn) lowerAssign(st *ast.AssignStmt) {
	valReg, valType := f.lowerExpr(st.Value)
	if b, ok := f.scope[st.Name]; ok {
		valReg = f.narrow(valReg, valType, b.typ)
		f.emit(&Move{Dst: b.reg, Src: valReg})
		return
	}
	qualified := f.qualifyGlobal(st.Name)
	if qualified != "" {
		if declType, ok := f.b.Globals.VarType(qualified); ok {
			valReg = f.narrow(valReg, valType, declType)
		}
		f.emit(&StoreGlobal{Name: qualified, Src: valReg})
		return
	}
	f.diags.Add("", st.P.Line, st.P.Col, diag.UnresolvedIdentifier, "assignment to undeclared name %q", st.Name)
}

// narrow inserts an explicit Convert when storing a wider numeric
// value into a narrower slot (spec.md §9: "explicit narrowing at
// stores to narrower slots"), e.g. `declare b:byte = 1000`. Widening
// and non-numeric stores pass the value through unchanged.
func (f *fn) narrow(reg Reg, fromType, toType types.Type) Reg {
	fromW := types.WidthOf(fromType)
	toW := types.WidthOf(toType)
	if fromW == types.WidthNone || toW == types.WidthNone || toW.Rank() >= fromW.Rank() {
		return reg
	}
	dst := f.regs.Fresh()
	f.emit(&Convert{Dst: dst, Src: reg, From: fromW, To: toW})
	return dst
}

func (f *fn) qualifyGlobal(name string) string {
	if _, ok := f.b.Globals.VarType(f.modulePrefix + "." + name); ok {
		return f.modulePrefix + "." + name
	}
	if _, ok := f.b.Globals.VarType(name); ok {
		return name
	}
	return ""
}

func (f *fn) lowerIndexAssign(st *ast.IndexAssignStmt) {
	arrReg, arrType := f.lowerExpr(st.Target)
	for _, idxExpr := range st.Indices[:len(st.Indices)-1] {
		idxReg, _ := f.lowerExpr(idxExpr)
		elemType := elementTypeOf(arrType)
		dst := f.regs.Fresh()
		f.emit(&Index{Dst: dst, Arr: arrReg, Idx: idxReg, Elem: types.ElemCode(elemType)})
		arrReg = dst
		arrType = elemType
	}
	lastIdx, _ := f.lowerExpr(st.Indices[len(st.Indices)-1])
	valReg, valType := f.lowerExpr(st.Value)
	f.emit(&SetIndex{Arr: arrReg, Idx: lastIdx, Val: valReg, Elem: types.ElemCode(valType)})
}

func (f *fn) lowerExprStmt(e ast.Expr) {
	if call, ok := e.(*ast.CallExpr); ok {
		f.lowerCall(call, false)
		return
	}
	f.lowerExpr(e)
}

func (f *fn) lowerIf(st *ast.IfStmt) {
	elseLabel := f.newLabel("else")
	endLabel := f.newLabel("endif")
	f.emitFalseBranch(st.Cond, elseLabel)
	for _, s := range st.Then {
		f.lowerStmt(s)
	}
	f.emit(&Jump{Target: endLabel})
	f.emit(&Label{Name: elseLabel})
	for _, s := range st.Else {
		f.lowerStmt(s)
	}
	f.emit(&Label{Name: endLabel})
}

func (f *fn) lowerLoop(st *ast.LoopStmt) {
	condLabel := f.newLabel("cond")
	stepLabel := f.newLabel("step")
	endLabel := f.newLabel("end")

	if st.Init != nil {
		f.lowerStmt(st.Init)
	}
	f.loops = append(f.loops, loopCtx{condLabel: condLabel, stepLabel: stepLabel, endLabel: endLabel})

	f.emit(&Label{Name: condLabel})
	f.emitFalseBranch(st.Cond, endLabel)
	for _, s := range st.Body {
		f.lowerStmt(s)
	}
	f.emit(&Label{Name: stepLabel})
	if st.Step != nil {
		f.lowerStmt(st.Step)
	}
	f.emit(&Jump{Target: condLabel})
	f.emit(&Label{Name: endLabel})

	f.loops = f.loops[:len(f.loops)-1]
}

// emitFalseBranch lowers cond and jumps to target when it is false. A
// direct comparison condition emits a single CompareJump on the
// negated operator (spec.md §4.3); anything else is evaluated to an
// int 0/1 register and compared against a literal 0.
func (f *fn) emitFalseBranch(cond ast.Expr, target string) {
	if bin, ok := cond.(*ast.BinaryExpr); ok {
		if cmp, ok := cmpOpFor(bin.Op); ok {
			aReg, aType := f.lowerExpr(bin.Left)
			bReg, bType := f.lowerExpr(bin.Right)
			w := types.Promote(types.WidthOf(aType), types.WidthOf(bType))
			f.emit(&CompareJump{Op: cmp.Negate(), Width: w, A: aReg, B: bReg, Target: target})
			return
		}
	}
	condReg, _ := f.lowerExpr(cond)
	zero := f.constReg(IntConst(types.Int, 0))
	f.emit(&CompareJump{Op: CmpEQ, Width: types.Int, A: condReg, B: zero, Target: target})
}

func (f *fn) lowerReturn(st *ast.ReturnStmt) {
	if st.Value == nil {
		f.emit(&Return{HasValue: false})
		return
	}
	valReg, _ := f.lowerExpr(st.Value)
	f.emit(&Return{Value: valReg, HasValue: true})
}

func (f *fn) lowerBreak(pos ast.Pos) {
	if len(f.loops) == 0 {
		f.diags.Add("", pos.Line, pos.Col, diag.ParseErrorUnsupportedFeature, "break outside a loop")
		return
	}
	f.emit(&Jump{Target: f.loops[len(f.loops)-1].endLabel})
}

func (f *fn) lowerContinue(pos ast.Pos) {
	if len(f.loops) == 0 {
		f.diags.Add("", pos.Line, pos.Col, diag.ParseErrorUnsupportedFeature, "continue outside a loop")
		return
	}
	f.emit(&Jump{Target: f.loops[len(f.loops)-1].stepLabel})
}

// --- Expressions --------------------------------------------------------

func (f *fn) lowerExpr(e ast.Expr) (Reg, types.Type) {
	switch x := e.(type) {
	case *ast.NumberLit:
		c, _ := Fold(x, nil)
		return f.constReg(c), numericTypeOf(c)
	case *ast.BoolLit:
		return f.constReg(BoolConst(x.Value)), types.Bool{}
	case *ast.StringLit:
		return f.constReg(StringConst(x.Value)), types.StringT{}
	case *ast.ArrayLit:
		return f.lowerArrayLit(x)
	case *ast.Ident:
		return f.lowerIdent(x)
	case *ast.Member:
		return f.lowerMember(x)
	case *ast.IndexExpr:
		arrReg, arrType := f.lowerExpr(x.X)
		idxReg, _ := f.lowerExpr(x.Index)
		elemType := elementTypeOf(arrType)
		dst := f.regs.Fresh()
		f.emit(&Index{Dst: dst, Arr: arrReg, Idx: idxReg, Elem: types.ElemCode(elemType)})
		return dst, elemType
	case *ast.BinaryExpr:
		return f.lowerBinary(x)
	case *ast.UnaryExpr:
		return f.lowerUnary(x)
	case *ast.CallExpr:
		return f.lowerCall(x, true)
	case *ast.NewExpr:
		return f.lowerNew(x)
	}
	return f.regs.Fresh(), types.Any{}
}

func numericTypeOf(c Constant) types.Type {
	return types.Numeric{W: c.Width}
}

func (f *fn) lowerArrayLit(x *ast.ArrayLit) (Reg, types.Type) {
	elemType := types.Type(types.Any{})
	elemRegs := make([]Reg, len(x.Elems))
	for i, el := range x.Elems {
		r, t := f.lowerExpr(el)
		elemRegs[i] = r
		if i == 0 {
			elemType = t
		}
	}
	lenReg := f.constReg(IntConst(types.Int, int64(len(x.Elems))))
	arrReg := f.regs.Fresh()
	f.emit(&NewArray{Dst: arrReg, Len: lenReg, Elem: types.ElemCode(elemType)})
	for i, r := range elemRegs {
		idxReg := f.constReg(IntConst(types.Int, int64(i)))
		f.emit(&SetIndex{Arr: arrReg, Idx: idxReg, Val: r, Elem: types.ElemCode(elemType)})
	}
	return arrReg, types.Array{Elem: elemType}
}

func (f *fn) lowerIdent(x *ast.Ident) (Reg, types.Type) {
	if b, ok := f.scope[x.Name]; ok {
		return b.reg, b.typ
	}
	if c, ok := f.b.Globals.ConstLookup(f.modulePrefix + "." + x.Name); ok {
		return f.constReg(c), constType(c)
	}
	if c, ok := f.b.Globals.ConstLookup(x.Name); ok {
		return f.constReg(c), constType(c)
	}
	if qualified := f.qualifyGlobal(x.Name); qualified != "" {
		typ, _ := f.b.Globals.VarType(qualified)
		dst := f.regs.Fresh()
		f.emit(&LoadGlobal{Dst: dst, Name: qualified})
		return dst, typ
	}
	f.diags.Add("", x.P.Line, x.P.Col, diag.UnresolvedIdentifier, "undefined name %q", x.Name)
	return f.regs.Fresh(), types.Any{}
}

func constType(c Constant) types.Type {
	switch c.Kind {
	case ConstInt, ConstFloat:
		return types.Numeric{W: c.Width}
	case ConstBool:
		return types.Bool{}
	case ConstString:
		return types.StringT{}
	}
	return types.Any{}
}

func (f *fn) lowerMember(x *ast.Member) (Reg, types.Type) {
	recvReg, recvType := f.lowerExpr(x.X)
	st, ok := recvType.(types.Struct)
	if !ok {
		f.diags.Add("", x.P.Line, x.P.Col, diag.TypeMismatch, "member access %q on non-struct type %s", x.Name, recvType)
		return f.regs.Fresh(), types.Any{}
	}
	if !f.checkAccess(x.Name, st.Name, x.P) {
		return f.regs.Fresh(), types.Any{}
	}
	idx, fieldType, ok := f.b.Structs.FieldIndex(st.Name, x.Name)
	if !ok {
		f.diags.Add("", x.P.Line, x.P.Col, diag.UnresolvedSymbol, "struct %q has no field %q", st.Name, x.Name)
		return f.regs.Fresh(), types.Any{}
	}
	dst := f.regs.Fresh()
	f.emit(&GetField{Dst: dst, Obj: recvReg, Index: idx})
	return dst, fieldType
}

// isPrivateName reports whether name carries the `_`-prefix access
// marker of spec.md §7.
func isPrivateName(name string) bool {
	return strings.HasPrefix(name, "_")
}

// accessScope is the name of the module or struct the current function
// body is lowered from: the struct name for a constructor/method body,
// the module prefix otherwise. Access checks compare this against the
// declaring scope of a `_`-prefixed member.
func (f *fn) accessScope() string {
	if f.thisType != "" {
		return f.thisType
	}
	return f.modulePrefix
}

// checkAccess enforces spec.md §7's `_`-prefix access control: a
// `_`-prefixed member is only reachable from within its own declaring
// struct or module. Reports AccessDenied and returns false on
// violation.
func (f *fn) checkAccess(memberName, declaringScope string, pos ast.Pos) bool {
	if !isPrivateName(memberName) || f.accessScope() == declaringScope {
		return true
	}
	f.diags.Add("", pos.Line, pos.Col, diag.AccessDenied,
		"%q is not accessible outside %q", memberName, declaringScope)
	return false
}

func (f *fn) lowerBinary(x *ast.BinaryExpr) (Reg, types.Type) {
	if x.Op == token.AND || x.Op == token.OR {
		aReg, _ := f.lowerExpr(x.Left)
		bReg, _ := f.lowerExpr(x.Right)
		dst := f.regs.Fresh()
		op := BitAnd
		if x.Op == token.OR {
			op = BitOr
		}
		f.emit(&BinaryOp{Op: op, Width: types.Int, Dst: dst, A: aReg, B: bReg})
		return dst, types.Bool{}
	}
	if cmp, ok := cmpOpFor(x.Op); ok {
		aReg, aType := f.lowerExpr(x.Left)
		bReg, bType := f.lowerExpr(x.Right)
		w := types.Promote(types.WidthOf(aType), types.WidthOf(bType))
		dst := f.regs.Fresh()
		f.emit(&Compare{Op: cmp, Width: w, Dst: dst, A: aReg, B: bReg})
		return dst, types.Bool{}
	}

	aReg, aType := f.lowerExpr(x.Left)
	bReg, bType := f.lowerExpr(x.Right)

	_, aIsString := aType.(types.StringT)
	_, bIsString := bType.(types.StringT)
	if x.Op == token.PLUS && (aIsString || bIsString) {
		dst := f.regs.Fresh()
		f.emit(&Syscall{Dst: dst, HasDst: true, Code: 0x1802, Args: []Reg{aReg, bReg}})
		return dst, types.StringT{}
	}

	op, _ := binOpFor(x.Op)
	w := types.Promote(types.WidthOf(aType), types.WidthOf(bType))
	dst := f.regs.Fresh()
	f.emit(&BinaryOp{Op: op, Width: w, Dst: dst, A: aReg, B: bReg})
	return dst, types.Numeric{W: w}
}

func (f *fn) lowerUnary(x *ast.UnaryExpr) (Reg, types.Type) {
	aReg, aType := f.lowerExpr(x.X)
	dst := f.regs.Fresh()
	if x.Op == token.NOT {
		f.emit(&UnaryOp{Op: Not, Width: types.Int, Dst: dst, A: aReg})
		return dst, types.Bool{}
	}
	w := types.WidthOf(aType)
	f.emit(&UnaryOp{Op: Neg, Width: w, Dst: dst, A: aReg})
	return dst, aType
}

func (f *fn) lowerNew(x *ast.NewExpr) (Reg, types.Type) {
	dst := f.regs.Fresh()
	f.emit(&NewObj{Dst: dst, Type: x.TypeName})

	argRegs := make([]Reg, len(x.Args))
	for i, a := range x.Args {
		r, _ := f.lowerExpr(a)
		argRegs[i] = r
	}
	target := fmt.Sprintf("%s.__init__%d", x.TypeName, len(x.Args))
	if _, _, ok := f.b.Funcs.Signature(target); ok {
		f.emit(&Call{HasDst: false, Target: target, Args: append([]Reg{dst}, argRegs...)})
	} else {
		f.diags.Add("", x.P.Line, x.P.Col, diag.CtorNotFound,
			"no constructor %s with %d argument(s)", x.TypeName, len(x.Args))
	}
	return dst, types.Struct{Name: x.TypeName}
}

func (f *fn) lowerCall(x *ast.CallExpr, wantResult bool) (Reg, types.Type) {
	switch callee := x.Callee.(type) {
	case *ast.Ident:
		if callee.Name == "super" {
			return f.lowerSuperCall(x)
		}
		argRegs := make([]Reg, len(x.Args))
		for i, a := range x.Args {
			r, _ := f.lowerExpr(a)
			argRegs[i] = r
		}
		target := f.resolveUnqualifiedFunc(callee.Name)
		return f.emitCall(target, argRegs, wantResult, x.P)

	case *ast.Member:
		if modName, ok := callee.X.(*ast.Ident); ok {
			if _, shadowed := f.scope[modName.Name]; !shadowed && f.b.KnownModules[modName.Name] {
				if !f.checkAccess(callee.Name, modName.Name, x.P) {
					return f.regs.Fresh(), types.Any{}
				}
				argRegs := make([]Reg, len(x.Args))
				for i, a := range x.Args {
					r, _ := f.lowerExpr(a)
					argRegs[i] = r
				}
				target := modName.Name + "." + callee.Name
				return f.emitCall(target, argRegs, wantResult, x.P)
			}
		}
		recvReg, recvType := f.lowerExpr(callee.X)
		argRegs := make([]Reg, len(x.Args)+1)
		argRegs[0] = recvReg
		for i, a := range x.Args {
			r, _ := f.lowerExpr(a)
			argRegs[i+1] = r
		}
		structName := "?"
		if st, ok := recvType.(types.Struct); ok {
			structName = st.Name
		}
		if !f.checkAccess(callee.Name, structName, x.P) {
			return f.regs.Fresh(), types.Any{}
		}
		target := structName + "::" + callee.Name
		return f.emitCall(target, argRegs, wantResult, x.P)
	}
	f.diags.Add("", x.P.Line, x.P.Col, diag.ParseErrorUnsupportedFeature, "unsupported call target")
	return f.regs.Fresh(), types.Any{}
}

func (f *fn) lowerSuperCall(x *ast.CallExpr) (Reg, types.Type) {
	thisReg := f.scope["this"].reg
	argRegs := make([]Reg, len(x.Args)+1)
	argRegs[0] = thisReg
	for i, a := range x.Args {
		r, _ := f.lowerExpr(a)
		argRegs[i+1] = r
	}
	target := f.thisType + ".super"
	f.emit(&Call{HasDst: false, Target: target, Args: argRegs})
	return 0, types.Void{}
}

func (f *fn) emitCall(target string, argRegs []Reg, wantResult bool, pos ast.Pos) (Reg, types.Type) {
	retType, _, hasSig := f.b.Funcs.Signature(target)
	if !hasSig {
		retType = types.Any{}
	}
	if _, isVoid := retType.(types.Void); isVoid || !wantResult {
		f.emit(&Call{HasDst: false, Target: target, Args: argRegs})
		return 0, types.Void{}
	}
	dst := f.regs.Fresh()
	f.emit(&Call{Dst: dst, HasDst: true, Target: target, Args: argRegs})
	return dst, retType
}

// resolveUnqualifiedFunc searches the local module first, then each
// import, per spec.md §4.3: "Calls to unqualified names first search
// the local module, then imports."
func (f *fn) resolveUnqualifiedFunc(name string) string {
	local := f.modulePrefix + "." + name
	if _, _, ok := f.b.Funcs.Signature(local); ok {
		return local
	}
	for _, imp := range f.imports {
		qualified := imp + "." + name
		if _, _, ok := f.b.Funcs.Signature(qualified); ok {
			return qualified
		}
	}
	return local
}

func elementTypeOf(t types.Type) types.Type {
	if arr, ok := t.(types.Array); ok {
		return arr.Elem
	}
	return types.Any{}
}
