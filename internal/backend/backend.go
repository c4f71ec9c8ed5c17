// Package backend flattens built IR into a textual .water listing,
// playing the role the teacher splits across pkg/linearize (CFG to a
// linear instruction list with explicit branches), pkg/stacking
// (frame/layout finalization) and pkg/asmgen (IR to textual mnemonics).
// Snow collapses these into one pass, because the VM needs no
// register/stack-frame layout step (its frames auto-grow at runtime):
// label/PC bookkeeping plays linearize's role, the per-slot
// declared-width table plays stacking's role, and the instruction
// encoder below plays asmgen's role, mirroring pkg/asmgen/transform.go's
// per-opcode switch but targeting the VM's stack machine instead of
// ARM64.
package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jcnc-org/Snow-sub003/internal/diag"
	"github.com/jcnc-org/Snow-sub003/internal/ir"
	"github.com/jcnc-org/Snow-sub003/internal/regalloc"
	"github.com/jcnc-org/Snow-sub003/internal/types"
	"github.com/jcnc-org/Snow-sub003/internal/water"
)

// StructInfo is the subset of the struct-layout table the backend needs
// for inheritance-aware fix-up resolution (spec.md §4.5).
type StructInfo interface {
	Parent(structName string) (string, bool)
}

type fixupKind int

const (
	fixupCall fixupKind = iota
	fixupBranch
)

// fixup is a deferred, unresolved jump/call target: the instruction's
// index in the emitted stream and the symbolic name it names. Args[0]
// always holds the placeholder address for both kinds.
type fixup struct {
	pc     int
	target string
	nArgs  int
	kind   fixupKind
}

// Emitter holds the program-wide codegen state: the growing instruction
// list, the label/function address table, the two fix-up queues, and
// the per-function declared-width table (spec.md §4.5's "state").
type Emitter struct {
	prog    *water.Program
	addr    map[string]int
	fixups  []fixup
	globals *regalloc.GlobalAllocation
	structs StructInfo
	diags   diag.List

	curWidths map[int]byte // current function's slot -> declared width
}

// NewEmitter creates an Emitter over the program-wide global slot table
// and struct hierarchy.
func NewEmitter(globals *regalloc.GlobalAllocation, structs StructInfo) *Emitter {
	return &Emitter{
		prog:    &water.Program{},
		addr:    make(map[string]int),
		globals: globals,
		structs: structs,
	}
}

// EmitProgram flattens every function into the listing in order, then
// performs final fix-up resolution. entry is the qualified name of the
// function the VM should start at.
func (e *Emitter) EmitProgram(functions []*ir.Function, allocs map[string]*regalloc.FuncAllocation, entry string) (*water.Program, diag.List) {
	for _, fn := range functions {
		e.emitFunction(fn, allocs[fn.Name])
	}
	e.resolveRemaining()

	if pc, ok := e.addr[entry]; ok {
		e.prog.Entry = pc
	} else {
		e.diags.Add("", 0, 0, diag.UnresolvedSymbol, "entry point %q not found", entry)
	}
	return e.prog, e.diags
}

// AddrOf returns the PC a defined label was emitted at, letting callers
// (internal/compiler) build the VM's per-class vtables from the
// same qualified names sema attaches to constructors/methods.
func (e *Emitter) AddrOf(qualifiedName string) (int, bool) {
	pc, ok := e.addr[qualifiedName]
	return pc, ok
}

func (e *Emitter) emitFunction(fn *ir.Function, alloc *regalloc.FuncAllocation) {
	e.defineLabel(fn.Name)
	e.curWidths = make(map[int]byte)
	for i, r := range fn.ParamRegs {
		if i < len(fn.ParamTypes) {
			e.curWidths[alloc.SlotOf(r)] = widthOfType(fn.ParamTypes[i])
		}
	}
	fe := &funcEmitter{e: e, alloc: alloc}
	for _, instr := range fn.Code {
		fe.emit(instr)
	}
}

func widthOfType(t types.Type) byte {
	switch tt := t.(type) {
	case types.Numeric:
		return widthLetter(tt.W)
	case types.Bool:
		return 'I'
	}
	return 'R'
}

func (e *Emitter) raw(op string, args ...string) int {
	pc := len(e.prog.Instructions)
	e.prog.Instructions = append(e.prog.Instructions, water.Instruction{Op: op, Args: args})
	return pc
}

// defineLabel records name at the current PC and immediately patches
// any pending fix-up that names it exactly, plus the super-call and
// simple-name registration rules of spec.md §4.5.
func (e *Emitter) defineLabel(name string) {
	pc := len(e.prog.Instructions)
	e.addr[name] = pc
	e.patchExact(name, pc)
	e.patchSuper(name, pc)
	e.patchSimpleName(name, pc)
}

func (e *Emitter) patchExact(name string, pc int) {
	remaining := e.fixups[:0]
	for _, fx := range e.fixups {
		if fx.target == name {
			e.prog.Instructions[fx.pc].Args[0] = strconv.Itoa(pc)
			continue
		}
		remaining = append(remaining, fx)
	}
	e.fixups = remaining
}

// patchSuper resolves fix-ups left by a `super(...)` call. The IR
// builder encodes such a call's target as "<Child>.super"; spec.md
// §4.5 describes this fix-up as being "bound to Child.__init__N of
// matching arity" when that label registers — read here as shorthand
// for "bound to the matching-arity constructor of Child's resolved
// parent", since binding a super-call to the child's own constructor
// would recurse. defineLabel is called with every function's qualified
// name, so this fires when <Parent>.__init__N itself registers.
func (e *Emitter) patchSuper(definedLabel string, pc int) {
	structName, arity, ok := splitCtorLabel(definedLabel)
	if !ok {
		return
	}
	remaining := e.fixups[:0]
	for _, fx := range e.fixups {
		if !strings.HasSuffix(fx.target, ".super") {
			remaining = append(remaining, fx)
			continue
		}
		child := strings.TrimSuffix(fx.target, ".super")
		parent, hasParent := e.structs.Parent(child)
		if hasParent && parent == structName && fx.nArgs == arity {
			e.prog.Instructions[fx.pc].Args[0] = strconv.Itoa(pc)
			continue
		}
		remaining = append(remaining, fx)
	}
	e.fixups = remaining
}

func splitCtorLabel(name string) (structName string, arity int, ok bool) {
	const marker = ".__init__"
	idx := strings.Index(name, marker)
	if idx < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(name[idx+len(marker):])
	if err != nil {
		return "", 0, false
	}
	return name[:idx], n, true
}

// patchSimpleName resolves a fix-up whose target has no dot (an
// unqualified reference) against the short name of whatever label just
// registered, per spec.md §4.5's third immediate-patch rule.
func (e *Emitter) patchSimpleName(definedLabel string, pc int) {
	short := shortName(definedLabel)
	remaining := e.fixups[:0]
	for _, fx := range e.fixups {
		if !strings.Contains(fx.target, ".") && fx.target == short {
			e.prog.Instructions[fx.pc].Args[0] = strconv.Itoa(pc)
			continue
		}
		remaining = append(remaining, fx)
	}
	e.fixups = remaining
}

func shortName(qualified string) string {
	if idx := strings.LastIndexByte(qualified, '.'); idx >= 0 {
		return qualified[idx+1:]
	}
	return qualified
}

// resolveRemaining performs the final, inheritance-aware fix-up pass of
// spec.md §4.5: exact match, then ancestor-chain walk, then
// whole-table-unambiguous simple-name match. Anything left is a build
// failure, reported with the full residual list.
func (e *Emitter) resolveRemaining() {
	var unresolved []fixup
	for _, fx := range e.fixups {
		if pc, ok := e.addr[fx.target]; ok {
			e.prog.Instructions[fx.pc].Args[0] = strconv.Itoa(pc)
			continue
		}
		if pc, ok := e.resolveAncestorChain(fx.target); ok {
			e.prog.Instructions[fx.pc].Args[0] = strconv.Itoa(pc)
			continue
		}
		if !strings.Contains(fx.target, ".") {
			if pc, ok := e.resolveUnambiguousSimpleName(fx.target); ok {
				e.prog.Instructions[fx.pc].Args[0] = strconv.Itoa(pc)
				continue
			}
		}
		unresolved = append(unresolved, fx)
	}
	e.fixups = unresolved
	for _, fx := range unresolved {
		e.diags.Add("", 0, 0, diag.UnresolvedSymbol, "unresolved call/branch target %q", fx.target)
	}
}

func (e *Emitter) resolveAncestorChain(target string) (int, bool) {
	idx := strings.LastIndexByte(target, '.')
	if idx < 0 {
		return 0, false
	}
	structName, suffix := target[:idx], target[idx+1:]
	for name := structName; ; {
		parent, ok := e.structs.Parent(name)
		if !ok {
			return 0, false
		}
		if pc, ok := e.addr[parent+"."+suffix]; ok {
			return pc, true
		}
		name = parent
	}
}

func (e *Emitter) resolveUnambiguousSimpleName(target string) (int, bool) {
	var match int
	count := 0
	for name, pc := range e.addr {
		if shortName(name) == target {
			count++
			match = pc
		}
	}
	if count == 1 {
		return match, true
	}
	return 0, false
}

// --- per-function instruction encoding ----------------------------------

type funcEmitter struct {
	e     *Emitter
	alloc *regalloc.FuncAllocation
}

func (fe *funcEmitter) widthOf(r ir.Reg) byte {
	if w, ok := fe.e.curWidths[fe.alloc.SlotOf(r)]; ok {
		return w
	}
	return 'R'
}

func (fe *funcEmitter) load(r ir.Reg) {
	w := fe.widthOf(r)
	fe.e.raw(string(w)+"_LOAD", strconv.Itoa(fe.alloc.SlotOf(r)))
}

func (fe *funcEmitter) store(r ir.Reg, w byte) {
	fe.e.curWidths[fe.alloc.SlotOf(r)] = w
	fe.e.raw(string(w)+"_STORE", strconv.Itoa(fe.alloc.SlotOf(r)))
}

func widthLetter(w types.Width) byte {
	switch w {
	case types.Byte:
		return 'B'
	case types.Short:
		return 'S'
	case types.Int:
		return 'I'
	case types.Long:
		return 'L'
	case types.Float:
		return 'F'
	case types.Double:
		return 'D'
	}
	return 'R'
}

func (fe *funcEmitter) pushConst(c ir.Constant) byte {
	switch c.Kind {
	case ir.ConstInt:
		w := widthLetter(c.Width)
		fe.e.raw(string(w)+"_PUSH", strconv.FormatInt(c.I, 10))
		return w
	case ir.ConstFloat:
		w := widthLetter(c.Width)
		fe.e.raw(string(w)+"_PUSH", strconv.FormatFloat(c.F, 'g', -1, 64))
		return w
	case ir.ConstBool:
		v := "0"
		if c.B {
			v = "1"
		}
		fe.e.raw("I_PUSH", v)
		return 'I'
	case ir.ConstString:
		fe.e.raw("R_PUSH", strconv.Quote(c.S))
		return 'R'
	}
	return 'R'
}

func (fe *funcEmitter) emitCall(target string, nArgs int) {
	if pc, ok := fe.e.addr[target]; ok {
		fe.e.raw("CALL", strconv.Itoa(pc), strconv.Itoa(nArgs))
		return
	}
	if strings.Contains(target, "::") {
		fe.e.raw("CALL", "@"+target, strconv.Itoa(nArgs))
		return
	}
	pc := fe.e.raw("CALL", "-1", strconv.Itoa(nArgs))
	fe.e.fixups = append(fe.e.fixups, fixup{pc: pc, target: target, nArgs: nArgs, kind: fixupCall})
}

func (fe *funcEmitter) emitBranch(op, target string) {
	if pc, ok := fe.e.addr[target]; ok {
		fe.e.raw(op, strconv.Itoa(pc))
		return
	}
	pc := fe.e.raw(op, "-1")
	fe.e.fixups = append(fe.e.fixups, fixup{pc: pc, target: target, kind: fixupBranch})
}

func (fe *funcEmitter) emit(instr ir.Instr) {
	switch i := instr.(type) {
	case *ir.LoadConst:
		w := fe.pushConst(i.Value)
		fe.store(i.Dst, w)

	case *ir.BinaryOp:
		fe.load(i.A)
		fe.load(i.B)
		w := widthLetter(i.Width)
		fe.e.raw(string(w) + "_" + i.Op.String())
		fe.store(i.Dst, w)

	case *ir.UnaryOp:
		fe.load(i.A)
		w := widthLetter(i.Width)
		fe.e.raw(string(w) + "_" + i.Op.String())
		fe.store(i.Dst, w)

	case *ir.Compare:
		fe.load(i.A)
		fe.load(i.B)
		w := widthLetter(i.Width)
		fe.e.raw(string(w) + "_" + i.Op.String())
		fe.store(i.Dst, 'I')

	case *ir.Label:
		fe.e.defineLabel(i.Name)

	case *ir.Jump:
		fe.emitBranch("JUMP", i.Target)

	case *ir.CompareJump:
		fe.load(i.A)
		fe.load(i.B)
		w := widthLetter(i.Width)
		fe.emitBranch(string(w)+"_"+i.Op.String(), i.Target)

	case *ir.Call:
		for _, a := range i.Args {
			fe.load(a)
		}
		fe.emitCall(i.Target, len(i.Args))
		if i.HasDst {
			fe.store(i.Dst, 'R')
		}

	case *ir.Return:
		if i.HasValue {
			fe.load(i.Value)
		}
		fe.e.raw("RET")

	case *ir.Convert:
		fe.load(i.Src)
		fe.e.raw(fmt.Sprintf("%c2%c", widthLetter(i.From), widthLetter(i.To)))
		fe.store(i.Dst, widthLetter(i.To))

	case *ir.NewObj:
		fe.e.raw("NEW", i.Type)
		fe.store(i.Dst, 'R')

	case *ir.GetField:
		fe.load(i.Obj)
		fe.e.raw("GETFIELD", strconv.Itoa(i.Index))
		fe.store(i.Dst, 'R')

	case *ir.PutField:
		fe.load(i.Obj)
		fe.load(i.Val)
		fe.e.raw("PUTFIELD", strconv.Itoa(i.Index))

	case *ir.SetIndex:
		fe.load(i.Arr)
		fe.load(i.Idx)
		fe.load(i.Val)
		fe.e.raw("__setindex_" + string(i.Elem))

	case *ir.Index:
		fe.load(i.Arr)
		fe.load(i.Idx)
		fe.e.raw("__index_" + string(i.Elem))
		fe.store(i.Dst, upper(i.Elem))

	case *ir.Move:
		fe.load(i.Src)
		fe.store(i.Dst, fe.widthOf(i.Src))

	case *ir.NewArray:
		fe.load(i.Len)
		fe.e.raw("NEWARRAY", string(i.Elem))
		fe.store(i.Dst, 'R')

	case *ir.LoadGlobal:
		slot, _ := fe.e.globals.SlotOf(i.Name)
		fe.e.raw("R_LOAD", strconv.Itoa(slot))
		fe.store(i.Dst, 'R')

	case *ir.StoreGlobal:
		fe.load(i.Src)
		slot, _ := fe.e.globals.SlotOf(i.Name)
		fe.e.raw("R_STORE", strconv.Itoa(slot))

	case *ir.Syscall:
		for _, a := range i.Args {
			fe.load(a)
		}
		fe.e.raw("SYSCALL", strconv.Itoa(i.Code))
		if i.HasDst {
			fe.store(i.Dst, 'R')
		}
	}
}

func upper(elem byte) byte {
	if elem >= 'a' && elem <= 'z' {
		return elem - ('a' - 'A')
	}
	return elem
}
