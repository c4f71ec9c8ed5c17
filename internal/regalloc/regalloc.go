// Package regalloc assigns VM storage slots to IR virtual registers and
// to global variables, per spec.md §4.4: linear-scan, order-preserving,
// parameters in slots 0..P-1, globals in a reserved range, no spilling.
//
// This is a deliberately simplified descendant of the teacher's
// graph-coloring pkg/regalloc (IRC/George-Appel allocator): Snow's slots
// are unbounded (no physical register set to color into, no spilling),
// so the interference-graph machinery that package builds has no role
// here. What survives from the teacher is the idea of a dedicated
// allocation pass sitting between IR and codegen, and its RegSet-style
// "set of already-assigned locations" bookkeeping (see assigned below).
package regalloc

import "github.com/jcnc-org/Snow-sub003/internal/ir"

// GlobalSlotBase is the first slot id reserved for global variables.
// Slot ids below this are per-function locals; at or above it, the VM's
// decoder resolves against globalVariableStore instead of the current
// frame (spec.md §4.6: "reserved slot range distinguishes globals from
// locals at decode time").
const GlobalSlotBase = 1 << 16

// FuncAllocation maps a function's IR virtual registers to VM slot
// numbers, parameters occupying 0..P-1 in declaration order.
type FuncAllocation struct {
	Slots    map[ir.Reg]int
	NumSlots int
}

// SlotOf returns the VM slot for a virtual register.
func (a *FuncAllocation) SlotOf(r ir.Reg) int { return a.Slots[r] }

// AllocateFunction performs linear-scan, order-preserving slot
// assignment: fn.ParamRegs get 0..P-1 first, then every register
// encountered scanning fn.Code in instruction order gets the next free
// slot on first sight.
func AllocateFunction(fn *ir.Function) *FuncAllocation {
	a := &FuncAllocation{Slots: make(map[ir.Reg]int)}
	assign := func(r ir.Reg) {
		if r == 0 {
			return
		}
		if _, ok := a.Slots[r]; ok {
			return
		}
		a.Slots[r] = a.NumSlots
		a.NumSlots++
	}

	for _, p := range fn.ParamRegs {
		assign(p)
	}
	for _, instr := range fn.Code {
		for _, r := range regsOf(instr) {
			assign(r)
		}
	}
	return a
}

// regsOf returns every virtual register mentioned by instr, in the
// order def(s) then use(s) appear in the instruction's fields.
func regsOf(instr ir.Instr) []ir.Reg {
	switch i := instr.(type) {
	case *ir.LoadConst:
		return []ir.Reg{i.Dst}
	case *ir.BinaryOp:
		return []ir.Reg{i.Dst, i.A, i.B}
	case *ir.UnaryOp:
		return []ir.Reg{i.Dst, i.A}
	case *ir.Compare:
		return []ir.Reg{i.Dst, i.A, i.B}
	case *ir.CompareJump:
		return []ir.Reg{i.A, i.B}
	case *ir.Call:
		regs := append([]ir.Reg{}, i.Args...)
		if i.HasDst {
			regs = append([]ir.Reg{i.Dst}, regs...)
		}
		return regs
	case *ir.Return:
		if i.HasValue {
			return []ir.Reg{i.Value}
		}
		return nil
	case *ir.Convert:
		return []ir.Reg{i.Dst, i.Src}
	case *ir.NewObj:
		return []ir.Reg{i.Dst}
	case *ir.GetField:
		return []ir.Reg{i.Dst, i.Obj}
	case *ir.PutField:
		return []ir.Reg{i.Obj, i.Val}
	case *ir.SetIndex:
		return []ir.Reg{i.Arr, i.Idx, i.Val}
	case *ir.Index:
		return []ir.Reg{i.Dst, i.Arr, i.Idx}
	case *ir.Move:
		return []ir.Reg{i.Dst, i.Src}
	case *ir.NewArray:
		return []ir.Reg{i.Dst, i.Len}
	case *ir.LoadGlobal:
		return []ir.Reg{i.Dst}
	case *ir.StoreGlobal:
		return []ir.Reg{i.Src}
	case *ir.Syscall:
		regs := append([]ir.Reg{}, i.Args...)
		if i.HasDst {
			regs = append([]ir.Reg{i.Dst}, regs...)
		}
		return regs
	}
	return nil
}

// GlobalAllocation maps qualified global-variable names to reserved VM
// slots, shared by every function that references them.
type GlobalAllocation struct {
	Slots map[string]int
}

// SlotOf returns the reserved slot for a global name.
func (g *GlobalAllocation) SlotOf(name string) (int, bool) {
	s, ok := g.Slots[name]
	return s, ok
}

// AllocateGlobals assigns each name in names a slot at or above
// GlobalSlotBase, in the given order — callers pass a deterministically
// sorted name list so allocation is reproducible across builds.
func AllocateGlobals(names []string) *GlobalAllocation {
	g := &GlobalAllocation{Slots: make(map[string]int, len(names))}
	for i, name := range names {
		g.Slots[name] = GlobalSlotBase + i
	}
	return g
}
