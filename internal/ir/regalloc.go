package ir

// VRegAllocator issues fresh virtual registers and maps local variable
// names to them during IR construction. Grounded on the teacher's
// pkg/rtlgen.RegAllocator (nextReg/varToReg/paramRegs/resultReg), with
// rtl.Reg replaced by this package's Reg. This is the per-function
// register issuer used while *building* IR (spec.md §4.3); it is a
// distinct concern from internal/regalloc, which assigns VM slots to
// already-built IR registers (spec.md §4.4).
type VRegAllocator struct {
	nextReg   Reg
	varToReg  map[string]Reg
	paramRegs []Reg
}

// NewVRegAllocator creates an allocator; register IDs start at 1 so 0
// can mean "no register".
func NewVRegAllocator() *VRegAllocator {
	return &VRegAllocator{nextReg: 1, varToReg: make(map[string]Reg)}
}

// Fresh allocates a new virtual register not bound to any variable.
func (a *VRegAllocator) Fresh() Reg {
	r := a.nextReg
	a.nextReg++
	return r
}

// MapVar returns the register for name, allocating one on first use.
func (a *VRegAllocator) MapVar(name string) Reg {
	if r, ok := a.varToReg[name]; ok {
		return r
	}
	r := a.Fresh()
	a.varToReg[name] = r
	return r
}

// LookupVar returns the register bound to name, if any.
func (a *VRegAllocator) LookupVar(name string) (Reg, bool) {
	r, ok := a.varToReg[name]
	return r, ok
}

// MapParams allocates one fresh register per parameter, in order, and
// binds each name to its register.
func (a *VRegAllocator) MapParams(names []string) []Reg {
	a.paramRegs = make([]Reg, len(names))
	for i, name := range names {
		r := a.Fresh()
		a.paramRegs[i] = r
		a.varToReg[name] = r
	}
	return a.paramRegs
}

// NumRegs returns the count of distinct registers allocated so far.
func (a *VRegAllocator) NumRegs() int { return int(a.nextReg) - 1 }
