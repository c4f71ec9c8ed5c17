package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcnc-org/Snow-sub003/internal/backend"
	"github.com/jcnc-org/Snow-sub003/internal/ir"
	"github.com/jcnc-org/Snow-sub003/internal/regalloc"
	"github.com/jcnc-org/Snow-sub003/internal/types"
)

type fakeStructs struct{ parents map[string]string }

func (f fakeStructs) Parent(name string) (string, bool) {
	p, ok := f.parents[name]
	return p, ok
}

func TestEmitProgramResolvesDirectCall(t *testing.T) {
	callee := &ir.Function{
		Name: "Main.helper",
		Code: []ir.Instr{&ir.Return{HasValue: false}},
	}
	caller := &ir.Function{
		Name: "Main._start",
		Code: []ir.Instr{
			&ir.Call{Target: "Main.helper", HasDst: false},
			&ir.Return{HasValue: false},
		},
	}

	allocs := map[string]*regalloc.FuncAllocation{
		"Main.helper": regalloc.AllocateFunction(callee),
		"Main._start": regalloc.AllocateFunction(caller),
	}
	globals := regalloc.AllocateGlobals(nil)
	e := backend.NewEmitter(globals, fakeStructs{})
	prog, diags := e.EmitProgram([]*ir.Function{callee, caller}, allocs, "Main._start")
	require.False(t, diags.HasErrors(), diags.Error())

	var sawCall bool
	for _, instr := range prog.Instructions {
		if instr.Op == "CALL" {
			assert.NotEqual(t, "-1", instr.Args[0])
			sawCall = true
		}
	}
	assert.True(t, sawCall)
}

func TestEmitProgramVirtualCallNeverFixedUp(t *testing.T) {
	caller := &ir.Function{
		Name: "Main._start",
		Code: []ir.Instr{
			&ir.Call{Target: "Animal::speak", HasDst: false, Args: []ir.Reg{1}},
			&ir.Return{HasValue: false},
		},
		ParamRegs: nil,
	}
	allocs := map[string]*regalloc.FuncAllocation{"Main._start": regalloc.AllocateFunction(caller)}
	globals := regalloc.AllocateGlobals(nil)
	e := backend.NewEmitter(globals, fakeStructs{})
	prog, diags := e.EmitProgram([]*ir.Function{caller}, allocs, "Main._start")
	require.False(t, diags.HasErrors(), diags.Error())

	var found bool
	for _, instr := range prog.Instructions {
		if instr.Op == "CALL" {
			assert.Equal(t, "@Animal::speak", instr.Args[0])
			found = true
		}
	}
	assert.True(t, found)
}

func TestEmitProgramSuperCallResolvesToParentConstructor(t *testing.T) {
	parentCtor := &ir.Function{Name: "Animal.__init__1", Code: []ir.Instr{&ir.Return{HasValue: false}}}
	childCtor := &ir.Function{
		Name: "Dog.__init__1",
		Code: []ir.Instr{
			&ir.Call{Target: "Dog.super", Args: []ir.Reg{1}},
			&ir.Return{HasValue: false},
		},
	}
	allocs := map[string]*regalloc.FuncAllocation{
		"Animal.__init__1": regalloc.AllocateFunction(parentCtor),
		"Dog.__init__1":     regalloc.AllocateFunction(childCtor),
	}
	globals := regalloc.AllocateGlobals(nil)
	structs := fakeStructs{parents: map[string]string{"Dog": "Animal"}}
	e := backend.NewEmitter(globals, structs)
	prog, diags := e.EmitProgram([]*ir.Function{parentCtor, childCtor}, allocs, "Dog.__init__1")
	require.False(t, diags.HasErrors(), diags.Error())

	var sawResolvedCall bool
	for _, instr := range prog.Instructions {
		if instr.Op == "CALL" && instr.Args[0] != "-1" {
			sawResolvedCall = true
		}
	}
	assert.True(t, sawResolvedCall)
}

func TestEmitProgramUnresolvedTargetIsDiagnosed(t *testing.T) {
	fn := &ir.Function{
		Name: "Main._start",
		Code: []ir.Instr{
			&ir.Call{Target: "Main.missing", HasDst: false},
			&ir.Return{HasValue: false},
		},
	}
	allocs := map[string]*regalloc.FuncAllocation{"Main._start": regalloc.AllocateFunction(fn)}
	globals := regalloc.AllocateGlobals(nil)
	e := backend.NewEmitter(globals, fakeStructs{})
	_, diags := e.EmitProgram([]*ir.Function{fn}, allocs, "Main._start")
	require.True(t, diags.HasErrors())
}

func TestEmitProgramBinaryOpUsesStackPushLoadStore(t *testing.T) {
	fn := &ir.Function{
		Name:      "Main.add",
		ParamRegs: []ir.Reg{1, 2},
		Code: []ir.Instr{
			&ir.BinaryOp{Op: ir.Add, Width: types.Int, Dst: 3, A: 1, B: 2},
			&ir.Return{Value: 3, HasValue: true},
		},
	}
	allocs := map[string]*regalloc.FuncAllocation{"Main.add": regalloc.AllocateFunction(fn)}
	globals := regalloc.AllocateGlobals(nil)
	e := backend.NewEmitter(globals, fakeStructs{})
	prog, diags := e.EmitProgram([]*ir.Function{fn}, allocs, "Main.add")
	require.False(t, diags.HasErrors(), diags.Error())

	var ops []string
	for _, instr := range prog.Instructions {
		ops = append(ops, instr.Op)
	}
	assert.Contains(t, ops, "I_LOAD")
	assert.Contains(t, ops, "I_ADD")
	assert.Contains(t, ops, "I_STORE")
	assert.Contains(t, ops, "RET")
}
