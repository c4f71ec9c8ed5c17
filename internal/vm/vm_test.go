package vm_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcnc-org/Snow-sub003/internal/regalloc"
	"github.com/jcnc-org/Snow-sub003/internal/vm"
	"github.com/jcnc-org/Snow-sub003/internal/water"
)

func instr(op string, args ...string) water.Instruction {
	return water.Instruction{Op: op, Args: args}
}

func TestRunSimpleArithmeticReturn(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("I_PUSH", "2"),
			instr("I_PUSH", "3"),
			instr("I_ADD"),
			instr("RET"),
		},
	}
	m := vm.NewVM(prog, vm.NewClassTable(nil))
	exit, err := m.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, exit)
}

func TestRunVirtualDispatchResolvesOverride(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("NEW", "Animal"),  // 0
			instr("R_STORE", "0"),   // 1
			instr("NEW", "Dog"),     // 2
			instr("R_STORE", "1"),   // 3
			instr("R_LOAD", "0"),    // 4
			instr("CALL", "@Animal::speak", "1"), // 5
			instr("I_STORE", "2"),   // 6
			instr("R_LOAD", "1"),    // 7
			instr("CALL", "@Animal::speak", "1"), // 8
			instr("I_STORE", "3"),   // 9
			instr("I_LOAD", "3"),    // 10
			instr("RET"),            // 11
			instr("I_PUSH", "1"),    // 12 Animal.speak
			instr("RET"),            // 13
			instr("I_PUSH", "2"),    // 14 Dog.speak
			instr("RET"),            // 15
		},
	}
	classes := vm.NewClassTable(map[string]*vm.ClassInfo{
		"Animal": {Name: "Animal", Methods: map[string]int{"speak": 12}},
		"Dog":    {Name: "Dog", Parent: "Animal", Methods: map[string]int{"speak": 14}},
	})
	m := vm.NewVM(prog, classes)
	exit, err := m.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, exit)
}

func TestRunVirtualDispatchInheritsUnoverriddenMethod(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("NEW", "Cat"),                  // 0
			instr("CALL", "@Animal::speak", "1"),  // 1
			instr("RET"),                          // 2
			instr("I_PUSH", "9"),                  // 3 Animal.speak
			instr("RET"),                           // 4
		},
	}
	classes := vm.NewClassTable(map[string]*vm.ClassInfo{
		"Animal": {Name: "Animal", Methods: map[string]int{"speak": 3}},
		"Cat":    {Name: "Cat", Parent: "Animal", Methods: map[string]int{}},
	})
	m := vm.NewVM(prog, classes)
	exit, err := m.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 9, exit)
}

func TestRunDivideByZeroIsFatal(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("I_PUSH", "1"),
			instr("I_PUSH", "0"),
			instr("I_DIV"),
			instr("RET"),
		},
	}
	m := vm.NewVM(prog, vm.NewClassTable(nil))
	_, err := m.Run(nil)
	require.Error(t, err)
	rtErr, ok := err.(*vm.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, vm.DivideByZero, rtErr.Kind)
}

func TestRunGlobalStoreLoadRoundTrips(t *testing.T) {
	globalSlot := regalloc.GlobalSlotBase + 5
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("I_PUSH", "7"),
			instr("R_STORE", strconv.Itoa(globalSlot)),
			instr("R_LOAD", strconv.Itoa(globalSlot)),
			instr("RET"),
		},
	}
	m := vm.NewVM(prog, vm.NewClassTable(nil))
	exit, err := m.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 7, exit)
}

func TestRunNarrowingStoreMasksToByteWidth(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("I_PUSH", "1000"),
			instr("I2B"),
			instr("B_STORE", "0"),
			instr("B_LOAD", "0"),
			instr("RET"),
		},
	}
	m := vm.NewVM(prog, vm.NewClassTable(nil))
	exit, err := m.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, -24, exit) // int8(1000) == -24
}

func TestRunCallAndReturnRestoresCallerFrame(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("I_PUSH", "4"),  // 0 arg
			instr("CALL", "3", "1"), // 1
			instr("RET"),           // 2 returns callee's result
			instr("I_LOAD", "0"),   // 3 callee: push its one arg back
			instr("I_PUSH", "1"),   // 4
			instr("I_ADD"),         // 5
			instr("RET"),           // 6
		},
	}
	m := vm.NewVM(prog, vm.NewClassTable(nil))
	exit, err := m.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, exit)
}

func TestRunArrayIndexOutOfRangeIsFatal(t *testing.T) {
	prog := &water.Program{
		Entry: 0,
		Instructions: []water.Instruction{
			instr("I_PUSH", "2"),
			instr("NEWARRAY", "i"),
			instr("I_PUSH", "5"),
			instr("__index_i"),
			instr("RET"),
		},
	}
	m := vm.NewVM(prog, vm.NewClassTable(nil))
	_, err := m.Run(nil)
	require.Error(t, err)
	rtErr, ok := err.(*vm.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, vm.OutOfRangeSlot, rtErr.Kind)
}
