package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jcnc-org/Snow-sub003/internal/regalloc"
	"github.com/jcnc-org/Snow-sub003/internal/water"
)

// VM is SnowVM's interpreter state, per spec.md §3's "VM runtime
// state": operand stack, call stack of frames, shared global store,
// program counter, and the class/vtable table.
type VM struct {
	prog     *water.Program
	classes  *ClassTable
	syscalls *SyscallRegistry

	pc      int
	operand []Value
	frames  []*Frame
	globals map[int]Value
	argv    []string
}

func NewVM(prog *water.Program, classes *ClassTable) *VM {
	return &VM{
		prog:     prog,
		classes:  classes,
		syscalls: NewSyscallRegistry(),
		globals:  make(map[int]Value),
	}
}

// Run executes prog starting at its Entry, per spec.md §6's `run(listing,
// argv) -> exit-code` contract.
func (m *VM) Run(argv []string) (int, error) {
	m.argv = argv
	m.pc = m.prog.Entry
	m.operand = nil
	m.frames = []*Frame{{ReturnPC: -1, Method: "<entry>"}}

	for {
		if m.pc < 0 || m.pc >= len(m.prog.Instructions) {
			return 0, m.fatal(BadInstruction, fmt.Sprintf("pc %d out of range", m.pc))
		}
		halted, exitCode, err := m.step()
		if err != nil {
			return 0, err
		}
		if halted {
			return exitCode, nil
		}
	}
}

func (m *VM) push(v Value) { m.operand = append(m.operand, v) }

func (m *VM) pop() (Value, error) {
	if len(m.operand) == 0 {
		return Value{}, m.fatal(StackUnderflow, "pop on empty operand stack")
	}
	v := m.operand[len(m.operand)-1]
	m.operand = m.operand[:len(m.operand)-1]
	return v, nil
}

func (m *VM) popN(n int) ([]Value, error) {
	if len(m.operand) < n {
		return nil, m.fatal(StackUnderflow, "stack underflow")
	}
	start := len(m.operand) - n
	args := make([]Value, n)
	copy(args, m.operand[start:])
	m.operand = m.operand[:start]
	return args, nil
}

func (m *VM) frame() *Frame { return m.frames[len(m.frames)-1] }

func (m *VM) fatal(kind RuntimeErrorKind, msg string) *RuntimeError {
	frames := make([]Frame, len(m.frames))
	for i, f := range m.frames {
		frames[i] = *f
	}
	operand := make([]Value, len(m.operand))
	copy(operand, m.operand)
	return &RuntimeError{
		Kind:    kind,
		Message: msg,
		Snapshot: Snapshot{
			PC:      m.pc,
			Frames:  frames,
			Operand: operand,
		},
	}
}

// step decodes and executes exactly one instruction, advancing the PC
// unless the instruction (branch/call/return) sets it explicitly.
func (m *VM) step() (halted bool, exitCode int, err error) {
	instr := m.prog.Instructions[m.pc]
	if instr.IsLabel() {
		m.pc++
		return false, 0, nil
	}
	op := instr.Op
	nextPC := m.pc + 1

	if width, suffix, ok := splitWidthOp(op); ok {
		switch suffix {
		case "PUSH":
			if err := m.doPush(width, instr.Args[0]); err != nil {
				return false, 0, err
			}
		case "LOAD":
			if err := m.doLoad(width, instr.Args[0]); err != nil {
				return false, 0, err
			}
		case "STORE":
			if err := m.doStore(width, instr.Args[0]); err != nil {
				return false, 0, err
			}
		case "ADD", "SUB", "MUL", "DIV", "MOD", "AND", "OR", "XOR":
			if err := m.binaryArith(width, suffix); err != nil {
				return false, 0, err
			}
		case "NEG", "NOT":
			if err := m.unaryArith(width, suffix); err != nil {
				return false, 0, err
			}
		case "CE", "CNE", "CL", "CG", "CLE", "CGE":
			result, err := m.compare(width, suffix)
			if err != nil {
				return false, 0, err
			}
			if len(instr.Args) == 0 {
				m.push(BoolValue(result))
			} else {
				if result {
					target, convErr := strconv.Atoi(instr.Args[0])
					if convErr != nil {
						return false, 0, m.fatal(BadInstruction, "bad jump target "+instr.Args[0])
					}
					nextPC = target
				}
			}
		default:
			return false, 0, m.fatal(BadInstruction, "unrecognized opcode "+op)
		}
		m.pc = nextPC
		return false, 0, nil
	}

	if from, to, ok := splitConvert(op); ok {
		v, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		m.push(convertValue(from, to, v))
		m.pc = nextPC
		return false, 0, nil
	}

	switch {
	case op == "JUMP":
		target, convErr := strconv.Atoi(instr.Args[0])
		if convErr != nil {
			return false, 0, m.fatal(BadInstruction, "bad jump target "+instr.Args[0])
		}
		nextPC = target

	case op == "CALL":
		if len(instr.Args) != 2 {
			return false, 0, m.fatal(BadInstruction, "malformed CALL")
		}
		nArgs, convErr := strconv.Atoi(instr.Args[1])
		if convErr != nil {
			return false, 0, m.fatal(BadInstruction, "bad CALL arg count")
		}
		args, err := m.popN(nArgs)
		if err != nil {
			return false, 0, err
		}
		targetPC, label, err := m.resolveCallTarget(instr.Args[0], args)
		if err != nil {
			return false, 0, err
		}
		if len(m.frames) >= MaxCallDepth {
			return false, 0, m.fatal(StackOverflow, "call stack exceeded max depth")
		}
		m.frames = append(m.frames, newFrame(label, m.pc+1, args, len(m.operand)))
		nextPC = targetPC

	case op == "RET":
		fr := m.frame()
		depth := len(m.operand)
		var retVal Value
		hasRet := false
		switch {
		case depth == fr.EntryDepth:
		case depth == fr.EntryDepth+1:
			retVal, err = m.pop()
			if err != nil {
				return false, 0, err
			}
			hasRet = true
		default:
			return false, 0, m.fatal(TypeMismatch, "operand stack imbalance at return")
		}
		m.frames = m.frames[:len(m.frames)-1]
		if len(m.frames) == 0 {
			if hasRet {
				return true, int(retVal.I), nil
			}
			return true, 0, nil
		}
		nextPC = fr.ReturnPC
		if hasRet {
			m.push(retVal)
		}

	case op == "NEW":
		info, ok := m.classes.Get(instr.Args[0])
		if !ok {
			return false, 0, m.fatal(BadInstruction, "unknown struct "+instr.Args[0])
		}
		m.push(RefValue(&Object{Class: instr.Args[0], Fields: make([]Value, info.NumFields)}))

	case op == "GETFIELD":
		obj, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		o, ok := obj.Ref.(*Object)
		if !ok || o == nil {
			return false, 0, m.fatal(NullReference, "GETFIELD on null reference")
		}
		idx, convErr := strconv.Atoi(instr.Args[0])
		if convErr != nil || idx < 0 || idx >= len(o.Fields) {
			return false, 0, m.fatal(OutOfRangeSlot, "field index out of range")
		}
		m.push(o.Fields[idx])

	case op == "PUTFIELD":
		val, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		obj, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		o, ok := obj.Ref.(*Object)
		if !ok || o == nil {
			return false, 0, m.fatal(NullReference, "PUTFIELD on null reference")
		}
		idx, convErr := strconv.Atoi(instr.Args[0])
		if convErr != nil || idx < 0 || idx >= len(o.Fields) {
			return false, 0, m.fatal(OutOfRangeSlot, "field index out of range")
		}
		o.Fields[idx] = val

	case op == "NEWARRAY":
		n, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		if len(instr.Args) == 0 {
			return false, 0, m.fatal(BadInstruction, "malformed NEWARRAY")
		}
		m.push(RefValue(&Array{Elem: instr.Args[0][0], Items: make([]Value, n.I)}))

	case strings.HasPrefix(op, "__setindex_"):
		val, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		idxVal, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		arrVal, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		arr, ok := arrVal.Ref.(*Array)
		if !ok || arr == nil {
			return false, 0, m.fatal(NullReference, "index assignment on null array")
		}
		idx := int(idxVal.I)
		if idx < 0 || idx >= len(arr.Items) {
			return false, 0, m.fatal(OutOfRangeSlot, "array index out of range")
		}
		arr.Items[idx] = val

	case strings.HasPrefix(op, "__index_"):
		idxVal, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		arrVal, err := m.pop()
		if err != nil {
			return false, 0, err
		}
		arr, ok := arrVal.Ref.(*Array)
		if !ok || arr == nil {
			return false, 0, m.fatal(NullReference, "index on null array")
		}
		idx := int(idxVal.I)
		if idx < 0 || idx >= len(arr.Items) {
			return false, 0, m.fatal(OutOfRangeSlot, "array index out of range")
		}
		m.push(arr.Items[idx])

	case op == "SYSCALL":
		code, convErr := strconv.Atoi(instr.Args[0])
		if convErr != nil {
			return false, 0, m.fatal(BadInstruction, "bad syscall code")
		}
		nArgs, known := syscallArgCount[code]
		if !known {
			return false, 0, m.fatal(UnknownSyscall, fmt.Sprintf("unknown syscall 0x%x", code))
		}
		args, err := m.popN(nArgs)
		if err != nil {
			return false, 0, err
		}
		result, callErr := m.syscalls.Invoke(code, args)
		if callErr != nil {
			return false, 0, m.fatal(SyscallFailure, callErr.Error())
		}
		if syscallHasResult[code] {
			m.push(result)
		}

	case op == "HALT":
		exit := 0
		if v, err := m.pop(); err == nil {
			exit = int(v.I)
		}
		return true, exit, nil

	default:
		return false, 0, m.fatal(BadInstruction, "unrecognized opcode "+op)
	}

	m.pc = nextPC
	return false, 0, nil
}

// resolveCallTarget decodes a CALL's first argument: a resolved
// numeric address, or a "@Class::method" virtual-dispatch marker
// resolved against args[0]'s runtime class (spec.md §4.6: "pops the
// receiver as the first arg, looks up m in the receiver's vtable").
func (m *VM) resolveCallTarget(raw string, args []Value) (int, string, error) {
	if strings.HasPrefix(raw, "@") {
		marker := strings.TrimPrefix(raw, "@")
		methodName := marker
		if idx := strings.Index(marker, "::"); idx >= 0 {
			methodName = marker[idx+2:]
		}
		if len(args) == 0 {
			return 0, "", m.fatal(NullReference, "virtual call with no receiver")
		}
		obj, ok := args[0].Ref.(*Object)
		if !ok || obj == nil {
			return 0, "", m.fatal(NullReference, "virtual call on null receiver")
		}
		pc, ok := m.classes.Lookup(obj.Class, methodName)
		if !ok {
			return 0, "", m.fatal(VtableMiss, fmt.Sprintf("no method %q reachable from %s", methodName, obj.Class))
		}
		return pc, marker, nil
	}
	pc, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, "", m.fatal(BadInstruction, "bad call target "+raw)
	}
	return pc, raw, nil
}

func (m *VM) doPush(width byte, arg string) error {
	switch {
	case width == 'R':
		s, convErr := strconv.Unquote(arg)
		if convErr != nil {
			return m.fatal(BadInstruction, "bad string literal "+arg)
		}
		m.push(StringValue(s))
	case IsFloatKind(width):
		f, convErr := strconv.ParseFloat(arg, 64)
		if convErr != nil {
			return m.fatal(BadInstruction, "bad float literal "+arg)
		}
		m.push(FloatValue(width, f))
	default:
		n, convErr := strconv.ParseInt(arg, 10, 64)
		if convErr != nil {
			return m.fatal(BadInstruction, "bad int literal "+arg)
		}
		m.push(IntValue(width, n))
	}
	return nil
}

func (m *VM) doLoad(width byte, arg string) error {
	slot, convErr := strconv.Atoi(arg)
	if convErr != nil {
		return m.fatal(BadInstruction, "bad slot "+arg)
	}
	if slot >= regalloc.GlobalSlotBase {
		m.push(m.globals[slot])
		return nil
	}
	if slot < 0 {
		return m.fatal(OutOfRangeSlot, "negative local slot")
	}
	m.push(m.frame().slot(slot))
	return nil
}

func (m *VM) doStore(width byte, arg string) error {
	slot, convErr := strconv.Atoi(arg)
	if convErr != nil {
		return m.fatal(BadInstruction, "bad slot "+arg)
	}
	v, err := m.pop()
	if err != nil {
		return err
	}
	v.Kind = width
	v.I = maskAndSignExtend(width, v.I)
	if slot >= regalloc.GlobalSlotBase {
		m.globals[slot] = v
		return nil
	}
	if slot < 0 {
		return m.fatal(OutOfRangeSlot, "negative local slot")
	}
	m.frame().setSlot(slot, v)
	return nil
}

func (m *VM) binaryArith(width byte, op string) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	if IsFloatKind(width) {
		var r float64
		switch op {
		case "ADD":
			r = a.F + b.F
		case "SUB":
			r = a.F - b.F
		case "MUL":
			r = a.F * b.F
		case "DIV":
			if b.F == 0 {
				return m.fatal(DivideByZero, "division by zero")
			}
			r = a.F / b.F
		default:
			return m.fatal(BadInstruction, op+" is not valid for a floating width")
		}
		m.push(Value{Kind: width, F: r})
		return nil
	}
	var r int64
	switch op {
	case "ADD":
		r = a.I + b.I
	case "SUB":
		r = a.I - b.I
	case "MUL":
		r = a.I * b.I
	case "DIV":
		if b.I == 0 {
			return m.fatal(DivideByZero, "division by zero")
		}
		r = a.I / b.I
	case "MOD":
		if b.I == 0 {
			return m.fatal(DivideByZero, "division by zero")
		}
		r = a.I % b.I
	case "AND":
		r = a.I & b.I
	case "OR":
		r = a.I | b.I
	case "XOR":
		r = a.I ^ b.I
	}
	m.push(Value{Kind: width, I: maskAndSignExtend(width, r)})
	return nil
}

func (m *VM) unaryArith(width byte, op string) error {
	a, err := m.pop()
	if err != nil {
		return err
	}
	if IsFloatKind(width) {
		if op != "NEG" {
			return m.fatal(BadInstruction, "NOT is not valid for a floating width")
		}
		m.push(Value{Kind: width, F: -a.F})
		return nil
	}
	switch op {
	case "NEG":
		m.push(Value{Kind: width, I: maskAndSignExtend(width, -a.I)})
	case "NOT":
		m.push(Value{Kind: width, I: maskAndSignExtend(width, ^a.I)})
	}
	return nil
}

func (m *VM) compare(width byte, op string) (bool, error) {
	b, err := m.pop()
	if err != nil {
		return false, err
	}
	a, err := m.pop()
	if err != nil {
		return false, err
	}
	if IsFloatKind(width) {
		switch op {
		case "CE":
			return a.F == b.F, nil
		case "CNE":
			return a.F != b.F, nil
		case "CL":
			return a.F < b.F, nil
		case "CG":
			return a.F > b.F, nil
		case "CLE":
			return a.F <= b.F, nil
		case "CGE":
			return a.F >= b.F, nil
		}
	}
	switch op {
	case "CE":
		return a.I == b.I, nil
	case "CNE":
		return a.I != b.I, nil
	case "CL":
		return a.I < b.I, nil
	case "CG":
		return a.I > b.I, nil
	case "CLE":
		return a.I <= b.I, nil
	case "CGE":
		return a.I >= b.I, nil
	}
	return false, m.fatal(BadInstruction, "unrecognized comparison "+op)
}

var widthLetters = "BSILFDR"

func splitWidthOp(op string) (width byte, suffix string, ok bool) {
	if len(op) < 3 || op[1] != '_' {
		return 0, "", false
	}
	if strings.IndexByte(widthLetters, op[0]) < 0 {
		return 0, "", false
	}
	return op[0], op[2:], true
}

func splitConvert(op string) (from, to byte, ok bool) {
	if len(op) != 3 || op[1] != '2' {
		return 0, 0, false
	}
	if strings.IndexByte(widthLetters, op[0]) < 0 || strings.IndexByte(widthLetters, op[2]) < 0 {
		return 0, 0, false
	}
	return op[0], op[2], true
}

func maskAndSignExtend(width byte, v int64) int64 {
	switch width {
	case 'B':
		return int64(int8(v))
	case 'S':
		return int64(int16(v))
	case 'I':
		return int64(int32(v))
	default:
		return v
	}
}

func convertValue(from, to byte, v Value) Value {
	fromFloat := IsFloatKind(from)
	toFloat := IsFloatKind(to)
	switch {
	case !fromFloat && !toFloat:
		return Value{Kind: to, I: maskAndSignExtend(to, v.I)}
	case fromFloat && toFloat:
		if to == 'F' {
			return Value{Kind: to, F: float64(float32(v.F))}
		}
		return Value{Kind: to, F: v.F}
	case !fromFloat && toFloat:
		return Value{Kind: to, F: float64(v.I)}
	default:
		return Value{Kind: to, I: maskAndSignExtend(to, int64(v.F))}
	}
}
