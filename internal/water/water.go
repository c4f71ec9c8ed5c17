// Package water defines Snow's `.water` textual VM instruction format
// (spec.md §6) and its printer/loader. Instructions are plain
// {mnemonic, operand tokens} pairs rather than one Go type per opcode:
// spec.md §4.6 itself describes the VM's decoder as "each textual
// instruction line begins with an opcode mnemonic; the mnemonic maps to
// a handler in a static registry" — a string-keyed dispatch table, not
// a typed instruction AST — so water's shape follows that decoder
// description directly. What is kept from the teacher's pkg/asm is the
// separation of concerns between construction (internal/backend),
// textual rendering (Print, mirroring pkg/asm/printer.go), and parsing
// back (Load, mirroring the teacher's disassembly-adjacent line
// scanning), plus `#`-comment/blank-line skipping in the loader.
package water

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Instruction is one line of a .water listing. A label-definition line
// (spec.md §4.5: "lines ending with `:`") carries Label and an empty
// Op; an ordinary instruction carries Op/Args and an empty Label.
type Instruction struct {
	Label string
	Op    string
	Args  []string
}

// IsLabel reports whether this line only defines a label.
func (i Instruction) IsLabel() bool { return i.Label != "" }

// Program is a complete, ordered .water listing. Entry is the PC the VM
// starts execution at (spec.md §4.6: "by convention the start of the
// module containing main, or a top-level _start").
type Program struct {
	Instructions []Instruction
	Entry        int
}

// String renders one instruction exactly as it appears in a .water file.
func (i Instruction) String() string {
	if i.IsLabel() {
		return i.Label + ":"
	}
	if len(i.Args) == 0 {
		return i.Op
	}
	return i.Op + " " + strings.Join(i.Args, " ")
}

// Print writes prog as a .water listing, one instruction per line.
func Print(w io.Writer, prog *Program) error {
	bw := bufio.NewWriter(w)
	for _, instr := range prog.Instructions {
		if _, err := fmt.Fprintln(bw, instr.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load parses a .water listing, skipping blank lines and lines whose
// first non-space character is `#` (spec.md §6).
func Load(r io.Reader) (*Program, error) {
	prog := &Program{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
			prog.Instructions = append(prog.Instructions, Instruction{Label: strings.TrimSuffix(line, ":")})
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		instr := Instruction{Op: fields[0]}
		if len(fields) > 1 {
			instr.Args = fields[1:]
		}
		prog.Instructions = append(prog.Instructions, instr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("water: line %d: %w", lineNo, err)
	}
	return prog, nil
}
