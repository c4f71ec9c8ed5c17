package compiler

import (
	"bytes"
	"fmt"

	"github.com/jcnc-org/Snow-sub003/internal/ir"
	"github.com/jcnc-org/Snow-sub003/internal/lexer"
	"github.com/jcnc-org/Snow-sub003/internal/sema"
	"github.com/jcnc-org/Snow-sub003/internal/token"
	"github.com/jcnc-org/Snow-sub003/internal/water"
)

// dumpTokens re-scans text for -dlex, rendering one line per token, in
// the teacher's doParse debug-dump style (one artifact line per stage
// unit, not a structured format).
func dumpTokens(name, text string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "-- tokens: %s --\n", name)
	l := lexer.New(text)
	for {
		tok := l.NextToken()
		fmt.Fprintf(&b, "%d:%d %s %q\n", tok.Line, tok.Col, tok.Kind, tok.Lexeme)
		if tok.Kind == token.EOF {
			break
		}
	}
	return b.String()
}

// dumpSema renders ctx's struct-layout and function-signature tables
// for -dsema.
func dumpSema(ctx *sema.Context) string {
	var b bytes.Buffer
	fmt.Fprintln(&b, "-- structs --")
	for name, layout := range ctx.Structs {
		fmt.Fprintf(&b, "%s extends %q fields=%d methods=%d\n", name, layout.Parent, len(layout.Fields), len(layout.Methods))
	}
	fmt.Fprintln(&b, "-- functions --")
	for name, sig := range ctx.FuncSigs {
		fmt.Fprintf(&b, "%s(%d params) -> %v\n", name, len(sig.ParamTypes), sig.ReturnType)
	}
	return b.String()
}

// dumpIR renders every function's instruction list for -dir.
func dumpIR(funcs []*ir.Function) string {
	var b bytes.Buffer
	for _, fn := range funcs {
		fmt.Fprintf(&b, "-- %s (regs=%d) --\n", fn.Name, fn.NumRegs)
		for _, instr := range fn.Code {
			fmt.Fprintf(&b, "  %#v\n", instr)
		}
	}
	return b.String()
}

// dumpWater renders the final listing for -dwater, reusing water.Print.
func dumpWater(prog *water.Program) string {
	var b bytes.Buffer
	water.Print(&b, prog)
	return b.String()
}
