// Package compiler wires every pipeline stage into the two top-level
// entry points spec.md §6 names: compile(sources) -> (listing,
// diagnostics) and run(listing, argv) -> exit-code. It plays the role
// the teacher's cmd/ralph-cc/main.go plays (doParse/doClight/.../doAsm
// chained stage by stage), factored into a library so cmd/snow stays a
// thin CLI wrapper.
package compiler

import (
	"fmt"
	"sort"

	"github.com/jcnc-org/Snow-sub003/internal/ast"
	"github.com/jcnc-org/Snow-sub003/internal/backend"
	"github.com/jcnc-org/Snow-sub003/internal/diag"
	"github.com/jcnc-org/Snow-sub003/internal/imports"
	"github.com/jcnc-org/Snow-sub003/internal/ir"
	"github.com/jcnc-org/Snow-sub003/internal/lexer"
	"github.com/jcnc-org/Snow-sub003/internal/parser"
	"github.com/jcnc-org/Snow-sub003/internal/regalloc"
	"github.com/jcnc-org/Snow-sub003/internal/sema"
	"github.com/jcnc-org/Snow-sub003/internal/vm"
	"github.com/jcnc-org/Snow-sub003/internal/water"
)

// Source is one named input to Compile; Name is used to stamp
// diagnostics and, when the source has no enclosing `module:` block, as
// its synthetic module prefix.
type Source struct {
	Name string
	Text string
}

// parsedFile is one source's parse result plus the module prefix it was
// registered under.
type parsedFile struct {
	name   string
	prefix string
	file   *ast.File
}

// Options configures a Compile invocation.
type Options struct {
	// Entry is the qualified function name the resulting Program starts
	// at (e.g. "M.main"). If empty, Compile defaults to "<first source's
	// module prefix>.main", falling back to "<prefix>._start" for
	// script-mode sources with no explicit main.
	Entry string

	Imports imports.Options

	// Debug dumps, mirroring the teacher's -dparse/-dclight/.../-dasm
	// flags: when set, Compile renders the named stage's intermediate
	// artifact into the corresponding Dump field of Result.
	DumpLex, DumpParse, DumpSema, DumpIR, DumpWater bool
}

// Result carries the compiled Program plus whatever intermediate dumps
// Options requested.
type Result struct {
	Program *water.Program
	Classes *vm.ClassTable
	Diags   diag.List

	DumpLex   string
	DumpParse string
	DumpSema  string
	DumpIR    string
	DumpWater string
}

// Compile runs every source through lex -> parse -> sema -> IR ->
// regalloc -> backend, in that order, aggregating diagnostics from
// every phase (spec.md §8: "diagnostic aggregation"). A non-empty
// Diags means the compile failed; Program/Classes are valid only when
// Diags is empty.
func Compile(sources []Source, opts Options) Result {
	var res Result
	ctx := sema.NewContext()

	var files []parsedFile

	for _, src := range sources {
		l := lexer.New(src.Text)
		p := parser.New(l, src.Name)
		file := p.ParseFile()

		if opts.DumpLex {
			res.DumpLex += dumpTokens(src.Name, src.Text)
		}
		if opts.DumpParse {
			res.DumpParse += fmt.Sprintf("%s: module=%v structs=%d functions=%d\n",
				src.Name, file.Module != nil, len(allStructs(file)), len(allFunctions(file)))
		}

		for _, e := range l.Errors() {
			res.Diags.Add(src.Name, 0, 0, diag.LexError, "%s", e.Error())
		}
		for _, e := range p.Errors() {
			kind := diag.ParseErrorUnexpectedToken
			switch {
			case e.MissingToken:
				kind = diag.ParseErrorMissingToken
			case e.Unsupported:
				kind = diag.ParseErrorUnsupportedFeature
			}
			res.Diags.Add(e.File, e.Line, e.Col, kind, "%s", e.Reason)
		}

		prefix := modulePrefix(src.Name, file)
		files = append(files, parsedFile{name: src.Name, prefix: prefix, file: file})
	}

	if res.Diags.HasErrors() {
		return res
	}

	// Pass 1: register every struct layout across all files first, so
	// cross-file inheritance resolves regardless of declaration order.
	for _, pf := range files {
		ctx.RegisterStructs(pf.name, allStructs(pf.file))
	}
	for _, pf := range files {
		for _, s := range allStructs(pf.file) {
			ctx.LowerStruct(pf.name, s)
		}
	}

	// Pass 2: fold globals, register module-level functions, wrap
	// script-mode statements.
	knownModules := map[string]bool{}
	for _, pf := range files {
		knownModules[pf.prefix] = true
	}
	for _, pf := range files {
		ctx.FoldGlobals(pf.name, pf.prefix, allGlobals(pf.file))
		for _, fn := range allFunctions(pf.file) {
			ctx.RegisterFunction(pf.prefix+"."+fn.Name, fn)
		}
		ctx.WrapScript(pf.prefix, pf.file.Stmts)
	}

	if ctx.Diags.HasErrors() {
		res.Diags = append(res.Diags, ctx.Diags...)
		return res
	}

	if opts.DumpSema {
		res.DumpSema = dumpSema(ctx)
	}

	// Pass 3: IR build, one Function per entry in ctx.Functions.
	builder := ir.NewBuilder(ctx, ctx, ctx, knownModules)
	var irFuncs []*ir.Function
	for _, astFn := range ctx.Functions {
		prefix := importsForPrefix(astFn.Name)
		fn, diags := builder.Build(astFn, prefix, nil)
		res.Diags = append(res.Diags, diags...)
		irFuncs = append(irFuncs, fn)
	}
	if res.Diags.HasErrors() {
		return res
	}

	if opts.DumpIR {
		res.DumpIR = dumpIR(irFuncs)
	}

	// Pass 4: register allocation, per function plus one shared global
	// allocation over every registered global var, in a deterministic
	// (sorted) order.
	var globalNames []string
	for name := range ctx.GlobalVars {
		globalNames = append(globalNames, name)
	}
	sort.Strings(globalNames)
	globalAlloc := regalloc.AllocateGlobals(globalNames)

	allocs := make(map[string]*regalloc.FuncAllocation, len(irFuncs))
	for _, fn := range irFuncs {
		allocs[fn.Name] = regalloc.AllocateFunction(fn)
	}

	// Pass 5: codegen.
	emitter := backend.NewEmitter(globalAlloc, ctx)
	entry := opts.Entry
	if entry == "" {
		entry = defaultEntry(files, ctx)
	}
	prog, diags := emitter.EmitProgram(irFuncs, allocs, entry)
	res.Diags = append(res.Diags, diags...)
	if res.Diags.HasErrors() {
		return res
	}

	if opts.DumpWater {
		res.DumpWater = dumpWater(prog)
	}

	res.Program = prog
	res.Classes = buildClassTable(ctx, emitter)
	return res
}

// Run executes a compiled Program, delegating to internal/vm. argv is
// handed to the VM's argv slot (spec.md §3's "VM runtime state").
func Run(prog *water.Program, classes *vm.ClassTable, argv []string) (int, error) {
	m := vm.NewVM(prog, classes)
	return m.Run(argv)
}

func modulePrefix(sourceName string, file *ast.File) string {
	if file.Module != nil {
		return file.Module.Name
	}
	return syntheticModuleName(sourceName)
}

func syntheticModuleName(sourceName string) string {
	base := sourceName
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' || base[i] == '\\' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			base = base[:i]
			break
		}
	}
	if base == "" {
		return "Main"
	}
	return base
}

func allStructs(f *ast.File) []*ast.Struct {
	if f.Module != nil {
		return f.Module.Structs
	}
	return f.Structs
}

func allGlobals(f *ast.File) []*ast.Declaration {
	if f.Module != nil {
		return f.Module.Globals
	}
	return f.Globals
}

func allFunctions(f *ast.File) []*ast.Function {
	if f.Module != nil {
		return f.Module.Functions
	}
	return f.Functions
}

// importsForPrefix extracts the module prefix a qualified function
// name was registered under (everything before the first '.'), for
// handing to the builder as its modulePrefix argument.
func importsForPrefix(qualifiedName string) string {
	for i, ch := range qualifiedName {
		if ch == '.' {
			return qualifiedName[:i]
		}
	}
	return qualifiedName
}

// defaultEntry picks "<first module>.main" if registered, else
// "<first module>._start" (script-mode fallback, spec.md §4.2).
func defaultEntry(files []parsedFile, ctx *sema.Context) string {
	for _, pf := range files {
		if _, ok := ctx.FuncSigs[pf.prefix+".main"]; ok {
			return pf.prefix + ".main"
		}
	}
	for _, pf := range files {
		if _, ok := ctx.FuncSigs[pf.prefix+"._start"]; ok {
			return pf.prefix + "._start"
		}
	}
	if len(files) > 0 {
		return files[0].prefix + ".main"
	}
	return "main"
}

// buildClassTable turns sema's struct-layout/method tables into the VM's
// runtime ClassTable, resolving each method's qualified name to its
// emitted PC via the backend's label table.
func buildClassTable(ctx *sema.Context, e *backend.Emitter) *vm.ClassTable {
	classes := make(map[string]*vm.ClassInfo, len(ctx.Structs))
	for name, layout := range ctx.Structs {
		methods := make(map[string]int, len(layout.Methods))
		for simple, qualified := range layout.Methods {
			if pc, ok := e.AddrOf(qualified); ok {
				methods[simple] = pc
			}
		}
		classes[name] = &vm.ClassInfo{
			Name:      name,
			Parent:    layout.Parent,
			NumFields: len(layout.Fields),
			Methods:   methods,
		}
	}
	return vm.NewClassTable(classes)
}
