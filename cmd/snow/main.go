package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jcnc-org/Snow-sub003/internal/compiler"
	"github.com/jcnc-org/Snow-sub003/internal/imports"
	"github.com/jcnc-org/Snow-sub003/internal/vm"
	"github.com/jcnc-org/Snow-sub003/internal/water"
)

var version = "0.1.0"

// Debug-dump flags, mirroring the teacher's -dparse/-dclight/.../-dasm
// convention: one flag per pipeline stage.
var (
	dLex   bool
	dParse bool
	dSema  bool
	dIR    bool
	dWater bool

	outputPath string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the flags that accept CompCert-style single-dash
// spelling (-dlex) alongside pflag's double-dash (--dlex).
var debugFlagNames = []string{"dlex", "dparse", "dsema", "dir", "dwater"}

// normalizeFlags converts single-dash debug flags like -dlex to --dlex,
// reusing the teacher's normalizeFlags idiom verbatim.
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, name := range debugFlagNames {
			if arg == "-"+name {
				result[i] = "--" + name
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "snow",
		Short:         "snow compiles and runs the Snow language",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	compileCmd := &cobra.Command{
		Use:   "compile [files...]",
		Short: "compile Snow sources into a .water listing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doCompile(args, out, errOut)
		},
	}
	compileCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output .water file (default: first source's basename)")
	compileCmd.Flags().BoolVar(&dLex, "dlex", false, "dump tokens")
	compileCmd.Flags().BoolVar(&dParse, "dparse", false, "dump parsed structure")
	compileCmd.Flags().BoolVar(&dSema, "dsema", false, "dump semantic tables")
	compileCmd.Flags().BoolVar(&dIR, "dir", false, "dump IR")
	compileCmd.Flags().BoolVar(&dWater, "dwater", false, "dump the .water listing")

	runCmd := &cobra.Command{
		Use:   "run <file.water> [argv...]",
		Short: "run a compiled .water listing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(args[0], args[1:], out, errOut)
		},
	}

	rootCmd.AddCommand(compileCmd, runCmd)
	return rootCmd
}

// doCompile reads every source file, compiles them together, and writes
// the resulting listing to outputPath (or stdout if "-"), alongside a
// sibling <name>.classes.yaml carrying the struct/vtable metadata a
// later `snow run` needs to resolve virtual dispatch and NEW allocation
// (the .water text format itself carries no struct layout, per
// internal/water's plain mnemonic-line design).
func doCompile(files []string, out, errOut io.Writer) error {
	sources := make([]compiler.Source, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(errOut, "snow: %v\n", err)
			return err
		}
		sources = append(sources, compiler.Source{Name: path, Text: string(data)})
	}

	opts := compiler.Options{
		Imports:   imports.FromEnvironment(),
		DumpLex:   dLex,
		DumpParse: dParse,
		DumpSema:  dSema,
		DumpIR:    dIR,
		DumpWater: dWater,
	}
	res := compiler.Compile(sources, opts)
	if res.Diags.HasErrors() {
		fmt.Fprint(errOut, res.Diags.Error())
		return res.Diags
	}

	for _, dump := range []string{res.DumpLex, res.DumpParse, res.DumpSema, res.DumpIR, res.DumpWater} {
		if dump != "" {
			fmt.Fprint(out, dump)
		}
	}

	target := outputPath
	if target == "" {
		target = waterOutputName(files[0])
	}

	f, err := os.Create(target)
	if err != nil {
		fmt.Fprintf(errOut, "snow: %v\n", err)
		return err
	}
	defer f.Close()
	if err := water.Print(f, res.Program); err != nil {
		fmt.Fprintf(errOut, "snow: %v\n", err)
		return err
	}

	classesPath := strings.TrimSuffix(target, filepath.Ext(target)) + ".classes.yaml"
	if err := writeClasses(classesPath, res.Classes); err != nil {
		fmt.Fprintf(errOut, "snow: %v\n", err)
		return err
	}
	return nil
}

// doRun loads a .water listing and its sibling classes file (if any)
// and executes it, printing a runtime snapshot on a fatal VM error
// before returning non-zero, mirroring the teacher's
// `fmt.Fprintf(errOut, "ralph-cc: ...")` diagnostic convention.
func doRun(path string, argv []string, out, errOut io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(errOut, "snow: %v\n", err)
		return err
	}
	defer f.Close()

	prog, err := water.Load(f)
	if err != nil {
		fmt.Fprintf(errOut, "snow: %v\n", err)
		return err
	}

	classesPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".classes.yaml"
	classes, err := readClasses(classesPath)
	if err != nil {
		fmt.Fprintf(errOut, "snow: %v\n", err)
		return err
	}

	exit, runErr := compiler.Run(prog, classes, argv)
	if runErr != nil {
		fmt.Fprintf(errOut, "snow: %v\n", runErr)
		return runErr
	}
	if exit != 0 {
		return fmt.Errorf("exit %d", exit)
	}
	return nil
}

func waterOutputName(firstSource string) string {
	base := filepath.Base(firstSource)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".water"
}

func writeClasses(path string, classes *vm.ClassTable) error {
	data, err := yaml.Marshal(classesToMap(classes))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readClasses(path string) (*vm.ClassTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vm.NewClassTable(nil), nil
		}
		return nil, err
	}
	var raw map[string]*vm.ClassInfo
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return vm.NewClassTable(raw), nil
}

func classesToMap(classes *vm.ClassTable) map[string]*vm.ClassInfo {
	if classes == nil {
		return map[string]*vm.ClassInfo{}
	}
	return classes.All()
}
