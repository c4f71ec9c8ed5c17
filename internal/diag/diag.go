// Package diag defines Snow's compile-time diagnostic taxonomy, per
// spec.md §7. Diagnostics are collected into a List rather than panicking
// or returning a single error, so independent errors can be aggregated
// and reported together (spec.md §8, "diagnostic aggregation").
package diag

import "fmt"

// Kind enumerates the compile-time error taxonomy of spec.md §7.
type Kind int

const (
	LexError Kind = iota
	ParseErrorUnexpectedToken
	ParseErrorMissingToken
	ParseErrorUnsupportedFeature
	DuplicateName
	UnresolvedIdentifier
	UnresolvedQualifiedIdentifier
	ReturnMissing
	TypeMismatch
	CtorAmbiguous
	CtorNotFound
	AccessDenied
	UnresolvedSymbol
	VMRuntimeError
)

func (k Kind) String() string {
	names := [...]string{
		"LexError",
		"ParseError.UnexpectedToken",
		"ParseError.MissingToken",
		"ParseError.UnsupportedFeature",
		"DuplicateName",
		"UnresolvedIdentifier",
		"UnresolvedQualifiedIdentifier",
		"ReturnMissing",
		"TypeMismatch",
		"CtorAmbiguous",
		"CtorNotFound",
		"AccessDenied",
		"UnresolvedSymbol",
		"VMRuntimeError",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Diagnostic is a single compile-time error, per the Compile entry's
// contract in spec.md §6: `{file,line,col,message}`.
type Diagnostic struct {
	File    string
	Line    int
	Col     int
	Kind    Kind
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Col, d.Kind, d.Message)
}

// List aggregates diagnostics from a compile phase. A non-empty List
// implements error and is what the Compile entry's "diagnostics non-empty
// means compile failure" contract returns.
type List []Diagnostic

func (l List) Error() string {
	if len(l) == 0 {
		return "no diagnostics"
	}
	s := fmt.Sprintf("%d diagnostic(s):\n", len(l))
	for _, d := range l {
		s += "  " + d.Error() + "\n"
	}
	return s
}

// Add appends a new diagnostic built from format/args.
func (l *List) Add(file string, line, col int, kind Kind, format string, args ...interface{}) {
	*l = append(*l, Diagnostic{
		File: file, Line: line, Col: col, Kind: kind,
		Message: fmt.Sprintf(format, args...),
	})
}

// HasErrors reports whether any diagnostic was recorded.
func (l List) HasErrors() bool { return len(l) > 0 }
