package parser

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcnc-org/Snow-sub003/internal/ast"
	"github.com/jcnc-org/Snow-sub003/internal/lexer"
	"github.com/jcnc-org/Snow-sub003/internal/token"
)

func parse(t *testing.T, src string) *ast.File {
	t.Helper()
	l := lexer.New(src)
	p := New(l, "test.snow")
	f := p.ParseFile()
	require.Empty(t, l.Errors(), "unexpected lexer errors")
	return f
}

func TestParseMinimalModule(t *testing.T) {
	src := "module: M function: main returns: int body: return 1+2 end body end function end module"
	l := lexer.New(src)
	p := New(l, "test.snow")
	f := p.ParseFile()
	require.Empty(t, p.Errors())
	require.NotNil(t, f.Module)
	assert.Equal(t, "M", f.Module.Name)
	require.Len(t, f.Module.Functions, 1)

	fn := f.Module.Functions[0]
	assert.Equal(t, "main", fn.Name)
	assert.Equal(t, "int", fn.ReturnType.Name)
	require.Len(t, fn.Body, 1)

	ret, ok := fn.Body[0].(*ast.ReturnStmt)
	require.True(t, ok)
	bin, ok := ret.Value.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.PLUS, bin.Op)
}

func TestParseFunctionWithParamsAndLoop(t *testing.T) {
	src := `module: Math
  function: fact params: declare n:int returns: int
    body: declare r:int=1
      loop: init: declare i:int=1 cond: i<=n step: i=i+1
        body: r=r*i end body
      end loop
      return r
    end body
  end function
end module`
	f := parse(t, src)
	require.NotNil(t, f.Module)
	require.Len(t, f.Module.Functions, 1)
	fn := f.Module.Functions[0]
	require.Len(t, fn.Params, 1)
	assert.Equal(t, "n", fn.Params[0].Name)
	assert.Equal(t, "int", fn.Params[0].Type.Name)

	require.Len(t, fn.Body, 3)
	decl, ok := fn.Body[0].(*ast.DeclStmt)
	require.True(t, ok)
	assert.Equal(t, "r", decl.Decl.Name)

	loop, ok := fn.Body[1].(*ast.LoopStmt)
	require.True(t, ok)
	require.NotNil(t, loop.Init)
	require.NotNil(t, loop.Step)
	require.Len(t, loop.Body, 1)

	cond, ok := loop.Cond.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.LE, cond.Op)

	ret, ok := fn.Body[2].(*ast.ReturnStmt)
	require.True(t, ok)
	ident, ok := ret.Value.(*ast.Ident)
	require.True(t, ok)
	assert.Equal(t, "r", ident.Name)
}

func TestParseLooseStructsNoModuleWrapper(t *testing.T) {
	src := `struct: Animal function: speak returns: int body: return 1 end body end function end struct
struct: Dog extends Animal function: speak returns: int body: return 2 end body end function end struct`
	f := parse(t, src)
	assert.Nil(t, f.Module)
	require.Len(t, f.Structs, 2)
	assert.Equal(t, "Animal", f.Structs[0].Name)
	assert.Equal(t, "", f.Structs[0].Parent)
	assert.Equal(t, "Dog", f.Structs[1].Name)
	assert.Equal(t, "Animal", f.Structs[1].Parent)
	require.Len(t, f.Structs[1].Methods, 1)
	assert.Equal(t, "speak", f.Structs[1].Methods[0].Name)
}

func TestParseConstructorDetectedByName(t *testing.T) {
	src := `struct: Point
  fields: declare x:int, declare y:int
  function: Point params: declare x:int, declare y:int
    body: return end body
  end function
  function: sum returns: int
    body: return this.x end body
  end function
end struct`
	f := parse(t, src)
	require.Len(t, f.Structs, 1)
	s := f.Structs[0]
	require.Len(t, s.Fields, 2)
	require.Len(t, s.Inits, 1)
	require.Len(t, s.Methods, 1)
	assert.Equal(t, "Point", s.Inits[0].Name)
	assert.Equal(t, "sum", s.Methods[0].Name)
}

func TestParseIfElse(t *testing.T) {
	src := `module: M
function: f returns: int
  body: if 1<2 then: return 1 else: return 2 end if
  end body
end function
end module`
	f := parse(t, src)
	fn := f.Module.Functions[0]
	require.Len(t, fn.Body, 1)
	ifs, ok := fn.Body[0].(*ast.IfStmt)
	require.True(t, ok)
	require.Len(t, ifs.Then, 1)
	require.Len(t, ifs.Else, 1)
}

func TestParsePrecedence(t *testing.T) {
	// 1+2*3 should parse as 1+(2*3)
	src := `module: M function: f returns: int body: return 1+2*3 end body end function end module`
	f := parse(t, src)
	ret := f.Module.Functions[0].Body[0].(*ast.ReturnStmt)
	top, ok := ret.Value.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.PLUS, top.Op)
	_, ok = top.Left.(*ast.NumberLit)
	require.True(t, ok)
	rhs, ok := top.Right.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.STAR, rhs.Op)
}

func TestParseLogicalAndComparisonPrecedence(t *testing.T) {
	// a<b && c<d || e==f : OR lowest, then AND, then comparisons
	src := `module: M function: f returns: int body: return a<b&&c<d||e==f end body end function end module`
	f := parse(t, src)
	ret := f.Module.Functions[0].Body[0].(*ast.ReturnStmt)
	top, ok := ret.Value.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.OR, top.Op)
	left, ok := top.Left.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.AND, left.Op)
}

func TestParseNewAndArrayLiteralAndIndex(t *testing.T) {
	src := `module: M
function: f returns: int
  body: declare a:int[]=[1,2,3]
    declare p:Point=new Point(1,2)
    a[0]=a[1]
    return a[0]
  end body
end function
end module`
	f := parse(t, src)
	fn := f.Module.Functions[0]
	require.Len(t, fn.Body, 4)

	arrDecl := fn.Body[0].(*ast.DeclStmt)
	arrLit, ok := arrDecl.Decl.Value.(*ast.ArrayLit)
	require.True(t, ok)
	assert.Len(t, arrLit.Elems, 3)
	assert.Equal(t, 1, arrDecl.Decl.Type.ArrayDims)

	newDecl := fn.Body[1].(*ast.DeclStmt)
	newExpr, ok := newDecl.Decl.Value.(*ast.NewExpr)
	require.True(t, ok)
	assert.Equal(t, "Point", newExpr.TypeName)
	assert.Len(t, newExpr.Args, 2)

	idxAssign, ok := fn.Body[2].(*ast.IndexAssignStmt)
	require.True(t, ok)
	require.Len(t, idxAssign.Indices, 1)
}

func TestParseMultiDimensionalIndexAssignment(t *testing.T) {
	src := `module: M
function: f returns: void
  body: a[0][1]=5
  end body
end function
end module`
	f := parse(t, src)
	fn := f.Module.Functions[0]
	require.Len(t, fn.Body, 1)
	idxAssign, ok := fn.Body[0].(*ast.IndexAssignStmt)
	require.True(t, ok)
	base, ok := idxAssign.Target.(*ast.Ident)
	require.True(t, ok)
	assert.Equal(t, "a", base.Name)
	require.Len(t, idxAssign.Indices, 2)
}

func TestParseMethodCallAndMemberChain(t *testing.T) {
	src := `module: M
function: f returns: int
  body: return this.pos.x
  end body
end function
end module`
	f := parse(t, src)
	ret := f.Module.Functions[0].Body[0].(*ast.ReturnStmt)
	m, ok := ret.Value.(*ast.Member)
	require.True(t, ok)
	assert.Equal(t, "x", m.Name)
	inner, ok := m.X.(*ast.Member)
	require.True(t, ok)
	assert.Equal(t, "pos", inner.Name)
}

func TestParseBreakContinue(t *testing.T) {
	src := `module: M
function: f returns: void
  body: loop: cond: true
      body: break end body
    end loop
  end body
end function
end module`
	f := parse(t, src)
	fn := f.Module.Functions[0]
	loop := fn.Body[0].(*ast.LoopStmt)
	_, ok := loop.Body[0].(*ast.BreakStmt)
	require.True(t, ok)
}

func TestScriptModeFallback(t *testing.T) {
	f := parse(t, "return 1+1")
	assert.Nil(t, f.Module)
	require.Len(t, f.Stmts, 1)
	_, ok := f.Stmts[0].(*ast.ReturnStmt)
	require.True(t, ok)
}

// TestDiagnosticAggregation is the parser-level slice of spec.md §8's
// "diagnostic aggregation" property: k independent syntax errors yield
// exactly k diagnostics, with recovery continuing to EOF rather than
// looping forever.
func TestDiagnosticAggregation(t *testing.T) {
	src := `module: M
function: bad1 returns: int
  body: declare : int
  end body
end function
function: bad2 returns: int
  body: declare y int
  end body
end function
function: ok returns: int
  body: return 1
  end body
end function
end module`
	l := lexer.New(src)
	p := New(l, "test.snow")
	f := p.ParseFile()
	require.NotEmpty(t, p.Errors())
	// parsing terminates and still discovers the trailing well-formed function
	require.NotNil(t, f.Module)
	found := false
	for _, fn := range f.Module.Functions {
		if fn.Name == "ok" {
			found = true
		}
	}
	assert.True(t, found, "parser should recover and continue past malformed functions")
}

func TestParseImport(t *testing.T) {
	f := parse(t, "import: Std.Io as io\nmodule: M end module")
	require.Len(t, f.Imports, 1)
	assert.Equal(t, "Std.Io", f.Imports[0].Path)
	assert.Equal(t, "io", f.Imports[0].Alias)
}

func TestParseGlobalConstDeclaration(t *testing.T) {
	f := parse(t, "declare const Pi:double=3.14\nmodule: M end module")
	require.Len(t, f.Globals, 1)
	assert.True(t, f.Globals[0].Const)
	assert.Equal(t, "Pi", f.Globals[0].Name)
}

func TestParseDeterministic(t *testing.T) {
	src := `module: M function: f returns: int body: return (1+2)*3 end body end function end module`
	a := parse(t, src)
	b := parse(t, src)
	assert.Equal(t, fmt.Sprintf("%#v", a), fmt.Sprintf("%#v", b))
}
