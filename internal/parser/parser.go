// Package parser implements Snow's recursive-descent statement/declaration
// parser and Pratt expression parser, per spec.md §4.2.
package parser

import (
	"fmt"

	"github.com/jcnc-org/Snow-sub003/internal/ast"
	"github.com/jcnc-org/Snow-sub003/internal/lexer"
	"github.com/jcnc-org/Snow-sub003/internal/token"
)

// Precedence levels for Pratt parsing of expressions, lowest to highest,
// per spec.md §4.2. Assignment is statement-level only and has no
// precedence entry here.
const (
	precLowest = iota
	precOr
	precAnd
	precEquality
	precRelational
	precAdditive
	precMultiplicative
)

var precedences = map[token.Kind]int{
	token.OR:      precOr,
	token.AND:     precAnd,
	token.EQ:      precEquality,
	token.NE:      precEquality,
	token.LT:      precRelational,
	token.LE:      precRelational,
	token.GT:      precRelational,
	token.GE:      precRelational,
	token.PLUS:    precAdditive,
	token.MINUS:   precAdditive,
	token.STAR:    precMultiplicative,
	token.SLASH:   precMultiplicative,
	token.PERCENT: precMultiplicative,
}

// ParseError is a single recorded parse failure (spec.md §7, *ParseError*).
type ParseError struct {
	File          string
	Line, Col     int
	Reason        string
	Unsupported   bool
	MissingToken  bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Reason)
}

// topLevelSync is the set of keywords that begin a new top-level
// construct; synchronization stops at the next one of these, or the
// next NEWLINE, whichever comes first (spec.md §4.2).
var topLevelSync = map[token.Kind]bool{
	token.MODULE: true, token.IMPORT: true, token.STRUCT: true,
	token.FUNCTION: true, token.DECLARE: true,
}

// Parser parses Snow source into an *ast.File.
type Parser struct {
	l    *lexer.Lexer
	file string

	cur  token.Token
	peek token.Token

	errors []*ParseError
}

// New creates a Parser reading tokens from l. file is used only to stamp
// source positions (spec.md §3: "Every node carries source context").
func New(l *lexer.Lexer, file string) *Parser {
	p := &Parser{l: l, file: file}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

// Errors returns the accumulated parse errors. Lexical errors reported
// by the underlying lexer are NOT included here — callers should merge
// p.l.Errors() separately.
func (p *Parser) Errors() []*ParseError { return p.errors }

func (p *Parser) errorf(missing, unsupported bool, format string, args ...interface{}) {
	p.errors = append(p.errors, &ParseError{
		File: p.file, Line: p.cur.Line, Col: p.cur.Col,
		Reason: fmt.Sprintf(format, args...), MissingToken: missing, Unsupported: unsupported,
	})
}

func (p *Parser) pos() ast.Pos { return ast.Pos{File: p.file, Line: p.cur.Line, Col: p.cur.Col} }

func (p *Parser) curIs(k token.Kind) bool  { return p.cur.Kind == k }
func (p *Parser) peekIs(k token.Kind) bool { return p.peek.Kind == k }

// expect requires the current token to be k, consumes it, and advances;
// on mismatch it records a MissingToken ParseError and does not advance.
func (p *Parser) expect(k token.Kind) bool {
	if p.curIs(k) {
		p.next()
		return true
	}
	p.errorf(true, false, "expected %s, got %s", k, p.cur.Kind)
	return false
}

// skipNewlines consumes zero or more NEWLINE tokens. Snow's grammar
// treats NEWLINE as the statement terminator, but section keywords
// (`end X`, the next statement's leading keyword) unambiguously mark
// boundaries too, so callers never require a NEWLINE to be present.
func (p *Parser) skipNewlines() {
	for p.curIs(token.NEWLINE) {
		p.next()
	}
}

// syncToTopLevel implements the parser's error-recovery synchronization
// (spec.md §4.2): discard tokens up to the next NEWLINE or a token that
// begins a registered top-level keyword, whichever comes first.
func (p *Parser) syncToTopLevel() {
	for !p.curIs(token.EOF) {
		if p.curIs(token.NEWLINE) {
			p.next()
			return
		}
		if topLevelSync[p.cur.Kind] {
			return
		}
		p.next()
	}
}

// ParseFile parses one Snow source file into an *ast.File. Script-mode
// fallback (spec.md §4.2) kicks in when the first significant token is
// not module/function/struct/import/declare.
func (p *Parser) ParseFile() *ast.File {
	f := &ast.File{P: p.pos()}
	p.skipNewlines()

	if !p.isTopLevelStart(p.cur.Kind) {
		for !p.curIs(token.EOF) {
			p.skipNewlines()
			if p.curIs(token.EOF) {
				break
			}
			if stmt := p.parseStatement(); stmt != nil {
				f.Stmts = append(f.Stmts, stmt)
			} else {
				p.syncToTopLevel()
			}
			p.skipNewlines()
		}
		return f
	}

	for !p.curIs(token.EOF) {
		p.skipNewlines()
		if p.curIs(token.EOF) {
			break
		}
		switch p.cur.Kind {
		case token.MODULE:
			f.Module = p.parseModule()
		case token.IMPORT:
			f.Imports = append(f.Imports, p.parseImport())
		case token.STRUCT:
			f.Structs = append(f.Structs, p.parseStruct())
		case token.FUNCTION:
			f.Functions = append(f.Functions, p.parseFunction())
		case token.DECLARE:
			f.Globals = append(f.Globals, p.parseDeclaration(true))
		default:
			p.errorf(false, false, "unexpected top-level token %s", p.cur.Kind)
			p.syncToTopLevel()
		}
		p.skipNewlines()
	}
	return f
}

func (p *Parser) isTopLevelStart(k token.Kind) bool {
	switch k {
	case token.MODULE, token.IMPORT, token.STRUCT, token.FUNCTION, token.DECLARE:
		return true
	}
	return false
}

// parseQualifiedName parses a dot-qualified identifier: `a.b.c`.
func (p *Parser) parseQualifiedName() string {
	if !p.curIs(token.IDENT) {
		p.errorf(true, false, "expected identifier, got %s", p.cur.Kind)
		return ""
	}
	name := p.cur.Lexeme
	p.next()
	for p.curIs(token.DOT) {
		p.next()
		if !p.curIs(token.IDENT) {
			p.errorf(true, false, "expected identifier after '.', got %s", p.cur.Kind)
			break
		}
		name += "." + p.cur.Lexeme
		p.next()
	}
	return name
}

func (p *Parser) parseModule() *ast.Module {
	pos := p.pos()
	p.next() // 'module'
	p.expect(token.COLON)
	name := p.parseQualifiedName()
	m := &ast.Module{Name: name, P: pos}
	p.skipNewlines()

	for !p.curIs(token.EOF) {
		p.skipNewlines()
		if p.curIs(token.END) {
			break
		}
		switch p.cur.Kind {
		case token.IMPORT:
			m.Imports = append(m.Imports, p.parseImport())
		case token.STRUCT:
			m.Structs = append(m.Structs, p.parseStruct())
		case token.FUNCTION:
			m.Functions = append(m.Functions, p.parseFunction())
		case token.DECLARE:
			m.Globals = append(m.Globals, p.parseDeclaration(true))
		default:
			p.errorf(false, false, "unexpected token %s inside module", p.cur.Kind)
			p.syncToTopLevel()
		}
		p.skipNewlines()
	}
	p.expect(token.END)
	if p.curIs(token.MODULE) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end module', got 'end %s'", p.cur.Kind)
	}
	return m
}

func (p *Parser) parseImport() *ast.ImportSpec {
	pos := p.pos()
	p.next() // 'import'
	p.expect(token.COLON)
	path := p.parseQualifiedName()
	spec := &ast.ImportSpec{Path: path, P: pos}
	if p.curIs(token.IDENT) && p.cur.Lexeme == "as" {
		p.next()
		if p.curIs(token.IDENT) {
			spec.Alias = p.cur.Lexeme
			p.next()
		}
	}
	return spec
}

// parseType parses a type name (builtin or struct) with optional
// trailing `[]` repetitions for array dimensions.
func (p *Parser) parseType() ast.TypeExpr {
	pos := p.pos()
	var name string
	if token.IsBuiltinType(p.cur.Kind) || p.curIs(token.IDENT) {
		name = p.cur.Lexeme
		p.next()
	} else {
		p.errorf(true, false, "expected type name, got %s", p.cur.Kind)
	}
	dims := 0
	for p.curIs(token.LBRACKET) {
		p.next()
		if !p.expect(token.RBRACKET) {
			break
		}
		dims++
	}
	return ast.TypeExpr{Name: name, ArrayDims: dims, P: pos}
}

// parseDeclaration parses `declare [const] name:type [= expr]`.
func (p *Parser) parseDeclaration(topLevel bool) *ast.Declaration {
	pos := p.pos()
	p.next() // 'declare'
	isConst := false
	if p.curIs(token.CONST) {
		isConst = true
		p.next()
	}
	name := ""
	if p.curIs(token.IDENT) {
		name = p.cur.Lexeme
		p.next()
	} else {
		p.errorf(true, false, "expected declared name, got %s", p.cur.Kind)
	}
	p.expect(token.COLON)
	typ := p.parseType()
	decl := &ast.Declaration{Name: name, Type: typ, Const: isConst, P: pos}
	if p.curIs(token.ASSIGN) {
		p.next()
		decl.Value = p.parseExpression()
	} else if isConst && topLevel {
		p.errorf(false, false, "const declaration %q requires an initializer", name)
	}
	return decl
}

// parseParamList parses a comma-separated list of `declare name:type`
// parameters, stopping before `returns`/`body`/`fields`/`end`.
func (p *Parser) parseParamList() []*ast.Parameter {
	var params []*ast.Parameter
	for p.curIs(token.DECLARE) {
		d := p.parseDeclaration(false)
		params = append(params, &ast.Parameter{Name: d.Name, Type: d.Type, P: d.P})
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return params
}

func (p *Parser) parseFunction() *ast.Function {
	pos := p.pos()
	p.next() // 'function'
	p.expect(token.COLON)
	name := ""
	if p.curIs(token.IDENT) {
		name = p.cur.Lexeme
		p.next()
	} else {
		p.errorf(true, false, "expected function name, got %s", p.cur.Kind)
	}
	fn := &ast.Function{Name: name, ReturnType: ast.TypeExpr{Name: "void"}, P: pos}

	if p.curIs(token.PARAMS) {
		p.next()
		p.expect(token.COLON)
		fn.Params = p.parseParamList()
	}
	if p.curIs(token.RETURNS) {
		p.next()
		p.expect(token.COLON)
		fn.ReturnType = p.parseType()
	}
	p.skipNewlines()
	if !p.expect(token.BODY) {
		p.syncToTopLevel()
		return fn
	}
	p.expect(token.COLON)
	fn.Body = p.parseStmtList(token.BODY)
	p.expect(token.END)
	if p.curIs(token.BODY) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end body', got 'end %s'", p.cur.Kind)
	}
	p.skipNewlines()
	p.expect(token.END)
	if p.curIs(token.FUNCTION) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end function', got 'end %s'", p.cur.Kind)
	}
	return fn
}

func (p *Parser) parseFieldList() []*ast.Field {
	var fields []*ast.Field
	for p.curIs(token.DECLARE) {
		d := p.parseDeclaration(false)
		fields = append(fields, &ast.Field{Name: d.Name, Type: d.Type, P: d.P})
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return fields
}

func (p *Parser) parseStruct() *ast.Struct {
	pos := p.pos()
	p.next() // 'struct'
	p.expect(token.COLON)
	name := ""
	if p.curIs(token.IDENT) {
		name = p.cur.Lexeme
		p.next()
	} else {
		p.errorf(true, false, "expected struct name, got %s", p.cur.Kind)
	}
	s := &ast.Struct{Name: name, P: pos}
	if p.curIs(token.EXTENDS) {
		p.next()
		if p.curIs(token.IDENT) {
			s.Parent = p.cur.Lexeme
			p.next()
		} else {
			p.errorf(true, false, "expected parent struct name after 'extends'")
		}
	}
	p.skipNewlines()
	if p.curIs(token.FIELDS) {
		p.next()
		p.expect(token.COLON)
		s.Fields = p.parseFieldList()
		p.skipNewlines()
	}
	for p.curIs(token.FUNCTION) {
		fn := p.parseFunction()
		if fn.Name == s.Name {
			s.Inits = append(s.Inits, fn)
		} else {
			s.Methods = append(s.Methods, fn)
		}
		p.skipNewlines()
	}
	p.expect(token.END)
	if p.curIs(token.STRUCT) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end struct', got 'end %s'", p.cur.Kind)
	}
	return s
}

// --- Statements -----------------------------------------------------------

// parseStmtList parses statements up to (but not consuming) the `end`
// that closes the enclosing block. enclosing names that block for
// error messages only.
func (p *Parser) parseStmtList(enclosing token.Kind) []ast.Stmt {
	var stmts []ast.Stmt
	for {
		p.skipNewlines()
		if p.curIs(token.EOF) {
			break
		}
		if p.curIs(token.END) {
			break
		}
		stmt := p.parseStatement()
		if stmt == nil {
			p.syncToTopLevel()
			if p.curIs(token.END) || p.curIs(token.EOF) {
				break
			}
			continue
		}
		stmts = append(stmts, stmt)
	}
	_ = enclosing
	return stmts
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.cur.Kind {
	case token.DECLARE:
		pos := p.pos()
		d := p.parseDeclaration(false)
		return &ast.DeclStmt{Decl: d, P: pos}
	case token.IF:
		return p.parseIf()
	case token.LOOP:
		return p.parseLoop()
	case token.RETURN:
		return p.parseReturn()
	case token.BREAK:
		pos := p.pos()
		p.next()
		return &ast.BreakStmt{P: pos}
	case token.CONTINUE:
		pos := p.pos()
		p.next()
		return &ast.ContinueStmt{P: pos}
	case token.IDENT:
		return p.parseIdentLedStatement()
	default:
		p.errorf(false, false, "unexpected token %s at start of statement", p.cur.Kind)
		return nil
	}
}

func (p *Parser) parseIf() ast.Stmt {
	pos := p.pos()
	p.next() // 'if'
	cond := p.parseExpression()
	p.skipNewlines()
	if !p.expect(token.THEN) {
		p.syncToTopLevel()
		return &ast.IfStmt{Cond: cond, P: pos}
	}
	p.expect(token.COLON)
	then := p.parseStmtList(token.IF)
	ifs := &ast.IfStmt{Cond: cond, Then: then, P: pos}

	p.skipNewlines()
	if p.curIs(token.ELSE) {
		p.next()
		p.expect(token.COLON)
		ifs.Else = p.parseStmtList(token.IF)
		p.skipNewlines()
	}
	p.expect(token.END)
	if p.curIs(token.IF) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end if', got 'end %s'", p.cur.Kind)
	}
	return ifs
}

// parseLoop parses `loop: [init: stmt] cond: expr [step: stmt] body:
// stmtList end body end loop`, per spec.md §4.2's LoopNode.
func (p *Parser) parseLoop() ast.Stmt {
	pos := p.pos()
	p.next() // 'loop'
	p.expect(token.COLON)
	p.skipNewlines()

	loop := &ast.LoopStmt{P: pos}
	if p.curIs(token.INIT) {
		p.next()
		p.expect(token.COLON)
		loop.Init = p.parseSimpleStmt()
		p.skipNewlines()
	}
	if !p.expect(token.COND) {
		p.syncToTopLevel()
		return loop
	}
	p.expect(token.COLON)
	loop.Cond = p.parseExpression()
	p.skipNewlines()
	if p.curIs(token.STEP) {
		p.next()
		p.expect(token.COLON)
		loop.Step = p.parseSimpleStmt()
		p.skipNewlines()
	}
	if !p.expect(token.BODY) {
		p.syncToTopLevel()
		return loop
	}
	p.expect(token.COLON)
	loop.Body = p.parseStmtList(token.LOOP)
	p.expect(token.END)
	if p.curIs(token.BODY) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end body', got 'end %s'", p.cur.Kind)
	}
	p.skipNewlines()
	p.expect(token.END)
	if p.curIs(token.LOOP) {
		p.next()
	} else {
		p.errorf(true, false, "expected 'end loop', got 'end %s'", p.cur.Kind)
	}
	return loop
}

// parseSimpleStmt parses the restricted statement forms allowed in a
// loop's init/step clauses: a declaration or an assignment.
func (p *Parser) parseSimpleStmt() ast.Stmt {
	if p.curIs(token.DECLARE) {
		pos := p.pos()
		d := p.parseDeclaration(false)
		return &ast.DeclStmt{Decl: d, P: pos}
	}
	return p.parseIdentLedStatement()
}

func (p *Parser) parseReturn() ast.Stmt {
	pos := p.pos()
	p.next() // 'return'
	if p.curIs(token.NEWLINE) || p.curIs(token.END) || p.curIs(token.EOF) {
		return &ast.ReturnStmt{P: pos}
	}
	val := p.parseExpression()
	return &ast.ReturnStmt{Value: val, P: pos}
}

// parseIdentLedStatement disambiguates assignment, index-assignment, and
// expression statements, all of which start with an identifier.
func (p *Parser) parseIdentLedStatement() ast.Stmt {
	pos := p.pos()
	expr := p.parsePostfixChain(p.parsePrimary())

	switch {
	case p.curIs(token.ASSIGN):
		p.next()
		value := p.parseExpression()
		switch target := expr.(type) {
		case *ast.Ident:
			return &ast.AssignStmt{Name: target.Name, Value: value, P: pos}
		case *ast.IndexExpr:
			base, indices := flattenIndex(target)
			return &ast.IndexAssignStmt{Target: base, Indices: indices, Value: value, P: pos}
		default:
			p.errorf(false, false, "invalid assignment target")
			return &ast.ExprStmt{X: expr, P: pos}
		}
	default:
		return &ast.ExprStmt{X: expr, P: pos}
	}
}

// flattenIndex unnests `a[i][j]` into (a, [i, j]) per spec.md §4.2's
// "multi-dimensional nesting permitted" IndexAssignment.
func flattenIndex(idx *ast.IndexExpr) (ast.Expr, []ast.Expr) {
	var indices []ast.Expr
	var walk func(e ast.Expr) ast.Expr
	walk = func(e ast.Expr) ast.Expr {
		if ie, ok := e.(*ast.IndexExpr); ok {
			base := walk(ie.X)
			indices = append(indices, ie.Index)
			return base
		}
		return e
	}
	base := walk(idx)
	return base, indices
}

// --- Expressions (Pratt) ---------------------------------------------------

func (p *Parser) parseExpression() ast.Expr {
	return p.parseExprPrec(precLowest)
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.cur.Kind]; ok {
		return prec
	}
	return precLowest
}

func (p *Parser) parseExprPrec(prec int) ast.Expr {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for prec < p.curPrecedence() {
		op := p.cur.Kind
		opPos := p.pos()
		p.next()
		right := p.parseExprPrec(precedences[op])
		if right == nil {
			return left
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, P: opPos}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	if p.curIs(token.MINUS) || p.curIs(token.NOT) {
		pos := p.pos()
		op := p.cur.Kind
		p.next()
		x := p.parseUnary()
		return &ast.UnaryExpr{Op: op, X: x, P: pos}
	}
	return p.parsePostfixChain(p.parsePrimary())
}

// parsePostfixChain applies zero or more postfix operators (`.`, `[ ]`,
// `( )`) to a primary expression, highest precedence per spec.md §4.2.
func (p *Parser) parsePostfixChain(expr ast.Expr) ast.Expr {
	for expr != nil {
		switch p.cur.Kind {
		case token.DOT:
			pos := p.pos()
			p.next()
			if !p.curIs(token.IDENT) {
				p.errorf(true, false, "expected member name after '.', got %s", p.cur.Kind)
				return expr
			}
			name := p.cur.Lexeme
			p.next()
			expr = &ast.Member{X: expr, Name: name, P: pos}
		case token.LBRACKET:
			pos := p.pos()
			p.next()
			idx := p.parseExpression()
			p.expect(token.RBRACKET)
			expr = &ast.IndexExpr{X: expr, Index: idx, P: pos}
		case token.LPAREN:
			pos := p.pos()
			p.next()
			var args []ast.Expr
			if !p.curIs(token.RPAREN) {
				args = append(args, p.parseExpression())
				for p.curIs(token.COMMA) {
					p.next()
					args = append(args, p.parseExpression())
				}
			}
			p.expect(token.RPAREN)
			expr = &ast.CallExpr{Callee: expr, Args: args, P: pos}
		default:
			return expr
		}
	}
	return expr
}

func (p *Parser) parsePrimary() ast.Expr {
	pos := p.pos()
	switch p.cur.Kind {
	case token.NUMBER:
		n := &ast.NumberLit{Raw: p.cur.Lexeme, Suffix: p.cur.NumSuffix, IsFloat: p.cur.IsFloat, P: pos}
		p.next()
		return n
	case token.BOOL:
		b := &ast.BoolLit{Value: p.cur.Lexeme == "true", P: pos}
		p.next()
		return b
	case token.STRING:
		s := &ast.StringLit{Value: p.cur.Lexeme, P: pos}
		p.next()
		return s
	case token.IDENT, token.SELF, token.THIS, token.SUPER:
		name := p.cur.Lexeme
		if p.curIs(token.SELF) || p.curIs(token.THIS) {
			name = "this"
		} else if p.curIs(token.SUPER) {
			name = "super"
		}
		p.next()
		return &ast.Ident{Name: name, P: pos}
	case token.LPAREN:
		p.next()
		inner := p.parseExpression()
		p.expect(token.RPAREN)
		return inner
	case token.LBRACKET:
		p.next()
		var elems []ast.Expr
		if !p.curIs(token.RBRACKET) {
			elems = append(elems, p.parseExpression())
			for p.curIs(token.COMMA) {
				p.next()
				elems = append(elems, p.parseExpression())
			}
		}
		p.expect(token.RBRACKET)
		return &ast.ArrayLit{Elems: elems, P: pos}
	case token.NEW:
		p.next()
		typeName := ""
		if p.curIs(token.IDENT) {
			typeName = p.cur.Lexeme
			p.next()
		} else {
			p.errorf(true, false, "expected type name after 'new'")
		}
		p.expect(token.LPAREN)
		var args []ast.Expr
		if !p.curIs(token.RPAREN) {
			args = append(args, p.parseExpression())
			for p.curIs(token.COMMA) {
				p.next()
				args = append(args, p.parseExpression())
			}
		}
		p.expect(token.RPAREN)
		return &ast.NewExpr{TypeName: typeName, Args: args, P: pos}
	default:
		p.errorf(false, false, "expected expression, got %s", p.cur.Kind)
		return nil
	}
}
