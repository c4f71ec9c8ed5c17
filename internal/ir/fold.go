package ir

import (
	"strconv"

	"github.com/jcnc-org/Snow-sub003/internal/ast"
	"github.com/jcnc-org/Snow-sub003/internal/token"
	"github.com/jcnc-org/Snow-sub003/internal/types"
)

// Lookup resolves an identifier to an already-folded constant, used so
// Fold can propagate through `declare const` chains (spec.md §4.3:
// "folded constants propagate via the scope's const map").
type Lookup func(name string) (Constant, bool)

// Fold attempts to evaluate expr at compile time. It supports numeric,
// string, bool, and array literals, unary negation/not, identifier
// lookup through lookup, and binary arithmetic/comparison when both
// operands fold — exactly the set spec.md §4.3 requires for
// `declare const` initializers, generalized (best-effort) to ordinary
// expression sub-trees during IR emission. Any unsupported shape simply
// returns ok=false so the caller falls back to runtime computation.
func Fold(expr ast.Expr, lookup Lookup) (Constant, bool) {
	switch e := expr.(type) {
	case *ast.NumberLit:
		return foldNumberLit(e)
	case *ast.BoolLit:
		return BoolConst(e.Value), true
	case *ast.StringLit:
		return StringConst(e.Value), true
	case *ast.ArrayLit:
		elems := make([]Constant, 0, len(e.Elems))
		for _, el := range e.Elems {
			c, ok := Fold(el, lookup)
			if !ok {
				return Constant{}, false
			}
			elems = append(elems, c)
		}
		return ListConst(elems), true
	case *ast.Ident:
		if lookup == nil {
			return Constant{}, false
		}
		return lookup(e.Name)
	case *ast.UnaryExpr:
		x, ok := Fold(e.X, lookup)
		if !ok {
			return Constant{}, false
		}
		switch e.Op {
		case token.MINUS:
			switch x.Kind {
			case ConstInt:
				return IntConst(x.Width, -x.I), true
			case ConstFloat:
				return FloatConst(x.Width, -x.F), true
			}
		case token.NOT:
			if x.Kind == ConstBool {
				return BoolConst(!x.B), true
			}
		}
		return Constant{}, false
	case *ast.BinaryExpr:
		return foldBinary(e, lookup)
	}
	return Constant{}, false
}

func foldNumberLit(n *ast.NumberLit) (Constant, bool) {
	w := widthOfLit(n)
	if n.IsFloat {
		f, err := strconv.ParseFloat(n.Raw, 64)
		if err != nil {
			return Constant{}, false
		}
		return FloatConst(w, f), true
	}
	i, err := strconv.ParseInt(n.Raw, 10, 64)
	if err != nil {
		return Constant{}, false
	}
	return IntConst(w, i), true
}

func widthOfLit(n *ast.NumberLit) types.Width {
	if n.Suffix != token.SuffixNone {
		if w, ok := types.WidthForSuffix(byte(n.Suffix)); ok {
			return w
		}
	}
	return types.DefaultForForm(n.IsFloat)
}

func foldBinary(e *ast.BinaryExpr, lookup Lookup) (Constant, bool) {
	a, ok := Fold(e.Left, lookup)
	if !ok {
		return Constant{}, false
	}
	b, ok := Fold(e.Right, lookup)
	if !ok {
		return Constant{}, false
	}
	if cmp, ok := cmpOpFor(e.Op); ok {
		return BoolConst(evalCompare(cmp, a, b)), true
	}
	if logic, ok := logicOpFor(e.Op); ok {
		if a.Kind != ConstBool || b.Kind != ConstBool {
			return Constant{}, false
		}
		if logic == token.AND {
			return BoolConst(a.B && b.B), true
		}
		return BoolConst(a.B || b.B), true
	}
	bin, ok := binOpFor(e.Op)
	if !ok {
		return Constant{}, false
	}
	if a.Kind == ConstFloat || b.Kind == ConstFloat {
		af, bf := asFloat(a), asFloat(b)
		w := types.Promote(numericWidth(a), numericWidth(b))
		switch bin {
		case Add:
			return FloatConst(w, af+bf), true
		case Sub:
			return FloatConst(w, af-bf), true
		case Mul:
			return FloatConst(w, af*bf), true
		case Div:
			if bf == 0 {
				return Constant{}, false
			}
			return FloatConst(w, af/bf), true
		}
		return Constant{}, false
	}
	if a.Kind != ConstInt || b.Kind != ConstInt {
		return Constant{}, false
	}
	w := types.Promote(a.Width, b.Width)
	switch bin {
	case Add:
		return IntConst(w, a.I+b.I), true
	case Sub:
		return IntConst(w, a.I-b.I), true
	case Mul:
		return IntConst(w, a.I*b.I), true
	case Div:
		if b.I == 0 {
			return Constant{}, false
		}
		return IntConst(w, a.I/b.I), true
	case Mod:
		if b.I == 0 {
			return Constant{}, false
		}
		return IntConst(w, a.I%b.I), true
	case BitAnd:
		return IntConst(w, a.I&b.I), true
	case BitOr:
		return IntConst(w, a.I|b.I), true
	case BitXor:
		return IntConst(w, a.I^b.I), true
	}
	return Constant{}, false
}

func numericWidth(c Constant) types.Width {
	if c.Kind == ConstInt || c.Kind == ConstFloat {
		return c.Width
	}
	return types.WidthNone
}

func asFloat(c Constant) float64 {
	if c.Kind == ConstFloat {
		return c.F
	}
	return float64(c.I)
}

func evalCompare(op CmpOp, a, b Constant) bool {
	if a.Kind == ConstString && b.Kind == ConstString {
		switch op {
		case CmpEQ:
			return a.S == b.S
		case CmpNE:
			return a.S != b.S
		case CmpLT:
			return a.S < b.S
		case CmpGT:
			return a.S > b.S
		case CmpLE:
			return a.S <= b.S
		case CmpGE:
			return a.S >= b.S
		}
		return false
	}
	af, bf := asFloat(a), asFloat(b)
	switch op {
	case CmpEQ:
		return af == bf
	case CmpNE:
		return af != bf
	case CmpLT:
		return af < bf
	case CmpGT:
		return af > bf
	case CmpLE:
		return af <= bf
	case CmpGE:
		return af >= bf
	}
	return false
}

func binOpFor(t token.Kind) (BinOp, bool) {
	switch t {
	case token.PLUS:
		return Add, true
	case token.MINUS:
		return Sub, true
	case token.STAR:
		return Mul, true
	case token.SLASH:
		return Div, true
	case token.PERCENT:
		return Mod, true
	}
	return 0, false
}

func cmpOpFor(t token.Kind) (CmpOp, bool) {
	switch t {
	case token.EQ:
		return CmpEQ, true
	case token.NE:
		return CmpNE, true
	case token.LT:
		return CmpLT, true
	case token.GT:
		return CmpGT, true
	case token.LE:
		return CmpLE, true
	case token.GE:
		return CmpGE, true
	}
	return 0, false
}

func logicOpFor(t token.Kind) (token.Kind, bool) {
	if t == token.AND || t == token.OR {
		return t, true
	}
	return 0, false
}
