package core

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
)

/*
Parser for the canonical logical-form serialization, used to reload committed
labeling functions from storage. The grammar is a small call-expression
language:

	Expr   := Call | Set | <string> | <float> | <int> | <identifier>
	Call   := <identifier> "(" ( Expr ( "," Expr )* )? ")"
	Set    := "{" ( <string> ( "," <string> )* )? "}"

Identifiers are the entity names (X, Y), booleans, scope/unit/case/NER
keywords. Every Expr produced by ast.go's String methods parses back to an
equal AST.
*/

var canonicalParser = participle.MustBuild[dslNode](
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// ParseCanonical reads a canonical form back into a logical-form AST.
func ParseCanonical(input string) (Expr, error) {
	node, err := canonicalParser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("error parsing canonical form '%s': %w", input, err)
	}
	expr, err := node.toExpr()
	if err != nil {
		return nil, fmt.Errorf("error converting canonical form '%s': %w", input, err)
	}
	return expr, nil
}

// ParseCanonicalPredicate parses a canonical form and checks that it is a
// boolean predicate, the only shape a labeling function may wrap.
func ParseCanonicalPredicate(input string) (Expr, error) {
	expr, err := ParseCanonical(input)
	if err != nil {
		return nil, err
	}
	if expr.Type() != TBool {
		return nil, fmt.Errorf("canonical form '%s' is %s-valued, expected bool", input, expr.Type())
	}
	return expr, nil
}

type dslNode struct {
	Call  *dslCall "parser:\"@@\""
	Set   *dslSet  "parser:\"| @@\""
	Str   *string  "parser:\"| @String\""
	Float *float64 "parser:\"| @Float\""
	Int   *int     "parser:\"| @Int\""
	Ident *string  "parser:\"| @Ident\""
}

type dslCall struct {
	Name string     "parser:\"@Ident '('\""
	Args []*dslNode "parser:\"( @@ ( ',' @@ )* )? ')'\""
}

type dslSet struct {
	Members []string "parser:\"'{' ( @String ( ',' @String )* )? '}'\""
}

var nerClasses = map[string]struct{}{
	"PERSON":       {},
	"LOCATION":     {},
	"DATE":         {},
	"NUMBER":       {},
	"ORGANIZATION": {},
}

func (n *dslNode) toExpr() (Expr, error) {
	switch {
	case n.Str != nil:
		return &StrLit{V: *n.Str}, nil
	case n.Float != nil:
		return &FloatLit{V: *n.Float}, nil
	case n.Int != nil:
		return &IntLit{V: *n.Int}, nil
	case n.Set != nil:
		return NewSetLit(n.Set.Members), nil
	case n.Ident != nil:
		switch *n.Ident {
		case "X", "Y":
			return &EntityRef{Which: *n.Ident}, nil
		case "TRUE":
			return &BoolLit{V: true}, nil
		case "FALSE":
			return &BoolLit{V: false}, nil
		case "SENTENCE":
			return &ScopeExpr{Kind: ScopeSentence}, nil
		}
		return nil, fmt.Errorf("unknown identifier %q", *n.Ident)
	case n.Call != nil:
		return n.Call.toExpr()
	}
	return nil, fmt.Errorf("empty expression")
}

// toExpr converts one call. Arguments are converted per branch because some
// positions hold keywords (units, NER classes, case kinds) or token
// predicates rather than expressions.
func (c *dslCall) toExpr() (Expr, error) {
	switch c.Name {
	case "BETWEEN":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if err := wantEntities(c, args, 2); err != nil {
			return nil, err
		}
		return &ScopeExpr{Kind: ScopeBetween}, nil

	case "LEFT", "RIGHT":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if err := wantEntities(c, args, 1); err != nil {
			return nil, err
		}
		kind := ScopeLeft
		if c.Name == "RIGHT" {
			kind = ScopeRight
		}
		return &ScopeExpr{Kind: kind, Of: args[0].(*EntityRef)}, nil

	case "WINDOW":
		if len(c.Args) != 3 {
			return nil, arityError(c, 3)
		}
		refExpr, err := c.Args[0].toExpr()
		if err != nil {
			return nil, err
		}
		ref, ok := refExpr.(*EntityRef)
		if !ok {
			return nil, argError(c, 0, "entity")
		}
		n, err := c.Args[1].toExpr()
		if err != nil {
			return nil, err
		}
		if n.Type() != TInt {
			return nil, argError(c, 1, "int")
		}
		unit, err := c.unitArg(2)
		if err != nil {
			return nil, err
		}
		return &ScopeExpr{Kind: ScopeWindow, Of: ref, N: n, Unit: unit}, nil

	case "CONTAINS":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, arityError(c, 2)
		}
		if t := args[0].Type(); t != TStrList && t != TStrSet && t != TSpan {
			return nil, argError(c, 0, "scope")
		}
		if t := args[1].Type(); t != TStr && t != TStrSet {
			return nil, argError(c, 1, "string or set")
		}
		return &ContainsExpr{Scope: args[0], Needle: args[1]}, nil

	case "HASNER":
		if len(c.Args) != 2 {
			return nil, arityError(c, 2)
		}
		scopeExpr, err := c.Args[0].toExpr()
		if err != nil {
			return nil, err
		}
		scope, ok := scopeExpr.(*ScopeExpr)
		if !ok {
			return nil, argError(c, 0, "scope")
		}
		class, err := c.nerArg(1)
		if err != nil {
			return nil, err
		}
		return &HasNERExpr{Scope: scope, Class: class}, nil

	case "NER":
		if len(c.Args) != 2 {
			return nil, arityError(c, 2)
		}
		refExpr, err := c.Args[0].toExpr()
		if err != nil {
			return nil, err
		}
		ref, ok := refExpr.(*EntityRef)
		if !ok {
			return nil, argError(c, 0, "entity")
		}
		class, err := c.nerArg(1)
		if err != nil {
			return nil, err
		}
		return &NERExpr{Target: ref, Class: class}, nil

	case "CASE":
		if len(c.Args) != 2 {
			return nil, arityError(c, 2)
		}
		refExpr, err := c.Args[0].toExpr()
		if err != nil {
			return nil, err
		}
		ref, ok := refExpr.(*EntityRef)
		if !ok {
			return nil, argError(c, 0, "entity")
		}
		kind, err := c.caseArg(1)
		if err != nil {
			return nil, err
		}
		return &CaseExpr{Target: ref, Kind: kind}, nil

	case "STARTS", "ENDS":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, arityError(c, 2)
		}
		ref, ok := args[0].(*EntityRef)
		if !ok {
			return nil, argError(c, 0, "entity")
		}
		if t := args[1].Type(); t != TStr && t != TStrSet {
			return nil, argError(c, 1, "string or set")
		}
		kind := AffixStarts
		if c.Name == "ENDS" {
			kind = AffixEnds
		}
		return &AffixExpr{Target: ref, Kind: kind, Affix: args[1]}, nil

	case "BEFORE":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if err := wantEntities(c, args, 2); err != nil {
			return nil, err
		}
		return &BeforeExpr{A: args[0].(*EntityRef), B: args[1].(*EntityRef)}, nil

	case "COUNT":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, arityError(c, 1)
		}
		if t := args[0].Type(); t != TStrList && t != TStrSet {
			return nil, argError(c, 0, "list or set")
		}
		return &CountExpr{Arg: args[0]}, nil

	case "DIST":
		if len(c.Args) != 1 {
			return nil, arityError(c, 1)
		}
		unit, err := c.unitArg(0)
		if err != nil {
			return nil, err
		}
		return &DistanceExpr{Unit: unit}, nil

	case "EQ", "NE", "LT", "LE", "GT", "GE":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, arityError(c, 2)
		}
		op, _ := cmpOpFromArg(c.Name)
		return NewCompareExpr(op, args[0], args[1]), nil

	case "AND", "OR":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("%s requires at least 2 arguments, got %d", c.Name, len(args))
		}
		for i, a := range args {
			if a.Type() != TBool {
				return nil, argError(c, i, "bool")
			}
		}
		if c.Name == "AND" {
			return NewAndExpr(args...), nil
		}
		return NewOrExpr(args...), nil

	case "NOT":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) != 1 || args[0].Type() != TBool {
			return nil, arityError(c, 1)
		}
		return &NotExpr{Arg: args[0]}, nil

	case "ANY", "ALL", "NONE":
		if len(c.Args) != 2 {
			return nil, arityError(c, 2)
		}
		scope, err := c.Args[0].toExpr()
		if err != nil {
			return nil, err
		}
		if scope.Type() != TStrList {
			return nil, argError(c, 0, "string list")
		}
		pred, err := c.Args[1].toPred()
		if err != nil {
			return nil, err
		}
		kind := QuantAny
		switch c.Name {
		case "ALL":
			kind = QuantAll
		case "NONE":
			kind = QuantNone
		}
		return &QuantExpr{Kind: kind, Scope: scope, Pred: pred}, nil

	case "FILTER":
		if len(c.Args) != 2 {
			return nil, arityError(c, 2)
		}
		scope, err := c.Args[0].toExpr()
		if err != nil {
			return nil, err
		}
		if scope.Type() != TStrList {
			return nil, argError(c, 0, "string list")
		}
		pred, err := c.Args[1].toPred()
		if err != nil {
			return nil, err
		}
		return &FilterExpr{Scope: scope, Pred: pred}, nil

	case "MAP":
		if len(c.Args) != 2 {
			return nil, arityError(c, 2)
		}
		fnName := c.Args[0].identName()
		var fn MapFn
		switch fnName {
		case "LOWER":
			fn = MapLower
		case "UPPER":
			fn = MapUpper
		default:
			return nil, argError(c, 0, "LOWER or UPPER")
		}
		scope, err := c.Args[1].toExpr()
		if err != nil {
			return nil, err
		}
		if scope.Type() != TStrList {
			return nil, argError(c, 1, "string list")
		}
		return &MapExpr{Fn: fn, Scope: scope}, nil

	case "INTERSECT":
		args, err := c.argExprs()
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, arityError(c, 2)
		}
		for i, a := range args {
			if t := a.Type(); t != TStrList && t != TStrSet {
				return nil, argError(c, i, "list or set")
			}
		}
		return NewIntersectExpr(args[0], args[1]), nil
	}

	return nil, fmt.Errorf("unknown function %q", c.Name)
}

// toPred reads the token-predicate forms usable inside quantifiers and
// filters. These reuse call names (EQ, CASE, STARTS, ENDS) with one argument.
func (n *dslNode) toPred() (TokenPred, error) {
	if n.Call == nil {
		return TokenPred{}, fmt.Errorf("expected token predicate")
	}
	c := n.Call
	switch c.Name {
	case "EQ", "STARTS", "ENDS":
		if len(c.Args) != 1 || c.Args[0].Str == nil {
			return TokenPred{}, fmt.Errorf("%s predicate requires one string argument", c.Name)
		}
		kind := PredEq
		switch c.Name {
		case "STARTS":
			kind = PredStarts
		case "ENDS":
			kind = PredEnds
		}
		return TokenPred{Kind: kind, Str: *c.Args[0].Str}, nil
	case "IN":
		if len(c.Args) != 1 || c.Args[0].Set == nil {
			return TokenPred{}, fmt.Errorf("IN predicate requires one set argument")
		}
		return TokenPred{Kind: PredInSet, Set: NewSetLit(c.Args[0].Set.Members)}, nil
	case "CASE":
		if len(c.Args) != 1 {
			return TokenPred{}, fmt.Errorf("CASE predicate requires one argument")
		}
		kind, ok := caseKindFromArg(c.Args[0].identName())
		if !ok {
			return TokenPred{}, fmt.Errorf("unknown case kind %q", c.Args[0].identName())
		}
		return TokenPred{Kind: PredCase, Case: kind}, nil
	}
	return TokenPred{}, fmt.Errorf("unknown token predicate %q", c.Name)
}

func (c *dslCall) argExprs() ([]Expr, error) {
	args := make([]Expr, len(c.Args))
	for i, a := range c.Args {
		expr, err := a.toExpr()
		if err != nil {
			return nil, err
		}
		args[i] = expr
	}
	return args, nil
}

func (n *dslNode) identName() string {
	if n.Ident == nil {
		return ""
	}
	return *n.Ident
}

func (c *dslCall) unitArg(i int) (Unit, error) {
	if len(c.Args) <= i {
		return UnitWords, arityError(c, i+1)
	}
	switch c.Args[i].identName() {
	case "WORDS":
		return UnitWords, nil
	case "CHARS":
		return UnitChars, nil
	}
	return UnitWords, argError(c, i, "WORDS or CHARS")
}

func (c *dslCall) nerArg(i int) (string, error) {
	name := c.Args[i].identName()
	if _, ok := nerClasses[name]; !ok {
		return "", argError(c, i, "NER class")
	}
	return name, nil
}

func (c *dslCall) caseArg(i int) (CaseKind, error) {
	kind, ok := caseKindFromArg(c.Args[i].identName())
	if !ok {
		return 0, argError(c, i, "case kind")
	}
	return kind, nil
}

func wantEntities(c *dslCall, args []Expr, n int) error {
	if len(args) != n {
		return arityError(c, n)
	}
	for i, a := range args {
		if _, ok := a.(*EntityRef); !ok {
			return argError(c, i, "entity")
		}
	}
	return nil
}

func arityError(c *dslCall, want int) error {
	return fmt.Errorf("%s requires %d arguments, got %d", c.Name, want, len(c.Args))
}

func argError(c *dslCall, i int, want string) error {
	return fmt.Errorf("%s: argument %d must be %s", c.Name, i+1, want)
}
