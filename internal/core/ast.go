package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lf-backend/internal/core/types"
)

// The logical-form AST is a closed set of typed nodes. Every node knows its
// value type, evaluates itself against a candidate, and renders a canonical
// textual form. The canonical form is the identity of a parse: two parses are
// semantically identical iff their canonical forms are equal. Arguments of
// commutative nodes (AND, OR, EQ, NE, INTERSECT) are sorted before rendering
// so that argument order never distinguishes two equivalent parses.
//
// The canonical form doubles as a storage format: ParseCanonical reads it
// back into an AST (see lf_parser.go).

type ValueType int

const (
	TBool ValueType = iota
	TInt
	TFloat
	TStr
	TStrList
	TStrSet
	TSpan
)

func (t ValueType) String() string {
	switch t {
	case TBool:
		return "bool"
	case TInt:
		return "int"
	case TFloat:
		return "float"
	case TStr:
		return "str"
	case TStrList:
		return "strlist"
	case TStrSet:
		return "strset"
	case TSpan:
		return "span"
	}
	return "unknown"
}

type Expr interface {
	Type() ValueType
	Eval(c *types.Candidate) (any, error)
	String() string
}

type BoolLit struct{ V bool }

func (e *BoolLit) Type() ValueType { return TBool }
func (e *BoolLit) String() string {
	if e.V {
		return "TRUE"
	}
	return "FALSE"
}

type IntLit struct{ V int }

func (e *IntLit) Type() ValueType { return TInt }
func (e *IntLit) String() string  { return strconv.Itoa(e.V) }

type FloatLit struct{ V float64 }

func (e *FloatLit) Type() ValueType { return TFloat }
func (e *FloatLit) String() string  { return strconv.FormatFloat(e.V, 'g', -1, 64) }

type StrLit struct{ V string }

func (e *StrLit) Type() ValueType { return TStr }
func (e *StrLit) String() string  { return strconv.Quote(e.V) }

// SetLit is a named or anonymous set of strings. Aliases registered on the
// grammar lower to a SetLit of their members; membership tests are a
// disjunction of string equality.
type SetLit struct{ Members []string }

// NewSetLit dedups and sorts members so that set identity is order-free.
func NewSetLit(members []string) *SetLit {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.ToLower(m)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return &SetLit{Members: out}
}

func (e *SetLit) Type() ValueType { return TStrSet }
func (e *SetLit) String() string {
	quoted := make([]string, len(e.Members))
	for i, m := range e.Members {
		quoted[i] = strconv.Quote(m)
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}

// EntityRef designates one of the two marked entities of a candidate.
type EntityRef struct{ Which string } // "X" or "Y"

func (e *EntityRef) Type() ValueType { return TSpan }
func (e *EntityRef) String() string  { return e.Which }

type ScopeKind int

const (
	ScopeBetween ScopeKind = iota
	ScopeLeft
	ScopeRight
	ScopeWindow
	ScopeSentence
)

type Unit int

const (
	UnitWords Unit = iota
	UnitChars
)

func (u Unit) String() string {
	if u == UnitChars {
		return "CHARS"
	}
	return "WORDS"
}

// ScopeExpr selects a token region of the candidate relative to the marked
// entities. It evaluates to the list of token texts in that region.
type ScopeExpr struct {
	Kind ScopeKind
	Of   *EntityRef // Left, Right, Window
	N    Expr       // Window only, TInt
	Unit Unit       // Window only
}

func (e *ScopeExpr) Type() ValueType { return TStrList }
func (e *ScopeExpr) String() string {
	switch e.Kind {
	case ScopeBetween:
		return "BETWEEN(X, Y)"
	case ScopeLeft:
		return fmt.Sprintf("LEFT(%s)", e.Of)
	case ScopeRight:
		return fmt.Sprintf("RIGHT(%s)", e.Of)
	case ScopeWindow:
		return fmt.Sprintf("WINDOW(%s, %s, %s)", e.Of, e.N, e.Unit)
	default:
		return "SENTENCE"
	}
}

// ContainsExpr tests whether a scope contains a string (as a contiguous
// phrase, matched case-insensitively) or any member of a set. When the scope
// is string-typed (an entity reference) the test is plain substring
// containment over the entity text.
type ContainsExpr struct {
	Scope  Expr // TStrList or TStr
	Needle Expr // TStr or TStrSet
}

func (e *ContainsExpr) Type() ValueType { return TBool }
func (e *ContainsExpr) String() string {
	return fmt.Sprintf("CONTAINS(%s, %s)", e.Scope, e.Needle)
}

// HasNERExpr tests whether any token in the scope carries the NER category.
// The scope is a ScopeExpr directly, not a general TStrList, because token
// tags are only reachable on raw candidate regions.
type HasNERExpr struct {
	Scope *ScopeExpr
	Class string
}

func (e *HasNERExpr) Type() ValueType { return TBool }
func (e *HasNERExpr) String() string {
	return fmt.Sprintf("HASNER(%s, %s)", e.Scope, e.Class)
}

// NERExpr tests the NER category of a marked entity.
type NERExpr struct {
	Target *EntityRef
	Class  string
}

func (e *NERExpr) Type() ValueType { return TBool }
func (e *NERExpr) String() string  { return fmt.Sprintf("NER(%s, %s)", e.Target, e.Class) }

type CaseKind int

const (
	CaseLower CaseKind = iota
	CaseUpper
	CaseCapitalized
)

func (k CaseKind) String() string {
	switch k {
	case CaseLower:
		return "LOWERCASE"
	case CaseUpper:
		return "UPPERCASE"
	default:
		return "CAPITALIZED"
	}
}

// CaseExpr tests the letter case of a marked entity's text.
type CaseExpr struct {
	Target *EntityRef
	Kind   CaseKind
}

func (e *CaseExpr) Type() ValueType { return TBool }
func (e *CaseExpr) String() string  { return fmt.Sprintf("CASE(%s, %s)", e.Target, e.Kind) }

type AffixKind int

const (
	AffixStarts AffixKind = iota
	AffixEnds
)

// AffixExpr tests whether an entity's text starts or ends with a string, or
// with any member of a set.
type AffixExpr struct {
	Target *EntityRef
	Kind   AffixKind
	Affix  Expr // TStr or TStrSet
}

func (e *AffixExpr) Type() ValueType { return TBool }
func (e *AffixExpr) String() string {
	if e.Kind == AffixStarts {
		return fmt.Sprintf("STARTS(%s, %s)", e.Target, e.Affix)
	}
	return fmt.Sprintf("ENDS(%s, %s)", e.Target, e.Affix)
}

// BeforeExpr tests whether entity A appears before entity B in the sentence.
// "A right of B" parses as BEFORE(B, A), so only one node form exists.
type BeforeExpr struct{ A, B *EntityRef }

func (e *BeforeExpr) Type() ValueType { return TBool }
func (e *BeforeExpr) String() string  { return fmt.Sprintf("BEFORE(%s, %s)", e.A, e.B) }

// CountExpr counts the elements of a list or set.
type CountExpr struct{ Arg Expr } // TStrList or TStrSet

func (e *CountExpr) Type() ValueType { return TInt }
func (e *CountExpr) String() string  { return fmt.Sprintf("COUNT(%s)", e.Arg) }

// DistanceExpr measures the gap between the two marked entities.
type DistanceExpr struct{ Unit Unit }

func (e *DistanceExpr) Type() ValueType { return TInt }
func (e *DistanceExpr) String() string  { return fmt.Sprintf("DIST(%s)", e.Unit) }

type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "EQ"
	case CmpNe:
		return "NE"
	case CmpLt:
		return "LT"
	case CmpLe:
		return "LE"
	case CmpGt:
		return "GT"
	default:
		return "GE"
	}
}

// CompareExpr compares two numbers, or two strings under EQ/NE.
type CompareExpr struct {
	Op   CmpOp
	A, B Expr
}

// NewCompareExpr normalizes the operand order of the symmetric operators so
// that EQ(a, b) and EQ(b, a) canonicalize identically.
func NewCompareExpr(op CmpOp, a, b Expr) *CompareExpr {
	if (op == CmpEq || op == CmpNe) && a.String() > b.String() {
		a, b = b, a
	}
	return &CompareExpr{Op: op, A: a, B: b}
}

func (e *CompareExpr) Type() ValueType { return TBool }
func (e *CompareExpr) String() string  { return fmt.Sprintf("%s(%s, %s)", e.Op, e.A, e.B) }

type AndExpr struct{ Args []Expr }

// NewAndExpr flattens nested conjunctions and sorts the arguments.
func NewAndExpr(args ...Expr) *AndExpr {
	flat := make([]Expr, 0, len(args))
	for _, a := range args {
		if inner, ok := a.(*AndExpr); ok {
			flat = append(flat, inner.Args...)
		} else {
			flat = append(flat, a)
		}
	}
	sortExprs(flat)
	return &AndExpr{Args: flat}
}

func (e *AndExpr) Type() ValueType { return TBool }
func (e *AndExpr) String() string  { return renderVariadic("AND", e.Args) }

type OrExpr struct{ Args []Expr }

func NewOrExpr(args ...Expr) *OrExpr {
	flat := make([]Expr, 0, len(args))
	for _, a := range args {
		if inner, ok := a.(*OrExpr); ok {
			flat = append(flat, inner.Args...)
		} else {
			flat = append(flat, a)
		}
	}
	sortExprs(flat)
	return &OrExpr{Args: flat}
}

func (e *OrExpr) Type() ValueType { return TBool }
func (e *OrExpr) String() string  { return renderVariadic("OR", e.Args) }

type NotExpr struct{ Arg Expr }

func (e *NotExpr) Type() ValueType { return TBool }
func (e *NotExpr) String() string  { return fmt.Sprintf("NOT(%s)", e.Arg) }

type QuantKind int

const (
	QuantAny QuantKind = iota
	QuantAll
	QuantNone
)

func (k QuantKind) String() string {
	switch k {
	case QuantAny:
		return "ANY"
	case QuantAll:
		return "ALL"
	default:
		return "NONE"
	}
}

// QuantExpr applies a token predicate across a scope: any/all/none of the
// tokens satisfy the predicate. ALL and NONE over an empty scope are
// vacuously true; ANY is false.
type QuantExpr struct {
	Kind  QuantKind
	Scope Expr // TStrList
	Pred  TokenPred
}

func (e *QuantExpr) Type() ValueType { return TBool }
func (e *QuantExpr) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Scope, e.Pred.String())
}

// FilterExpr keeps the tokens of a scope that satisfy a predicate.
type FilterExpr struct {
	Scope Expr // TStrList
	Pred  TokenPred
}

func (e *FilterExpr) Type() ValueType { return TStrList }
func (e *FilterExpr) String() string {
	return fmt.Sprintf("FILTER(%s, %s)", e.Scope, e.Pred.String())
}

type MapFn int

const (
	MapLower MapFn = iota
	MapUpper
)

func (f MapFn) String() string {
	if f == MapUpper {
		return "UPPER"
	}
	return "LOWER"
}

// MapExpr applies a string function to every token of a scope.
type MapExpr struct {
	Fn    MapFn
	Scope Expr // TStrList
}

func (e *MapExpr) Type() ValueType { return TStrList }
func (e *MapExpr) String() string  { return fmt.Sprintf("MAP(%s, %s)", e.Fn, e.Scope) }

// IntersectExpr yields the set of strings common to both arguments.
type IntersectExpr struct{ A, B Expr } // TStrList or TStrSet

func NewIntersectExpr(a, b Expr) *IntersectExpr {
	if a.String() > b.String() {
		a, b = b, a
	}
	return &IntersectExpr{A: a, B: b}
}

func (e *IntersectExpr) Type() ValueType { return TStrSet }
func (e *IntersectExpr) String() string  { return fmt.Sprintf("INTERSECT(%s, %s)", e.A, e.B) }

// TokenPred is the closed set of per-token predicates usable inside
// quantifiers and filters.
type TokenPred struct {
	Kind PredKind
	Str  string   // PredEq, PredStarts, PredEnds
	Set  *SetLit  // PredInSet
	Case CaseKind // PredCase
}

type PredKind int

const (
	PredEq PredKind = iota
	PredInSet
	PredCase
	PredStarts
	PredEnds
)

func (p TokenPred) String() string {
	switch p.Kind {
	case PredEq:
		return fmt.Sprintf("EQ(%s)", strconv.Quote(p.Str))
	case PredInSet:
		return fmt.Sprintf("IN(%s)", p.Set)
	case PredCase:
		return fmt.Sprintf("CASE(%s)", p.Case)
	case PredStarts:
		return fmt.Sprintf("STARTS(%s)", strconv.Quote(p.Str))
	default:
		return fmt.Sprintf("ENDS(%s)", strconv.Quote(p.Str))
	}
}

func sortExprs(exprs []Expr) {
	sort.Slice(exprs, func(i, j int) bool { return exprs[i].String() < exprs[j].String() })
}

func renderVariadic(name string, args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}
