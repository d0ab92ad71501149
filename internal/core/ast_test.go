package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalFormIsOrderFree(t *testing.T) {
	a := &ContainsExpr{Scope: &ScopeExpr{Kind: ScopeBetween}, Needle: &StrLit{V: "fiance"}}
	b := &NERExpr{Target: &EntityRef{Which: "X"}, Class: "PERSON"}

	assert.Equal(t, NewAndExpr(a, b).String(), NewAndExpr(b, a).String())
	assert.Equal(t, NewOrExpr(a, b).String(), NewOrExpr(b, a).String())
}

func TestConjunctionFlattening(t *testing.T) {
	a := &CaseExpr{Target: &EntityRef{Which: "X"}, Kind: CaseCapitalized}
	b := &NERExpr{Target: &EntityRef{Which: "X"}, Class: "PERSON"}
	c := &BeforeExpr{A: &EntityRef{Which: "X"}, B: &EntityRef{Which: "Y"}}

	nested := NewAndExpr(a, NewAndExpr(b, c))
	assert.Len(t, nested.Args, 3)
	assert.Equal(t,
		"AND(BEFORE(X, Y), CASE(X, CAPITALIZED), NER(X, PERSON))",
		nested.String())
}

func TestSymmetricCompareNormalization(t *testing.T) {
	x := &EntityRef{Which: "X"}
	y := &EntityRef{Which: "Y"}

	assert.Equal(t, NewCompareExpr(CmpEq, x, y).String(), NewCompareExpr(CmpEq, y, x).String())
	assert.Equal(t, NewCompareExpr(CmpNe, x, y).String(), NewCompareExpr(CmpNe, y, x).String())

	// Ordered comparisons must keep their operand order.
	lt := NewCompareExpr(CmpLt, &DistanceExpr{Unit: UnitWords}, &IntLit{V: 5})
	assert.Equal(t, "LT(DIST(WORDS), 5)", lt.String())
}

func TestSetLitNormalization(t *testing.T) {
	set := NewSetLit([]string{"Wife", "wife", "husband"})
	assert.Equal(t, []string{"husband", "wife"}, set.Members)
	assert.Equal(t, `{"husband", "wife"}`, set.String())
}

func TestIntersectNormalization(t *testing.T) {
	between := &ScopeExpr{Kind: ScopeBetween}
	set := NewSetLit([]string{"his"})
	assert.Equal(t, NewIntersectExpr(between, set).String(), NewIntersectExpr(set, between).String())
}

func TestCanonicalRendering(t *testing.T) {
	x := &EntityRef{Which: "X"}
	y := &EntityRef{Which: "Y"}

	tests := []struct {
		expr Expr
		want string
	}{
		{&ContainsExpr{Scope: &ScopeExpr{Kind: ScopeBetween}, Needle: &StrLit{V: "fiance"}},
			`CONTAINS(BETWEEN(X, Y), "fiance")`},
		{&ScopeExpr{Kind: ScopeLeft, Of: x}, "LEFT(X)"},
		{&ScopeExpr{Kind: ScopeWindow, Of: y, N: &IntLit{V: 3}, Unit: UnitWords}, "WINDOW(Y, 3, WORDS)"},
		{&ScopeExpr{Kind: ScopeSentence}, "SENTENCE"},
		{&HasNERExpr{Scope: &ScopeExpr{Kind: ScopeBetween}, Class: "PERSON"}, "HASNER(BETWEEN(X, Y), PERSON)"},
		{&NERExpr{Target: x, Class: "PERSON"}, "NER(X, PERSON)"},
		{&CaseExpr{Target: x, Kind: CaseCapitalized}, "CASE(X, CAPITALIZED)"},
		{&AffixExpr{Target: x, Kind: AffixStarts, Affix: &StrLit{V: "mc"}}, `STARTS(X, "mc")`},
		{&BeforeExpr{A: x, B: y}, "BEFORE(X, Y)"},
		{&CountExpr{Arg: &ScopeExpr{Kind: ScopeBetween}}, "COUNT(BETWEEN(X, Y))"},
		{&DistanceExpr{Unit: UnitChars}, "DIST(CHARS)"},
		{&NotExpr{Arg: &BeforeExpr{A: x, B: y}}, "NOT(BEFORE(X, Y))"},
		{&QuantExpr{Kind: QuantNone, Scope: &ScopeExpr{Kind: ScopeSentence}, Pred: TokenPred{Kind: PredEq, Str: "the"}},
			`NONE(SENTENCE, EQ("the"))`},
		{&FilterExpr{Scope: &ScopeExpr{Kind: ScopeSentence}, Pred: TokenPred{Kind: PredCase, Case: CaseUpper}},
			"FILTER(SENTENCE, CASE(UPPERCASE))"},
		{&MapExpr{Fn: MapLower, Scope: &ScopeExpr{Kind: ScopeSentence}}, "MAP(LOWER, SENTENCE)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.expr.String())
	}
}
