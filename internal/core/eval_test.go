package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lf-backend/internal/core/types"
)

func makeCandidate(id, text string, x, y types.Span, ner map[int]string, tagged bool) *types.Candidate {
	fields := strings.Fields(text)
	tokens := make([]types.Token, 0, len(fields))
	offset := 0
	for i, w := range fields {
		start := strings.Index(text[offset:], w) + offset
		tok := types.Token{Text: w, Start: start, End: start + len(w)}
		if tag, ok := ner[i]; ok {
			tok.NER = tag
		}
		tokens = append(tokens, tok)
		offset = tok.End
	}
	return &types.Candidate{Id: id, Tokens: tokens, X: x, Y: y, NERTagged: tagged}
}

// weddingCandidate is the running example used across the core tests:
//
//	John and his fiance Mary went to Paris
//	X = "John" [0,1), Y = "Mary" [4,5)
func weddingCandidate() *types.Candidate {
	return makeCandidate(
		"c-wedding",
		"John and his fiance Mary went to Paris",
		types.Span{Start: 0, End: 1},
		types.Span{Start: 4, End: 5},
		map[int]string{0: types.NerPerson, 4: types.NerPerson, 7: types.NerLocation},
		true,
	)
}

func evalOn(t *testing.T, e Expr, c *types.Candidate) any {
	t.Helper()
	v, err := e.Eval(c)
	require.NoError(t, err)
	return v
}

func TestContainsBetween(t *testing.T) {
	c := weddingCandidate()
	between := &ScopeExpr{Kind: ScopeBetween}

	assert.Equal(t, true, evalOn(t, &ContainsExpr{Scope: between, Needle: &StrLit{V: "fiance"}}, c))
	assert.Equal(t, true, evalOn(t, &ContainsExpr{Scope: between, Needle: &StrLit{V: "FIANCE"}}, c))
	assert.Equal(t, false, evalOn(t, &ContainsExpr{Scope: between, Needle: &StrLit{V: "paris"}}, c))
}

func TestContainsMultiWordPhrase(t *testing.T) {
	c := weddingCandidate()
	between := &ScopeExpr{Kind: ScopeBetween}

	assert.Equal(t, true, evalOn(t, &ContainsExpr{Scope: between, Needle: &StrLit{V: "his fiance"}}, c))
	assert.Equal(t, false, evalOn(t, &ContainsExpr{Scope: between, Needle: &StrLit{V: "fiance his"}}, c))
}

func TestContainsSetNeedle(t *testing.T) {
	c := weddingCandidate()
	between := &ScopeExpr{Kind: ScopeBetween}

	set := NewSetLit([]string{"wife", "fiance"})
	assert.Equal(t, true, evalOn(t, &ContainsExpr{Scope: between, Needle: set}, c))

	miss := NewSetLit([]string{"wife", "husband"})
	assert.Equal(t, false, evalOn(t, &ContainsExpr{Scope: between, Needle: miss}, c))
}

func TestScopeEvaluation(t *testing.T) {
	c := weddingCandidate()
	x := &EntityRef{Which: "X"}
	y := &EntityRef{Which: "Y"}

	assert.Equal(t, []string{"and", "his", "fiance"}, evalOn(t, &ScopeExpr{Kind: ScopeBetween}, c))
	assert.Equal(t, []string{}, evalOn(t, &ScopeExpr{Kind: ScopeLeft, Of: x}, c))
	assert.Equal(t, []string{"went", "to", "Paris"}, evalOn(t, &ScopeExpr{Kind: ScopeRight, Of: y}, c))
	assert.Equal(t,
		[]string{"fiance", "went"},
		evalOn(t, &ScopeExpr{Kind: ScopeWindow, Of: y, N: &IntLit{V: 1}, Unit: UnitWords}, c))
	assert.Len(t, evalOn(t, &ScopeExpr{Kind: ScopeSentence}, c), 8)
}

func TestAbstainOnEmptySpan(t *testing.T) {
	c := weddingCandidate()
	c.X = types.Span{Start: 2, End: 2}

	_, err := (&EntityRef{Which: "X"}).Eval(c)
	assert.ErrorIs(t, err, ErrAbstain)

	_, err = (&ScopeExpr{Kind: ScopeBetween}).Eval(c)
	assert.ErrorIs(t, err, ErrAbstain)

	_, err = (&DistanceExpr{Unit: UnitWords}).Eval(c)
	assert.ErrorIs(t, err, ErrAbstain)
}

func TestNERPredicates(t *testing.T) {
	c := weddingCandidate()
	x := &EntityRef{Which: "X"}

	assert.Equal(t, true, evalOn(t, &NERExpr{Target: x, Class: types.NerPerson}, c))
	assert.Equal(t, false, evalOn(t, &NERExpr{Target: x, Class: types.NerLocation}, c))
	assert.Equal(t, true,
		evalOn(t, &HasNERExpr{Scope: &ScopeExpr{Kind: ScopeRight, Of: &EntityRef{Which: "Y"}}, Class: types.NerLocation}, c))
	assert.Equal(t, false,
		evalOn(t, &HasNERExpr{Scope: &ScopeExpr{Kind: ScopeBetween}, Class: types.NerPerson}, c))
}

func TestNERAbstainsWithoutTags(t *testing.T) {
	c := weddingCandidate()
	c.NERTagged = false

	_, err := (&NERExpr{Target: &EntityRef{Which: "X"}, Class: types.NerPerson}).Eval(c)
	assert.ErrorIs(t, err, ErrAbstain)

	_, err = (&HasNERExpr{Scope: &ScopeExpr{Kind: ScopeSentence}, Class: types.NerLocation}).Eval(c)
	assert.ErrorIs(t, err, ErrAbstain)
}

func TestCasePredicates(t *testing.T) {
	c := weddingCandidate()
	lower := makeCandidate("c-lower", "john and mary", types.Span{Start: 0, End: 1}, types.Span{Start: 2, End: 3}, nil, false)
	x := &EntityRef{Which: "X"}

	assert.Equal(t, true, evalOn(t, &CaseExpr{Target: x, Kind: CaseCapitalized}, c))
	assert.Equal(t, false, evalOn(t, &CaseExpr{Target: x, Kind: CaseLower}, c))
	assert.Equal(t, true, evalOn(t, &CaseExpr{Target: x, Kind: CaseLower}, lower))
	assert.Equal(t, false, evalOn(t, &CaseExpr{Target: x, Kind: CaseUpper}, lower))
}

func TestAffixPredicates(t *testing.T) {
	c := weddingCandidate()
	x := &EntityRef{Which: "X"}
	y := &EntityRef{Which: "Y"}

	assert.Equal(t, true, evalOn(t, &AffixExpr{Target: y, Kind: AffixStarts, Affix: &StrLit{V: "ma"}}, c))
	assert.Equal(t, true, evalOn(t, &AffixExpr{Target: y, Kind: AffixEnds, Affix: &StrLit{V: "RY"}}, c))
	assert.Equal(t, false, evalOn(t, &AffixExpr{Target: x, Kind: AffixEnds, Affix: &StrLit{V: "ry"}}, c))
	assert.Equal(t, true,
		evalOn(t, &AffixExpr{Target: x, Kind: AffixStarts, Affix: NewSetLit([]string{"mc", "jo"})}, c))
}

func TestBefore(t *testing.T) {
	c := weddingCandidate()
	x := &EntityRef{Which: "X"}
	y := &EntityRef{Which: "Y"}

	assert.Equal(t, true, evalOn(t, &BeforeExpr{A: x, B: y}, c))
	assert.Equal(t, false, evalOn(t, &BeforeExpr{A: y, B: x}, c))
}

func TestDistance(t *testing.T) {
	c := weddingCandidate()

	assert.Equal(t, 3, evalOn(t, &DistanceExpr{Unit: UnitWords}, c))
	assert.Equal(t, 16, evalOn(t, &DistanceExpr{Unit: UnitChars}, c))
}

func TestCompare(t *testing.T) {
	c := weddingCandidate()

	eq := NewCompareExpr(CmpEq, &EntityRef{Which: "X"}, &StrLit{V: "john"})
	assert.Equal(t, true, evalOn(t, eq, c))

	lt := NewCompareExpr(CmpLt, &DistanceExpr{Unit: UnitWords}, &IntLit{V: 5})
	assert.Equal(t, true, evalOn(t, lt, c))

	ge := NewCompareExpr(CmpGe, &CountExpr{Arg: &ScopeExpr{Kind: ScopeBetween}}, &IntLit{V: 4})
	assert.Equal(t, false, evalOn(t, ge, c))
}

func TestQuantifierVacuousTruth(t *testing.T) {
	c := weddingCandidate()
	empty := &ScopeExpr{Kind: ScopeLeft, Of: &EntityRef{Which: "X"}}
	pred := TokenPred{Kind: PredEq, Str: "the"}

	assert.Equal(t, true, evalOn(t, &QuantExpr{Kind: QuantAll, Scope: empty, Pred: pred}, c))
	assert.Equal(t, true, evalOn(t, &QuantExpr{Kind: QuantNone, Scope: empty, Pred: pred}, c))
	assert.Equal(t, false, evalOn(t, &QuantExpr{Kind: QuantAny, Scope: empty, Pred: pred}, c))
}

func TestQuantifierOverSentence(t *testing.T) {
	c := weddingCandidate()
	sentence := &ScopeExpr{Kind: ScopeSentence}
	pred := TokenPred{Kind: PredEq, Str: "mary"}

	assert.Equal(t, true, evalOn(t, &QuantExpr{Kind: QuantAny, Scope: sentence, Pred: pred}, c))
	assert.Equal(t, false, evalOn(t, &QuantExpr{Kind: QuantNone, Scope: sentence, Pred: pred}, c))
	assert.Equal(t, false, evalOn(t, &QuantExpr{Kind: QuantAll, Scope: sentence, Pred: pred}, c))
}

func TestFilterMapIntersect(t *testing.T) {
	c := weddingCandidate()
	sentence := &ScopeExpr{Kind: ScopeSentence}

	filtered := &FilterExpr{Scope: sentence, Pred: TokenPred{Kind: PredStarts, Str: "m"}}
	assert.Equal(t, []string{"Mary"}, evalOn(t, filtered, c))

	mapped := &MapExpr{Fn: MapLower, Scope: &ScopeExpr{Kind: ScopeBetween}}
	assert.Equal(t, []string{"and", "his", "fiance"}, evalOn(t, mapped, c))

	intersect := NewIntersectExpr(&ScopeExpr{Kind: ScopeBetween}, NewSetLit([]string{"his", "the"}))
	assert.Equal(t, []string{"his"}, evalOn(t, intersect, c))
	assert.Equal(t, 1, evalOn(t, &CountExpr{Arg: intersect}, c))
}

func TestLabelingFunctionApplyIsTotal(t *testing.T) {
	c := weddingCandidate()

	fires := &LabelingFunction{Name: "f", Label: 2, Expr: &ContainsExpr{
		Scope: &ScopeExpr{Kind: ScopeBetween}, Needle: &StrLit{V: "fiance"},
	}}
	assert.Equal(t, 2, fires.Apply(c))

	misses := &LabelingFunction{Name: "m", Label: 2, Expr: &ContainsExpr{
		Scope: &ScopeExpr{Kind: ScopeBetween}, Needle: &StrLit{V: "xyzzy"},
	}}
	assert.Equal(t, Abstain, misses.Apply(c))

	// Not boolean-valued: collapses to abstain instead of failing.
	nonBool := &LabelingFunction{Name: "n", Label: 2, Expr: &CountExpr{Arg: &ScopeExpr{Kind: ScopeSentence}}}
	assert.Equal(t, Abstain, nonBool.Apply(c))

	noTags := weddingCandidate()
	noTags.NERTagged = false
	abstains := &LabelingFunction{Name: "a", Label: 2, Expr: &NERExpr{Target: &EntityRef{Which: "X"}, Class: types.NerPerson}}
	assert.Equal(t, Abstain, abstains.Apply(noTags))
}

func TestPseudocode(t *testing.T) {
	lf := &LabelingFunction{Name: "f", Label: 1, Expr: &ContainsExpr{
		Scope: &ScopeExpr{Kind: ScopeBetween}, Needle: &StrLit{V: "fiance"},
	}}
	assert.Equal(t, `return 1 if CONTAINS(BETWEEN(X, Y), "fiance") else 0`, lf.Pseudocode())
}
