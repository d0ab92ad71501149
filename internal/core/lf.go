package core

import (
	"fmt"

	"lf-backend/internal/core/types"
)

// Abstain is the reserved label value meaning "this function has no opinion
// on this candidate".
const Abstain = 0

// Explanation is a human-authored reason why one specific example (the
// anchor candidate) should receive a label. Immutable once submitted.
type Explanation struct {
	Name      string
	Label     int // class id, never Abstain
	Condition string
	AnchorId  string
	Metadata  map[string]string
}

// Parse pairs an explanation with one logical form derived from it. The
// canonical form is computed once; a parse's identity throughout filtering
// and persistence is the label-qualified canonical form, since the same
// predicate under two labels is two distinct labeling functions.
type Parse struct {
	Explanation *Explanation
	Expr        Expr

	canonical string
}

func NewParse(exp *Explanation, expr Expr) *Parse {
	return &Parse{Explanation: exp, Expr: expr, canonical: expr.String()}
}

func (p *Parse) Canonical() string { return p.canonical }

func (p *Parse) Identity() string {
	return fmt.Sprintf("%d|%s", p.Explanation.Label, p.canonical)
}

// LabelingFunction is a compiled parse bound to a label: a pure, total
// function from candidate to label-or-abstain. Compiling is cheap; the same
// function is reusable across arbitrarily many candidates.
type LabelingFunction struct {
	Name  string
	Label int
	Expr  Expr
}

func Compile(p *Parse) *LabelingFunction {
	return &LabelingFunction{
		Name:  p.Explanation.Name,
		Label: p.Explanation.Label,
		Expr:  p.Expr,
	}
}

// Apply evaluates the function on one candidate. Every failure mode of the
// underlying predicate, including a missing feature, collapses to Abstain;
// Apply never panics and never returns an error.
func (lf *LabelingFunction) Apply(c *types.Candidate) int {
	v, err := lf.Expr.Eval(c)
	if err != nil {
		return Abstain
	}
	hold, ok := v.(bool)
	if !ok || !hold {
		return Abstain
	}
	return lf.Label
}

func (lf *LabelingFunction) Canonical() string { return lf.Expr.String() }

// Identity qualifies the canonical predicate with the label it assigns.
func (lf *LabelingFunction) Identity() string {
	return fmt.Sprintf("%d|%s", lf.Label, lf.Expr.String())
}

// Pseudocode renders the function as a deterministic one-line projection of
// its AST.
func (lf *LabelingFunction) Pseudocode() string {
	return fmt.Sprintf("return %d if %s else %d", lf.Label, lf.Expr.String(), Abstain)
}
