package core

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"lf-backend/internal/core/types"
)

// ErrAbstain signals that a primitive could not be evaluated on this
// candidate because a required feature is missing (no NER tags, no marked
// span). It is a normal outcome, not a fault: compiled labeling functions
// translate it into the abstain label.
var ErrAbstain = errors.New("abstain")

func (e *BoolLit) Eval(c *types.Candidate) (any, error)  { return e.V, nil }
func (e *IntLit) Eval(c *types.Candidate) (any, error)   { return e.V, nil }
func (e *FloatLit) Eval(c *types.Candidate) (any, error) { return e.V, nil }
func (e *StrLit) Eval(c *types.Candidate) (any, error)   { return e.V, nil }

func (e *SetLit) Eval(c *types.Candidate) (any, error) {
	return append([]string(nil), e.Members...), nil
}

func (e *EntityRef) span(c *types.Candidate) (types.Span, error) {
	var s types.Span
	if e.Which == "Y" {
		s = c.Y
	} else {
		s = c.X
	}
	if s.End <= s.Start {
		return s, ErrAbstain
	}
	return s, nil
}

func (e *EntityRef) Eval(c *types.Candidate) (any, error) {
	s, err := e.span(c)
	if err != nil {
		return nil, err
	}
	return c.SpanText(s), nil
}

func (e *ScopeExpr) tokens(c *types.Candidate) ([]types.Token, error) {
	switch e.Kind {
	case ScopeBetween:
		if c.X.End <= c.X.Start || c.Y.End <= c.Y.Start {
			return nil, ErrAbstain
		}
		return c.Between(), nil
	case ScopeSentence:
		return c.Tokens, nil
	}

	span, err := e.Of.span(c)
	if err != nil {
		return nil, err
	}

	switch e.Kind {
	case ScopeLeft:
		return c.LeftOf(span), nil
	case ScopeRight:
		return c.RightOf(span), nil
	case ScopeWindow:
		n, err := evalInt(e.N, c)
		if err != nil {
			return nil, err
		}
		if e.Unit == UnitChars {
			return charWindow(c, span, n), nil
		}
		return c.Window(span, n), nil
	}
	return nil, fmt.Errorf("unknown scope kind %d", e.Kind)
}

func (e *ScopeExpr) Eval(c *types.Candidate) (any, error) {
	toks, err := e.tokens(c)
	if err != nil {
		return nil, err
	}
	return types.TokenTexts(toks), nil
}

func charWindow(c *types.Candidate, span types.Span, n int) []types.Token {
	if span.Start >= len(c.Tokens) || span.End > len(c.Tokens) {
		return nil
	}
	lo := c.Tokens[span.Start].Start - n
	hi := c.Tokens[span.End-1].End + n
	out := make([]types.Token, 0)
	for i, t := range c.Tokens {
		if i >= span.Start && i < span.End {
			continue
		}
		if t.End > lo && t.Start < hi {
			out = append(out, t)
		}
	}
	return out
}

func (e *ContainsExpr) Eval(c *types.Candidate) (any, error) {
	needles, err := needleStrings(e.Needle, c)
	if err != nil {
		return nil, err
	}

	sv, err := e.Scope.Eval(c)
	if err != nil {
		return nil, err
	}
	switch scope := sv.(type) {
	case []string:
		for _, n := range needles {
			if containsPhrase(scope, n) {
				return true, nil
			}
		}
		return false, nil
	case string:
		lower := strings.ToLower(scope)
		for _, n := range needles {
			if strings.Contains(lower, strings.ToLower(n)) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("contains: unsupported scope type %T", sv)
}

func needleStrings(e Expr, c *types.Candidate) ([]string, error) {
	switch needle := e.(type) {
	case *StrLit:
		return []string{needle.V}, nil
	case *SetLit:
		return needle.Members, nil
	}
	v, err := e.Eval(c)
	if err != nil {
		return nil, err
	}
	switch needle := v.(type) {
	case string:
		return []string{needle}, nil
	case []string:
		return needle, nil
	}
	return nil, fmt.Errorf("contains: unsupported needle type %T", v)
}

// containsPhrase matches a (possibly multi-word) phrase as a contiguous token
// subsequence, ignoring case.
func containsPhrase(scope []string, phrase string) bool {
	words := strings.Fields(phrase)
	if len(words) == 0 || len(words) > len(scope) {
		return false
	}
	for i := 0; i+len(words) <= len(scope); i++ {
		match := true
		for j, w := range words {
			if !strings.EqualFold(scope[i+j], w) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (e *HasNERExpr) Eval(c *types.Candidate) (any, error) {
	if !c.NERTagged {
		return nil, ErrAbstain
	}
	toks, err := e.Scope.tokens(c)
	if err != nil {
		return nil, err
	}
	for _, t := range toks {
		if t.NER == e.Class {
			return true, nil
		}
	}
	return false, nil
}

func (e *NERExpr) Eval(c *types.Candidate) (any, error) {
	if !c.NERTagged {
		return nil, ErrAbstain
	}
	span, err := e.Target.span(c)
	if err != nil {
		return nil, err
	}
	for i := span.Start; i < span.End && i < len(c.Tokens); i++ {
		if c.Tokens[i].NER == e.Class {
			return true, nil
		}
	}
	return false, nil
}

func (e *CaseExpr) Eval(c *types.Candidate) (any, error) {
	span, err := e.Target.span(c)
	if err != nil {
		return nil, err
	}
	text := c.SpanText(span)
	return matchCase(e.Kind, text), nil
}

func matchCase(kind CaseKind, text string) bool {
	if text == "" {
		return false
	}
	switch kind {
	case CaseLower:
		return text == strings.ToLower(text) && text != strings.ToUpper(text)
	case CaseUpper:
		return text == strings.ToUpper(text) && text != strings.ToLower(text)
	default:
		first := []rune(text)[0]
		return unicode.IsUpper(first)
	}
}

func (e *AffixExpr) Eval(c *types.Candidate) (any, error) {
	span, err := e.Target.span(c)
	if err != nil {
		return nil, err
	}
	text := strings.ToLower(c.SpanText(span))

	var affixes []string
	switch a := e.Affix.(type) {
	case *StrLit:
		affixes = []string{a.V}
	case *SetLit:
		affixes = a.Members
	default:
		return nil, fmt.Errorf("affix: unsupported operand %T", e.Affix)
	}

	for _, affix := range affixes {
		affix = strings.ToLower(affix)
		if e.Kind == AffixStarts && strings.HasPrefix(text, affix) {
			return true, nil
		}
		if e.Kind == AffixEnds && strings.HasSuffix(text, affix) {
			return true, nil
		}
	}
	return false, nil
}

func (e *BeforeExpr) Eval(c *types.Candidate) (any, error) {
	a, err := e.A.span(c)
	if err != nil {
		return nil, err
	}
	b, err := e.B.span(c)
	if err != nil {
		return nil, err
	}
	return a.Start < b.Start, nil
}

func (e *CountExpr) Eval(c *types.Candidate) (any, error) {
	v, err := e.Arg.Eval(c)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("count: unsupported operand type %T", v)
	}
	return len(list), nil
}

func (e *DistanceExpr) Eval(c *types.Candidate) (any, error) {
	if c.X.End <= c.X.Start || c.Y.End <= c.Y.Start {
		return nil, ErrAbstain
	}
	if e.Unit == UnitChars {
		return c.CharDistance(), nil
	}
	return c.TokenDistance(), nil
}

func (e *CompareExpr) Eval(c *types.Candidate) (any, error) {
	av, err := e.A.Eval(c)
	if err != nil {
		return nil, err
	}
	bv, err := e.B.Eval(c)
	if err != nil {
		return nil, err
	}

	if as, aok := av.(string); aok {
		bs, bok := bv.(string)
		if !bok {
			return nil, fmt.Errorf("compare: mismatched operands %T and %T", av, bv)
		}
		eq := strings.EqualFold(as, bs)
		switch e.Op {
		case CmpEq:
			return eq, nil
		case CmpNe:
			return !eq, nil
		default:
			return nil, fmt.Errorf("compare: operator %s not defined on strings", e.Op)
		}
	}

	af, err := toFloat(av)
	if err != nil {
		return nil, err
	}
	bf, err := toFloat(bv)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case CmpEq:
		return af == bf, nil
	case CmpNe:
		return af != bf, nil
	case CmpLt:
		return af < bf, nil
	case CmpLe:
		return af <= bf, nil
	case CmpGt:
		return af > bf, nil
	default:
		return af >= bf, nil
	}
}

func (e *AndExpr) Eval(c *types.Candidate) (any, error) {
	for _, arg := range e.Args {
		v, err := evalBool(arg, c)
		if err != nil {
			return nil, err
		}
		if !v {
			return false, nil
		}
	}
	return true, nil
}

func (e *OrExpr) Eval(c *types.Candidate) (any, error) {
	for _, arg := range e.Args {
		v, err := evalBool(arg, c)
		if err != nil {
			return nil, err
		}
		if v {
			return true, nil
		}
	}
	return false, nil
}

func (e *NotExpr) Eval(c *types.Candidate) (any, error) {
	v, err := evalBool(e.Arg, c)
	if err != nil {
		return nil, err
	}
	return !v, nil
}

func (e *QuantExpr) Eval(c *types.Candidate) (any, error) {
	scope, err := evalStrList(e.Scope, c)
	if err != nil {
		return nil, err
	}
	matched := 0
	for _, tok := range scope {
		if e.Pred.Match(tok) {
			matched++
		}
	}
	switch e.Kind {
	case QuantAny:
		return matched > 0, nil
	case QuantAll:
		return matched == len(scope), nil
	default:
		return matched == 0, nil
	}
}

func (e *FilterExpr) Eval(c *types.Candidate) (any, error) {
	scope, err := evalStrList(e.Scope, c)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(scope))
	for _, tok := range scope {
		if e.Pred.Match(tok) {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (e *MapExpr) Eval(c *types.Candidate) (any, error) {
	scope, err := evalStrList(e.Scope, c)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(scope))
	for i, tok := range scope {
		if e.Fn == MapUpper {
			out[i] = strings.ToUpper(tok)
		} else {
			out[i] = strings.ToLower(tok)
		}
	}
	return out, nil
}

func (e *IntersectExpr) Eval(c *types.Candidate) (any, error) {
	av, err := evalStrList(e.A, c)
	if err != nil {
		return nil, err
	}
	bv, err := evalStrList(e.B, c)
	if err != nil {
		return nil, err
	}
	inA := make(map[string]struct{}, len(av))
	for _, s := range av {
		inA[strings.ToLower(s)] = struct{}{}
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, s := range bv {
		s = strings.ToLower(s)
		if _, ok := inA[s]; !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func (p TokenPred) Match(tok string) bool {
	switch p.Kind {
	case PredEq:
		return strings.EqualFold(tok, p.Str)
	case PredInSet:
		for _, m := range p.Set.Members {
			if strings.EqualFold(tok, m) {
				return true
			}
		}
		return false
	case PredCase:
		return matchCase(p.Case, tok)
	case PredStarts:
		return strings.HasPrefix(strings.ToLower(tok), strings.ToLower(p.Str))
	default:
		return strings.HasSuffix(strings.ToLower(tok), strings.ToLower(p.Str))
	}
}

func evalBool(e Expr, c *types.Candidate) (bool, error) {
	v, err := e.Eval(c)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T from %s", v, e)
	}
	return b, nil
}

func evalInt(e Expr, c *types.Candidate) (int, error) {
	v, err := e.Eval(c)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("expected int, got %T from %s", v, e)
	}
	return i, nil
}

func evalStrList(e Expr, c *types.Candidate) ([]string, error) {
	v, err := e.Eval(c)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("expected string list, got %T from %s", v, e)
	}
	return list, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}
