package core

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Grammar symbols. Typed symbols carry an Expr; marker symbols carry the
// surface operator (with an optional argument such as the comparison op or
// NER class) and are consumed by production rules.
const (
	symStr      = "str"
	symSet      = "set"
	symInt      = "int"
	symFloat    = "float"
	symSpan     = "span"
	symSpanPair = "spanpair"
	symStrList  = "strlist"
	symBool     = "bool"

	symAnd       = "and"
	symOr        = "or"
	symNot       = "not"
	symContains  = "contains"
	symIn        = "in"
	symBetween   = "between"
	symLeft      = "left"
	symRight     = "right"
	symWithin    = "within"
	symApart     = "apart"
	symSentence  = "sentence"
	symDist      = "dist"
	symCount     = "count"
	symIntersect = "intersect"
	symCmp       = "cmp"
	symQuant     = "quant"
	symCase      = "case"
	symStarts    = "starts"
	symEnds      = "ends"
	symNER       = "ner"
	symUnit      = "unit"

	// rule-local wildcards, never produced by the lexicon
	symAnyList = "list" // strlist or set
	symNum     = "num"  // int or float
)

//go:embed lexicon.yaml
var lexiconYAML []byte

type LexEntry struct {
	Sym string
	Arg string
}

// item is one chart constituent: a typed expression, or a marker for a
// surface operator awaiting composition.
type item struct {
	sym  string
	arg  string
	expr Expr
}

// Rule is one production: a sequence of right-hand-side symbols and a
// constructor. Build returns ok=false when the constituents do not satisfy
// the rule's side conditions (a type mismatch), which simply means this
// composition contributes nothing.
type Rule struct {
	Name  string
	RHS   []string
	Build func(args []item) (item, bool)
}

// Grammar is the closed vocabulary of the explanation language: a surface
// lexicon, the production rules, and any registered aliases. Registering an
// alias only ever adds a lexical entry; existing rules and entries are never
// modified, so parses generated before the alias remain valid.
type Grammar struct {
	lexicon      map[string][]LexEntry
	fillers      map[string]struct{}
	aliases      map[string][]string
	rules        []Rule
	maxPhraseLen int
	entityX      string
	entityY      string
	version      int
}

func NewGrammar() (*Grammar, error) {
	raw := struct {
		Entries []struct {
			Phrase string `yaml:"phrase"`
			Sym    string `yaml:"sym"`
			Arg    string `yaml:"arg,omitempty"`
		} `yaml:"entries"`
		Fillers []string `yaml:"fillers"`
	}{}

	if err := yaml.Unmarshal(lexiconYAML, &raw); err != nil {
		return nil, fmt.Errorf("error loading grammar lexicon: %w", err)
	}

	g := &Grammar{
		lexicon: make(map[string][]LexEntry),
		fillers: make(map[string]struct{}),
		aliases: make(map[string][]string),
		entityX: "x",
		entityY: "y",
	}

	for _, e := range raw.Entries {
		phrase := strings.ToLower(strings.TrimSpace(e.Phrase))
		g.addEntry(phrase, LexEntry{Sym: e.Sym, Arg: e.Arg})
	}
	for _, f := range raw.Fillers {
		g.fillers[strings.ToLower(f)] = struct{}{}
	}

	g.rules = buildRules()
	return g, nil
}

func (g *Grammar) addEntry(phrase string, entry LexEntry) {
	g.lexicon[phrase] = append(g.lexicon[phrase], entry)
	if n := len(strings.Fields(phrase)); n > g.maxPhraseLen {
		g.maxPhraseLen = n
	}
}

// RenameEntities changes the surface names used to refer to the two marked
// entities (default "x" and "y").
func (g *Grammar) RenameEntities(x, y string) {
	g.entityX = strings.ToLower(x)
	g.entityY = strings.ToLower(y)
	g.version++
}

// RegisterAlias registers a named synonym set. The alias name becomes a
// lexical phrase lowering to a set literal of its members. Registering the
// same alias again unions the member sets, so the set of strings an alias
// matches only ever grows.
func (g *Grammar) RegisterAlias(name string, members []string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("alias name must not be empty")
	}
	if len(members) == 0 {
		return fmt.Errorf("alias %q must have at least one member", name)
	}

	if _, exists := g.aliases[name]; !exists {
		g.addEntry(name, LexEntry{Sym: symSet, Arg: name})
	}
	g.aliases[name] = NewSetLit(append(g.aliases[name], members...)).Members
	g.version++
	return nil
}

func (g *Grammar) Aliases() map[string][]string {
	out := make(map[string][]string, len(g.aliases))
	for name, members := range g.aliases {
		out[name] = append([]string(nil), members...)
	}
	return out
}

// Version increases whenever the grammar is extended. Cached parses and
// signatures are keyed on it.
func (g *Grammar) Version() int { return g.version }

// Lookup returns every lexical reading of a surface phrase. Ambiguous
// phrases return multiple entries; unknown phrases return none.
func (g *Grammar) Lookup(phrase string) []LexEntry {
	phrase = strings.ToLower(phrase)
	entries := g.lexicon[phrase]
	switch phrase {
	case g.entityX:
		entries = append(entries, LexEntry{Sym: symSpan, Arg: "X"})
	case g.entityY:
		entries = append(entries, LexEntry{Sym: symSpan, Arg: "Y"})
	}
	return entries
}

// ParseableTypes lists the value types the grammar can express.
func (g *Grammar) ParseableTypes() []ValueType {
	return []ValueType{TBool, TInt, TFloat, TStr, TStrList, TStrSet, TSpan}
}

func (g *Grammar) skippable(token string) bool {
	if _, ok := g.fillers[token]; ok {
		return true
	}
	return len(g.Lookup(token)) == 0
}

// lexItems materializes the typed items for a lexical entry. Marker symbols
// pass through; typed symbols get their Expr built here.
func (g *Grammar) lexItems(entry LexEntry) []item {
	switch entry.Sym {
	case symSet:
		members := g.aliases[entry.Arg]
		if len(members) == 0 {
			return nil
		}
		return []item{{sym: symSet, expr: NewSetLit(members)}}
	case symInt:
		n, err := strconv.Atoi(entry.Arg)
		if err != nil {
			return nil
		}
		return []item{{sym: symInt, expr: &IntLit{V: n}}}
	case symSpan:
		return []item{{sym: symSpan, expr: &EntityRef{Which: entry.Arg}}}
	default:
		return []item{{sym: entry.Sym, arg: entry.Arg}}
	}
}

func cmpOpFromArg(arg string) (CmpOp, bool) {
	switch arg {
	case "EQ":
		return CmpEq, true
	case "NE":
		return CmpNe, true
	case "LT":
		return CmpLt, true
	case "LE":
		return CmpLe, true
	case "GT":
		return CmpGt, true
	case "GE":
		return CmpGe, true
	}
	return 0, false
}

func quantKindFromArg(arg string) (QuantKind, bool) {
	switch arg {
	case "ANY":
		return QuantAny, true
	case "ALL":
		return QuantAll, true
	case "NONE":
		return QuantNone, true
	}
	return 0, false
}

func caseKindFromArg(arg string) (CaseKind, bool) {
	switch arg {
	case "LOWERCASE":
		return CaseLower, true
	case "UPPERCASE":
		return CaseUpper, true
	case "CAPITALIZED":
		return CaseCapitalized, true
	}
	return 0, false
}

func unitFromArg(arg string) Unit {
	if arg == "CHARS" {
		return UnitChars
	}
	return UnitWords
}

func entityArg(it item) (*EntityRef, bool) {
	ref, ok := it.expr.(*EntityRef)
	return ref, ok
}

func scopeArg(it item) (*ScopeExpr, bool) {
	scope, ok := it.expr.(*ScopeExpr)
	return scope, ok
}

func boolItem(e Expr) (item, bool)    { return item{sym: symBool, expr: e}, true }
func intItem(e Expr) (item, bool)     { return item{sym: symInt, expr: e}, true }
func strListItem(e Expr) (item, bool) { return item{sym: symStrList, expr: e}, true }
func setItem(e Expr) (item, bool)     { return item{sym: symSet, expr: e}, true }

// needleScopeRules generates the bool productions pairing a needle (string,
// set, or NER class) with each positional scope shape. Ambiguity is by
// design: a phrase matching several shapes yields several parses.
func needleScopeRules() []Rule {
	needles := []string{symStr, symSet, symNER}

	makeBool := func(needle item, scope *ScopeExpr) (item, bool) {
		if needle.sym == symNER {
			return boolItem(&HasNERExpr{Scope: scope, Class: needle.arg})
		}
		return boolItem(&ContainsExpr{Scope: scope, Needle: needle.expr})
	}

	var rules []Rule
	for _, needle := range needles {
		needle := needle
		rules = append(rules,
			Rule{
				Name: needle + "_between",
				RHS:  []string{needle, symBetween, symSpanPair},
				Build: func(args []item) (item, bool) {
					return makeBool(args[0], &ScopeExpr{Kind: ScopeBetween})
				},
			},
			Rule{
				Name: needle + "_left",
				RHS:  []string{needle, symLeft, symSpan},
				Build: func(args []item) (item, bool) {
					ref, ok := entityArg(args[2])
					if !ok {
						return item{}, false
					}
					return makeBool(args[0], &ScopeExpr{Kind: ScopeLeft, Of: ref})
				},
			},
			Rule{
				Name: needle + "_right",
				RHS:  []string{needle, symRight, symSpan},
				Build: func(args []item) (item, bool) {
					ref, ok := entityArg(args[2])
					if !ok {
						return item{}, false
					}
					return makeBool(args[0], &ScopeExpr{Kind: ScopeRight, Of: ref})
				},
			},
			Rule{
				Name: needle + "_window",
				RHS:  []string{needle, symWithin, symInt, symUnit, symSpan},
				Build: func(args []item) (item, bool) {
					ref, ok := entityArg(args[4])
					if !ok {
						return item{}, false
					}
					scope := &ScopeExpr{Kind: ScopeWindow, Of: ref, N: args[2].expr, Unit: unitFromArg(args[3].arg)}
					return makeBool(args[0], scope)
				},
			},
			Rule{
				Name: "scope_contains_" + needle,
				RHS:  []string{symStrList, symContains, needle},
				Build: func(args []item) (item, bool) {
					if needle == symNER {
						scope, ok := scopeArg(args[0])
						if !ok {
							return item{}, false
						}
						return boolItem(&HasNERExpr{Scope: scope, Class: args[2].arg})
					}
					return boolItem(&ContainsExpr{Scope: args[0].expr, Needle: args[2].expr})
				},
			},
			Rule{
				Name: needle + "_in_scope",
				RHS:  []string{needle, symIn, symStrList},
				Build: func(args []item) (item, bool) {
					if needle == symNER {
						scope, ok := scopeArg(args[2])
						if !ok {
							return item{}, false
						}
						return boolItem(&HasNERExpr{Scope: scope, Class: args[0].arg})
					}
					return boolItem(&ContainsExpr{Scope: args[2].expr, Needle: args[0].expr})
				},
			},
		)
	}
	return rules
}

func buildRules() []Rule {
	rules := []Rule{
		{
			Name: "span_pair",
			RHS:  []string{symSpan, symAnd, symSpan},
			Build: func(args []item) (item, bool) {
				a, aok := entityArg(args[0])
				b, bok := entityArg(args[2])
				if !aok || !bok || a.Which == b.Which {
					return item{}, false
				}
				return item{sym: symSpanPair}, true
			},
		},
		{
			Name: "between_scope",
			RHS:  []string{symBetween, symSpanPair},
			Build: func(args []item) (item, bool) {
				return strListItem(&ScopeExpr{Kind: ScopeBetween})
			},
		},
		{
			Name: "left_scope",
			RHS:  []string{symLeft, symSpan},
			Build: func(args []item) (item, bool) {
				ref, ok := entityArg(args[1])
				if !ok {
					return item{}, false
				}
				return strListItem(&ScopeExpr{Kind: ScopeLeft, Of: ref})
			},
		},
		{
			Name: "right_scope",
			RHS:  []string{symRight, symSpan},
			Build: func(args []item) (item, bool) {
				ref, ok := entityArg(args[1])
				if !ok {
					return item{}, false
				}
				return strListItem(&ScopeExpr{Kind: ScopeRight, Of: ref})
			},
		},
		{
			Name: "window_scope",
			RHS:  []string{symWithin, symInt, symUnit, symSpan},
			Build: func(args []item) (item, bool) {
				ref, ok := entityArg(args[3])
				if !ok {
					return item{}, false
				}
				return strListItem(&ScopeExpr{Kind: ScopeWindow, Of: ref, N: args[1].expr, Unit: unitFromArg(args[2].arg)})
			},
		},
		{
			Name: "sentence_scope",
			RHS:  []string{symSentence},
			Build: func(args []item) (item, bool) {
				return strListItem(&ScopeExpr{Kind: ScopeSentence})
			},
		},
		{
			Name: "filter_scope",
			RHS:  []string{symCase, symStrList},
			Build: func(args []item) (item, bool) {
				kind, ok := caseKindFromArg(args[0].arg)
				if !ok {
					return item{}, false
				}
				return strListItem(&FilterExpr{Scope: args[1].expr, Pred: TokenPred{Kind: PredCase, Case: kind}})
			},
		},
		{
			Name: "intersect",
			RHS:  []string{symIntersect, symAnyList, symAnd, symAnyList},
			Build: func(args []item) (item, bool) {
				return setItem(NewIntersectExpr(args[1].expr, args[3].expr))
			},
		},
		{
			Name: "count",
			RHS:  []string{symCount, symAnyList},
			Build: func(args []item) (item, bool) {
				return intItem(&CountExpr{Arg: args[1].expr})
			},
		},
		{
			Name: "distance",
			RHS:  []string{symDist, symStrList},
			Build: func(args []item) (item, bool) {
				scope, ok := scopeArg(args[1])
				if !ok || scope.Kind != ScopeBetween {
					return item{}, false
				}
				return intItem(&DistanceExpr{Unit: UnitWords})
			},
		},
		{
			Name: "compare_num",
			RHS:  []string{symNum, symCmp, symNum},
			Build: func(args []item) (item, bool) {
				op, ok := cmpOpFromArg(args[1].arg)
				if !ok {
					return item{}, false
				}
				return boolItem(NewCompareExpr(op, args[0].expr, args[2].expr))
			},
		},
		{
			Name: "compare_entity_str",
			RHS:  []string{symSpan, symCmp, symStr},
			Build: func(args []item) (item, bool) {
				op, ok := cmpOpFromArg(args[1].arg)
				if !ok || (op != CmpEq && op != CmpNe) {
					return item{}, false
				}
				return boolItem(NewCompareExpr(op, args[0].expr, args[2].expr))
			},
		},
		{
			Name: "compare_entities",
			RHS:  []string{symSpan, symCmp, symSpan},
			Build: func(args []item) (item, bool) {
				op, ok := cmpOpFromArg(args[1].arg)
				if !ok || (op != CmpEq && op != CmpNe) {
					return item{}, false
				}
				a, aok := entityArg(args[0])
				b, bok := entityArg(args[2])
				if !aok || !bok || a.Which == b.Which {
					return item{}, false
				}
				return boolItem(NewCompareExpr(op, args[0].expr, args[2].expr))
			},
		},
		{
			Name: "entities_within",
			RHS:  []string{symSpanPair, symWithin, symInt, symUnit},
			Build: func(args []item) (item, bool) {
				dist := &DistanceExpr{Unit: unitFromArg(args[3].arg)}
				return boolItem(NewCompareExpr(CmpLe, dist, args[2].expr))
			},
		},
		{
			Name: "entities_within_apart",
			RHS:  []string{symSpanPair, symWithin, symInt, symUnit, symApart},
			Build: func(args []item) (item, bool) {
				dist := &DistanceExpr{Unit: unitFromArg(args[3].arg)}
				return boolItem(NewCompareExpr(CmpLe, dist, args[2].expr))
			},
		},
		{
			Name: "entities_apart",
			RHS:  []string{symSpanPair, symCmp, symInt, symUnit, symApart},
			Build: func(args []item) (item, bool) {
				op, ok := cmpOpFromArg(args[1].arg)
				if !ok {
					return item{}, false
				}
				dist := &DistanceExpr{Unit: unitFromArg(args[3].arg)}
				return boolItem(NewCompareExpr(op, dist, args[2].expr))
			},
		},
		{
			Name: "entity_before",
			RHS:  []string{symSpan, symLeft, symSpan},
			Build: func(args []item) (item, bool) {
				a, aok := entityArg(args[0])
				b, bok := entityArg(args[2])
				if !aok || !bok || a.Which == b.Which {
					return item{}, false
				}
				return boolItem(&BeforeExpr{A: a, B: b})
			},
		},
		{
			Name: "entity_after",
			RHS:  []string{symSpan, symRight, symSpan},
			Build: func(args []item) (item, bool) {
				a, aok := entityArg(args[0])
				b, bok := entityArg(args[2])
				if !aok || !bok || a.Which == b.Which {
					return item{}, false
				}
				return boolItem(&BeforeExpr{A: b, B: a})
			},
		},
		{
			Name: "entity_ner",
			RHS:  []string{symSpan, symNER},
			Build: func(args []item) (item, bool) {
				ref, ok := entityArg(args[0])
				if !ok {
					return item{}, false
				}
				return boolItem(&NERExpr{Target: ref, Class: args[1].arg})
			},
		},
		{
			Name: "entity_case",
			RHS:  []string{symSpan, symCase},
			Build: func(args []item) (item, bool) {
				ref, ok := entityArg(args[0])
				if !ok {
					return item{}, false
				}
				kind, ok := caseKindFromArg(args[1].arg)
				if !ok {
					return item{}, false
				}
				return boolItem(&CaseExpr{Target: ref, Kind: kind})
			},
		},
		{
			Name: "entity_starts",
			RHS:  []string{symSpan, symStarts, symStr},
			Build: func(args []item) (item, bool) {
				return affixRule(args, AffixStarts)
			},
		},
		{
			Name: "entity_starts_set",
			RHS:  []string{symSpan, symStarts, symSet},
			Build: func(args []item) (item, bool) {
				return affixRule(args, AffixStarts)
			},
		},
		{
			Name: "entity_ends",
			RHS:  []string{symSpan, symEnds, symStr},
			Build: func(args []item) (item, bool) {
				return affixRule(args, AffixEnds)
			},
		},
		{
			Name: "entity_ends_set",
			RHS:  []string{symSpan, symEnds, symSet},
			Build: func(args []item) (item, bool) {
				return affixRule(args, AffixEnds)
			},
		},
		{
			Name: "entity_contains",
			RHS:  []string{symSpan, symContains, symStr},
			Build: func(args []item) (item, bool) {
				return boolItem(&ContainsExpr{Scope: args[0].expr, Needle: args[2].expr})
			},
		},
		{
			Name: "entity_contains_set",
			RHS:  []string{symSpan, symContains, symSet},
			Build: func(args []item) (item, bool) {
				return boolItem(&ContainsExpr{Scope: args[0].expr, Needle: args[2].expr})
			},
		},
		{
			Name: "quant_set_in_scope",
			RHS:  []string{symQuant, symSet, symIn, symStrList},
			Build: func(args []item) (item, bool) {
				kind, ok := quantKindFromArg(args[0].arg)
				if !ok {
					return item{}, false
				}
				set, ok := args[1].expr.(*SetLit)
				if !ok {
					return item{}, false
				}
				contains := &ContainsExpr{Scope: args[3].expr, Needle: set}
				switch kind {
				case QuantAny:
					return boolItem(contains)
				case QuantNone:
					return boolItem(&NotExpr{Arg: contains})
				default:
					all := make([]Expr, len(set.Members))
					for i, m := range set.Members {
						all[i] = &ContainsExpr{Scope: args[3].expr, Needle: &StrLit{V: m}}
					}
					return boolItem(NewAndExpr(all...))
				}
			},
		},
		{
			Name: "quant_scope_case",
			RHS:  []string{symQuant, symStrList, symCase},
			Build: func(args []item) (item, bool) {
				kind, ok := quantKindFromArg(args[0].arg)
				if !ok {
					return item{}, false
				}
				caseKind, ok := caseKindFromArg(args[2].arg)
				if !ok {
					return item{}, false
				}
				return boolItem(&QuantExpr{Kind: kind, Scope: args[1].expr, Pred: TokenPred{Kind: PredCase, Case: caseKind}})
			},
		},
		{
			Name: "quant_scope_eq",
			RHS:  []string{symQuant, symStrList, symCmp, symStr},
			Build: func(args []item) (item, bool) {
				kind, ok := quantKindFromArg(args[0].arg)
				if !ok {
					return item{}, false
				}
				op, ok := cmpOpFromArg(args[2].arg)
				if !ok || op != CmpEq {
					return item{}, false
				}
				lit, ok := args[3].expr.(*StrLit)
				if !ok {
					return item{}, false
				}
				return boolItem(&QuantExpr{Kind: kind, Scope: args[1].expr, Pred: TokenPred{Kind: PredEq, Str: lit.V}})
			},
		},
		{
			Name: "negate",
			RHS:  []string{symNot, symBool},
			Build: func(args []item) (item, bool) {
				return boolItem(&NotExpr{Arg: args[1].expr})
			},
		},
		{
			Name: "conjoin",
			RHS:  []string{symBool, symAnd, symBool},
			Build: func(args []item) (item, bool) {
				return boolItem(NewAndExpr(args[0].expr, args[2].expr))
			},
		},
		{
			Name: "disjoin",
			RHS:  []string{symBool, symOr, symBool},
			Build: func(args []item) (item, bool) {
				return boolItem(NewOrExpr(args[0].expr, args[2].expr))
			},
		},
	}

	return append(rules, needleScopeRules()...)
}

func affixRule(args []item, kind AffixKind) (item, bool) {
	ref, ok := entityArg(args[0])
	if !ok {
		return item{}, false
	}
	return boolItem(&AffixExpr{Target: ref, Kind: kind, Affix: args[2].expr})
}
