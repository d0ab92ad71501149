package core

import (
	"sort"
	"strconv"
	"strings"
)

// SemanticParser turns an explanation's condition text into every well-typed
// logical form the grammar admits. It is a bottom-up chart parser: lexical
// items seed the chart, production rules combine adjacent constituents, and
// filler tokens are absorbed by letting constituents inherit across them.
// Ambiguity is preserved on purpose; pruning is the filter bank's job.
type SemanticParser struct {
	grammar *Grammar
}

func NewSemanticParser(g *Grammar) *SemanticParser {
	return &SemanticParser{grammar: g}
}

const (
	maxCellItems = 128
	maxParses    = 32
)

type surfaceToken struct {
	text    string
	literal bool // quoted in the original explanation
}

// Parse returns the distinct boolean logical forms derivable from the
// condition text, ordered by canonical form. An empty result means the
// explanation is unparseable; that is an outcome, not an error.
func (p *SemanticParser) Parse(condition string) []Expr {
	tokens := tokenize(condition)
	n := len(tokens)
	if n == 0 {
		return nil
	}

	// chart[i][k] holds the constituents spanning tokens [i, k).
	chart := make([][][]item, n+1)
	for i := range chart {
		chart[i] = make([][]item, n+1)
	}

	for length := 1; length <= n; length++ {
		for i := 0; i+length <= n; i++ {
			k := i + length
			cell := p.lexical(tokens, i, k)

			if length > 1 {
				if p.skippableToken(tokens[i]) {
					cell = append(cell, chart[i+1][k]...)
				}
				if p.skippableToken(tokens[k-1]) {
					cell = append(cell, chart[i][k-1]...)
				}
			}

			for _, rule := range p.grammar.rules {
				if len(rule.RHS) < 2 || len(rule.RHS) > length {
					continue
				}
				var combos [][]item
				matchSeq(chart, rule.RHS, i, k, nil, &combos)
				for _, combo := range combos {
					if built, ok := rule.Build(combo); ok {
						cell = append(cell, built)
					}
				}
			}

			// Unary productions rewrite markers in place (e.g. the sentence
			// scope). No unary chains exist, so one pass suffices.
			for _, rule := range p.grammar.rules {
				if len(rule.RHS) != 1 {
					continue
				}
				for _, it := range cell {
					if !matchSym(rule.RHS[0], it.sym) {
						continue
					}
					if built, ok := rule.Build([]item{it}); ok {
						cell = append(cell, built)
					}
				}
			}

			chart[i][k] = dedupeItems(cell, maxCellItems)
		}
	}

	var parses []Expr
	seen := make(map[string]struct{})
	for _, it := range chart[0][n] {
		if it.sym != symBool || it.expr == nil {
			continue
		}
		key := it.expr.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		parses = append(parses, it.expr)
	}

	sort.Slice(parses, func(i, j int) bool { return parses[i].String() < parses[j].String() })
	if len(parses) > maxParses {
		parses = parses[:maxParses]
	}
	return parses
}

func (p *SemanticParser) skippableToken(tok surfaceToken) bool {
	return !tok.literal && p.grammar.skippable(tok.text)
}

// lexical seeds the chart cell [i, k) with literal tokens, numbers, and
// lexicon phrase matches.
func (p *SemanticParser) lexical(tokens []surfaceToken, i, k int) []item {
	var out []item

	if k == i+1 {
		tok := tokens[i]
		if tok.literal {
			return []item{{sym: symStr, expr: &StrLit{V: tok.text}}}
		}
		if n, err := strconv.Atoi(tok.text); err == nil {
			out = append(out, item{sym: symInt, expr: &IntLit{V: n}})
		} else if f, err := strconv.ParseFloat(tok.text, 64); err == nil {
			out = append(out, item{sym: symFloat, expr: &FloatLit{V: f}})
		}
	}

	if k-i > p.grammar.maxPhraseLen {
		return out
	}
	words := make([]string, 0, k-i)
	for _, tok := range tokens[i:k] {
		if tok.literal {
			return out
		}
		words = append(words, tok.text)
	}
	for _, entry := range p.grammar.Lookup(strings.Join(words, " ")) {
		out = append(out, p.grammar.lexItems(entry)...)
	}
	return out
}

// matchSeq enumerates every split of [i, k) into adjacent constituents
// matching the rule's right-hand side.
func matchSeq(chart [][][]item, rhs []string, i, k int, acc []item, out *[][]item) {
	if len(rhs) == 1 {
		for _, it := range chart[i][k] {
			if matchSym(rhs[0], it.sym) {
				combo := make([]item, len(acc)+1)
				copy(combo, acc)
				combo[len(acc)] = it
				*out = append(*out, combo)
			}
		}
		return
	}
	for mid := i + 1; mid <= k-len(rhs)+1; mid++ {
		for _, it := range chart[i][mid] {
			if matchSym(rhs[0], it.sym) {
				matchSeq(chart, rhs[1:], mid, k, append(acc, it), out)
			}
		}
	}
}

func matchSym(rhsSym, sym string) bool {
	switch rhsSym {
	case symAnyList:
		return sym == symStrList || sym == symSet
	case symNum:
		return sym == symInt || sym == symFloat
	default:
		return rhsSym == sym
	}
}

func dedupeItems(cell []item, limit int) []item {
	seen := make(map[string]struct{}, len(cell))
	out := make([]item, 0, len(cell))
	for _, it := range cell {
		key := it.sym + "|" + it.arg
		if it.expr != nil {
			key += "|" + it.expr.String()
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// tokenize splits an explanation into surface tokens. Quoted segments become
// single literal tokens with their text preserved; everything else is
// lowercased with surrounding punctuation stripped. An apostrophe only opens
// a quote at a word boundary, so contractions stay part of their word.
func tokenize(text string) []surfaceToken {
	var tokens []surfaceToken
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		boundary := i == 0 || isSpaceRune(runes[i-1])
		if r == '"' || (r == '\'' && boundary) {
			if end := closingQuote(runes, i); end > i {
				tokens = append(tokens, surfaceToken{text: string(runes[i+1 : end]), literal: true})
				i = end + 1
				continue
			}
		}
		if isSpaceRune(r) {
			i++
			continue
		}
		start := i
		for i < len(runes) && !isSpaceRune(runes[i]) && runes[i] != '"' {
			i++
		}
		word := strings.Trim(string(runes[start:i]), ".,!?;:()[]'")
		if word != "" {
			tokens = append(tokens, surfaceToken{text: strings.ToLower(word)})
		}
	}
	return tokens
}

func closingQuote(runes []rune, open int) int {
	for j := open + 1; j < len(runes); j++ {
		if runes[j] == runes[open] {
			return j
		}
	}
	return -1
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
