package types

import (
	"strings"
)

// NER categories assigned by the upstream feature extractor. A token with no
// tag has NER == "".
const (
	NerPerson       = "PERSON"
	NerLocation     = "LOCATION"
	NerDate         = "DATE"
	NerNumber       = "NUMBER"
	NerOrganization = "ORGANIZATION"
)

type Token struct {
	Text  string
	NER   string
	Start int // char offset in the original text
	End   int
}

// Span is a half-open token index range [Start, End).
type Span struct {
	Start int
	End   int
}

// Candidate is a read-only view of one example: its tokenized text plus the
// two marked entity spans X and Y. Tokenization and NER tags are precomputed
// by the caller; nothing here is mutated during evaluation.
type Candidate struct {
	Id     string
	Tokens []Token
	X      Span
	Y      Span

	// NERTagged reports whether the upstream extractor ran NER on this
	// candidate at all. When false, NER predicates abstain instead of
	// treating every token as untagged.
	NERTagged bool
}

func (c *Candidate) SpanText(s Span) string {
	parts := make([]string, 0, s.End-s.Start)
	for i := s.Start; i < s.End && i < len(c.Tokens); i++ {
		parts = append(parts, c.Tokens[i].Text)
	}
	return strings.Join(parts, " ")
}

// Between returns the tokens strictly between the two entity spans,
// regardless of which entity appears first in the sentence.
func (c *Candidate) Between() []Token {
	lo, hi := c.X, c.Y
	if hi.Start < lo.Start {
		lo, hi = hi, lo
	}
	if lo.End >= hi.Start {
		return nil
	}
	return c.Tokens[lo.End:hi.Start]
}

// LeftOf returns every token before the span.
func (c *Candidate) LeftOf(s Span) []Token {
	if s.Start <= 0 {
		return nil
	}
	return c.Tokens[:s.Start]
}

// RightOf returns every token after the span.
func (c *Candidate) RightOf(s Span) []Token {
	if s.End >= len(c.Tokens) {
		return nil
	}
	return c.Tokens[s.End:]
}

// Window returns up to n tokens on each side of the span.
func (c *Candidate) Window(s Span, n int) []Token {
	lo := s.Start - n
	if lo < 0 {
		lo = 0
	}
	hi := s.End + n
	if hi > len(c.Tokens) {
		hi = len(c.Tokens)
	}
	out := make([]Token, 0, n*2)
	out = append(out, c.Tokens[lo:s.Start]...)
	out = append(out, c.Tokens[s.End:hi]...)
	return out
}

// TokenDistance is the number of tokens strictly between X and Y.
func (c *Candidate) TokenDistance() int {
	return len(c.Between())
}

// CharDistance is the size of the character gap between X and Y. Overlapping
// or adjacent spans have distance zero.
func (c *Candidate) CharDistance() int {
	lo, hi := c.X, c.Y
	if hi.Start < lo.Start {
		lo, hi = hi, lo
	}
	if lo.End == 0 || hi.Start >= len(c.Tokens) || lo.End > hi.Start {
		return 0
	}
	gap := c.Tokens[hi.Start].Start - c.Tokens[lo.End-1].End
	if gap < 0 {
		return 0
	}
	return gap
}

func TokenTexts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}
