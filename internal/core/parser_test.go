package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T) (*SemanticParser, *Grammar) {
	t.Helper()
	g, err := NewGrammar()
	require.NoError(t, err)
	return NewSemanticParser(g), g
}

func canonicals(exprs []Expr) []string {
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = e.String()
	}
	return out
}

func TestParseNeedleBetween(t *testing.T) {
	p, _ := newTestParser(t)

	parses := p.Parse("The word 'fiance' is between X and Y")
	assert.Contains(t, canonicals(parses), `CONTAINS(BETWEEN(X, Y), "fiance")`)
}

func TestParseCountComparison(t *testing.T) {
	p, _ := newTestParser(t)

	parses := p.Parse("the number of words between x and y is less than three")
	assert.Contains(t, canonicals(parses), "LT(COUNT(BETWEEN(X, Y)), 3)")
}

func TestParseEntitiesWithinApart(t *testing.T) {
	p, _ := newTestParser(t)

	parses := p.Parse("x and y are within five words apart")
	assert.Contains(t, canonicals(parses), "LE(DIST(WORDS), 5)")
}

func TestParseNERBetween(t *testing.T) {
	p, _ := newTestParser(t)

	parses := p.Parse("there is a person between x and y")
	assert.Contains(t, canonicals(parses), "HASNER(BETWEEN(X, Y), PERSON)")
}

func TestParseEntityPredicates(t *testing.T) {
	p, _ := newTestParser(t)

	assert.Contains(t, canonicals(p.Parse("x is capitalized")), "CASE(X, CAPITALIZED)")
	assert.Contains(t, canonicals(p.Parse("x starts with 'mc'")), `STARTS(X, "mc")`)
	assert.Contains(t, canonicals(p.Parse("x is a person")), "NER(X, PERSON)")
	assert.Contains(t, canonicals(p.Parse("x is before y")), "BEFORE(X, Y)")
}

func TestParseConjunction(t *testing.T) {
	p, _ := newTestParser(t)

	parses := p.Parse("'dog' is between x and y and 'cat' is between x and y")
	assert.Contains(t, canonicals(parses),
		`AND(CONTAINS(BETWEEN(X, Y), "cat"), CONTAINS(BETWEEN(X, Y), "dog"))`)
}

func TestParseWithAlias(t *testing.T) {
	p, g := newTestParser(t)
	require.NoError(t, g.RegisterAlias("spouse", []string{"wife", "husband", "fiance", "fiancee"}))

	parses := p.Parse("a spouse word appears between x and y")
	assert.Contains(t, canonicals(parses),
		`CONTAINS(BETWEEN(X, Y), {"fiance", "fiancee", "husband", "wife"})`)
}

func TestParseRenamedEntities(t *testing.T) {
	p, g := newTestParser(t)
	g.RenameEntities("alice", "bob")

	parses := p.Parse("the word 'ring' is between alice and bob")
	assert.Contains(t, canonicals(parses), `CONTAINS(BETWEEN(X, Y), "ring")`)

	// The old names no longer resolve to entities.
	assert.Empty(t, p.Parse("the word 'ring' is between x and y"))
}

func TestParseUnparseable(t *testing.T) {
	p, _ := newTestParser(t)

	assert.Empty(t, p.Parse("qwerty flurble grok"))
	assert.Empty(t, p.Parse(""))
}

func TestParseResultsAreDistinctAndSorted(t *testing.T) {
	p, _ := newTestParser(t)

	parses := p.Parse("there is a person between x and y")
	seen := make(map[string]struct{})
	prev := ""
	for _, e := range parses {
		key := e.String()
		_, dup := seen[key]
		assert.False(t, dup, "duplicate parse %s", key)
		seen[key] = struct{}{}
		assert.LessOrEqual(t, prev, key)
		prev = key
	}
}

func TestTokenizeQuotesAndPunctuation(t *testing.T) {
	tokens := tokenize(`The word "best friend" appears, right of X!`)

	texts := make([]string, len(tokens))
	for i, tok := range tokens {
		texts[i] = tok.text
	}
	assert.Equal(t, []string{"the", "word", "best friend", "appears", "right", "of", "x"}, texts)
	assert.True(t, tokens[2].literal)
	assert.False(t, tokens[0].literal)
}

func TestTokenizeContractions(t *testing.T) {
	tokens := tokenize(`x doesn't contain 'dog'`)

	texts := make([]string, len(tokens))
	for i, tok := range tokens {
		texts[i] = tok.text
	}
	assert.Equal(t, []string{"x", "doesn't", "contain", "dog"}, texts)
	assert.False(t, tokens[1].literal)
	assert.True(t, tokens[3].literal)
}
