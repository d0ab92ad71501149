package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const corpusYAML = `
splits:
  - index: 0
    candidates:
      - id: c1
        text: "John and his fiance Mary"
        x: {start: 0, end: 1}
        y: {start: 4, end: 5}
      - id: c2
        tokens:
          - {text: Bob, ner: PERSON, start: 0, end: 3}
          - {text: met, start: 4, end: 7}
          - {text: Alice, ner: PERSON, start: 8, end: 13}
        x: {start: 0, end: 1}
        y: {start: 2, end: 3}
        ner_tagged: true
  - index: 1
    candidates:
      - id: d1
        text: "Carol wrote to Dave"
        x: {start: 0, end: 1}
        y: {start: 3, end: 4}
    labels: [2]
`

func TestLoadCorpus(t *testing.T) {
	c, err := Load([]byte(corpusYAML))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, c.SplitIndices())

	train, err := c.Split(0)
	require.NoError(t, err)
	require.Len(t, train, 2)

	// Raw text is whitespace-tokenized with character offsets preserved.
	c1 := train[0]
	require.Len(t, c1.Tokens, 5)
	assert.Equal(t, "John", c1.Tokens[0].Text)
	assert.Equal(t, 0, c1.Tokens[0].Start)
	assert.Equal(t, 4, c1.Tokens[0].End)
	assert.Equal(t, "fiance", c1.Tokens[3].Text)
	assert.Equal(t, 13, c1.Tokens[3].Start)
	assert.Equal(t, 19, c1.Tokens[3].End)
	assert.False(t, c1.NERTagged)

	c2 := train[1]
	assert.True(t, c2.NERTagged)
	assert.Equal(t, "PERSON", c2.Tokens[0].NER)

	assert.Nil(t, c.Gold(0))
	assert.Equal(t, []int{2}, c.Gold(1))

	_, err = c.Split(9)
	assert.ErrorContains(t, err, "unknown split 9")
}

func TestLoadCorpusErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing id",
			`{splits: [{index: 0, candidates: [{text: "a b", x: {start: 0, end: 1}, y: {start: 1, end: 2}}]}]}`,
			"missing id",
		},
		{
			"no tokens",
			`{splits: [{index: 0, candidates: [{id: c1, x: {start: 0, end: 1}, y: {start: 1, end: 2}}]}]}`,
			"no tokens",
		},
		{
			"span out of range",
			`{splits: [{index: 0, candidates: [{id: c1, text: "a b", x: {start: 0, end: 3}, y: {start: 1, end: 2}}]}]}`,
			"x span",
		},
		{
			"empty span",
			`{splits: [{index: 0, candidates: [{id: c1, text: "a b", x: {start: 0, end: 1}, y: {start: 1, end: 1}}]}]}`,
			"y span",
		},
		{
			"label count mismatch",
			`{splits: [{index: 0, candidates: [{id: c1, text: "a b", x: {start: 0, end: 1}, y: {start: 1, end: 2}}], labels: [1, 2]}]}`,
			"gold labels",
		},
		{
			"duplicate split",
			`{splits: [{index: 0, candidates: [{id: c1, text: "a b", x: {start: 0, end: 1}, y: {start: 1, end: 2}}]}, {index: 0, candidates: []}]}`,
			"defined twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNewCorpusValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorContains(t, err, "at least one split")
}
