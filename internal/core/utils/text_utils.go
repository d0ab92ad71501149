package utils

import (
	"regexp"
)

var tokenRegex = regexp.MustCompile(`\S+`)

// TokenOffset is a token's character range within its source text.
type TokenOffset struct {
	Start int
	End   int
}

// TokenizeWithOffsets splits text on whitespace into tokens while preserving
// each token's character offsets. We cannot naively split on whitespace
// because downstream features (character windows, distances) need the
// offsets back into the original text.
func TokenizeWithOffsets(text string) (tokens []string, offsets []TokenOffset) {
	idxs := tokenRegex.FindAllStringIndex(text, -1)
	for _, span := range idxs {
		tokens = append(tokens, text[span[0]:span[1]])
		offsets = append(offsets, TokenOffset{Start: span[0], End: span[1]})
	}
	return
}
