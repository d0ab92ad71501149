package corpus

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"lf-backend/internal/core/types"
	"lf-backend/internal/core/utils"
)

// Corpus holds the candidates for a labeling session, partitioned into
// numbered splits, plus optional gold labels per split. Split 0 is the
// unlabeled pool by convention; higher splits typically carry gold labels
// for development and evaluation.
type Corpus struct {
	splits map[int][]*types.Candidate
	gold   map[int][]int
}

func New(splits map[int][]*types.Candidate, gold map[int][]int) (*Corpus, error) {
	if len(splits) == 0 {
		return nil, fmt.Errorf("corpus requires at least one split")
	}
	for split, labels := range gold {
		candidates, ok := splits[split]
		if !ok {
			return nil, fmt.Errorf("gold labels reference unknown split %d", split)
		}
		if len(labels) != len(candidates) {
			return nil, fmt.Errorf("split %d has %d candidates but %d gold labels", split, len(candidates), len(labels))
		}
	}
	return &Corpus{splits: splits, gold: gold}, nil
}

func (c *Corpus) Split(i int) ([]*types.Candidate, error) {
	candidates, ok := c.splits[i]
	if !ok {
		return nil, fmt.Errorf("unknown split %d", i)
	}
	return candidates, nil
}

// Gold returns the gold labels for a split, or nil when the split has none.
func (c *Corpus) Gold(i int) []int { return c.gold[i] }

func (c *Corpus) Splits() map[int][]*types.Candidate { return c.splits }

func (c *Corpus) GoldLabels() map[int][]int { return c.gold }

// SplitIndices lists the split numbers in ascending order.
func (c *Corpus) SplitIndices() []int {
	out := make([]int, 0, len(c.splits))
	for i := range c.splits {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

type tokenSpec struct {
	Text  string `yaml:"text"`
	NER   string `yaml:"ner,omitempty"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

type spanSpec struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

type candidateSpec struct {
	Id string `yaml:"id"`
	// Either explicit tokens or raw text; raw text is whitespace-tokenized
	// with character offsets preserved.
	Tokens    []tokenSpec `yaml:"tokens,omitempty"`
	Text      string      `yaml:"text,omitempty"`
	X         spanSpec    `yaml:"x"`
	Y         spanSpec    `yaml:"y"`
	NERTagged bool        `yaml:"ner_tagged"`
}

type splitSpec struct {
	Index      int             `yaml:"index"`
	Candidates []candidateSpec `yaml:"candidates"`
	Labels     []int           `yaml:"labels,omitempty"`
}

type corpusSpec struct {
	Splits []splitSpec `yaml:"splits"`
}

// LoadFile reads a corpus from a YAML fixture file.
func LoadFile(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	return Load(data)
}

func Load(data []byte) (*Corpus, error) {
	var spec corpusSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing corpus yaml: %w", err)
	}

	splits := make(map[int][]*types.Candidate, len(spec.Splits))
	gold := make(map[int][]int)
	for _, sp := range spec.Splits {
		if _, dup := splits[sp.Index]; dup {
			return nil, fmt.Errorf("split %d defined twice", sp.Index)
		}
		candidates := make([]*types.Candidate, 0, len(sp.Candidates))
		for _, cs := range sp.Candidates {
			c, err := buildCandidate(cs)
			if err != nil {
				return nil, fmt.Errorf("split %d candidate %q: %w", sp.Index, cs.Id, err)
			}
			candidates = append(candidates, c)
		}
		splits[sp.Index] = candidates
		if len(sp.Labels) > 0 {
			gold[sp.Index] = sp.Labels
		}
	}
	return New(splits, gold)
}

func buildCandidate(cs candidateSpec) (*types.Candidate, error) {
	if cs.Id == "" {
		return nil, fmt.Errorf("missing id")
	}
	if len(cs.Tokens) == 0 && cs.Text != "" {
		words, offsets := utils.TokenizeWithOffsets(cs.Text)
		for i, w := range words {
			cs.Tokens = append(cs.Tokens, tokenSpec{Text: w, Start: offsets[i].Start, End: offsets[i].End})
		}
	}
	n := len(cs.Tokens)
	if n == 0 {
		return nil, fmt.Errorf("no tokens")
	}
	if err := checkSpan(cs.X, n); err != nil {
		return nil, fmt.Errorf("x span: %w", err)
	}
	if err := checkSpan(cs.Y, n); err != nil {
		return nil, fmt.Errorf("y span: %w", err)
	}

	tokens := make([]types.Token, 0, n)
	for _, ts := range cs.Tokens {
		tokens = append(tokens, types.Token{
			Text:  ts.Text,
			NER:   ts.NER,
			Start: ts.Start,
			End:   ts.End,
		})
	}
	return &types.Candidate{
		Id:        cs.Id,
		Tokens:    tokens,
		X:         types.Span{Start: cs.X.Start, End: cs.X.End},
		Y:         types.Span{Start: cs.Y.Start, End: cs.Y.End},
		NERTagged: cs.NERTagged,
	}, nil
}

func checkSpan(s spanSpec, tokens int) error {
	if s.Start < 0 || s.End > tokens || s.Start >= s.End {
		return fmt.Errorf("invalid range [%d, %d) over %d tokens", s.Start, s.End, tokens)
	}
	return nil
}
