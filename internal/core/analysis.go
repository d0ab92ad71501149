package core

import (
	"context"
	"fmt"
	"sort"
)

// ParseStats summarizes one parse's behavior over a split: how often it
// fires, how it interacts with the committed function set, and how well it
// agrees with gold labels when the split has them.
type ParseStats struct {
	Name       string
	Label      int
	Canonical  string
	Pseudocode string

	// Polarity is the sorted set of distinct non-abstain labels the parse
	// emits on the split.
	Polarity []int
	// Coverage is the fraction of candidates the parse labels.
	Coverage float64
	// Overlap is the fraction of candidates labeled both by this parse and
	// by at least one committed function.
	Overlap float64
	// Conflict is the fraction of candidates where a committed function
	// fires with a different label than this parse.
	Conflict float64

	// Accuracy is the fraction of fired candidates whose gold label matches,
	// valid only when HasGold is set.
	Accuracy float64
	HasGold  bool
}

// Analyze computes per-parse statistics over one split without mutating any
// session state. It is meant to run between Apply and Commit so the human
// can see what each surviving parse would actually do before accepting it.
func (s *Session) Analyze(ctx context.Context, parses []*Parse, split int) ([]ParseStats, error) {
	candidates, ok := s.cfg.Splits[split]
	if !ok {
		return nil, fmt.Errorf("unknown split %d", split)
	}
	gold := s.cfg.Gold[split]

	committed := make([]Signature, 0, len(s.committed))
	for _, lf := range s.committed {
		sig, err := s.cache.Signature(ctx, lf, split, candidates, s.cfg.Eval)
		if err != nil {
			return nil, err
		}
		committed = append(committed, sig)
	}

	stats := make([]ParseStats, 0, len(parses))
	for _, p := range parses {
		lf := Compile(p)
		sig, err := s.cache.Signature(ctx, lf, split, candidates, s.cfg.Eval)
		if err != nil {
			return nil, err
		}
		stats = append(stats, buildStats(lf, sig, committed, gold))
	}
	return stats, nil
}

func buildStats(lf *LabelingFunction, sig Signature, committed []Signature, gold []int) ParseStats {
	st := ParseStats{
		Name:       lf.Name,
		Label:      lf.Label,
		Canonical:  lf.Canonical(),
		Pseudocode: lf.Pseudocode(),
	}
	if len(sig) == 0 {
		return st
	}

	seen := make(map[int]struct{})
	fired, overlap, conflict, correct := 0, 0, 0, 0
	for i, label := range sig {
		if label == Abstain {
			continue
		}
		fired++
		seen[label] = struct{}{}

		overlapped, conflicted := false, false
		for _, other := range committed {
			if i >= len(other) || other[i] == Abstain {
				continue
			}
			overlapped = true
			if other[i] != label {
				conflicted = true
			}
		}
		if overlapped {
			overlap++
		}
		if conflicted {
			conflict++
		}

		if len(gold) == len(sig) && gold[i] == label {
			correct++
		}
	}

	for label := range seen {
		st.Polarity = append(st.Polarity, label)
	}
	sort.Ints(st.Polarity)

	n := float64(len(sig))
	st.Coverage = float64(fired) / n
	st.Overlap = float64(overlap) / n
	st.Conflict = float64(conflict) / n
	if len(gold) == len(sig) {
		st.HasGold = true
		if fired > 0 {
			st.Accuracy = float64(correct) / float64(fired)
		}
	}
	return st
}
