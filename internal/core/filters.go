package core

import (
	"context"
	"fmt"
	"log/slog"

	"lf-backend/internal/core/types"
)

// The filter bank prunes candidate parses down to a small set of distinct,
// example-consistent, informative ones. Stages run in a fixed order, each
// consuming the survivors of the previous one; every removal is recorded
// with a reason so that nothing is dropped silently. Running the bank again
// on its own survivors (with unchanged committed state) removes nothing.

// Reason codes surfaced in filter reports. Scenario tests and the API
// surface these strings verbatim.
const (
	ReasonInconsistent       = "inconsistent with anchor example"
	ReasonDuplicateSemantics = "duplicate semantics"
	ReasonDuplicateSignature = "duplicate signature"
	ReasonLowerCoverage      = "lower coverage than sibling parse"
)

type FilterContext struct {
	Ctx        context.Context
	Committed  []*LabelingFunction
	Split      int
	Candidates []*types.Candidate
	Anchors    map[string]*types.Candidate
	Cache      *SignatureCache
	Eval       EvalOptions
}

type FilterDecision struct {
	Parse    *Parse
	Stage    string
	Reason   string
	Retained string // name of the parse or LF kept in this one's place, if any
}

type StageReport struct {
	Stage   string
	Kept    int
	Removed int
}

type FilterReport struct {
	Stages  []StageReport
	Removed []FilterDecision
}

type ParseFilter interface {
	Name() string
	Filter(fctx *FilterContext, parses []*Parse) ([]*Parse, []FilterDecision, error)
}

type FilterBank struct {
	stages []ParseFilter
}

// NewFilterBank assembles the stages in their fixed order.
func NewFilterBank() *FilterBank {
	return &FilterBank{stages: []ParseFilter{
		&DuplicateSemanticsFilter{},
		&ConsistencyFilter{},
		&UniformSignatureFilter{},
		&DuplicateSignatureFilter{},
		&LowestCoverageFilter{},
	}}
}

func (b *FilterBank) Run(fctx *FilterContext, parses []*Parse) ([]*Parse, *FilterReport, error) {
	report := &FilterReport{}
	surviving := parses

	for _, stage := range b.stages {
		kept, removed, err := stage.Filter(fctx, surviving)
		if err != nil {
			return nil, nil, fmt.Errorf("filter stage %s: %w", stage.Name(), err)
		}
		report.Stages = append(report.Stages, StageReport{
			Stage:   stage.Name(),
			Kept:    len(kept),
			Removed: len(removed),
		})
		report.Removed = append(report.Removed, removed...)
		slog.Info("filter stage complete", "stage", stage.Name(), "kept", len(kept), "removed", len(removed))
		surviving = kept
	}

	return surviving, report, nil
}

// DuplicateSemanticsFilter collapses parses that assign the same label to
// equal canonical ASTs, within the batch and against previously committed
// functions. The first occurrence wins. The same predicate under a different
// label is a distinct function and passes through.
type DuplicateSemanticsFilter struct{}

func (f *DuplicateSemanticsFilter) Name() string { return "DuplicateSemanticsFilter" }

func (f *DuplicateSemanticsFilter) Filter(fctx *FilterContext, parses []*Parse) ([]*Parse, []FilterDecision, error) {
	retained := make(map[string]string)
	for _, lf := range fctx.Committed {
		retained[lf.Identity()] = lf.Name
	}

	var kept []*Parse
	var removed []FilterDecision
	for _, p := range parses {
		if holder, dup := retained[p.Identity()]; dup {
			removed = append(removed, FilterDecision{
				Parse:    p,
				Stage:    f.Name(),
				Reason:   ReasonDuplicateSemantics,
				Retained: holder,
			})
			continue
		}
		retained[p.Identity()] = p.Explanation.Name
		kept = append(kept, p)
	}
	return kept, removed, nil
}

// ConsistencyFilter removes any parse that does not reproduce its own
// explanation's label on the anchor candidate. A parse that cannot even
// explain the example that inspired it is worthless at scale.
type ConsistencyFilter struct{}

func (f *ConsistencyFilter) Name() string { return "ConsistencyFilter" }

func (f *ConsistencyFilter) Filter(fctx *FilterContext, parses []*Parse) ([]*Parse, []FilterDecision, error) {
	var kept []*Parse
	var removed []FilterDecision
	for _, p := range parses {
		anchor := fctx.Anchors[p.Explanation.AnchorId]
		if anchor == nil {
			return nil, nil, fmt.Errorf("anchor candidate %q not found", p.Explanation.AnchorId)
		}
		if Compile(p).Apply(anchor) == p.Explanation.Label {
			kept = append(kept, p)
			continue
		}
		removed = append(removed, FilterDecision{
			Parse:  p,
			Stage:  f.Name(),
			Reason: ReasonInconsistent,
		})
	}
	return kept, removed, nil
}

// UniformSignatureFilter evaluates each parse over the full split and drops
// the degenerate ones: those that abstain everywhere or label everywhere.
// Neither carries information.
type UniformSignatureFilter struct{}

func (f *UniformSignatureFilter) Name() string { return "UniformSignatureFilter" }

func (f *UniformSignatureFilter) Filter(fctx *FilterContext, parses []*Parse) ([]*Parse, []FilterDecision, error) {
	var kept []*Parse
	var removed []FilterDecision
	for _, p := range parses {
		sig, err := fctx.Cache.Signature(fctx.Ctx, Compile(p), fctx.Split, fctx.Candidates, fctx.Eval)
		if err != nil {
			return nil, nil, err
		}
		if uniform, why := sig.Uniform(); uniform {
			removed = append(removed, FilterDecision{
				Parse:  p,
				Stage:  f.Name(),
				Reason: fmt.Sprintf("uniform signature: %s", why),
			})
			continue
		}
		kept = append(kept, p)
	}
	return kept, removed, nil
}

// DuplicateSignatureFilter removes parses operationally identical to an
// earlier survivor or a committed function: equal output on every candidate
// of the split, regardless of AST shape.
type DuplicateSignatureFilter struct{}

func (f *DuplicateSignatureFilter) Name() string { return "DuplicateSignatureFilter" }

func (f *DuplicateSignatureFilter) Filter(fctx *FilterContext, parses []*Parse) ([]*Parse, []FilterDecision, error) {
	retained := make(map[string]string)
	for _, lf := range fctx.Committed {
		sig, err := fctx.Cache.Signature(fctx.Ctx, lf, fctx.Split, fctx.Candidates, fctx.Eval)
		if err != nil {
			return nil, nil, err
		}
		key := fmt.Sprint([]int(sig))
		if _, exists := retained[key]; !exists {
			retained[key] = lf.Name
		}
	}

	var kept []*Parse
	var removed []FilterDecision
	for _, p := range parses {
		sig, err := fctx.Cache.Signature(fctx.Ctx, Compile(p), fctx.Split, fctx.Candidates, fctx.Eval)
		if err != nil {
			return nil, nil, err
		}
		key := fmt.Sprint([]int(sig))
		if holder, dup := retained[key]; dup {
			removed = append(removed, FilterDecision{
				Parse:    p,
				Stage:    f.Name(),
				Reason:   ReasonDuplicateSignature,
				Retained: holder,
			})
			continue
		}
		retained[key] = p.Explanation.Name
		kept = append(kept, p)
	}
	return kept, removed, nil
}

// LowestCoverageFilter keeps, among the parses that trace back to the same
// explanation, only those with the highest coverage. Ties are all retained;
// only strictly dominated parses are dropped.
type LowestCoverageFilter struct{}

func (f *LowestCoverageFilter) Name() string { return "LowestCoverageFilter" }

func (f *LowestCoverageFilter) Filter(fctx *FilterContext, parses []*Parse) ([]*Parse, []FilterDecision, error) {
	best := make(map[string]int)
	coverage := make(map[*Parse]int, len(parses))
	for _, p := range parses {
		sig, err := fctx.Cache.Signature(fctx.Ctx, Compile(p), fctx.Split, fctx.Candidates, fctx.Eval)
		if err != nil {
			return nil, nil, err
		}
		cov := sig.Coverage()
		coverage[p] = cov
		if cov > best[p.Explanation.Name] {
			best[p.Explanation.Name] = cov
		}
	}

	var kept []*Parse
	var removed []FilterDecision
	for _, p := range parses {
		if coverage[p] < best[p.Explanation.Name] {
			removed = append(removed, FilterDecision{
				Parse:  p,
				Stage:  f.Name(),
				Reason: fmt.Sprintf("%s (%d < %d)", ReasonLowerCoverage, coverage[p], best[p.Explanation.Name]),
			})
			continue
		}
		kept = append(kept, p)
	}
	return kept, removed, nil
}
