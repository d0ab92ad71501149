package core

import (
	"context"
	"fmt"
	"runtime"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"lf-backend/internal/core/types"
)

// Signature is the vector of a labeling function's outputs over every
// candidate of one split, in candidate order. It is the function's
// operational fingerprint: two functions with equal signatures are
// interchangeable on that split no matter how their ASTs differ.
type Signature []int

// Coverage counts the non-abstain entries.
func (s Signature) Coverage() int {
	n := 0
	for _, v := range s {
		if v != Abstain {
			n++
		}
	}
	return n
}

// Uniform reports whether the signature is degenerate: abstains everywhere,
// or labels everywhere without a single abstain.
func (s Signature) Uniform() (bool, string) {
	if len(s) == 0 {
		return true, "empty split"
	}
	cov := s.Coverage()
	if cov == 0 {
		return true, "abstains on every candidate"
	}
	if cov == len(s) {
		return true, "labels every candidate"
	}
	return false, ""
}

func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i, v := range s {
		if v != other[i] {
			return false
		}
	}
	return true
}

type EvalOptions struct {
	Workers  int
	Progress bool
}

// EvaluateSignature applies one labeling function to every candidate of a
// split. Candidates are independent, so evaluation fans out over worker
// goroutines in contiguous chunks; each worker writes only its own indices
// and results merge by candidate position, making the output independent of
// scheduling. Cancelling the context abandons the batch before merge.
func EvaluateSignature(ctx context.Context, lf *LabelingFunction, candidates []*types.Candidate, opts EvalOptions) (Signature, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}
	if workers == 0 {
		return Signature{}, nil
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(len(candidates),
			progressbar.OptionSetDescription(fmt.Sprintf("evaluating %s", lf.Name)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	sig := make(Signature, len(candidates))
	chunk := (len(candidates) + workers - 1) / workers

	var group errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(candidates) {
			hi = len(candidates)
		}
		if lo >= hi {
			break
		}
		group.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				sig[i] = lf.Apply(candidates[i])
				if bar != nil {
					bar.Add(1) //nolint:errcheck
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("signature evaluation abandoned: %w", err)
	}
	return sig, nil
}

// SignatureCache memoizes signatures per (function identity, split). The
// identity carries both the canonical predicate and the assigned label, so
// two functions sharing a predicate under different labels cache separately.
// The cache never needs invalidation; it is simply dropped when the corpus
// changes.
type SignatureCache struct {
	entries map[string]Signature
}

func NewSignatureCache() *SignatureCache {
	return &SignatureCache{entries: make(map[string]Signature)}
}

func cacheKey(lf *LabelingFunction, split int) string {
	return fmt.Sprintf("%d|%s", split, lf.Identity())
}

func (c *SignatureCache) Signature(ctx context.Context, lf *LabelingFunction, split int, candidates []*types.Candidate, opts EvalOptions) (Signature, error) {
	key := cacheKey(lf, split)
	if sig, ok := c.entries[key]; ok {
		return sig, nil
	}
	sig, err := EvaluateSignature(ctx, lf, candidates, opts)
	if err != nil {
		return nil, err
	}
	c.entries[key] = sig
	return sig, nil
}
