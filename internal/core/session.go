package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sort"

	"lf-backend/internal/core/types"
	"lf-backend/internal/core/utils"
)

// Session drives the explanation-to-labeling-function loop: it hands out
// candidates to explain, turns submitted explanations into filtered parses,
// and owns the committed function set and the per-split label matrices.
// Parses and filter decisions are transient per Apply call; only Commit and
// AddAliases mutate session state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingApply
	StateAwaitingCommit
)

type SessionConfig struct {
	// Splits maps a split index (0 = unlabeled/train by convention) to its
	// candidates. Required.
	Splits map[int][]*types.Candidate
	// Gold holds optional ground-truth labels per split, parallel to the
	// split's candidates. Used only by Analyze and for balancing Next.
	Gold map[int][]int
	// FilterSplit is the split evaluated by the signature-based filter
	// stages and by Next.
	Filter int
	Seed   int64
	// EntityX and EntityY rename the surface words referring to the marked
	// entities. Empty means the defaults ("x", "y").
	EntityX string
	EntityY string
	Eval    EvalOptions
}

type Session struct {
	cfg     SessionConfig
	grammar *Grammar
	parser  *SemanticParser
	bank    *FilterBank
	cache   *SignatureCache

	byId    map[string]*types.Candidate
	order   []string // seeded iteration order over the filter split
	cursor  int
	served  string // most recent candidate handed out by Next
	anchors map[string]string

	committed []*LabelingFunction
	matrices  map[int]*LabelMatrix

	lastSurvivors []*Parse
	state         SessionState
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if len(cfg.Splits) == 0 {
		return nil, fmt.Errorf("session requires at least one split")
	}
	if _, ok := cfg.Splits[cfg.Filter]; !ok {
		return nil, fmt.Errorf("unknown filter split %d", cfg.Filter)
	}
	for split, labels := range cfg.Gold {
		candidates, ok := cfg.Splits[split]
		if !ok {
			return nil, fmt.Errorf("gold labels reference unknown split %d", split)
		}
		if len(labels) != len(candidates) {
			return nil, fmt.Errorf("split %d has %d candidates but %d gold labels", split, len(candidates), len(labels))
		}
	}

	grammar, err := NewGrammar()
	if err != nil {
		return nil, err
	}
	if cfg.EntityX != "" && cfg.EntityY != "" {
		grammar.RenameEntities(cfg.EntityX, cfg.EntityY)
	}

	s := &Session{
		cfg:      cfg,
		grammar:  grammar,
		parser:   NewSemanticParser(grammar),
		bank:     NewFilterBank(),
		cache:    NewSignatureCache(),
		byId:     make(map[string]*types.Candidate),
		anchors:  make(map[string]string),
		matrices: make(map[int]*LabelMatrix),
	}

	for split, candidates := range cfg.Splits {
		s.matrices[split] = NewLabelMatrix(len(candidates))
		for _, c := range candidates {
			if c.Id == "" {
				return nil, fmt.Errorf("candidate in split %d has empty id", split)
			}
			if _, dup := s.byId[c.Id]; dup {
				return nil, fmt.Errorf("duplicate candidate id %q", c.Id)
			}
			s.byId[c.Id] = c
		}
	}

	s.order = balancedOrder(cfg.Splits[cfg.Filter], cfg.Gold[cfg.Filter], cfg.Seed)
	return s, nil
}

// balancedOrder shuffles the split with the session seed, interleaving gold
// label groups round-robin when labels are available so that consecutive
// candidates alternate classes.
func balancedOrder(candidates []*types.Candidate, gold []int, seed int64) []string {
	rng := rand.New(rand.NewSource(seed))

	groups := make(map[int][]string)
	for i, c := range candidates {
		label := 0
		if len(gold) == len(candidates) {
			label = gold[i]
		}
		groups[label] = append(groups[label], c.Id)
	}

	labels := make([]int, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	for _, label := range labels {
		ids := groups[label]
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}

	order := make([]string, 0, len(candidates))
	for {
		progressed := false
		for _, label := range labels {
			if len(groups[label]) == 0 {
				continue
			}
			order = append(order, groups[label][0])
			groups[label] = groups[label][1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return order
}

func (s *Session) State() SessionState { return s.state }

func (s *Session) Grammar() *Grammar { return s.grammar }

// Next returns the next candidate in the session's balanced, seeded order,
// skipping candidates already anchored to an explanation. The second return
// is false once the split is exhausted.
func (s *Session) Next() (*types.Candidate, bool) {
	anchored := make(map[string]struct{}, len(s.anchors))
	for _, id := range s.anchors {
		anchored[id] = struct{}{}
	}
	for s.cursor < len(s.order) {
		id := s.order[s.cursor]
		s.cursor++
		if _, used := anchored[id]; used {
			continue
		}
		s.served = id
		s.state = StateAwaitingApply
		return s.byId[id], true
	}
	return nil, false
}

type UnparseableExplanation struct {
	Name      string
	Condition string
}

type SkippedExplanation struct {
	Name   string
	Reason string
}

// ApplyResult is the full accounting of one Apply call: the surviving
// parses, the stage-by-stage filter report, and every explanation that never
// reached the bank along with why.
type ApplyResult struct {
	Survivors   []*Parse
	Report      *FilterReport
	Unparseable []UnparseableExplanation
	Skipped     []SkippedExplanation
}

// Apply parses and filters a batch of explanations. One bad explanation
// never blocks the rest of the batch; only structural violations (an anchor
// id that does not exist in the corpus) are fatal. Committed state is not
// touched.
func (s *Session) Apply(ctx context.Context, explanations []*Explanation) (*ApplyResult, error) {
	result := &ApplyResult{}

	var valid []*Explanation
	for _, exp := range explanations {
		if exp.Label == Abstain {
			result.Skipped = append(result.Skipped, SkippedExplanation{
				Name:   exp.Name,
				Reason: fmt.Sprintf("label %d is the reserved abstain value", Abstain),
			})
			continue
		}

		if exp.AnchorId == "" {
			if s.served == "" {
				result.Skipped = append(result.Skipped, SkippedExplanation{
					Name:   exp.Name,
					Reason: "no anchor candidate given and none served by Next",
				})
				continue
			}
			exp.AnchorId = s.served
		}

		if _, ok := s.byId[exp.AnchorId]; !ok {
			return nil, fmt.Errorf("explanation %q references unknown candidate %q", exp.Name, exp.AnchorId)
		}

		if prior, linked := s.anchors[exp.Name]; linked && prior != exp.AnchorId {
			result.Skipped = append(result.Skipped, SkippedExplanation{
				Name:   exp.Name,
				Reason: fmt.Sprintf("duplicate anchor binding: already linked to %q", prior),
			})
			continue
		}
		s.anchors[exp.Name] = exp.AnchorId
		valid = append(valid, exp)
	}

	var parses []*Parse
	for i, exprs := range s.parseAll(valid) {
		exp := valid[i]
		if len(exprs) == 0 {
			result.Unparseable = append(result.Unparseable, UnparseableExplanation{
				Name:      exp.Name,
				Condition: exp.Condition,
			})
			continue
		}
		for _, expr := range exprs {
			parses = append(parses, NewParse(exp, expr))
		}
	}

	survivors, report, err := s.bank.Run(s.filterContext(ctx), parses)
	if err != nil {
		return nil, err
	}

	result.Survivors = survivors
	result.Report = report
	s.lastSurvivors = survivors
	// With nothing committable, the session stays out of the commit-expected
	// state.
	if len(survivors) > 0 {
		s.state = StateAwaitingCommit
	}

	slog.Info("apply complete",
		"explanations", len(explanations),
		"parses", len(parses),
		"survivors", len(survivors),
		"unparseable", len(result.Unparseable),
	)
	return result, nil
}

type parseTask struct {
	idx       int
	condition string
}

type parsedCondition struct {
	idx   int
	exprs []Expr
}

// parseAll runs the chart parser over a batch of conditions in a worker
// pool. Results come back indexed, so the output order matches the input
// regardless of scheduling.
func (s *Session) parseAll(explanations []*Explanation) [][]Expr {
	out := make([][]Expr, len(explanations))
	if len(explanations) == 0 {
		return out
	}

	queue := make(chan parseTask, len(explanations))
	completed := make(chan utils.CompletedTask[parsedCondition], len(explanations))
	for i, exp := range explanations {
		queue <- parseTask{idx: i, condition: exp.Condition}
	}
	close(queue)

	utils.RunInPool(func(task parseTask) (parsedCondition, error) {
		return parsedCondition{idx: task.idx, exprs: s.parser.Parse(task.condition)}, nil
	}, queue, completed, runtime.NumCPU())

	for done := range completed {
		out[done.Result.idx] = done.Result.exprs
	}
	return out
}

func (s *Session) filterContext(ctx context.Context) *FilterContext {
	anchors := make(map[string]*types.Candidate, len(s.byId))
	for id, c := range s.byId {
		anchors[id] = c
	}
	return &FilterContext{
		Ctx:        ctx,
		Committed:  s.committed,
		Split:      s.cfg.Filter,
		Candidates: s.cfg.Splits[s.cfg.Filter],
		Anchors:    anchors,
		Cache:      s.cache,
		Eval:       s.cfg.Eval,
	}
}

// AddAliases extends the grammar with named synonym sets. Existing committed
// functions are untouched; parses generated before the alias existed are not
// regenerated, a fresh Apply is needed to benefit.
func (s *Session) AddAliases(aliases map[string][]string) error {
	for name, members := range aliases {
		if err := s.grammar.RegisterAlias(name, members); err != nil {
			return err
		}
	}
	slog.Info("grammar extended", "aliases", len(aliases), "version", s.grammar.Version())
	return nil
}

// Commit compiles the given parses (or the survivors of the last Apply when
// nil) into the permanent function set and appends their label columns to
// every split's matrix. Matrices are append-only: existing columns never
// change.
func (s *Session) Commit(ctx context.Context, parses []*Parse) ([]*LabelingFunction, error) {
	if parses == nil {
		parses = s.lastSurvivors
	}
	if len(parses) == 0 {
		return nil, fmt.Errorf("no parses to commit")
	}

	existing := make(map[string]struct{}, len(s.committed))
	for _, lf := range s.committed {
		existing[lf.Identity()] = struct{}{}
	}

	var added []*LabelingFunction
	for _, p := range parses {
		if _, dup := existing[p.Identity()]; dup {
			slog.Warn("skipping already committed parse", "identity", p.Identity())
			continue
		}

		lf := Compile(p)
		lf.Name = s.uniqueLFName(p.Explanation.Name)

		for split, candidates := range s.cfg.Splits {
			sig, err := s.cache.Signature(ctx, lf, split, candidates, s.cfg.Eval)
			if err != nil {
				return nil, err
			}
			s.matrices[split].AppendColumn(lf.Name, sig)
		}

		existing[p.Identity()] = struct{}{}
		s.committed = append(s.committed, lf)
		added = append(added, lf)
	}

	s.lastSurvivors = nil
	s.state = StateIdle

	slog.Info("committed labeling functions", "added", len(added), "total", len(s.committed))
	return added, nil
}

// uniqueLFName disambiguates multiple committed parses of one explanation.
func (s *Session) uniqueLFName(base string) string {
	name := base
	for i := 1; ; i++ {
		clash := false
		for _, lf := range s.committed {
			if lf.Name == name {
				clash = true
				break
			}
		}
		if !clash {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// Survivors returns the parses that survived the most recent Apply and have
// not yet been committed.
func (s *Session) Survivors() []*Parse {
	return append([]*Parse(nil), s.lastSurvivors...)
}

func (s *Session) LFs() []*LabelingFunction {
	return append([]*LabelingFunction(nil), s.committed...)
}

func (s *Session) LabelMatrix(split int) (*LabelMatrix, error) {
	m, ok := s.matrices[split]
	if !ok {
		return nil, fmt.Errorf("unknown split %d", split)
	}
	return m, nil
}

// LabelMatrix is the sparse candidates-by-functions label matrix for one
// split. Columns are appended at commit time and never rewritten.
type LabelMatrix struct {
	rows    int
	LFNames []string
	Columns []Signature
}

func NewLabelMatrix(rows int) *LabelMatrix {
	return &LabelMatrix{rows: rows}
}

func (m *LabelMatrix) Rows() int { return m.rows }

func (m *LabelMatrix) AppendColumn(name string, sig Signature) {
	m.LFNames = append(m.LFNames, name)
	m.Columns = append(m.Columns, sig)
}

// MatrixEntry is one non-abstain cell of the sparse matrix.
type MatrixEntry struct {
	LF        string
	Candidate int
	Label     int
}

func (m *LabelMatrix) Sparse() []MatrixEntry {
	var out []MatrixEntry
	for col, sig := range m.Columns {
		for row, label := range sig {
			if label != Abstain {
				out = append(out, MatrixEntry{LF: m.LFNames[col], Candidate: row, Label: label})
			}
		}
	}
	return out
}
