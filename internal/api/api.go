package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"lf-backend/internal/core"
	"lf-backend/internal/core/utils"
	"lf-backend/internal/corpus"
	"lf-backend/internal/database"
	"lf-backend/pkg/api"
)

const maxConcurrentSessions = 1024

type BackendService struct {
	db     *gorm.DB
	corpus *corpus.Corpus

	mu       sync.Mutex
	sessions map[uuid.UUID]*core.Session

	// Sessions are single-writer: concurrent requests against the same
	// session serialize on its key, requests to different sessions do not
	// contend.
	locks utils.MutexMap
}

func NewBackendService(db *gorm.DB, c *corpus.Corpus) *BackendService {
	return &BackendService{
		db:       db,
		corpus:   c,
		sessions: make(map[uuid.UUID]*core.Session),
		locks:    utils.NewMutexMap(maxConcurrentSessions),
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateSession))
		r.Get("/", RestHandler(s.ListSessions))
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/next", RestHandler(s.NextCandidate))
			r.Post("/apply", RestHandler(s.ApplyExplanations))
			r.Post("/aliases", RestHandler(s.AddAliases))
			r.Post("/commit", RestHandler(s.Commit))
			r.Post("/analyze", RestHandler(s.Analyze))
			r.Get("/lfs", RestHandler(s.GetLabelingFunctions))
			r.Get("/matrix", RestHandler(s.GetLabelMatrix))
		})
	})
}

func (s *BackendService) CreateSession(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateSessionRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		if err := validateName(req.Name); err != nil {
			return nil, err
		}
	}

	session, err := core.NewSession(core.SessionConfig{
		Splits:  s.corpus.Splits(),
		Gold:    s.corpus.GoldLabels(),
		Filter:  req.FilterSplit,
		Seed:    req.Seed,
		EntityX: req.EntityX,
		EntityY: req.EntityY,
	})
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "unable to create session: %v", err)
	}

	record := &database.Session{
		Id:           uuid.New(),
		Name:         req.Name,
		State:        database.SessionIdle,
		Seed:         req.Seed,
		FilterSplit:  req.FilterSplit,
		EntityX:      req.EntityX,
		EntityY:      req.EntityY,
		CreationTime: time.Now().UTC(),
	}
	if err := database.CreateSession(r.Context(), s.db, record); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create session entry")
	}

	s.mu.Lock()
	s.sessions[record.Id] = session
	s.mu.Unlock()

	slog.Info("created session", "session_id", record.Id, "name", req.Name)
	return api.CreateSessionResponse{SessionId: record.Id}, nil
}

func (s *BackendService) ListSessions(r *http.Request) (any, error) {
	records, err := database.ListSessions(r.Context(), s.db)
	if err != nil {
		slog.Error("error listing sessions", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing sessions")
	}

	out := make([]api.SessionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, api.SessionResponse{
			SessionId:   rec.Id,
			Name:        rec.Name,
			State:       rec.State,
			Seed:        rec.Seed,
			FilterSplit: rec.FilterSplit,
		})
	}
	return out, nil
}

// session resolves the in-memory session for a request and takes its
// per-session lock; the caller must defer the returned unlock. Sessions live
// for the process lifetime; a session id from a previous process is a 404
// only when it was never persisted.
func (s *BackendService) session(r *http.Request) (uuid.UUID, *core.Session, func(), error) {
	sessionId, err := URLParamUUID(r, "session_id")
	if err != nil {
		return uuid.Nil, nil, nil, err
	}
	s.mu.Lock()
	session, ok := s.sessions[sessionId]
	s.mu.Unlock()
	if !ok {
		return uuid.Nil, nil, nil, CodedErrorf(http.StatusNotFound, "session not found")
	}

	if err := s.locks.Lock(sessionId.String()); err != nil {
		return uuid.Nil, nil, nil, CodedErrorf(http.StatusServiceUnavailable, "too many concurrent sessions")
	}
	unlock := func() {
		if err := s.locks.Unlock(sessionId.String()); err != nil {
			slog.Error("error releasing session lock", "session_id", sessionId, "error", err)
		}
	}
	return sessionId, session, unlock, nil
}

func (s *BackendService) NextCandidate(r *http.Request) (any, error) {
	sessionId, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, ok := session.Next()
	if !ok {
		return api.CandidateResponse{Exhausted: true}, nil
	}

	if err := database.UpdateSessionState(r.Context(), s.db, sessionId, database.SessionAwaitingApply); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update session state")
	}

	tokens := make([]api.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		tokens = append(tokens, api.Token{Text: t.Text, NER: t.NER, Start: t.Start, End: t.End})
	}
	return api.CandidateResponse{
		Id:     c.Id,
		Tokens: tokens,
		X:      api.Span{Start: c.X.Start, End: c.X.End},
		Y:      api.Span{Start: c.Y.Start, End: c.Y.End},
	}, nil
}

func (s *BackendService) ApplyExplanations(r *http.Request) (any, error) {
	sessionId, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := ParseRequest[api.ApplyRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Explanations) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "at least one explanation is required")
	}

	explanations := make([]*core.Explanation, 0, len(req.Explanations))
	for _, e := range req.Explanations {
		if e.Name == "" {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "explanation name is required")
		}
		if err := validateName(e.Name); err != nil {
			return nil, err
		}
		explanations = append(explanations, &core.Explanation{
			Name:      e.Name,
			Label:     e.Label,
			Condition: e.Condition,
			AnchorId:  e.AnchorId,
			Metadata:  e.Metadata,
		})
	}

	ctx := r.Context()
	result, err := session.Apply(ctx, explanations)
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "apply failed: %v", err)
	}

	for _, e := range explanations {
		if err := database.SaveExplanation(ctx, s.db, sessionId, e.Name, e.Label, e.Condition, e.AnchorId, e.Metadata); err != nil {
			slog.Error("error saving explanation", "session_id", sessionId, "name", e.Name, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to save explanation")
		}
	}
	if len(result.Survivors) > 0 {
		if err := database.UpdateSessionState(ctx, s.db, sessionId, database.SessionAwaitingCommit); err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to update session state")
		}
	}

	return buildApplyResponse(result), nil
}

func buildApplyResponse(result *core.ApplyResult) api.ApplyResponse {
	resp := api.ApplyResponse{}
	for _, p := range result.Survivors {
		lf := core.Compile(p)
		resp.Survivors = append(resp.Survivors, api.ParseResponse{
			Explanation: p.Explanation.Name,
			Label:       p.Explanation.Label,
			Canonical:   p.Canonical(),
			Pseudocode:  lf.Pseudocode(),
		})
	}
	if result.Report != nil {
		for _, st := range result.Report.Stages {
			resp.Stages = append(resp.Stages, api.StageReport{Stage: st.Stage, Kept: st.Kept, Removed: st.Removed})
		}
		for _, d := range result.Report.Removed {
			resp.Removed = append(resp.Removed, api.FilterDecision{
				Explanation: d.Parse.Explanation.Name,
				Canonical:   d.Parse.Canonical(),
				Stage:       d.Stage,
				Reason:      d.Reason,
				Retained:    d.Retained,
			})
		}
	}
	for _, u := range result.Unparseable {
		resp.Unparseable = append(resp.Unparseable, api.UnparseableExplanation{Name: u.Name, Condition: u.Condition})
	}
	for _, sk := range result.Skipped {
		resp.Skipped = append(resp.Skipped, api.SkippedExplanation{Name: sk.Name, Reason: sk.Reason})
	}
	return resp
}

func (s *BackendService) AddAliases(r *http.Request) (any, error) {
	sessionId, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := ParseRequest[api.AddAliasesRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Aliases) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "at least one alias is required")
	}

	if err := session.AddAliases(req.Aliases); err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "unable to register aliases: %v", err)
	}

	ctx := r.Context()
	for name := range req.Aliases {
		members := session.Grammar().Aliases()[name]
		if err := database.SaveAlias(ctx, s.db, sessionId, name, members); err != nil {
			slog.Error("error saving alias", "session_id", sessionId, "alias", name, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to save alias")
		}
	}

	return api.AddAliasesResponse{GrammarVersion: session.Grammar().Version()}, nil
}

func (s *BackendService) Commit(r *http.Request) (any, error) {
	sessionId, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := ParseRequest[api.CommitRequest](r)
	if err != nil {
		return nil, err
	}

	var parses []*core.Parse
	if len(req.Canonicals) > 0 {
		want := make(map[string]struct{}, len(req.Canonicals))
		for _, c := range req.Canonicals {
			want[c] = struct{}{}
		}
		for _, p := range session.Survivors() {
			if _, ok := want[p.Canonical()]; ok {
				parses = append(parses, p)
			}
		}
		if len(parses) == 0 {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "no surviving parses match the requested canonicals")
		}
	}

	ctx := r.Context()
	added, err := session.Commit(ctx, parses)
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "commit failed: %v", err)
	}

	for _, lf := range added {
		if err := s.persistFunction(r, sessionId, session, lf); err != nil {
			return nil, err
		}
	}
	if err := database.UpdateSessionState(ctx, s.db, sessionId, database.SessionIdle); err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update session state")
	}

	resp := api.CommitResponse{}
	for _, lf := range added {
		resp.Committed = append(resp.Committed, api.LabelingFunctionResponse{
			Name:       lf.Name,
			Label:      lf.Label,
			Canonical:  lf.Canonical(),
			Pseudocode: lf.Pseudocode(),
		})
	}
	return resp, nil
}

func (s *BackendService) persistFunction(r *http.Request, sessionId uuid.UUID, session *core.Session, lf *core.LabelingFunction) error {
	var cells []database.LabelCell
	for _, split := range s.corpus.SplitIndices() {
		matrix, err := session.LabelMatrix(split)
		if err != nil {
			continue
		}
		for _, entry := range matrix.Sparse() {
			if entry.LF != lf.Name {
				continue
			}
			cells = append(cells, database.LabelCell{
				SessionId:      sessionId,
				LFName:         lf.Name,
				Split:          split,
				CandidateIndex: entry.Candidate,
				Label:          entry.Label,
			})
		}
	}

	record := &database.LabelingFunction{
		SessionId: sessionId,
		Name:      lf.Name,
		Label:     lf.Label,
		Canonical: lf.Canonical(),
	}
	if err := database.SaveLabelingFunction(r.Context(), s.db, record, cells); err != nil {
		slog.Error("error saving labeling function", "session_id", sessionId, "name", lf.Name, "error", err)
		return CodedErrorf(http.StatusInternalServerError, "failed to save labeling function")
	}
	return nil
}

func (s *BackendService) Analyze(r *http.Request) (any, error) {
	_, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := ParseRequest[api.AnalyzeRequest](r)
	if err != nil {
		return nil, err
	}

	stats, err := session.Analyze(r.Context(), session.Survivors(), req.Split)
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "analyze failed: %v", err)
	}

	resp := api.AnalyzeResponse{}
	for _, st := range stats {
		resp.Stats = append(resp.Stats, api.ParseStats{
			Name:       st.Name,
			Label:      st.Label,
			Canonical:  st.Canonical,
			Pseudocode: st.Pseudocode,
			Polarity:   st.Polarity,
			Coverage:   st.Coverage,
			Overlap:    st.Overlap,
			Conflict:   st.Conflict,
			Accuracy:   st.Accuracy,
			HasGold:    st.HasGold,
		})
	}
	return resp, nil
}

func (s *BackendService) GetLabelingFunctions(r *http.Request) (any, error) {
	_, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resp := make([]api.LabelingFunctionResponse, 0)
	for _, lf := range session.LFs() {
		resp = append(resp, api.LabelingFunctionResponse{
			Name:       lf.Name,
			Label:      lf.Label,
			Canonical:  lf.Canonical(),
			Pseudocode: lf.Pseudocode(),
		})
	}
	return resp, nil
}

func (s *BackendService) GetLabelMatrix(r *http.Request) (any, error) {
	_, session, unlock, err := s.session(r)
	if err != nil {
		return nil, err
	}
	defer unlock()

	params, err := ParseRequestQueryParams[api.MatrixQuery](r)
	if err != nil {
		return nil, err
	}

	matrix, err := session.LabelMatrix(params.Split)
	if err != nil {
		return nil, CodedErrorf(http.StatusNotFound, "unknown split %d", params.Split)
	}

	resp := api.MatrixResponse{
		Split:   params.Split,
		Rows:    matrix.Rows(),
		LFNames: matrix.LFNames,
		Entries: make([]api.MatrixEntry, 0),
	}
	for _, entry := range matrix.Sparse() {
		resp.Entries = append(resp.Entries, api.MatrixEntry{LF: entry.LF, Candidate: entry.Candidate, Label: entry.Label})
	}
	return resp, nil
}

// RestoreSessions reloads persisted sessions into memory at startup,
// replaying committed canonical forms through the grammar's own parser so
// the in-memory function set matches what was on disk.
func (s *BackendService) RestoreSessions(ctx context.Context) error {
	records, err := database.ListSessions(ctx, s.db)
	if err != nil {
		return err
	}

	for _, rec := range records {
		session, err := core.NewSession(core.SessionConfig{
			Splits:  s.corpus.Splits(),
			Gold:    s.corpus.GoldLabels(),
			Filter:  rec.FilterSplit,
			Seed:    rec.Seed,
			EntityX: rec.EntityX,
			EntityY: rec.EntityY,
		})
		if err != nil {
			slog.Error("error restoring session", "session_id", rec.Id, "error", err)
			continue
		}

		aliases, err := database.GetAliases(ctx, s.db, rec.Id)
		if err != nil {
			return err
		}
		if len(aliases) > 0 {
			if err := session.AddAliases(aliases); err != nil {
				return err
			}
		}

		lfs, err := database.GetLabelingFunctions(ctx, s.db, rec.Id)
		if err != nil {
			return err
		}
		if err := restoreFunctions(ctx, session, lfs); err != nil {
			return err
		}

		s.mu.Lock()
		s.sessions[rec.Id] = session
		s.mu.Unlock()
	}
	return nil
}

func restoreFunctions(ctx context.Context, session *core.Session, lfs []database.LabelingFunction) error {
	var parses []*core.Parse
	for _, rec := range lfs {
		expr, err := core.ParseCanonicalPredicate(rec.Canonical)
		if err != nil {
			return fmt.Errorf("stored canonical form %q no longer parses: %w", rec.Canonical, err)
		}
		exp := &core.Explanation{Name: rec.Name, Label: rec.Label, Condition: rec.Canonical}
		parses = append(parses, core.NewParse(exp, expr))
	}
	if len(parses) == 0 {
		return nil
	}
	_, err := session.Commit(ctx, parses)
	return err
}
