package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "lf-backend/internal/api"
	"lf-backend/internal/core/types"
	"lf-backend/internal/corpus"
	"lf-backend/internal/database"
	"lf-backend/pkg/api"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

func testCandidate(id, text string, x, y types.Span, ner map[int]string, tagged bool) *types.Candidate {
	fields := strings.Fields(text)
	tokens := make([]types.Token, 0, len(fields))
	offset := 0
	for i, w := range fields {
		start := strings.Index(text[offset:], w) + offset
		tok := types.Token{Text: w, Start: start, End: start + len(w)}
		if tag, ok := ner[i]; ok {
			tok.NER = tag
		}
		tokens = append(tokens, tok)
		offset = tok.End
	}
	return &types.Candidate{Id: id, Tokens: tokens, X: x, Y: y, NERTagged: tagged}
}

func testCorpus(t *testing.T) *corpus.Corpus {
	candidates := []*types.Candidate{
		testCandidate("c-wedding", "John and his fiance Mary went to Paris",
			types.Span{Start: 0, End: 1}, types.Span{Start: 4, End: 5},
			map[int]string{0: types.NerPerson, 4: types.NerPerson, 7: types.NerLocation}, true),
		testCandidate("c-meeting", "Bob met Alice in Paris yesterday",
			types.Span{Start: 0, End: 1}, types.Span{Start: 2, End: 3}, nil, false),
		testCandidate("c-letter", "Carol wrote to Dave about work",
			types.Span{Start: 0, End: 1}, types.Span{Start: 3, End: 4}, nil, false),
	}
	c, err := corpus.New(map[int][]*types.Candidate{0: candidates}, nil)
	require.NoError(t, err)
	return c
}

func newTestRouter(t *testing.T, db *gorm.DB) chi.Router {
	service := backend.NewBackendService(db, testCorpus(t))
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func doJSON[T any](t *testing.T, router chi.Router, method, path string, payload any) (int, T) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out T
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func createSession(t *testing.T, router chi.Router, name string) uuid.UUID {
	t.Helper()
	code, resp := doJSON[api.CreateSessionResponse](t, router, http.MethodPost, "/sessions",
		api.CreateSessionRequest{Name: name, Seed: 1})
	require.Equal(t, http.StatusOK, code)
	require.NotEqual(t, uuid.Nil, resp.SessionId)
	return resp.SessionId
}

func TestCreateAndListSessions(t *testing.T) {
	router := newTestRouter(t, createDB(t))

	id := createSession(t, router, "demo")

	code, sessions := doJSON[[]api.SessionResponse](t, router, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].SessionId)
	assert.Equal(t, "demo", sessions[0].Name)
	assert.Equal(t, database.SessionIdle, sessions[0].State)
}

func TestCreateSessionRejectsBadName(t *testing.T) {
	router := newTestRouter(t, createDB(t))

	code, _ := doJSON[api.CreateSessionResponse](t, router, http.MethodPost, "/sessions",
		api.CreateSessionRequest{Name: "bad name!"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSessionNotFound(t *testing.T) {
	router := newTestRouter(t, createDB(t))

	code, _ := doJSON[api.CandidateResponse](t, router, http.MethodGet,
		fmt.Sprintf("/sessions/%s/next", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExplanationWorkflow(t *testing.T) {
	db := createDB(t)
	router := newTestRouter(t, db)
	id := createSession(t, router, "workflow")
	base := "/sessions/" + id.String()

	code, candidate := doJSON[api.CandidateResponse](t, router, http.MethodGet, base+"/next", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, candidate.Exhausted)
	assert.NotEmpty(t, candidate.Tokens)

	code, applied := doJSON[api.ApplyResponse](t, router, http.MethodPost, base+"/apply", api.ApplyRequest{
		Explanations: []api.Explanation{{
			Name:      "marriage",
			Label:     1,
			Condition: "the word 'fiance' is between x and y",
			AnchorId:  "c-wedding",
		}},
	})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, applied.Survivors, 1)
	assert.Equal(t, `CONTAINS(BETWEEN(X, Y), "fiance")`, applied.Survivors[0].Canonical)
	assert.Len(t, applied.Stages, 5)

	code, stats := doJSON[api.AnalyzeResponse](t, router, http.MethodPost, base+"/analyze", api.AnalyzeRequest{Split: 0})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, stats.Stats, 1)
	assert.InDelta(t, 1.0/3.0, stats.Stats[0].Coverage, 1e-9)

	code, committed := doJSON[api.CommitResponse](t, router, http.MethodPost, base+"/commit", api.CommitRequest{})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, committed.Committed, 1)
	assert.Equal(t, "marriage", committed.Committed[0].Name)

	code, lfs := doJSON[[]api.LabelingFunctionResponse](t, router, http.MethodGet, base+"/lfs", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, lfs, 1)
	assert.Equal(t, `return 1 if CONTAINS(BETWEEN(X, Y), "fiance") else 0`, lfs[0].Pseudocode)

	code, matrix := doJSON[api.MatrixResponse](t, router, http.MethodGet, base+"/matrix?split=0", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, matrix.Rows)
	assert.Equal(t, []string{"marriage"}, matrix.LFNames)
	assert.Equal(t, []api.MatrixEntry{{LF: "marriage", Candidate: 0, Label: 1}}, matrix.Entries)

	// Explanations are persisted as they are applied.
	rows, err := database.GetExplanations(context.Background(), db, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "marriage", rows[0].Name)

	code, _ = doJSON[api.MatrixResponse](t, router, http.MethodGet, base+"/matrix?split=9", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCommitSelectsRequestedCanonicals(t *testing.T) {
	router := newTestRouter(t, createDB(t))
	id := createSession(t, router, "subset")
	base := "/sessions/" + id.String()

	code, applied := doJSON[api.ApplyResponse](t, router, http.MethodPost, base+"/apply", api.ApplyRequest{
		Explanations: []api.Explanation{
			{Name: "marriage", Label: 1, Condition: "the word 'fiance' is between x and y", AnchorId: "c-wedding"},
			{Name: "famous", Label: 2, Condition: "'paris' appears in the sentence", AnchorId: "c-meeting"},
		},
	})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, applied.Survivors, 2)

	code, committed := doJSON[api.CommitResponse](t, router, http.MethodPost, base+"/commit",
		api.CommitRequest{Canonicals: []string{`CONTAINS(BETWEEN(X, Y), "fiance")`}})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, committed.Committed, 1)
	assert.Equal(t, "marriage", committed.Committed[0].Name)

	code, _ = doJSON[api.CommitResponse](t, router, http.MethodPost, base+"/commit",
		api.CommitRequest{Canonicals: []string{"NER(X, PERSON)"}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestAddAliases(t *testing.T) {
	router := newTestRouter(t, createDB(t))
	id := createSession(t, router, "aliases")
	base := "/sessions/" + id.String()

	code, resp := doJSON[api.AddAliasesResponse](t, router, http.MethodPost, base+"/aliases",
		api.AddAliasesRequest{Aliases: map[string][]string{"spouse": {"wife", "husband", "fiance"}}})
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, resp.GrammarVersion, 0)

	code, applied := doJSON[api.ApplyResponse](t, router, http.MethodPost, base+"/apply", api.ApplyRequest{
		Explanations: []api.Explanation{{
			Name:      "marriage",
			Label:     1,
			Condition: "a spouse word appears between x and y",
			AnchorId:  "c-wedding",
		}},
	})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, applied.Survivors, 1)
	assert.Equal(t, `CONTAINS(BETWEEN(X, Y), {"fiance", "husband", "wife"})`, applied.Survivors[0].Canonical)

	code, _ = doJSON[api.AddAliasesResponse](t, router, http.MethodPost, base+"/aliases",
		api.AddAliasesRequest{Aliases: map[string][]string{}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestRestoreSessions(t *testing.T) {
	db := createDB(t)
	router := newTestRouter(t, db)
	id := createSession(t, router, "restorable")
	base := "/sessions/" + id.String()

	code, _ := doJSON[api.ApplyResponse](t, router, http.MethodPost, base+"/apply", api.ApplyRequest{
		Explanations: []api.Explanation{{
			Name:      "marriage",
			Label:     1,
			Condition: "the word 'fiance' is between x and y",
			AnchorId:  "c-wedding",
		}},
	})
	require.Equal(t, http.StatusOK, code)
	code, _ = doJSON[api.CommitResponse](t, router, http.MethodPost, base+"/commit", api.CommitRequest{})
	require.Equal(t, http.StatusOK, code)

	// A fresh process over the same database sees the committed functions.
	restored := backend.NewBackendService(db, testCorpus(t))
	require.NoError(t, restored.RestoreSessions(context.Background()))
	router2 := chi.NewRouter()
	restored.AddRoutes(router2)

	code, lfs := doJSON[[]api.LabelingFunctionResponse](t, router2, http.MethodGet, base+"/lfs", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, lfs, 1)
	assert.Equal(t, "marriage", lfs[0].Name)
	assert.Equal(t, `CONTAINS(BETWEEN(X, Y), "fiance")`, lfs[0].Canonical)

	code, matrix := doJSON[api.MatrixResponse](t, router2, http.MethodGet, base+"/matrix?split=0", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []api.MatrixEntry{{LF: "marriage", Candidate: 0, Label: 1}}, matrix.Entries)
}
