package api

import (
	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	Name        string `json:"name"`
	Seed        int64  `json:"seed"`
	FilterSplit int    `json:"filter_split"`
	EntityX     string `json:"entity_x,omitempty"`
	EntityY     string `json:"entity_y,omitempty"`
}

type CreateSessionResponse struct {
	SessionId uuid.UUID `json:"session_id"`
}

type SessionResponse struct {
	SessionId   uuid.UUID `json:"session_id"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Seed        int64     `json:"seed"`
	FilterSplit int       `json:"filter_split"`
}

type Token struct {
	Text  string `json:"text"`
	NER   string `json:"ner,omitempty"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type CandidateResponse struct {
	Id        string  `json:"id"`
	Tokens    []Token `json:"tokens"`
	X         Span    `json:"x"`
	Y         Span    `json:"y"`
	Exhausted bool    `json:"exhausted"`
}

type Explanation struct {
	Name      string            `json:"name"`
	Label     int               `json:"label"`
	Condition string            `json:"condition"`
	AnchorId  string            `json:"anchor_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type ApplyRequest struct {
	Explanations []Explanation `json:"explanations"`
}

type ParseResponse struct {
	Explanation string `json:"explanation"`
	Label       int    `json:"label"`
	Canonical   string `json:"canonical"`
	Pseudocode  string `json:"pseudocode"`
}

type FilterDecision struct {
	Explanation string `json:"explanation"`
	Canonical   string `json:"canonical"`
	Stage       string `json:"stage"`
	Reason      string `json:"reason"`
	Retained    string `json:"retained,omitempty"`
}

type StageReport struct {
	Stage   string `json:"stage"`
	Kept    int    `json:"kept"`
	Removed int    `json:"removed"`
}

type SkippedExplanation struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type UnparseableExplanation struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
}

type ApplyResponse struct {
	Survivors   []ParseResponse          `json:"survivors"`
	Stages      []StageReport            `json:"stages"`
	Removed     []FilterDecision         `json:"removed"`
	Unparseable []UnparseableExplanation `json:"unparseable,omitempty"`
	Skipped     []SkippedExplanation     `json:"skipped,omitempty"`
}

type AddAliasesRequest struct {
	Aliases map[string][]string `json:"aliases"`
}

type AddAliasesResponse struct {
	GrammarVersion int `json:"grammar_version"`
}

type CommitRequest struct {
	// Canonicals selects a subset of the surviving parses; empty commits all
	// of them.
	Canonicals []string `json:"canonicals,omitempty"`
}

type LabelingFunctionResponse struct {
	Name       string `json:"name"`
	Label      int    `json:"label"`
	Canonical  string `json:"canonical"`
	Pseudocode string `json:"pseudocode"`
}

type CommitResponse struct {
	Committed []LabelingFunctionResponse `json:"committed"`
}

type AnalyzeRequest struct {
	Split int `json:"split"`
}

type ParseStats struct {
	Name       string  `json:"name"`
	Label      int     `json:"label"`
	Canonical  string  `json:"canonical"`
	Pseudocode string  `json:"pseudocode"`
	Polarity   []int   `json:"polarity"`
	Coverage   float64 `json:"coverage"`
	Overlap    float64 `json:"overlap"`
	Conflict   float64 `json:"conflict"`
	Accuracy   float64 `json:"accuracy"`
	HasGold    bool    `json:"has_gold"`
}

type AnalyzeResponse struct {
	Stats []ParseStats `json:"stats"`
}

type MatrixQuery struct {
	Split int `schema:"split"`
}

type MatrixEntry struct {
	LF        string `json:"lf"`
	Candidate int    `json:"candidate"`
	Label     int    `json:"label"`
}

type MatrixResponse struct {
	Split   int           `json:"split"`
	Rows    int           `json:"rows"`
	LFNames []string      `json:"lf_names"`
	Entries []MatrixEntry `json:"entries"`
}
