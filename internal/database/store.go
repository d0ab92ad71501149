package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func CreateSession(ctx context.Context, db *gorm.DB, session *Session) error {
	if session.CreationTime.IsZero() {
		session.CreationTime = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("error creating session", "session_id", session.Id, "error", err)
		return fmt.Errorf("could not create session: %w", err)
	}
	return nil
}

func GetSession(ctx context.Context, db *gorm.DB, sessionId uuid.UUID) (*Session, error) {
	var session Session
	if err := db.WithContext(ctx).First(&session, "id = ?", sessionId).Error; err != nil {
		return nil, fmt.Errorf("could not load session %s: %w", sessionId, err)
	}
	return &session, nil
}

func ListSessions(ctx context.Context, db *gorm.DB) ([]Session, error) {
	var sessions []Session
	if err := db.WithContext(ctx).Order("creation_time").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("could not list sessions: %w", err)
	}
	return sessions, nil
}

func UpdateSessionState(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, state string) error {
	if err := db.WithContext(ctx).Model(&Session{Id: sessionId}).Update("state", state).Error; err != nil {
		slog.Error("error updating session state", "session_id", sessionId, "state", state, "error", err)
		return err
	}
	return nil
}

// SaveExplanation upserts by (session, name): resubmitting an explanation
// with the same name overwrites the stored row rather than duplicating it.
func SaveExplanation(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, name string, label int, condition, anchorId string, metadata map[string]string) error {
	var meta []byte
	if len(metadata) > 0 {
		var err error
		meta, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("could not marshal explanation metadata: %w", err)
		}
	}

	row := Explanation{
		SessionId: sessionId,
		Name:      name,
		Label:     label,
		Condition: condition,
		AnchorId:  anchorId,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("could not save explanation %q: %w", name, err)
	}
	return nil
}

func GetExplanations(ctx context.Context, db *gorm.DB, sessionId uuid.UUID) ([]Explanation, error) {
	var rows []Explanation
	if err := db.WithContext(ctx).Where("session_id = ?", sessionId).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not query explanations: %w", err)
	}
	return rows, nil
}

// SaveLabelingFunction persists one committed function with its matrix
// columns in a single transaction, so a partial commit never reaches disk.
// Cells hold only non-abstain entries.
func SaveLabelingFunction(ctx context.Context, db *gorm.DB, lf *LabelingFunction, cells []LabelCell) error {
	lf.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Create(lf).Error; err != nil {
			return fmt.Errorf("could not save labeling function %q: %w", lf.Name, err)
		}
		if len(cells) > 0 {
			if err := txn.CreateInBatches(cells, 500).Error; err != nil {
				return fmt.Errorf("could not save label cells for %q: %w", lf.Name, err)
			}
		}
		return nil
	})
}

func GetLabelingFunctions(ctx context.Context, db *gorm.DB, sessionId uuid.UUID) ([]LabelingFunction, error) {
	var rows []LabelingFunction
	if err := db.WithContext(ctx).Where("session_id = ?", sessionId).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not query labeling functions: %w", err)
	}
	return rows, nil
}

func GetLabelCells(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, split int) ([]LabelCell, error) {
	var cells []LabelCell
	if err := db.WithContext(ctx).
		Where("session_id = ? AND split = ?", sessionId, split).
		Order("lf_name, candidate_index").
		Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("could not query label cells: %w", err)
	}
	return cells, nil
}

func SaveAlias(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, name string, members []string) error {
	b, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("could not marshal alias members: %w", err)
	}
	row := Alias{
		SessionId: sessionId,
		Name:      name,
		Members:   b,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("could not save alias %q: %w", name, err)
	}
	return nil
}

func GetAliases(ctx context.Context, db *gorm.DB, sessionId uuid.UUID) (map[string][]string, error) {
	var rows []Alias
	if err := db.WithContext(ctx).Where("session_id = ?", sessionId).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not query aliases: %w", err)
	}

	out := make(map[string][]string, len(rows))
	for _, r := range rows {
		var members []string
		if err := json.Unmarshal(r.Members, &members); err != nil {
			return nil, fmt.Errorf("invalid members JSON for alias %q: %w", r.Name, err)
		}
		out[r.Name] = members
	}
	return out, nil
}
