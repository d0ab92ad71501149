package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SessionIdle           string = "IDLE"
	SessionAwaitingApply  string = "AWAITING_APPLY"
	SessionAwaitingCommit string = "AWAITING_COMMIT"
)

type Session struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name         string
	State        string `gorm:"size:20;not null"`
	Seed         int64
	FilterSplit  int
	EntityX      string `gorm:"size:64"`
	EntityY      string `gorm:"size:64"`
	CreationTime time.Time

	Explanations []Explanation      `gorm:"foreignKey:SessionId;constraint:OnDelete:CASCADE"`
	Functions    []LabelingFunction `gorm:"foreignKey:SessionId;constraint:OnDelete:CASCADE"`
	Aliases      []Alias            `gorm:"foreignKey:SessionId;constraint:OnDelete:CASCADE"`
}

type Explanation struct {
	SessionId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"primaryKey;size:255"`

	Label     int    `gorm:"not null"`
	Condition string `gorm:"not null"`
	AnchorId  string `gorm:"size:255"`
	Metadata  datatypes.JSON
	CreatedAt time.Time
}

// LabelingFunction stores a committed function by its canonical form; the
// executable AST is reparsed from Canonical on load.
type LabelingFunction struct {
	SessionId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"primaryKey;size:255"`

	Label       int    `gorm:"not null"`
	Canonical   string `gorm:"not null"`
	Explanation string `gorm:"size:255"`
	CreatedAt   time.Time

	Cells []LabelCell `gorm:"foreignKey:SessionId,LFName;references:SessionId,Name;constraint:OnDelete:CASCADE"`
}

// LabelCell is one non-abstain entry of a split's label matrix. Abstains are
// implicit, so matrices stay sparse on disk.
type LabelCell struct {
	SessionId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	LFName         string    `gorm:"primaryKey;size:255"`
	Split          int       `gorm:"primaryKey"`
	CandidateIndex int       `gorm:"primaryKey"`
	Label          int       `gorm:"not null"`
}

type Alias struct {
	SessionId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"primaryKey;size:255"`
	Members   datatypes.JSON
	CreatedAt time.Time
}
