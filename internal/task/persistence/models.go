package persistence

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/OpenAds/loader/internal/task"
)

// Status is the persisted outcome of a task run.
type Status string

const (
	StatusRunning         Status = "RUNNING"
	StatusCompleted       Status = "COMPLETED"
	StatusPartiallyFailed Status = "PARTIALLY_FAILED"
	StatusFailed          Status = "FAILED"
)

// StatusFor classifies a final progress split.
func StatusFor(p task.Progress) Status {
	switch {
	case p.Failure == 0 && p.Success > 0:
		return StatusCompleted
	case p.Success == 0:
		return StatusFailed
	default:
		return StatusPartiallyFailed
	}
}

// LoadRecord is the durable trace of one load task: its request, and once it
// finishes, the progress split and subtask log.
type LoadRecord struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   string              `gorm:"type:varchar(100);index;not null" json:"-"`
	Name       string              `gorm:"type:varchar(255);index;not null" json:"name"`
	Type       task.Type           `gorm:"type:varchar(50);not null" json:"type"`
	Request    json.RawMessage     `gorm:"type:jsonb;serializer:json" json:"request"`
	Status     Status              `gorm:"type:varchar(30);not null" json:"status"`
	Progress   task.Progress       `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	Log        []task.SubtaskEntry `gorm:"type:jsonb;serializer:json" json:"log"`
	RetryCount int                 `gorm:"not null;default:0" json:"retryCount"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}

// TableName specifies the database table name for LoadRecord
func (LoadRecord) TableName() string {
	return "campaign_loads"
}

// Outcome is what a finished task contributes to its record.
type Outcome struct {
	Progress   task.Progress
	Log        []task.SubtaskEntry
	RetryCount int
}
