package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("campaign load not found")

// LoadStoreInterface is the durable store of campaign loads.
type LoadStoreInterface interface {
	Create(ctx context.Context, record *LoadRecord) error
	MarkRunning(ctx context.Context, id uuid.UUID) error
	SaveOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*LoadRecord, error)
	ListByTenant(ctx context.Context, tenantID string, offset, limit int) ([]LoadRecord, int64, error)
}

// LoadStore implements LoadStoreInterface on gorm.
type LoadStore struct {
	db *gorm.DB
}

// NewLoadStore creates a store and migrates its table.
func NewLoadStore(db *gorm.DB) (*LoadStore, error) {
	if err := db.AutoMigrate(&LoadRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate campaign loads: %w", err)
	}
	return &LoadStore{db: db}, nil
}

func (s *LoadStore) Create(ctx context.Context, record *LoadRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = StatusRunning
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create campaign load: %w", err)
	}
	return nil
}

// MarkRunning resets a record to running, as when a retry starts.
func (s *LoadStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&LoadRecord{ID: id}).
		Select("status", "finished_at").
		Updates(&LoadRecord{Status: StatusRunning})
	if result.Error != nil {
		return fmt.Errorf("failed to update campaign load %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

// SaveOutcome stores the final progress and log of a run.
func (s *LoadStore) SaveOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error {
	finishedAt := time.Now().UTC()
	update := &LoadRecord{
		Status:     StatusFor(outcome.Progress),
		Progress:   outcome.Progress,
		Log:        outcome.Log,
		RetryCount: outcome.RetryCount,
		FinishedAt: &finishedAt,
	}

	result := s.db.WithContext(ctx).Model(&LoadRecord{ID: id}).
		Select("status", "progress_success", "progress_failure", "log", "retry_count", "finished_at").
		Updates(update)
	if result.Error != nil {
		return fmt.Errorf("failed to save outcome of campaign load %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

func (s *LoadStore) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*LoadRecord, error) {
	var record LoadRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to get campaign load %s: %w", id, err)
	}
	return &record, nil
}

// ListByTenant returns one page of a tenant's records, newest first, and the total count.
func (s *LoadStore) ListByTenant(ctx context.Context, tenantID string, offset, limit int) ([]LoadRecord, int64, error) {
	scoped := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&LoadRecord{}).Where("tenant_id = ?", tenantID)
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count campaign loads: %w", err)
	}

	records := []LoadRecord{}
	if err := scoped().Order("created_at DESC").Offset(offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list campaign loads: %w", err)
	}
	return records, total, nil
}
