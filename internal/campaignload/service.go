package campaignload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/OpenAds/loader/internal/config"
	"github.com/OpenAds/loader/internal/task"
	"github.com/OpenAds/loader/internal/task/manager"
	"github.com/OpenAds/loader/internal/task/persistence"
	"github.com/OpenAds/loader/internal/tiktok"
)

var ErrInvalidLoad = errors.New("invalid campaign load")

// CredentialSource resolves a tenant's platform credentials per advertiser.
type CredentialSource interface {
	CredentialsForTenant(ctx context.Context, tenantID string) (map[string]tiktok.Credentials, error)
}

// Service starts campaign loads and keeps their records.
type Service struct {
	store         persistence.LoadStoreInterface
	accounts      CredentialSource
	manager       *manager.Manager
	runner        task.Runner
	validate      *validator.Validate
	defaultBudget float64
	now           func() time.Time
}

func NewService(store persistence.LoadStoreInterface, accounts CredentialSource, mgr *manager.Manager, runner task.Runner, cfg config.WorkflowConfig) *Service {
	return &Service{
		store:         store,
		accounts:      accounts,
		manager:       mgr,
		runner:        runner,
		validate:      validator.New(),
		defaultBudget: cfg.DefaultBudget,
		now:           time.Now,
	}
}

// Start validates and records a load, then runs it in the background.
// It returns manager.ErrTaskAlreadyRunning when a load with the same name
// is still running for the tenant.
func (s *Service) Start(ctx context.Context, tenantID string, load Load) (*persistence.LoadRecord, error) {
	load.normalize(s.now(), s.defaultBudget)
	if err := s.validate.Struct(load); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLoad, err)
	}

	t, err := task.New(load.Name, task.TypeCampaignLoad, len(load.Advertisers), s.runner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLoad, err)
	}
	if err := s.manager.Reserve(tenantID, t); err != nil {
		return nil, err
	}

	request, err := json.Marshal(load)
	if err != nil {
		s.manager.Release(tenantID, t.Name())
		return nil, fmt.Errorf("failed to encode campaign load: %w", err)
	}

	record := &persistence.LoadRecord{
		TenantID: tenantID,
		Name:     t.Name(),
		Type:     t.Type(),
		Request:  request,
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.manager.Release(tenantID, t.Name())
		return nil, fmt.Errorf("failed to save campaign load: %w", err)
	}

	credentials, err := s.accounts.CredentialsForTenant(ctx, tenantID)
	if err != nil {
		s.manager.Release(tenantID, t.Name())
		if saveErr := s.store.SaveOutcome(ctx, record.ID, persistence.Outcome{}); saveErr != nil {
			slog.ErrorContext(ctx, "failed to mark campaign load failed", "id", record.ID, "error", saveErr)
		}
		return nil, fmt.Errorf("failed to load platform credentials: %w", err)
	}

	s.manager.Launch(tenantID, t, load, Payload{TenantID: tenantID, Credentials: credentials}, s.hooks(record.ID))
	slog.InfoContext(ctx, "campaign load started",
		"id", record.ID, "tenantID", tenantID, "taskName", t.Name(), "advertisers", len(load.Advertisers))
	return record, nil
}

// Get returns one of the tenant's load records.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*persistence.LoadRecord, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// List returns a page of the tenant's load records, newest first.
func (s *Service) List(ctx context.Context, tenantID string, offset, limit int) ([]persistence.LoadRecord, int64, error) {
	return s.store.ListByTenant(ctx, tenantID, offset, limit)
}

func (s *Service) hooks(id uuid.UUID) manager.Hooks {
	return manager.Hooks{
		OnRetry: func(ctx context.Context, t *task.Task) {
			if err := s.store.MarkRunning(ctx, id); err != nil {
				slog.ErrorContext(ctx, "failed to mark campaign load running", "id", id, "taskName", t.Name(), "error", err)
			}
		},
		OnFinish: func(ctx context.Context, t *task.Task) {
			outcome := persistence.Outcome{
				Progress:   t.Progress(),
				Log:        t.Log(),
				RetryCount: t.RetryCount(),
			}
			if err := s.store.SaveOutcome(ctx, id, outcome); err != nil {
				slog.ErrorContext(ctx, "failed to save campaign load outcome", "id", id, "taskName", t.Name(), "error", err)
			}
		},
	}
}
