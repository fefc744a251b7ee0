package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenAds/loader/internal/tiktok"
)

var ErrInvalidAccount = errors.New("invalid platform account")

// AdvertiserRef is an advertiser account reachable through a platform account.
type AdvertiserRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// PlatformAccount is a tenant's authorized connection to the ads platform.
type PlatformAccount struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    string          `gorm:"type:varchar(100);index;not null" json:"-"`
	Email       string          `gorm:"type:varchar(255)" json:"email"`
	DisplayName string          `gorm:"type:varchar(255)" json:"displayName"`
	AppID       string          `gorm:"type:varchar(100);not null" json:"appId"`
	AccessToken string          `gorm:"type:text;not null" json:"-"`
	Advertisers []AdvertiserRef `gorm:"type:jsonb;serializer:json" json:"advertisers"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TableName specifies the database table name for PlatformAccount
func (PlatformAccount) TableName() string {
	return "platform_accounts"
}

// AccountStore keeps tenants' platform accounts.
type AccountStore struct {
	db *gorm.DB
}

// NewAccountStore creates a store and migrates its table.
func NewAccountStore(db *gorm.DB) (*AccountStore, error) {
	if err := db.AutoMigrate(&PlatformAccount{}); err != nil {
		return nil, fmt.Errorf("failed to migrate platform accounts: %w", err)
	}
	return &AccountStore{db: db}, nil
}

func (s *AccountStore) Create(ctx context.Context, account *PlatformAccount) error {
	if account.TenantID == "" || account.AppID == "" || account.AccessToken == "" {
		return fmt.Errorf("%w: tenant, app id and access token are required", ErrInvalidAccount)
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create platform account: %w", err)
	}
	return nil
}

func (s *AccountStore) ListByTenant(ctx context.Context, tenantID string) ([]PlatformAccount, error) {
	accounts := []PlatformAccount{}
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list platform accounts: %w", err)
	}
	return accounts, nil
}

// CredentialsForTenant maps every advertiser the tenant can reach to the
// credentials of the account that grants access. When two accounts reach the
// same advertiser, the earliest account wins.
func (s *AccountStore) CredentialsForTenant(ctx context.Context, tenantID string) (map[string]tiktok.Credentials, error) {
	accounts, err := s.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	credentials := make(map[string]tiktok.Credentials)
	for _, account := range accounts {
		for _, advertiser := range account.Advertisers {
			if _, exists := credentials[advertiser.ID]; exists {
				slog.DebugContext(ctx, "advertiser reachable through several accounts",
					"tenantID", tenantID, "advertiserID", advertiser.ID, "accountID", account.ID)
				continue
			}
			credentials[advertiser.ID] = tiktok.Credentials{
				AppID:       account.AppID,
				AccessToken: account.AccessToken,
			}
		}
	}
	return credentials, nil
}
