package campaignload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/OpenAds/loader/internal/task/persistence"
	"github.com/OpenAds/loader/internal/tiktok"
)

var (
	ErrInvalidAccount   = errors.New("invalid platform account")
	ErrAdvertiserLookup = errors.New("advertiser lookup failed")
)

// AccountStore keeps the platform accounts loads draw credentials from.
type AccountStore interface {
	CredentialSource
	Create(ctx context.Context, account *persistence.PlatformAccount) error
	ListByTenant(ctx context.Context, tenantID string) ([]persistence.PlatformAccount, error)
}

// ConnectAccountRequest registers an authorized platform app token together
// with the advertisers it should be used for.
type ConnectAccountRequest struct {
	Email       string   `json:"email" validate:"omitempty,email"`
	DisplayName string   `json:"displayName"`
	AppID       string   `json:"appId" validate:"required"`
	AccessToken string   `json:"accessToken" validate:"required"`
	Advertisers []string `json:"advertisers" validate:"required,min=1,dive,required"`
}

// Accounts connects platform accounts after checking which advertisers the
// token can actually reach.
type Accounts struct {
	store    AccountStore
	platform Platform
	validate *validator.Validate
}

func NewAccounts(store AccountStore, platform Platform) *Accounts {
	return &Accounts{store: store, platform: platform, validate: validator.New()}
}

func (a *Accounts) Connect(ctx context.Context, tenantID string, req ConnectAccountRequest) (*persistence.PlatformAccount, error) {
	if err := a.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}

	creds := tiktok.Credentials{AppID: req.AppID, AccessToken: req.AccessToken}
	advertisers, err := a.platform.AdvertiserInfo(ctx, creds, req.Advertisers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdvertiserLookup, err)
	}
	if len(advertisers) == 0 {
		return nil, fmt.Errorf("%w: no advertiser is accessible with this token", ErrAdvertiserLookup)
	}

	refs := make([]persistence.AdvertiserRef, 0, len(advertisers))
	for _, adv := range advertisers {
		refs = append(refs, persistence.AdvertiserRef{
			ID:       adv.ID.String(),
			Name:     adv.Name,
			Status:   adv.Status,
			Currency: adv.Currency,
		})
	}

	account := &persistence.PlatformAccount{
		TenantID:    tenantID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		AppID:       req.AppID,
		AccessToken: req.AccessToken,
		Advertisers: refs,
	}
	if err := a.store.Create(ctx, account); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "platform account connected",
		"tenantID", tenantID, "accountID", account.ID, "appID", req.AppID, "advertisers", len(refs))
	return account, nil
}

func (a *Accounts) List(ctx context.Context, tenantID string) ([]persistence.PlatformAccount, error) {
	return a.store.ListByTenant(ctx, tenantID)
}
