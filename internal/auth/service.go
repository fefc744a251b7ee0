package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
)

var ErrInvalidToken = errors.New("invalid token")

// AuthService resolves API tokens to tenants.
type AuthService struct {
	db *gorm.DB
}

// NewAuthService creates a new AuthService instance
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{
		db: db,
	}
}

// ExtractToken returns the token from a "Bearer <token>" header value.
func ExtractToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	return token, nil
}

// GetTenantByToken looks up the tenant owning token.
// Returns gorm.ErrRecordNotFound when no tenant has it.
func (as *AuthService) GetTenantByToken(token string) (*Tenant, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var tenant Tenant
	result := as.db.Where("api_token = ?", token).First(&tenant)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("tenant not found for token")
			return nil, result.Error
		}
		slog.Error("failed to fetch tenant from database", "error", result.Error)
		return nil, fmt.Errorf("failed to fetch tenant: %w", result.Error)
	}

	return &tenant, nil
}

// CreateTenant stores a new tenant.
func (as *AuthService) CreateTenant(tenant *Tenant) error {
	if tenant == nil || tenant.ID == "" || tenant.APIToken == "" {
		return fmt.Errorf("tenant ID and token are required")
	}
	if err := as.db.Create(tenant).Error; err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	slog.Debug("tenant created", "tenant_id", tenant.ID)
	return nil
}

// Migrate creates or updates the tenants table.
func (as *AuthService) Migrate() error {
	if err := as.db.AutoMigrate(&Tenant{}); err != nil {
		return fmt.Errorf("failed to migrate tenants: %w", err)
	}
	return nil
}

// EnsureTenant creates tenant unless a tenant with its ID already exists.
// An existing tenant keeps its stored token.
func (as *AuthService) EnsureTenant(tenant *Tenant) (bool, error) {
	if tenant == nil || tenant.ID == "" {
		return false, fmt.Errorf("tenant ID is required")
	}
	var existing Tenant
	err := as.db.Where("id = ?", tenant.ID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up tenant: %w", err)
	}
	if err := as.CreateTenant(tenant); err != nil {
		return false, err
	}
	return true, nil
}
