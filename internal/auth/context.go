package auth

import (
	"time"
)

// Tenant is an account of the loader. All tasks, platform accounts and
// campaign loads belong to exactly one tenant.
type Tenant struct {
	ID        string    `gorm:"type:varchar(100);column:id;primaryKey;not null" json:"id"`
	Name      string    `gorm:"type:varchar(255);column:name;not null" json:"name"`
	APIToken  string    `gorm:"type:varchar(255);column:api_token;uniqueIndex;not null" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

// TableName specifies the database table name for Tenant
func (t *Tenant) TableName() string {
	return "tenants"
}

// AuthContext represents the authentication context available in a request.
// It is injected into the request by the auth middleware.
type AuthContext struct {
	*Tenant
}

// TenantID returns the authenticated tenant's ID, or "" when unauthenticated.
func (ac *AuthContext) TenantID() string {
	if ac == nil || ac.Tenant == nil {
		return ""
	}
	return ac.Tenant.ID
}
