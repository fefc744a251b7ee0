package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"gorm.io/gorm"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AuthContextKey is the key for storing AuthContext in request context
	AuthContextKey ContextKey = "authContext"
)

// Middleware resolves the request's tenant and injects it into the context.
// The token is read from the Authorization header, or from the "token" query
// parameter for websocket handshakes, which cannot carry headers from browsers.
//
// Requests without a valid token proceed without auth context.
func Middleware(authService *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := requestToken(r)
			if err != nil {
				slog.Debug("no usable token on request", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := authService.GetTenantByToken(token)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					slog.Warn("unknown api token", "path", r.URL.Path)
				} else {
					slog.Warn("failed to resolve tenant", "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), AuthContextKey, &AuthContext{Tenant: tenant})
			r = r.WithContext(ctx)

			slog.Debug("auth context injected successfully", "tenant_id", tenant.ID)
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return ExtractToken(header)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrInvalidToken
}

// GetAuthContext retrieves the AuthContext from the request context.
// Returns nil if no auth context is present.
//
// Usage in handlers:
//
//	authCtx := auth.GetAuthContext(r.Context())
//	if authCtx == nil {
//	    // Handle unauthorized request
//	}
//	tenantID := authCtx.TenantID()
func GetAuthContext(ctx context.Context) *AuthContext {
	authCtx, ok := ctx.Value(AuthContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// WithTenant returns a context carrying an auth context for tenant.
func WithTenant(ctx context.Context, tenant *Tenant) context.Context {
	return context.WithValue(ctx, AuthContextKey, &AuthContext{Tenant: tenant})
}

// RequireAuth returns a middleware that requires authentication.
// If no auth context is found, returns 401 Unauthorized.
//
// Usage:
//
//	mux.Handle("POST /api/protected", auth.RequireAuth(authService)(handler))
func RequireAuth(authService *AuthService) func(http.Handler) http.Handler {
	// Create the auth middleware once, not on every request
	authMiddleware := Middleware(authService)

	return func(next http.Handler) http.Handler {
		return authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r.Context())
			if authCtx == nil {
				slog.Warn("authentication required but not provided",
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"authentication required"}`))
				return
			}

			next.ServeHTTP(w, r)
		}))
	}
}
