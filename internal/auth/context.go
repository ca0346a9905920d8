package auth

import (
	"context"
	"strings"
)

// RoleAdmin gates deposit and profit-trail endpoints.
const RoleAdmin = "admin"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID int64
	Login  string
	Role   string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// PrincipalFromClaims builds a request principal from validated token claims.
func PrincipalFromClaims(c *Claims) Principal {
	return Principal{
		UserID: c.UserID,
		Login:  strings.TrimSpace(c.Subject),
		Role:   c.Role,
	}
}
