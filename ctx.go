package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// LocalsClaimsKey is the fiber locals key the jwt middleware stores claims under
const LocalsClaimsKey = "user"

type ctxKey int

const (
	ctxKeyUser ctxKey = iota
	ctxKeyClaims
)

// WithContext returns a copy of ctx carrying user
func WithContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

// FromContext returns the user stored by WithContext.
func FromContext(ctx context.Context) (*User, bool) {
	return valueOf[*User](ctx, ctxKeyUser)
}

// WithClaimsContext returns a copy of ctx carrying claims
func WithClaimsContext(ctx context.Context, claims AuthClaims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// GetClaims returns the claims stored by WithClaimsContext
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	return valueOf[AuthClaims](ctx, ctxKeyClaims)
}

// GetFiberClaims reads claims from fiber locals, an empty key means LocalsClaimsKey
func GetFiberClaims(c *fiber.Ctx, key string) (AuthClaims, bool) {
	if key == "" {
		key = LocalsClaimsKey
	}
	claims, ok := c.Locals(key).(AuthClaims)
	return claims, ok && claims != nil
}

// IsAtLeast reports whether the claims in ctx carry minRole or better.
func IsAtLeast(ctx context.Context, minRole UserRole) bool {
	claims, ok := GetClaims(ctx)
	return ok && claims.IsAtLeast(string(minRole))
}

func valueOf[T any](ctx context.Context, key ctxKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}
