// Package jwtware is a fiber middleware that authenticates requests with
// access tokens and enforces role requirements.
package jwtware

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrJWTMissingOrMalformed is returned when no extractor finds a token
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	// ErrForbidden is returned when the token is valid but the role is not enough
	ErrForbidden = errors.New("access denied")
)

const (
	defaultContextKey = "user"
	defaultAuthScheme = "Bearer"
	defaultLookup     = "header:" + fiber.HeaderAuthorization
)

// AuthClaims is the view of validated claims the middleware needs. It is
// declared here so the package does not import its callers.
type AuthClaims interface {
	Subject() string
	UserID() string
	Role() string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
}

// TokenValidator turns a raw token into claims
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	return f(tokenString)
}

// ValidationListener runs after validation and before role checks, an
// error rejects the request.
type ValidationListener func(c *fiber.Ctx, claims AuthClaims) error

// Config configures the middleware. TokenValidator is required.
type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   func(*fiber.Ctx, error) error

	// ContextKey is the fiber locals key claims are stored under
	ContextKey string
	// TokenLookup is a comma separated list of source:name pairs
	TokenLookup string
	AuthScheme  string

	TokenValidator TokenValidator

	// RequiredRole must match exactly
	RequiredRole string
	// MinimumRole uses the role hierarchy of the claims
	MinimumRole string
	// RoleChecker replaces nothing, it runs in addition to the checks above
	RoleChecker func(AuthClaims, string) bool

	ContextEnricher     func(c context.Context, claims AuthClaims) context.Context
	ValidationListeners []ValidationListener
}

// New returns a fiber handler that authenticates requests with access tokens
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	authenticate := func(c *fiber.Ctx) (AuthClaims, error) {
		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return nil, err
		}
		claims, err := cfg.TokenValidator.Validate(raw)
		if err != nil {
			return nil, err
		}
		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, claims); err != nil {
				return nil, err
			}
		}
		return claims, cfg.authorize(claims)
	}

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		claims, err := authenticate(c)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, claims)
		if cfg.ContextEnricher != nil {
			c.SetUserContext(cfg.ContextEnricher(c.UserContext(), claims))
		}
		return cfg.SuccessHandler(c)
	}
}

func (cfg Config) authorize(claims AuthClaims) error {
	if cfg.RequiredRole != "" && !claims.HasRole(cfg.RequiredRole) {
		return fmt.Errorf("%w: required role %q not found", ErrForbidden, cfg.RequiredRole)
	}
	if cfg.MinimumRole != "" && !claims.IsAtLeast(cfg.MinimumRole) {
		return fmt.Errorf("%w: minimum role %q required", ErrForbidden, cfg.MinimumRole)
	}
	if cfg.RoleChecker == nil {
		return nil
	}

	role := cfg.RequiredRole
	if role == "" {
		role = cfg.MinimumRole
	}
	if role != "" && !cfg.RoleChecker(claims, role) {
		return fmt.Errorf("%w: custom role check failed for %q", ErrForbidden, role)
	}
	return nil
}

// DefaultErrorHandler maps extraction failures to 400, role failures to 403
// and everything else to 401.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrJWTMissingOrMalformed):
		return c.Status(fiber.StatusBadRequest).SendString(ErrJWTMissingOrMalformed.Error())
	case errors.Is(err, ErrForbidden):
		return c.Status(fiber.StatusForbidden).SendString(err.Error())
	default:
		return c.Status(fiber.StatusUnauthorized).SendString("Invalid or expired token")
	}
}

// GetDefaultConfig fills in defaults and panics without a TokenValidator
func GetDefaultConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.TokenValidator == nil {
		panic("jwtware: TokenValidator is required")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error { return c.Next() }
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = defaultContextKey
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultLookup
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = defaultAuthScheme
	}
	return cfg
}
