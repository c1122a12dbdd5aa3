package auth

import (
	"context"

	"github.com/goliatone/go-credentials/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so callers can stay in this package.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter stores validated claims in the request user context
// so handlers can read them with GetClaims.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, authClaims)
}

// SessionValidator resolves access tokens into claims, *Auther implements it
type SessionValidator interface {
	SessionFromToken(raw string) (AuthClaims, error)
}

// TokenValidatorAdapter exposes a SessionValidator as a jwtware validator
func TokenValidatorAdapter(a SessionValidator) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		claims, err := a.SessionFromToken(raw)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// RegisterValidationListeners appends listeners to cfg
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}
