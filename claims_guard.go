package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type immutableClaimsSnapshot struct {
	subject   string
	issuer    string
	id        string
	uid       string
	role      string
	username  string
	email     string
	typ       string
	audience  []string
	issuedAt  time.Time
	expiresAt time.Time
}

func captureImmutableClaims(claims *AccessClaims) immutableClaimsSnapshot {
	return immutableClaimsSnapshot{
		subject:   claims.RegisteredClaims.Subject,
		issuer:    claims.RegisteredClaims.Issuer,
		id:        claims.RegisteredClaims.ID,
		uid:       claims.UID,
		role:      claims.UserRole,
		username:  claims.UserName,
		email:     claims.UserEmail,
		typ:       claims.Type,
		audience:  slices.Clone([]string(claims.RegisteredClaims.Audience)),
		issuedAt:  numericDate(claims.RegisteredClaims.IssuedAt),
		expiresAt: numericDate(claims.RegisteredClaims.ExpiresAt),
	}
}

func (snap immutableClaimsSnapshot) validate(claims *AccessClaims) error {
	checks := []struct {
		field string
		same  bool
	}{
		{"sub", claims.RegisteredClaims.Subject == snap.subject},
		{"iss", claims.RegisteredClaims.Issuer == snap.issuer},
		{"jti", claims.RegisteredClaims.ID == snap.id},
		{"uid", claims.UID == snap.uid},
		{"role", claims.UserRole == snap.role},
		{"username", claims.UserName == snap.username},
		{"email", claims.UserEmail == snap.email},
		{"typ", claims.Type == snap.typ},
		{"aud", slices.Equal([]string(claims.RegisteredClaims.Audience), snap.audience)},
		{"iat", sameNumericDate(claims.RegisteredClaims.IssuedAt, snap.issuedAt)},
		{"exp", sameNumericDate(claims.RegisteredClaims.ExpiresAt, snap.expiresAt)},
	}

	for _, c := range checks {
		if !c.same {
			return immutableClaimViolation(c.field)
		}
	}
	return nil
}

func sameNumericDate(date *jwt.NumericDate, expected time.Time) bool {
	if expected.IsZero() {
		return date == nil
	}
	return date != nil && date.Time.Equal(expected)
}

func immutableClaimViolation(field string) error {
	clone := newError(ErrImmutableClaimMutation, map[string]any{"claim": field})
	clone.Message = fmt.Sprintf("immutable claim mutated: %s", field)
	clone.Source = ErrImmutableClaimMutation
	return clone
}
