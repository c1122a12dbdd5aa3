package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/middleware/jwtware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorFunc func(string) (auth.AuthClaims, error)

func (f validatorFunc) SessionFromToken(raw string) (auth.AuthClaims, error) { return f(raw) }

func TestTokenValidatorAdapter(t *testing.T) {
	claims := &auth.AccessClaims{UID: "u1", UserRole: string(auth.RoleMember)}
	v := auth.TokenValidatorAdapter(validatorFunc(func(raw string) (auth.AuthClaims, error) {
		if raw == "ok" {
			return claims, nil
		}
		return nil, errors.New("rejected")
	}))

	got, err := v.Validate("ok")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID())

	got, err = v.Validate("nope")
	require.Error(t, err)
	assert.Nil(t, got)
}

func TestContextEnricherAdapter(t *testing.T) {
	claims := &auth.AccessClaims{UID: "u1"}
	ctx := auth.ContextEnricherAdapter(context.Background(), claims)

	stored, ok := auth.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", stored.UserID())
}

func TestRegisterValidationListeners(t *testing.T) {
	cfg := &jwtware.Config{}
	auth.RegisterValidationListeners(cfg)
	assert.Empty(t, cfg.ValidationListeners)

	auth.RegisterValidationListeners(cfg, nil, nil)
	assert.Len(t, cfg.ValidationListeners, 2)

	auth.RegisterValidationListeners(nil, nil)
}
