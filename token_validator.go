package auth

// TokenValidator turns a raw access token into claims
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface. A nil func rejects everything.
func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, newError(ErrTokenInvalidOrExpired, nil)
	}
	return f(tokenString)
}

// accessTokenValidator only accepts access tokens, refresh tokens are
// signed with a different key and rejected by the TokenService.
type accessTokenValidator struct {
	tokens TokenService
}

// AccessTokenValidator returns a TokenValidator backed by ts
func AccessTokenValidator(ts TokenService) TokenValidator {
	return accessTokenValidator{tokens: ts}
}

func (v accessTokenValidator) Validate(tokenString string) (AuthClaims, error) {
	if tokenString == "" {
		return nil, newError(ErrTokenInvalidOrExpired, map[string]any{"reason": "missing"})
	}
	claims, err := v.tokens.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
