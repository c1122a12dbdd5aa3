package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Default token lifetimes
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenService signs and validates the access and refresh JWTs.
type TokenService interface {
	SignAccessToken(ctx context.Context, identity Identity) (string, *AccessClaims, error)
	SignRefreshToken(accountID string) (string, *RefreshClaims, error)
	ValidateAccessToken(tokenString string) (*AccessClaims, error)
	ValidateRefreshToken(tokenString string) (*RefreshClaims, error)
}

// TokenServiceConfig holds the signing material and lifetimes
type TokenServiceConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      []string
	Now           func() time.Time
	Decorator     ClaimsDecorator
	Logger        Logger
}

// TokenServiceImpl implements the TokenService interface with HS256
type TokenServiceImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	decorator  ClaimsDecorator
	logger     Logger
}

var _ TokenService = (*TokenServiceImpl)(nil)

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		accessKey:  cfg.AccessSecret,
		refreshKey: cfg.RefreshSecret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        cfg.Now,
		decorator:  normalizeClaimsDecorator(cfg.Decorator),
		logger:     cfg.Logger,
	}

	if len(cfg.Audience) > 0 {
		ts.audience = append(jwt.ClaimStrings(nil), cfg.Audience...)
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = DefaultAccessTokenTTL
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = DefaultRefreshTokenTTL
	}
	if ts.now == nil {
		ts.now = time.Now
	}
	if ts.logger == nil {
		ts.logger = defLogger{}
	}
	return ts
}

// SignAccessToken mints a stateless access token for identity
func (ts *TokenServiceImpl) SignAccessToken(ctx context.Context, identity Identity) (string, *AccessClaims, error) {
	if identity == nil || identity.ID() == "" {
		return "", nil, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := ts.now()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
			ID:        uuid.NewString(),
		},
		UID:       identity.ID(),
		UserRole:  identity.Role(),
		UserName:  identity.Username(),
		UserEmail: identity.Email(),
		Type:      TokenTypeAccess,
	}

	if err := decorateAccessClaims(ctx, ts.decorator, identity, claims); err != nil {
		return "", nil, err
	}

	signed, err := ts.sign(claims, ts.accessKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// SignRefreshToken mints a refresh token. The random jti makes two tokens
// minted in the same second for the same account differ.
func (ts *TokenServiceImpl) SignRefreshToken(accountID string) (string, *RefreshClaims, error) {
	if accountID == "" {
		return "", nil, errors.New("account id is required", errors.CategoryBadInput)
	}

	now := ts.now()
	claims := &RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.refreshTTL)),
			ID:        uuid.NewString(),
		},
		Type: TokenTypeRefresh,
	}

	signed, err := ts.sign(claims, ts.refreshKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (ts *TokenServiceImpl) sign(claims jwt.Claims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// ValidateAccessToken parses and validates an access token
func (ts *TokenServiceImpl) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.parse(tokenString, claims, ts.accessKey, true); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ts.invalid(fmt.Errorf("unexpected token type %q", claims.Type))
	}
	return claims, nil
}

// ValidateRefreshToken parses and validates a refresh token
func (ts *TokenServiceImpl) ValidateRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ts.parse(tokenString, claims, ts.refreshKey, false); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, ts.invalid(fmt.Errorf("unexpected token type %q", claims.Type))
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ts.invalid(err)
	}
	return claims, nil
}

func (ts *TokenServiceImpl) parse(tokenString string, claims jwt.Claims, key []byte, withAudience bool) error {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if withAudience && len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token service encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return newError(ErrTokenInvalidOrExpired, map[string]any{"reason": "expired"})
		}
		return ts.invalid(err)
	}

	if !token.Valid {
		return ts.invalid(jwt.ErrTokenInvalidClaims)
	}
	return nil
}

func (ts *TokenServiceImpl) invalid(err error) error {
	ts.logger.Debug("token rejected", "error", err)
	return wrapError(ErrTokenInvalidOrExpired, err, map[string]any{"reason": "malformed"})
}
