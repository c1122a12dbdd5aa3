package auth

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-credentials/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Cookie names carrying session tokens
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// Envelope is the JSON body of every API response
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
	TextCode   string `json:"textCode,omitempty"`
	Errors     any    `json:"errors,omitempty"`
}

func respond(c *fiber.Ctx, status int, data any, message string) error {
	return c.Status(status).JSON(Envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// ErrorStatus maps a rich error to its HTTP status. Email tokens travel in
// links so an invalid one is a bad request rather than an auth failure.
func ErrorStatus(err error, emailToken bool) int {
	switch ErrorKind(err) {
	case TextCodeDuplicateIdentity, TextCodeAlreadyVerified:
		return http.StatusConflict
	case TextCodeNotFound:
		return http.StatusNotFound
	case TextCodeInvalidCredentials, TextCodeTokenReuseDetected:
		return http.StatusUnauthorized
	case TextCodeTokenInvalidOrExpired:
		if emailToken {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case TextCodeNotificationFailure:
		return http.StatusBadGateway
	case TextCodeTooManyAttempts:
		return http.StatusTooManyRequests
	case TextCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case TextCodeEmptyPassword:
		return http.StatusBadRequest
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code >= http.StatusBadRequest && richErr.Code < 600 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

func (a *Controller) fail(c *fiber.Ctx, err error, emailToken bool) error {
	status := ErrorStatus(err, emailToken)

	env := Envelope{
		StatusCode: status,
		Message:    "something went wrong",
		TextCode:   ErrorKind(err),
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		env.Message = richErr.Message
		if len(richErr.Metadata) > 0 {
			env.Errors = richErr.Metadata
		}
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"path", c.Path(),
			"status", status,
			"error", err,
			"details", print.MaybePrettyJSON(env.Errors),
		)
		if env.TextCode == TextCodePersistenceFailure || env.TextCode == "" {
			env.Message = "something went wrong"
			env.Errors = nil
		}
	} else {
		a.logger.Debug("request rejected", "path", c.Path(), "status", status, "text_code", env.TextCode)
	}

	return c.Status(status).JSON(env)
}

func (a *Controller) setSessionCookies(c *fiber.Ctx, session *Session) {
	c.Cookie(&fiber.Cookie{
		Name:     AccessTokenCookie,
		Value:    session.AccessToken,
		Path:     "/",
		Expires:  session.AccessTokenExpiresAt,
		HTTPOnly: true,
		Secure:   a.secureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	c.Cookie(&fiber.Cookie{
		Name:     RefreshTokenCookie,
		Value:    session.RefreshToken,
		Path:     "/",
		Expires:  session.RefreshTokenExpiresAt,
		HTTPOnly: true,
		Secure:   a.secureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *Controller) clearSessionCookies(c *fiber.Ctx) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HTTPOnly: true,
			Secure:   a.secureCookies,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}

// ProtectedRoute returns a fiber middleware that requires a valid access
// token in the Authorization header or the access token cookie.
func (a *Controller) ProtectedRoute(minRole ...UserRole) fiber.Handler {
	cfg := jwtware.Config{
		ContextKey:      LocalsClaimsKey,
		TokenLookup:     "header:" + fiber.HeaderAuthorization + ",cookie:" + AccessTokenCookie,
		AuthScheme:      "Bearer",
		TokenValidator:  TokenValidatorAdapter(a.accounts.Authenticator()),
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			switch {
			case goerrors.Is(err, jwtware.ErrJWTMissingOrMalformed):
				err = newError(ErrTokenInvalidOrExpired, map[string]any{"reason": "missing"})
			case goerrors.Is(err, jwtware.ErrForbidden):
				err = goerrors.Wrap(err, goerrors.CategoryAuthz, "access denied").
					WithCode(goerrors.CodeForbidden).
					WithTextCode("FORBIDDEN")
			}
			return a.fail(c, err, false)
		},
	}
	if len(minRole) > 0 {
		cfg.MinimumRole = string(minRole[0])
	}
	return jwtware.New(cfg)
}
