package auth

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Stable text codes exposed to callers. They never change once published.
const (
	TextCodeDuplicateIdentity     = "DUPLICATE_IDENTITY"
	TextCodeNotFound              = "NOT_FOUND"
	TextCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	TextCodeTokenInvalidOrExpired = "TOKEN_INVALID_OR_EXPIRED"
	TextCodeTokenReuseDetected    = "TOKEN_REUSE_DETECTED"
	TextCodeAlreadyVerified       = "ALREADY_VERIFIED"
	TextCodePersistenceFailure    = "PERSISTENCE_FAILURE"
	TextCodeNotificationFailure   = "NOTIFICATION_FAILURE"
	TextCodeTooManyAttempts       = "TOO_MANY_ATTEMPTS"
	TextCodeValidationFailed      = "VALIDATION_FAILED"
	TextCodeEmptyPassword         = "EMPTY_PASSWORD"
	TextCodeImmutableClaim        = "IMMUTABLE_CLAIM_MUTATION"
)

// ErrDuplicateIdentity is returned when the username or email is taken
var ErrDuplicateIdentity = goerrors.New("user with email or username already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrNotFound is returned when the account does not exist
var ErrNotFound = goerrors.New("user does not exist", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredentials covers unknown identities and wrong passwords alike
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalidOrExpired is returned for bad, stale or consumed tokens
var ErrTokenInvalidOrExpired = goerrors.New("token is invalid or expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalidOrExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenReuseDetected is returned when a rotated refresh token is presented again.
// The caller facing message matches ErrTokenInvalidOrExpired.
var ErrTokenReuseDetected = goerrors.New("token is invalid or expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenReuseDetected).
	WithCode(goerrors.CodeUnauthorized)

// ErrAlreadyVerified is returned when verifying an account twice
var ErrAlreadyVerified = goerrors.New("email is already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeConflict)

// ErrPersistenceFailure wraps storage errors, always fatal for the operation
var ErrPersistenceFailure = goerrors.New("persistence failure", goerrors.CategoryInternal).
	WithTextCode(TextCodePersistenceFailure).
	WithCode(goerrors.CodeInternal)

// ErrNotificationFailure wraps delivery errors from the NotificationSink
var ErrNotificationFailure = goerrors.New("notification delivery failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeNotificationFailure).
	WithCode(http.StatusBadGateway)

// ErrTooManyAttempts is returned by lockout and rate limits
var ErrTooManyAttempts = goerrors.New("too many attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrValidation is returned for malformed input
var ErrValidation = goerrors.New("received data is not valid", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(http.StatusUnprocessableEntity)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrImmutableClaimMutation is returned when a ClaimsDecorator touches protected claims
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryInternal).
	WithTextCode(TextCodeImmutableClaim).
	WithCode(goerrors.CodeInternal)

// ErrPreconditionFailed is returned by UpdateConditional when no row matched.
// Flows translate it into a domain error, it never reaches callers.
var ErrPreconditionFailed = goerrors.New("precondition failed", goerrors.CategoryConflict).
	WithTextCode("PRECONDITION_FAILED").
	WithCode(goerrors.CodeConflict)

// newError returns a fresh copy of a sentinel so metadata never leaks
// between requests. Copies keep the sentinel TextCode, which is what
// IsKind matches on.
func newError(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = nil
	if len(metadata) > 0 {
		clone = clone.WithMetadata(metadata)
	}
	return clone
}

// wrapError attaches a source error to a sentinel copy
func wrapError(sentinel *goerrors.Error, source error, metadata map[string]any) *goerrors.Error {
	clone := newError(sentinel, metadata)
	clone.Source = source
	return clone
}

func persistenceFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr
	}
	clone := wrapError(ErrPersistenceFailure, err, map[string]any{"operation": op})
	clone.Message = fmt.Sprintf("persistence failure: %s", op)
	return clone
}

// ErrorKind returns the stable text code carried by err, or an empty string.
func ErrorKind(err error) string {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return ""
		}
		if richErr.TextCode != "" {
			return richErr.TextCode
		}
		err = richErr.Source
	}
	return ""
}

// IsKind reports whether err carries the given text code. Errors returned
// by this package are copies of the exported sentinels, so match them with
// IsKind or ErrorKind rather than errors.Is.
func IsKind(err error, textCode string) bool {
	return err != nil && ErrorKind(err) == textCode
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, TextCodeTokenInvalidOrExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
