package auth

import (
	"context"
	"errors"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var (
	usernameRules = []validation.Rule{validation.Required, validation.Length(3, 13), validation.Match(usernamePattern)}
	emailRules    = []validation.Rule{validation.Required, is.Email}
	passwordRules = []validation.Rule{validation.Required, validation.Length(8, 72)}
)

func guardContext(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+op)
	default:
		return nil
	}
}

// finishCommand keeps rich errors as they are and wraps everything else.
func finishCommand(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

// validationFailure maps ozzo field errors onto ErrValidation
func validationFailure(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return wrapError(ErrValidation, err, nil)
	}

	fields := make(map[string]any, len(fieldErrs))
	for field, ferr := range fieldErrs {
		if ferr != nil {
			fields[field] = ferr.Error()
		}
	}
	return wrapError(ErrValidation, err, fields)
}

func withOperationTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
