package auth

import "context"

// ClaimsDecorator adds extensions to access token claims before signing.
// Only Metadata may change, anything else fails the signing call with
// ErrImmutableClaimMutation.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, identity Identity, claims *AccessClaims) error
}

// ClaimsDecoratorFunc adapts a function into a ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, identity Identity, claims *AccessClaims) error

// Decorate satisfies the ClaimsDecorator interface.
func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, identity Identity, claims *AccessClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, identity, claims)
}

// ChainClaimsDecorators runs decorators in order and stops at the first error
func ChainClaimsDecorators(decorators ...ClaimsDecorator) ClaimsDecorator {
	return ClaimsDecoratorFunc(func(ctx context.Context, identity Identity, claims *AccessClaims) error {
		for _, d := range decorators {
			if d == nil {
				continue
			}
			if err := d.Decorate(ctx, identity, claims); err != nil {
				return err
			}
		}
		return nil
	})
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return ClaimsDecoratorFunc(nil)
	}
	return d
}

// decorateAccessClaims runs d and rejects any change to protected claims.
func decorateAccessClaims(ctx context.Context, d ClaimsDecorator, identity Identity, claims *AccessClaims) error {
	snap := captureImmutableClaims(claims)
	if err := normalizeClaimsDecorator(d).Decorate(ctx, identity, claims); err != nil {
		return err
	}
	return snap.validate(claims)
}
