package auth

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "principal"

// ErrNoPrincipal is returned when no Principal has been attached to
// the context (middleware is expected to guarantee one on every
// non-public route).
var ErrNoPrincipal = errors.New("auth: no principal in context")

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the Principal attached to ctx.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// MustFromContext panics if no Principal is present; only safe to
// call from code paths middleware guarantees are authenticated.
func MustFromContext(ctx context.Context) Principal {
	p, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return p
}
