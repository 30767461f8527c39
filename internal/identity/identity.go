// Package identity abstracts the external identity provider. The core
// only ever reads identities; creating and destroying them is entirely
// the provider's business.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when a token cannot be resolved to a
// user.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// User is the stable opaque identity the provider yields.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Provider verifies bearer tokens. It is the server-side half of the
// original client-shaped interface; sign-in itself happens on the
// client against the provider directly.
type Provider interface {
	Verify(ctx context.Context, token string) (*User, error)
}
