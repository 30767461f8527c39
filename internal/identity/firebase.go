package identity

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"
)

// FirebaseProvider verifies Firebase ID tokens issued to the client by
// Firebase Auth.
type FirebaseProvider struct {
	client *auth.Client
}

// NewFirebase wraps an initialized Firebase Auth client.
func NewFirebase(client *auth.Client) *FirebaseProvider {
	return &FirebaseProvider{client: client}
}

func (p *FirebaseProvider) Verify(ctx context.Context, token string) (*User, error) {
	decoded, err := p.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	user := &User{ID: decoded.UID}
	if email, ok := decoded.Claims["email"].(string); ok {
		user.Email = email
	}
	return user, nil
}

var _ Provider = (*FirebaseProvider)(nil)
