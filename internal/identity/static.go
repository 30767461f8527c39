package identity

import (
	"context"
	"fmt"
	"strings"
)

// StaticProvider resolves tokens from a fixed table. It backs local
// development and tests, where standing up a real auth emulator is not
// worth it.
type StaticProvider struct {
	users map[string]User // token -> user
}

// NewStatic builds a provider from "token=userID[:email]" entries, the
// format the STATIC_USERS config variable uses.
func NewStatic(entries []string) (*StaticProvider, error) {
	users := make(map[string]User, len(entries))
	for _, e := range entries {
		token, spec, ok := strings.Cut(strings.TrimSpace(e), "=")
		if !ok || token == "" || spec == "" {
			return nil, fmt.Errorf("identity: malformed static user entry %q", e)
		}
		id, email, _ := strings.Cut(spec, ":")
		users[token] = User{ID: id, Email: email}
	}
	return &StaticProvider{users: users}, nil
}

func (p *StaticProvider) Verify(ctx context.Context, token string) (*User, error) {
	u, ok := p.users[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", ErrUnauthenticated)
	}
	user := u
	return &user, nil
}

var _ Provider = (*StaticProvider)(nil)
