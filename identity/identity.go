// Package identity manages users and access tokens: how bearer secrets
// map back to an account, and the subject attached to every
// authenticated request.
package identity

import (
	"context"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// User is an account known to the server.
type User struct {
	ID          string  `json:"id"`
	Handle      string  `json:"handle"`
	DisplayName *string `json:"display_name"`
	Admin       bool    `json:"admin"`
	CreatedAt   string  `json:"created_at"`
}

// AccessToken is a stored bearer credential. Only the hash of the secret
// is kept; the secret itself is handed out once, at mint time.
type AccessToken struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	TokenHash  string  `json:"token_hash"`
	Label      *string `json:"label"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at"`
	RevokedAt  *string `json:"revoked_at"`
	ExpiresAt  *string `json:"expires_at"`
}

// TokenView is the API projection of a token. It never carries the hash.
type TokenView struct {
	ID         string  `json:"id"`
	Label      *string `json:"label"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at"`
	RevokedAt  *string `json:"revoked_at"`
	ExpiresAt  *string `json:"expires_at"`
}

// View returns the API projection of t.
func (t *AccessToken) View() TokenView {
	return TokenView{
		ID:         t.ID,
		Label:      t.Label,
		CreatedAt:  t.CreatedAt,
		LastUsedAt: t.LastUsedAt,
		RevokedAt:  t.RevokedAt,
		ExpiresAt:  t.ExpiresAt,
	}
}

// Subject is the authenticated caller of a request.
type Subject struct {
	UserID string
	User   string
	Admin  bool
}

type subjectKey struct{}

// WithSubject returns a context carrying s.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFromContext returns the subject stored by the auth middleware.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(Subject)
	return s, ok
}

// ValidateHandle checks a user handle.
func ValidateHandle(handle string) error {
	if handle == "" {
		return errdefs.InvalidParameter(errors.New("user handle cannot be empty"))
	}
	for i := 0; i < len(handle); i++ {
		c := handle[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return errdefs.InvalidParameter(errors.New("user handle must be lowercase alnum or '-'"))
	}
	return nil
}
