package user

import (
	"context"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
)

// Backend is the methods that need to be implemented to provide
// user and token functionality.
type Backend interface {
	ListUsers(subject identity.Subject) ([]identity.User, error)
	CreateUser(ctx context.Context, subject identity.Subject, req daemon.CreateUserRequest) (identity.User, error)

	ListTokens(subject identity.Subject) []identity.TokenView
	CreateToken(ctx context.Context, subject identity.Subject, req daemon.CreateTokenRequest) (daemon.TokenCreated, error)
	ListTokensForUser(subject identity.Subject, userID string) ([]identity.TokenView, error)
	CreateTokenForUser(ctx context.Context, subject identity.Subject, userID string, req daemon.CreateTokenRequest) (daemon.TokenCreated, error)
	RevokeToken(ctx context.Context, subject identity.Subject, tokenID string) (daemon.RevokeTokenResponse, error)
}
