package daemon

import (
	"context"
	"time"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/pkg/errors"
)

// WhoAmIResponse echoes the authenticated subject.
type WhoAmIResponse struct {
	User   string `json:"user"`
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// BootstrapRequest names the first admin account.
type BootstrapRequest struct {
	Handle      string  `json:"handle"`
	DisplayName *string `json:"display_name,omitempty"`
}

// TokenCreated is the one response that carries a bearer secret. The
// secret is not recoverable afterwards.
type TokenCreated struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	CreatedAt string `json:"created_at"`
}

// BootstrapResponse returns the admin account and its first token.
type BootstrapResponse struct {
	User  identity.User `json:"user"`
	Token TokenCreated  `json:"token"`
}

// CreateUserRequest creates an account. Admin only.
type CreateUserRequest struct {
	Handle      string  `json:"handle"`
	DisplayName *string `json:"display_name,omitempty"`
	Admin       bool    `json:"admin,omitempty"`
}

// CreateTokenRequest mints a bearer token.
type CreateTokenRequest struct {
	Label     *string `json:"label,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// RevokeTokenResponse confirms a revocation.
type RevokeTokenResponse struct {
	Revoked   bool   `json:"revoked"`
	TokenID   string `json:"token_id"`
	RevokedAt string `json:"revoked_at"`
}

// WhoAmI reports who the caller is.
func (d *Daemon) WhoAmI(subject identity.Subject) WhoAmIResponse {
	return WhoAmIResponse{User: subject.User, UserID: subject.UserID, Admin: subject.Admin}
}

// Bootstrap creates the first admin account. It is authenticated by the
// configured bootstrap token rather than a subject, and works exactly
// once per data directory.
func (d *Daemon) Bootstrap(ctx context.Context, bearer string, req BootstrapRequest) (BootstrapResponse, error) {
	if !d.VerifyBootstrapToken(bearer) {
		return BootstrapResponse{}, errdefs.Unauthorized(errors.New("unauthorized"))
	}
	if err := identity.ValidateHandle(req.Handle); err != nil {
		return BootstrapResponse{}, err
	}
	user, tok, secret, err := d.ids.Bootstrap(req.Handle, req.DisplayName)
	if err != nil {
		return BootstrapResponse{}, err
	}
	log.G(ctx).WithField("handle", user.Handle).Info("bootstrap completed")
	return BootstrapResponse{
		User:  user,
		Token: TokenCreated{ID: tok.ID, Token: secret, CreatedAt: tok.CreatedAt},
	}, nil
}

// ListUsers returns every account, sorted by handle. Admin only.
func (d *Daemon) ListUsers(subject identity.Subject) ([]identity.User, error) {
	if !subject.Admin {
		return nil, errForbidden
	}
	return d.ids.ListUsers(), nil
}

// CreateUser adds an account. Admin only.
func (d *Daemon) CreateUser(ctx context.Context, subject identity.Subject, req CreateUserRequest) (identity.User, error) {
	if !subject.Admin {
		return identity.User{}, errForbidden
	}
	if err := identity.ValidateHandle(req.Handle); err != nil {
		return identity.User{}, err
	}
	user, err := d.ids.CreateUser(req.Handle, req.DisplayName, req.Admin)
	if err != nil {
		return identity.User{}, err
	}
	log.G(ctx).WithFields(log.Fields{"handle": user.Handle, "admin": user.Admin}).Info("user created")
	return user, nil
}

// ListTokens returns the caller's tokens, newest first.
func (d *Daemon) ListTokens(subject identity.Subject) []identity.TokenView {
	return d.ids.ListTokens(subject.UserID)
}

// CreateToken mints a token for the caller.
func (d *Daemon) CreateToken(ctx context.Context, subject identity.Subject, req CreateTokenRequest) (TokenCreated, error) {
	return d.mintToken(ctx, subject.UserID, req)
}

// CreateTokenForUser mints a token for the named user. Admins may mint
// for anyone, everyone else only for themselves.
func (d *Daemon) CreateTokenForUser(ctx context.Context, subject identity.Subject, userID string, req CreateTokenRequest) (TokenCreated, error) {
	if !subject.Admin && subject.UserID != userID {
		return TokenCreated{}, errForbidden
	}
	if _, ok := d.ids.UserByID(userID); !ok {
		return TokenCreated{}, errNotFound
	}
	return d.mintToken(ctx, userID, req)
}

// ListTokensForUser returns the named user's tokens under the same
// access rule as CreateTokenForUser.
func (d *Daemon) ListTokensForUser(subject identity.Subject, userID string) ([]identity.TokenView, error) {
	if !subject.Admin && subject.UserID != userID {
		return nil, errForbidden
	}
	if _, ok := d.ids.UserByID(userID); !ok {
		return nil, errNotFound
	}
	return d.ids.ListTokens(userID), nil
}

func (d *Daemon) mintToken(ctx context.Context, userID string, req CreateTokenRequest) (TokenCreated, error) {
	if req.ExpiresAt != nil {
		if _, err := time.Parse(time.RFC3339, *req.ExpiresAt); err != nil {
			return TokenCreated{}, errdefs.InvalidParameter(errors.New("expires_at must be RFC3339"))
		}
	}
	tok, secret, err := d.ids.MintToken(userID, req.Label, req.ExpiresAt)
	if err != nil {
		return TokenCreated{}, err
	}
	log.G(ctx).WithField("user_id", userID).Debug("token minted")
	return TokenCreated{ID: tok.ID, Token: secret, CreatedAt: tok.CreatedAt}, nil
}

// RevokeToken marks a token revoked. Owner or admin.
func (d *Daemon) RevokeToken(ctx context.Context, subject identity.Subject, tokenID string) (RevokeTokenResponse, error) {
	revokedAt, err := d.ids.RevokeToken(subject, tokenID)
	if err != nil {
		return RevokeTokenResponse{}, err
	}
	log.G(ctx).WithField("token_id", tokenID).Info("token revoked")
	return RevokeTokenResponse{Revoked: true, TokenID: tokenID, RevokedAt: revokedAt}, nil
}
