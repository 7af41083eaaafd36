package daemon

import (
	"context"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
	"github.com/pkg/errors"
)

// CreateScopeRequest names the scope to add.
type CreateScopeRequest struct {
	ID string `json:"id"`
}

// ScopeResponse confirms the scope that was created.
type ScopeResponse struct {
	ID string `json:"id"`
}

// CreateScope adds a named scope to the repo.
func (d *Daemon) CreateScope(ctx context.Context, subject identity.Subject, repoID string, req CreateScopeRequest) (ScopeResponse, error) {
	if err := repo.ValidateScopeID(req.ID); err != nil {
		return ScopeResponse{}, err
	}
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		if !r.Scopes.Add(req.ID) {
			return errdefs.Conflict(errors.New("scope already exists"))
		}
		return nil
	})
	if err != nil {
		return ScopeResponse{}, err
	}
	return ScopeResponse{ID: req.ID}, nil
}

// ListScopes returns the repo's scopes sorted.
func (d *Daemon) ListScopes(ctx context.Context, subject identity.Subject, repoID string) ([]string, error) {
	var out []string
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out = r.Scopes.Sorted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
