package daemon

import (
	"context"
	"sort"

	"github.com/containerd/log"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
	"github.com/docker/go-metrics"
)

// Permissions reports what the calling subject may do with a repo.
type Permissions struct {
	Read    bool `json:"read"`
	Publish bool `json:"publish"`
}

// CreateRepo registers a new repository owned by the calling subject and
// returns the full aggregate.
func (d *Daemon) CreateRepo(ctx context.Context, subject identity.Subject, id string) (*repo.Repo, error) {
	defer metrics.StartTimer(repoActions.WithValues("create_repo"))()
	if err := repo.ValidateRepoID(id); err != nil {
		return nil, err
	}
	r := repo.New(id, subject.User, subject.UserID)
	if err := d.repos.Create(r); err != nil {
		return nil, err
	}
	log.G(ctx).WithFields(log.Fields{"repo": id, "owner": subject.User}).Info("repo created")
	return r.Clone(), nil
}

// ListRepos returns the repos the subject can read, sorted by id.
func (d *Daemon) ListRepos(ctx context.Context, subject identity.Subject) ([]*repo.Repo, error) {
	out := []*repo.Repo{}
	d.repos.List(func(r *repo.Repo) {
		if repo.CanRead(r, subject) {
			out = append(out, r.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRepo returns the full aggregate for one repo.
func (d *Daemon) GetRepo(ctx context.Context, subject identity.Subject, id string) (*repo.Repo, error) {
	var out *repo.Repo
	err := d.repos.View(id, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRepoPermissions reports the subject's effective access to a repo.
// Unlike the other repo reads it never returns forbidden: callers use it
// to discover whether they can see the repo at all.
func (d *Daemon) GetRepoPermissions(ctx context.Context, subject identity.Subject, id string) (Permissions, error) {
	var out Permissions
	err := d.repos.View(id, func(r *repo.Repo) error {
		out = Permissions{
			Read:    repo.CanRead(r, subject),
			Publish: repo.CanPublish(r, subject),
		}
		return nil
	})
	if err != nil {
		return Permissions{}, err
	}
	return out, nil
}
