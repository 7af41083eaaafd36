package daemon

import (
	"context"
	"sort"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
	"github.com/docker/go-metrics"
	"github.com/pkg/errors"
)

// CreateReleaseRequest cuts a bundle to a named channel.
type CreateReleaseRequest struct {
	Channel  string  `json:"channel"`
	BundleID string  `json:"bundle_id"`
	Notes    *string `json:"notes,omitempty"`
}

// CreateRelease records a release of the bundle on the channel. The
// bundle's gate must allow releases and the bundle must still be
// promotable when the release is cut.
func (d *Daemon) CreateRelease(ctx context.Context, subject identity.Subject, repoID string, req CreateReleaseRequest) (repo.Release, error) {
	defer metrics.StartTimer(repoActions.WithValues("release"))()
	if err := repo.ValidateReleaseChannel(req.Channel); err != nil {
		return repo.Release{}, err
	}
	if err := object.ValidateID(req.BundleID); err != nil {
		return repo.Release{}, err
	}

	releasedAt := nowRFC3339()

	var out repo.Release
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		bundle, err := d.loadBundle(r, repoID, req.BundleID)
		if err != nil {
			return err
		}

		gateDef := r.GateGraph.Gate(bundle.Gate)
		if gateDef == nil {
			return errdefs.System(errors.New("bundle gate not found"))
		}
		if !gateDef.AllowReleases {
			return errdefs.InvalidParameter(errors.Errorf("releases disabled for gate %s", bundle.Gate))
		}
		hasSup, err := d.objects.HasSuperpositions(repoID, bundle.RootManifest)
		if err != nil {
			return err
		}
		promotable, _ := repo.ComputePromotability(gateDef, hasSup, len(bundle.Approvals))
		if !promotable {
			return errdefs.Conflict(errors.New("bundle not promotable"))
		}

		uid := subject.UserID
		out = repo.Release{
			ID:               object.DigestParts(repoID, req.Channel, bundle.ID, subject.User, releasedAt),
			Channel:          req.Channel,
			BundleID:         bundle.ID,
			Scope:            bundle.Scope,
			Gate:             bundle.Gate,
			ReleasedBy:       subject.User,
			ReleasedByUserID: &uid,
			ReleasedAt:       releasedAt,
			Notes:            req.Notes,
		}
		if err := d.repos.WriteRelease(repoID, &out); err != nil {
			return err
		}
		r.Releases = append(r.Releases, out)
		return nil
	})
	if err != nil {
		return repo.Release{}, err
	}
	log.G(ctx).WithFields(log.Fields{
		"repo":    repoID,
		"channel": req.Channel,
		"bundle":  req.BundleID,
	}).Info("release cut")
	return out, nil
}

// ListReleases returns the repo's releases, newest first.
func (d *Daemon) ListReleases(ctx context.Context, subject identity.Subject, repoID string) ([]repo.Release, error) {
	out := []repo.Release{}
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out = append(out, r.Releases...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReleasedAt > out[j].ReleasedAt })
	return out, nil
}

// GetChannelHead returns the channel's most recent release.
func (d *Daemon) GetChannelHead(ctx context.Context, subject identity.Subject, repoID, channel string) (repo.Release, error) {
	if err := repo.ValidateReleaseChannel(channel); err != nil {
		return repo.Release{}, err
	}
	var out repo.Release
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		found := false
		for _, rel := range r.Releases {
			if rel.Channel != channel {
				continue
			}
			if !found || rel.ReleasedAt > out.ReleasedAt {
				out = rel
				found = true
			}
		}
		if !found {
			return errNotFound
		}
		return nil
	})
	if err != nil {
		return repo.Release{}, err
	}
	return out, nil
}
