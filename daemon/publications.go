package daemon

import (
	"context"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
	"github.com/docker/go-metrics"
	"github.com/pkg/errors"
)

// CreatePublicationRequest binds an uploaded snap to a scope and gate.
// MetadataOnly admits the snap without its blob bytes, which only gates
// that allow metadata-only publications accept. Resolution is supplied
// by clients publishing the outcome of a superposition resolution.
type CreatePublicationRequest struct {
	SnapID       string                      `json:"snap_id"`
	Scope        string                      `json:"scope"`
	Gate         string                      `json:"gate"`
	MetadataOnly bool                        `json:"metadata_only,omitempty"`
	Resolution   *repo.PublicationResolution `json:"resolution,omitempty"`
}

// CreatePublication admits a snap into a (scope, gate) coordinate. A
// given snap can be published to each coordinate at most once.
func (d *Daemon) CreatePublication(ctx context.Context, subject identity.Subject, repoID string, req CreatePublicationRequest) (repo.Publication, error) {
	defer metrics.StartTimer(repoActions.WithValues("publish"))()
	if err := object.ValidateID(req.SnapID); err != nil {
		return repo.Publication{}, err
	}
	if err := repo.ValidateScopeID(req.Scope); err != nil {
		return repo.Publication{}, err
	}
	if err := repo.ValidateGateID(req.Gate); err != nil {
		return repo.Publication{}, err
	}

	createdAt := nowRFC3339()
	id := object.DigestParts(repoID, req.SnapID, req.Scope, req.Gate, subject.User, createdAt)

	var out repo.Publication
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		if !r.Scopes.Contains(req.Scope) {
			return errdefs.InvalidParameter(errors.New("unknown scope"))
		}
		gateDef := r.GateGraph.Gate(req.Gate)
		if gateDef == nil {
			return errdefs.InvalidParameter(errors.New("unknown gate"))
		}
		for _, p := range r.Publications {
			if p.SnapID == req.SnapID && p.Scope == req.Scope && p.Gate == req.Gate {
				return errdefs.Conflict(errors.New("snap already published to this scope/gate"))
			}
		}
		if req.MetadataOnly && !gateDef.AllowMetadataOnlyPublications {
			return errdefs.InvalidParameter(errors.New("metadata-only publications not allowed in this gate"))
		}
		if !r.Snaps.Contains(req.SnapID) {
			return errdefs.InvalidParameter(errors.New("unknown snap (upload snap first)"))
		}

		// Metadata-only publications may reference pending blob
		// bytes, but the manifest structure must be complete.
		snap, err := d.objects.ReadSnap(repoID, req.SnapID)
		if err != nil {
			return err
		}
		if err := d.objects.ValidateTree(repoID, snap.RootManifest, !req.MetadataOnly); err != nil {
			return err
		}

		uid := subject.UserID
		out = repo.Publication{
			ID:              id,
			SnapID:          req.SnapID,
			Scope:           req.Scope,
			Gate:            req.Gate,
			Publisher:       subject.User,
			PublisherUserID: &uid,
			CreatedAt:       createdAt,
			Resolution:      req.Resolution,
		}
		r.Publications = append(r.Publications, out)
		return nil
	})
	if err != nil {
		return repo.Publication{}, err
	}
	log.G(ctx).WithFields(log.Fields{
		"repo":  repoID,
		"snap":  req.SnapID,
		"scope": req.Scope,
		"gate":  req.Gate,
	}).Info("publication created")
	return out, nil
}

// ListPublications returns the repo's publications in admission order.
func (d *Daemon) ListPublications(ctx context.Context, subject identity.Subject, repoID string) ([]repo.Publication, error) {
	out := []repo.Publication{}
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out = append(out, r.Publications...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
