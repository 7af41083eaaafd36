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

// CreateBundleRequest names the publications to coalesce into a bundle
// at one (scope, gate) coordinate.
type CreateBundleRequest struct {
	Scope             string   `json:"scope"`
	Gate              string   `json:"gate"`
	InputPublications []string `json:"input_publications"`
}

// Pins lists the bundle IDs pinned against garbage collection.
type Pins struct {
	Bundles []string `json:"bundles"`
}

// PinResponse confirms a pin or unpin.
type PinResponse struct {
	BundleID string `json:"bundle_id"`
	Pinned   bool   `json:"pinned"`
}

// loadBundle resolves a bundle from the aggregate or, for records
// compacted out of repo.json, from its sidecar file.
func (d *Daemon) loadBundle(r *repo.Repo, repoID, bundleID string) (repo.Bundle, error) {
	if b := r.FindBundle(bundleID); b != nil {
		return *b, nil
	}
	b, err := d.repos.ReadBundle(repoID, bundleID)
	if err != nil {
		return repo.Bundle{}, err
	}
	return *b, nil
}

// CreateBundle coalesces the input publications' snap trees into one
// root manifest and records the result as a bundle. Inputs must all sit
// at the bundle's (scope, gate); conflicting trees coalesce into
// superpositions rather than failing.
func (d *Daemon) CreateBundle(ctx context.Context, subject identity.Subject, repoID string, req CreateBundleRequest) (repo.Bundle, error) {
	defer metrics.StartTimer(repoActions.WithValues("bundle"))()
	if err := repo.ValidateScopeID(req.Scope); err != nil {
		return repo.Bundle{}, err
	}
	if err := repo.ValidateGateID(req.Gate); err != nil {
		return repo.Bundle{}, err
	}
	if len(req.InputPublications) == 0 {
		return repo.Bundle{}, errdefs.InvalidParameter(errors.New("bundle must include at least one input publication"))
	}
	for _, pid := range req.InputPublications {
		if err := object.ValidateID(pid); err != nil {
			return repo.Bundle{}, err
		}
	}

	createdAt := nowRFC3339()
	inputs := append([]string(nil), req.InputPublications...)
	sort.Strings(inputs)
	inputs = dedupSortedStrings(inputs)

	var out repo.Bundle
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

		merge := make([]object.MergeInput, 0, len(inputs))
		for _, pid := range inputs {
			p := r.FindPublication(pid)
			if p == nil {
				return errdefs.InvalidParameter(errors.Errorf("unknown publication %s", pid))
			}
			if p.Scope != req.Scope {
				return errdefs.InvalidParameter(errors.Errorf("publication %s has mismatched scope", pid))
			}
			if p.Gate != req.Gate {
				return errdefs.InvalidParameter(errors.Errorf("publication %s has mismatched gate", pid))
			}
			snap, err := d.objects.ReadSnap(repoID, p.SnapID)
			if err != nil {
				return err
			}
			merge = append(merge, object.MergeInput{Publication: pid, RootManifest: snap.RootManifest})
		}

		root, err := d.objects.Coalesce(repoID, merge)
		if err != nil {
			return err
		}
		hasSup, err := d.objects.HasSuperpositions(repoID, root)
		if err != nil {
			return err
		}
		promotable, reasons := repo.ComputePromotability(gateDef, hasSup, 0)

		parts := append([]string{repoID, req.Scope, req.Gate, root}, inputs...)
		parts = append(parts, subject.User, createdAt)
		uid := subject.UserID
		bundle := repo.Bundle{
			ID:                object.DigestParts(parts...),
			Scope:             req.Scope,
			Gate:              req.Gate,
			RootManifest:      root,
			InputPublications: inputs,
			CreatedBy:         subject.User,
			CreatedByUserID:   &uid,
			CreatedAt:         createdAt,
			Promotable:        promotable,
			Reasons:           reasons,
			Approvals:         []string{},
			ApprovalUserIDs:   []string{},
		}
		if err := d.repos.WriteBundle(repoID, &bundle); err != nil {
			return err
		}
		r.Bundles = append(r.Bundles, bundle)
		out = bundle
		return nil
	})
	if err != nil {
		return repo.Bundle{}, err
	}
	log.G(ctx).WithFields(log.Fields{
		"repo":       repoID,
		"bundle":     out.ID,
		"scope":      out.Scope,
		"gate":       out.Gate,
		"inputs":     len(out.InputPublications),
		"promotable": out.Promotable,
	}).Info("bundle created")
	return out, nil
}

// ListBundles returns the repo's bundles, optionally filtered by scope
// and gate. Empty filters match everything.
func (d *Daemon) ListBundles(ctx context.Context, subject identity.Subject, repoID, scope, gate string) ([]repo.Bundle, error) {
	out := []repo.Bundle{}
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		for _, b := range r.Bundles {
			if scope != "" && b.Scope != scope {
				continue
			}
			if gate != "" && b.Gate != gate {
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBundle returns one bundle, falling back to its sidecar when the
// record was compacted out of the aggregate.
func (d *Daemon) GetBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (repo.Bundle, error) {
	if err := object.ValidateID(bundleID); err != nil {
		return repo.Bundle{}, err
	}
	var out repo.Bundle
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		b, err := d.loadBundle(r, repoID, bundleID)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return repo.Bundle{}, err
	}
	return out, nil
}

// ApproveBundle records the caller's approval and re-evaluates the
// bundle's promotability. Approving twice is a no-op.
func (d *Daemon) ApproveBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (repo.Bundle, error) {
	if err := object.ValidateID(bundleID); err != nil {
		return repo.Bundle{}, err
	}
	var out repo.Bundle
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		bundle, err := d.loadBundle(r, repoID, bundleID)
		if err != nil {
			return err
		}

		bundle.Approvals = appendApproval(bundle.Approvals, subject.User)
		bundle.ApprovalUserIDs = appendApproval(bundle.ApprovalUserIDs, subject.UserID)

		gateDef := r.GateGraph.Gate(bundle.Gate)
		if gateDef == nil {
			return errdefs.System(errors.New("bundle gate not found"))
		}
		hasSup, err := d.objects.HasSuperpositions(repoID, bundle.RootManifest)
		if err != nil {
			return err
		}
		bundle.Promotable, bundle.Reasons = repo.ComputePromotability(gateDef, hasSup, len(bundle.Approvals))

		if err := d.repos.OverwriteBundle(repoID, &bundle); err != nil {
			return err
		}
		if existing := r.FindBundle(bundle.ID); existing != nil {
			*existing = bundle
		} else {
			r.Bundles = append(r.Bundles, bundle)
		}
		out = bundle
		return nil
	})
	if err != nil {
		return repo.Bundle{}, err
	}
	log.G(ctx).WithFields(log.Fields{
		"repo":       repoID,
		"bundle":     bundleID,
		"approvals":  len(out.Approvals),
		"promotable": out.Promotable,
	}).Info("bundle approved")
	return out, nil
}

// ListPins returns the pinned bundle IDs sorted.
func (d *Daemon) ListPins(ctx context.Context, subject identity.Subject, repoID string) (Pins, error) {
	var out Pins
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		out.Bundles = r.PinnedBundles.Sorted()
		return nil
	})
	if err != nil {
		return Pins{}, err
	}
	return out, nil
}

// PinBundle marks a bundle as a GC retention root. The bundle must
// exist, in the aggregate or as a sidecar.
func (d *Daemon) PinBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (PinResponse, error) {
	if err := object.ValidateID(bundleID); err != nil {
		return PinResponse{}, err
	}
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		if _, err := d.loadBundle(r, repoID, bundleID); err != nil {
			return err
		}
		r.PinnedBundles.Add(bundleID)
		return nil
	})
	if err != nil {
		return PinResponse{}, err
	}
	return PinResponse{BundleID: bundleID, Pinned: true}, nil
}

// UnpinBundle drops a pin. Unpinning an unknown bundle is not an error;
// the pin set may outlive swept bundles.
func (d *Daemon) UnpinBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (PinResponse, error) {
	if err := object.ValidateID(bundleID); err != nil {
		return PinResponse{}, err
	}
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		r.PinnedBundles.Remove(bundleID)
		return nil
	})
	if err != nil {
		return PinResponse{}, err
	}
	return PinResponse{BundleID: bundleID, Pinned: false}, nil
}

// appendApproval adds who to a sorted approval list, copying first so
// approvals loaded from the aggregate are never reordered in place.
func appendApproval(list []string, who string) []string {
	out := append([]string(nil), list...)
	for _, v := range out {
		if v == who {
			return out
		}
	}
	out = append(out, who)
	sort.Strings(out)
	return out
}

// dedupSortedStrings collapses adjacent duplicates in a sorted slice.
func dedupSortedStrings(in []string) []string {
	out := in[:0]
	for i, v := range in {
		if i > 0 && in[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
