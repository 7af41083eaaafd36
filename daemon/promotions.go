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

// CreatePromotionRequest moves a bundle to a downstream gate.
type CreatePromotionRequest struct {
	BundleID string `json:"bundle_id"`
	ToGate   string `json:"to_gate"`
}

// CreatePromotion records a promotion and advances the promotion-state
// pointer for the bundle's scope. Promotability is re-evaluated at
// promotion time; an approval granted since bundle creation counts, a
// graph change that disqualifies the bundle blocks it.
func (d *Daemon) CreatePromotion(ctx context.Context, subject identity.Subject, repoID string, req CreatePromotionRequest) (repo.Promotion, error) {
	defer metrics.StartTimer(repoActions.WithValues("promote"))()
	if err := object.ValidateID(req.BundleID); err != nil {
		return repo.Promotion{}, err
	}
	if err := repo.ValidateGateID(req.ToGate); err != nil {
		return repo.Promotion{}, err
	}

	promotedAt := nowRFC3339()

	var out repo.Promotion
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
		hasSup, err := d.objects.HasSuperpositions(repoID, bundle.RootManifest)
		if err != nil {
			return err
		}
		promotable, _ := repo.ComputePromotability(gateDef, hasSup, len(bundle.Approvals))
		if !promotable {
			return errdefs.Conflict(errors.New("bundle not promotable"))
		}

		toGate := r.GateGraph.Gate(req.ToGate)
		if toGate == nil {
			return errdefs.InvalidParameter(errors.New("unknown to_gate"))
		}
		if !toGate.HasUpstream(bundle.Gate) {
			return errdefs.InvalidParameter(errors.New("to_gate is not downstream of bundle gate"))
		}

		uid := subject.UserID
		out = repo.Promotion{
			ID:               object.DigestParts(repoID, bundle.ID, bundle.Scope, bundle.Gate, req.ToGate, subject.User, promotedAt),
			BundleID:         bundle.ID,
			Scope:            bundle.Scope,
			FromGate:         bundle.Gate,
			ToGate:           req.ToGate,
			PromotedBy:       subject.User,
			PromotedByUserID: &uid,
			PromotedAt:       promotedAt,
		}

		perScope, ok := r.PromotionState[out.Scope]
		if !ok {
			perScope = map[string]string{}
			r.PromotionState[out.Scope] = perScope
		}
		perScope[out.ToGate] = out.BundleID

		if err := d.repos.WritePromotion(repoID, &out); err != nil {
			return err
		}
		r.Promotions = append(r.Promotions, out)
		return nil
	})
	if err != nil {
		return repo.Promotion{}, err
	}
	log.G(ctx).WithFields(log.Fields{
		"repo":    repoID,
		"bundle":  req.BundleID,
		"to_gate": req.ToGate,
	}).Info("bundle promoted")
	return out, nil
}

// ListPromotions returns promotions in recorded order, optionally
// filtered by scope and target gate.
func (d *Daemon) ListPromotions(ctx context.Context, subject identity.Subject, repoID, scope, toGate string) ([]repo.Promotion, error) {
	out := []repo.Promotion{}
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		for _, p := range r.Promotions {
			if scope != "" && p.Scope != scope {
				continue
			}
			if toGate != "" && p.ToGate != toGate {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PromotionState returns the scope's current gate-to-bundle pointers.
func (d *Daemon) PromotionState(ctx context.Context, subject identity.Subject, repoID, scope string) (map[string]string, error) {
	if err := repo.ValidateScopeID(scope); err != nil {
		return nil, err
	}
	out := map[string]string{}
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		for gate, bundleID := range r.PromotionState[scope] {
			out[gate] = bundleID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
