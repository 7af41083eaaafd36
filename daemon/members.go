package daemon

import (
	"context"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
	"github.com/pkg/errors"
)

// MemberRequest names a user to grant access to, with an optional role
// ("read" by default, or "publish").
type MemberRequest struct {
	Handle string  `json:"handle"`
	Role   *string `json:"role,omitempty"`
}

// RepoMembers is the membership view of a repo.
type RepoMembers struct {
	Owner            string         `json:"owner"`
	OwnerUserID      *string        `json:"owner_user_id"`
	Readers          repo.StringSet `json:"readers"`
	ReaderUserIDs    repo.StringSet `json:"reader_user_ids"`
	Publishers       repo.StringSet `json:"publishers"`
	PublisherUserIDs repo.StringSet `json:"publisher_user_ids"`
}

// LaneMembers is the membership view of a lane.
type LaneMembers struct {
	Lane          string         `json:"lane"`
	Members       repo.StringSet `json:"members"`
	MemberUserIDs repo.StringSet `json:"member_user_ids"`
}

// ListRepoMembers returns the repo ACL sets. Only admins and the repo
// owner may inspect membership.
func (d *Daemon) ListRepoMembers(ctx context.Context, subject identity.Subject, repoID string) (RepoMembers, error) {
	var out RepoMembers
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanManage(r, subject) {
			return errForbidden
		}
		out = RepoMembers{
			Owner:            r.Owner,
			OwnerUserID:      r.OwnerUserID,
			Readers:          r.Readers.Clone(),
			ReaderUserIDs:    r.ReaderUserIDs.Clone(),
			Publishers:       r.Publishers.Clone(),
			PublisherUserIDs: r.PublisherUserIDs.Clone(),
		}
		return nil
	})
	if err != nil {
		return RepoMembers{}, err
	}
	return out, nil
}

// AddRepoMember grants a user read or publish access. Publish implies
// read, so granting publish fills both sets.
func (d *Daemon) AddRepoMember(ctx context.Context, subject identity.Subject, repoID string, req MemberRequest) error {
	if err := identity.ValidateHandle(req.Handle); err != nil {
		return err
	}
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanManage(r, subject) {
			return errForbidden
		}
		u, ok := d.ids.UserByHandle(req.Handle)
		if !ok {
			return errdefs.InvalidParameter(errors.New("unknown user handle"))
		}
		role := "read"
		if req.Role != nil {
			role = *req.Role
		}
		switch role {
		case "read":
			r.Readers.Add(u.Handle)
			r.ReaderUserIDs.Add(u.ID)
		case "publish":
			r.Readers.Add(u.Handle)
			r.ReaderUserIDs.Add(u.ID)
			r.Publishers.Add(u.Handle)
			r.PublisherUserIDs.Add(u.ID)
		default:
			return errdefs.InvalidParameter(errors.New("unknown role"))
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{"repo": repoID, "handle": req.Handle}).Info("repo member added")
	return nil
}

// RemoveRepoMember revokes both roles for a handle. Removing a handle
// that was never a member is not an error.
func (d *Daemon) RemoveRepoMember(ctx context.Context, subject identity.Subject, repoID, handle string) error {
	if err := identity.ValidateHandle(handle); err != nil {
		return err
	}
	return d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanManage(r, subject) {
			return errForbidden
		}
		r.Readers.Remove(handle)
		r.Publishers.Remove(handle)
		if u, ok := d.ids.UserByHandle(handle); ok {
			r.ReaderUserIDs.Remove(u.ID)
			r.PublisherUserIDs.Remove(u.ID)
		}
		return nil
	})
}

// ListLaneMembers returns a lane's membership. Same ACL as repo
// membership: admins and the repo owner only.
func (d *Daemon) ListLaneMembers(ctx context.Context, subject identity.Subject, repoID, laneID string) (LaneMembers, error) {
	if err := repo.ValidateLaneID(laneID); err != nil {
		return LaneMembers{}, err
	}
	var out LaneMembers
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanManage(r, subject) {
			return errForbidden
		}
		lane, ok := r.Lanes[laneID]
		if !ok {
			return errNotFound
		}
		out = LaneMembers{
			Lane:          lane.ID,
			Members:       lane.Members.Clone(),
			MemberUserIDs: lane.MemberUserIDs.Clone(),
		}
		return nil
	})
	if err != nil {
		return LaneMembers{}, err
	}
	return out, nil
}

// AddLaneMember adds a user to a lane.
func (d *Daemon) AddLaneMember(ctx context.Context, subject identity.Subject, repoID, laneID string, req MemberRequest) error {
	if err := repo.ValidateLaneID(laneID); err != nil {
		return err
	}
	if err := identity.ValidateHandle(req.Handle); err != nil {
		return err
	}
	return d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanManage(r, subject) {
			return errForbidden
		}
		u, ok := d.ids.UserByHandle(req.Handle)
		if !ok {
			return errdefs.InvalidParameter(errors.New("unknown user handle"))
		}
		lane, ok := r.Lanes[laneID]
		if !ok {
			return errNotFound
		}
		lane.Members.Add(u.Handle)
		lane.MemberUserIDs.Add(u.ID)
		return nil
	})
}

// RemoveLaneMember drops a user from a lane.
func (d *Daemon) RemoveLaneMember(ctx context.Context, subject identity.Subject, repoID, laneID, handle string) error {
	if err := repo.ValidateLaneID(laneID); err != nil {
		return err
	}
	if err := identity.ValidateHandle(handle); err != nil {
		return err
	}
	return d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanManage(r, subject) {
			return errForbidden
		}
		uid := ""
		if u, ok := d.ids.UserByHandle(handle); ok {
			uid = u.ID
		}
		lane, ok := r.Lanes[laneID]
		if !ok {
			return errNotFound
		}
		lane.Members.Remove(handle)
		if uid != "" {
			lane.MemberUserIDs.Remove(uid)
		}
		return nil
	})
}
