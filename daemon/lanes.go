package daemon

import (
	"context"
	"sort"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
	"github.com/pkg/errors"
)

// CreateLaneRequest names the lane to create.
type CreateLaneRequest struct {
	ID string `json:"id"`
}

// UpdateLaneHeadRequest moves the caller's head on a lane to a snap.
type UpdateLaneHeadRequest struct {
	SnapID   string  `json:"snap_id"`
	ClientID *string `json:"client_id,omitempty"`
}

// ListLanes returns the repo's lanes sorted by id.
func (d *Daemon) ListLanes(ctx context.Context, subject identity.Subject, repoID string) ([]*repo.Lane, error) {
	out := []*repo.Lane{}
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		for _, lane := range r.Lanes {
			out = append(out, lane.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateLane adds a lane to the repo with the caller as its first
// member.
func (d *Daemon) CreateLane(ctx context.Context, subject identity.Subject, repoID string, req CreateLaneRequest) (*repo.Lane, error) {
	if err := repo.ValidateLaneID(req.ID); err != nil {
		return nil, err
	}
	var out *repo.Lane
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		if _, ok := r.Lanes[req.ID]; ok {
			return errdefs.Conflict(errors.New("lane already exists"))
		}
		lane := &repo.Lane{
			ID:            req.ID,
			Members:       repo.NewStringSet(subject.User),
			MemberUserIDs: repo.NewStringSet(),
			Heads:         map[string]repo.LaneHead{},
			HeadHistory:   map[string][]repo.LaneHead{},
		}
		if subject.UserID != "" {
			lane.MemberUserIDs.Add(subject.UserID)
		}
		r.Lanes[req.ID] = lane
		out = lane.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithFields(log.Fields{"repo": repoID, "lane": req.ID}).Info("lane created")
	return out, nil
}

// UpdateLaneHead records the caller's current snap on a lane and
// returns the new head. The snap must already be uploaded.
func (d *Daemon) UpdateLaneHead(ctx context.Context, subject identity.Subject, repoID, laneID string, req UpdateLaneHeadRequest) (repo.LaneHead, error) {
	if err := repo.ValidateLaneID(laneID); err != nil {
		return repo.LaneHead{}, err
	}
	if err := object.ValidateID(req.SnapID); err != nil {
		return repo.LaneHead{}, err
	}
	var out repo.LaneHead
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		lane, ok := r.Lanes[laneID]
		if !ok {
			return errNotFound
		}
		if !lane.HasMember(subject) {
			return errForbidden
		}
		if !r.Snaps.Contains(req.SnapID) {
			return errdefs.InvalidParameter(errors.New("unknown snap (upload snap first)"))
		}
		head := repo.LaneHead{
			SnapID:    req.SnapID,
			UpdatedAt: nowRFC3339(),
			ClientID:  req.ClientID,
		}
		lane.RecordHead(subject.User, head)
		out = head
		return nil
	})
	if err != nil {
		return repo.LaneHead{}, err
	}
	return out, nil
}

// GetLaneHead returns one lane member's current head. Both the caller
// and the queried user resolve against the lane membership by handle.
func (d *Daemon) GetLaneHead(ctx context.Context, subject identity.Subject, repoID, laneID, user string) (repo.LaneHead, error) {
	if err := repo.ValidateLaneID(laneID); err != nil {
		return repo.LaneHead{}, err
	}
	var out repo.LaneHead
	err := d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		lane, ok := r.Lanes[laneID]
		if !ok {
			return errNotFound
		}
		if !lane.HasMember(subject) {
			return errForbidden
		}
		head, ok := lane.Heads[user]
		if !ok {
			return errNotFound
		}
		out = head
		return nil
	})
	if err != nil {
		return repo.LaneHead{}, err
	}
	return out, nil
}
