package repo

import (
	"context"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
)

// Backend is the methods that need to be implemented to provide
// repo, membership, lane, gate and scope functionality.
type Backend interface {
	CreateRepo(ctx context.Context, subject identity.Subject, id string) (*repo.Repo, error)
	ListRepos(ctx context.Context, subject identity.Subject) ([]*repo.Repo, error)
	GetRepo(ctx context.Context, subject identity.Subject, id string) (*repo.Repo, error)
	GetRepoPermissions(ctx context.Context, subject identity.Subject, id string) (daemon.Permissions, error)

	ListRepoMembers(ctx context.Context, subject identity.Subject, repoID string) (daemon.RepoMembers, error)
	AddRepoMember(ctx context.Context, subject identity.Subject, repoID string, req daemon.MemberRequest) error
	RemoveRepoMember(ctx context.Context, subject identity.Subject, repoID, handle string) error

	ListLanes(ctx context.Context, subject identity.Subject, repoID string) ([]*repo.Lane, error)
	CreateLane(ctx context.Context, subject identity.Subject, repoID string, req daemon.CreateLaneRequest) (*repo.Lane, error)
	ListLaneMembers(ctx context.Context, subject identity.Subject, repoID, laneID string) (daemon.LaneMembers, error)
	AddLaneMember(ctx context.Context, subject identity.Subject, repoID, laneID string, req daemon.MemberRequest) error
	RemoveLaneMember(ctx context.Context, subject identity.Subject, repoID, laneID, handle string) error
	UpdateLaneHead(ctx context.Context, subject identity.Subject, repoID, laneID string, req daemon.UpdateLaneHeadRequest) (repo.LaneHead, error)
	GetLaneHead(ctx context.Context, subject identity.Subject, repoID, laneID, user string) (repo.LaneHead, error)

	ListGates(ctx context.Context, subject identity.Subject, repoID string) ([]repo.Gate, error)
	GetGateGraph(ctx context.Context, subject identity.Subject, repoID string) (repo.GateGraph, error)
	PutGateGraph(ctx context.Context, subject identity.Subject, repoID string, graph repo.GateGraph) (repo.GateGraph, error)

	CreateScope(ctx context.Context, subject identity.Subject, repoID string, req daemon.CreateScopeRequest) (daemon.ScopeResponse, error)
	ListScopes(ctx context.Context, subject identity.Subject, repoID string) ([]string, error)
}
