package release

import (
	"context"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
)

// Backend is the methods that need to be implemented to provide
// release functionality.
type Backend interface {
	CreateRelease(ctx context.Context, subject identity.Subject, repoID string, req daemon.CreateReleaseRequest) (repo.Release, error)
	ListReleases(ctx context.Context, subject identity.Subject, repoID string) ([]repo.Release, error)
	GetChannelHead(ctx context.Context, subject identity.Subject, repoID, channel string) (repo.Release, error)
}
