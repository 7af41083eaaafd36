package gc

import (
	"context"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
)

// Backend is the methods that need to be implemented to provide
// garbage collection functionality.
type Backend interface {
	CollectGarbage(ctx context.Context, subject identity.Subject, repoID string, opts daemon.GCOptions) (daemon.GCReport, error)
}
