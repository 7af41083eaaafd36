package system

import (
	"context"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
)

// Backend is the methods that need to be implemented to provide
// system specific functionality.
type Backend interface {
	WhoAmI(subject identity.Subject) daemon.WhoAmIResponse
	Bootstrap(ctx context.Context, bearer string, req daemon.BootstrapRequest) (daemon.BootstrapResponse, error)
}
