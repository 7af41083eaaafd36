package publication

import (
	"context"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/repo"
)

// Backend is the methods that need to be implemented to provide
// publication, bundle and promotion functionality.
type Backend interface {
	CreatePublication(ctx context.Context, subject identity.Subject, repoID string, req daemon.CreatePublicationRequest) (repo.Publication, error)
	ListPublications(ctx context.Context, subject identity.Subject, repoID string) ([]repo.Publication, error)

	CreateBundle(ctx context.Context, subject identity.Subject, repoID string, req daemon.CreateBundleRequest) (repo.Bundle, error)
	ListBundles(ctx context.Context, subject identity.Subject, repoID, scope, gate string) ([]repo.Bundle, error)
	GetBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (repo.Bundle, error)
	ApproveBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (repo.Bundle, error)
	PinBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (daemon.PinResponse, error)
	UnpinBundle(ctx context.Context, subject identity.Subject, repoID, bundleID string) (daemon.PinResponse, error)
	ListPins(ctx context.Context, subject identity.Subject, repoID string) (daemon.Pins, error)

	CreatePromotion(ctx context.Context, subject identity.Subject, repoID string, req daemon.CreatePromotionRequest) (repo.Promotion, error)
	ListPromotions(ctx context.Context, subject identity.Subject, repoID, scope, toGate string) ([]repo.Promotion, error)
	PromotionState(ctx context.Context, subject identity.Subject, repoID, scope string) (map[string]string, error)
}
