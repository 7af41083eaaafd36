package object

import (
	"context"
	"io"

	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
)

// Backend is the methods that need to be implemented to provide
// object transfer functionality.
type Backend interface {
	PutBlob(ctx context.Context, subject identity.Subject, repoID, blobID string, body io.Reader) error
	GetBlob(ctx context.Context, subject identity.Subject, repoID, blobID string) ([]byte, error)
	PutManifest(ctx context.Context, subject identity.Subject, repoID, manifestID string, body []byte, allowMissingBlobs bool) error
	GetManifest(ctx context.Context, subject identity.Subject, repoID, manifestID string) ([]byte, error)
	PutRecipe(ctx context.Context, subject identity.Subject, repoID, recipeID string, body []byte, allowMissingBlobs bool) error
	GetRecipe(ctx context.Context, subject identity.Subject, repoID, recipeID string) ([]byte, error)
	PutSnap(ctx context.Context, subject identity.Subject, repoID, snapID string, snap *object.SnapRecord) error
	GetSnap(ctx context.Context, subject identity.Subject, repoID, snapID string) ([]byte, error)
	FindMissingObjects(ctx context.Context, subject identity.Subject, repoID string, req daemon.MissingObjectsRequest) (daemon.MissingObjectsResponse, error)
}
