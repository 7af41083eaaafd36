package daemon

import (
	"context"
	"io"

	"github.com/containerd/log"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// MissingObjectsRequest is a batched existence query for object IDs.
type MissingObjectsRequest struct {
	Blobs     []string `json:"blobs"`
	Manifests []string `json:"manifests"`
	Recipes   []string `json:"recipes"`
	Snaps     []string `json:"snaps"`
}

// MissingObjectsResponse lists the queried IDs that are not stored yet.
type MissingObjectsResponse struct {
	MissingBlobs     []string `json:"missing_blobs"`
	MissingManifests []string `json:"missing_manifests"`
	MissingRecipes   []string `json:"missing_recipes"`
	MissingSnaps     []string `json:"missing_snaps"`
}

// checkRead resolves the repo and verifies read access without holding
// the repo lock afterwards. Object I/O runs outside the lock; the
// object store serializes concurrent writers per ID itself.
func (d *Daemon) checkRead(subject identity.Subject, repoID string) error {
	return d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanRead(r, subject) {
			return errForbidden
		}
		return nil
	})
}

func (d *Daemon) checkPublish(subject identity.Subject, repoID string) error {
	return d.repos.View(repoID, func(r *repo.Repo) error {
		if !repo.CanPublish(r, subject) {
			return errForbidden
		}
		return nil
	})
}

// PutBlob stores raw blob bytes under their hash.
func (d *Daemon) PutBlob(ctx context.Context, subject identity.Subject, repoID, blobID string, body io.Reader) error {
	if err := object.ValidateID(blobID); err != nil {
		return err
	}
	if err := d.checkPublish(subject, repoID); err != nil {
		return err
	}
	if err := d.objects.PutBlob(repoID, blobID, body); err != nil {
		return err
	}
	objectWrites.WithValues("blob").Inc()
	return nil
}

// GetBlob serves stored blob bytes.
func (d *Daemon) GetBlob(ctx context.Context, subject identity.Subject, repoID, blobID string) ([]byte, error) {
	if err := object.ValidateID(blobID); err != nil {
		return nil, err
	}
	if err := d.checkRead(subject, repoID); err != nil {
		return nil, err
	}
	return d.objects.GetBlob(repoID, blobID)
}

// PutManifest stores client-serialized manifest bytes after checking the
// hash, the schema and the direct references. With allowMissingBlobs the
// blob references may dangle so that metadata-only publications can be
// assembled without uploading file content.
func (d *Daemon) PutManifest(ctx context.Context, subject identity.Subject, repoID, manifestID string, body []byte, allowMissingBlobs bool) error {
	if err := object.ValidateID(manifestID); err != nil {
		return err
	}
	if err := d.checkPublish(subject, repoID); err != nil {
		return err
	}
	if err := object.CheckDigest("manifest", manifestID, body); err != nil {
		return err
	}
	m, err := object.ParseManifest(body)
	if err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := d.objects.ValidateEntryRefs(repoID, e.Kind, allowMissingBlobs); err != nil {
			return err
		}
	}
	if err := d.objects.PutManifest(repoID, manifestID, body); err != nil {
		return err
	}
	objectWrites.WithValues("manifest").Inc()
	return nil
}

// GetManifest serves stored manifest bytes.
func (d *Daemon) GetManifest(ctx context.Context, subject identity.Subject, repoID, manifestID string) ([]byte, error) {
	if err := object.ValidateID(manifestID); err != nil {
		return nil, err
	}
	if err := d.checkRead(subject, repoID); err != nil {
		return nil, err
	}
	return d.objects.GetManifestBytes(repoID, manifestID)
}

// PutRecipe stores client-serialized recipe bytes after checking the
// hash, the schema and every chunk blob reference.
func (d *Daemon) PutRecipe(ctx context.Context, subject identity.Subject, repoID, recipeID string, body []byte, allowMissingBlobs bool) error {
	if err := object.ValidateID(recipeID); err != nil {
		return err
	}
	if err := d.checkPublish(subject, repoID); err != nil {
		return err
	}
	if err := object.CheckDigest("recipe", recipeID, body); err != nil {
		return err
	}
	r, err := object.ParseRecipe(body)
	if err != nil {
		return err
	}
	if err := d.objects.ValidateRecipeRefs(repoID, r, allowMissingBlobs); err != nil {
		return err
	}
	if err := d.objects.PutRecipe(repoID, recipeID, body); err != nil {
		return err
	}
	objectWrites.WithValues("recipe").Inc()
	return nil
}

// GetRecipe serves stored recipe bytes.
func (d *Daemon) GetRecipe(ctx context.Context, subject identity.Subject, repoID, recipeID string) ([]byte, error) {
	if err := object.ValidateID(recipeID); err != nil {
		return nil, err
	}
	if err := d.checkRead(subject, repoID); err != nil {
		return nil, err
	}
	return d.objects.GetRecipeBytes(repoID, recipeID)
}

// PutSnap stores a snap record and registers the snap ID on the repo so
// later publications can check it cheaply. The ID must match both the
// request path and the derivation from created_at and root_manifest.
func (d *Daemon) PutSnap(ctx context.Context, subject identity.Subject, repoID, snapID string, snap *object.SnapRecord) error {
	if err := object.ValidateID(snapID); err != nil {
		return err
	}
	if err := d.checkPublish(subject, repoID); err != nil {
		return err
	}
	if snap.ID != snapID {
		return errdefs.InvalidParameter(errors.Errorf("snap id mismatch (path %s, body %s)", snapID, snap.ID))
	}
	if snap.Version != object.SnapVersion {
		return errdefs.InvalidParameter(errors.New("unsupported snap version"))
	}
	if object.ComputeSnapID(snap.CreatedAt, snap.RootManifest) != snapID {
		return errdefs.InvalidParameter(errors.New("snap id must equal hash(created_at, root_manifest)"))
	}
	if err := d.objects.PutSnap(repoID, snap); err != nil {
		return err
	}
	objectWrites.WithValues("snap").Inc()
	err := d.repos.Update(repoID, func(r *repo.Repo) error {
		r.Snaps.Add(snapID)
		return nil
	})
	if err != nil {
		// The repo vanished between the ACL check and the index
		// update; the stored snap is unreferenced and will be
		// collected, so the upload itself still succeeded.
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}
	log.G(ctx).WithFields(log.Fields{"repo": repoID, "snap": snapID}).Debug("snap stored")
	return nil
}

// GetSnap serves stored snap bytes.
func (d *Daemon) GetSnap(ctx context.Context, subject identity.Subject, repoID, snapID string) ([]byte, error) {
	if err := object.ValidateID(snapID); err != nil {
		return nil, err
	}
	if err := d.checkRead(subject, repoID); err != nil {
		return nil, err
	}
	return d.objects.GetSnapBytes(repoID, snapID)
}

// FindMissingObjects answers a batched existence query so clients can
// skip uploads of objects the server already has. The four kinds are
// probed concurrently; each result list keeps the order of the request.
func (d *Daemon) FindMissingObjects(ctx context.Context, subject identity.Subject, repoID string, req MissingObjectsRequest) (MissingObjectsResponse, error) {
	if err := d.checkPublish(subject, repoID); err != nil {
		return MissingObjectsResponse{}, err
	}
	for _, group := range [][]string{req.Blobs, req.Manifests, req.Recipes, req.Snaps} {
		for _, id := range group {
			if err := object.ValidateID(id); err != nil {
				return MissingObjectsResponse{}, err
			}
		}
	}

	var out MissingObjectsResponse
	eg, ctx := errgroup.WithContext(ctx)
	probe := func(ids []string, has func(string) bool, dst *[]string) func() error {
		return func() error {
			missing := []string{}
			for _, id := range ids {
				if err := ctx.Err(); err != nil {
					return err
				}
				if !has(id) {
					missing = append(missing, id)
				}
			}
			*dst = missing
			return nil
		}
	}
	eg.Go(probe(req.Blobs, func(id string) bool { return d.objects.HasBlob(repoID, id) }, &out.MissingBlobs))
	eg.Go(probe(req.Manifests, func(id string) bool { return d.objects.HasManifest(repoID, id) }, &out.MissingManifests))
	eg.Go(probe(req.Recipes, func(id string) bool { return d.objects.HasRecipe(repoID, id) }, &out.MissingRecipes))
	eg.Go(probe(req.Snaps, func(id string) bool { return d.objects.HasSnap(repoID, id) }, &out.MissingSnaps))
	if err := eg.Wait(); err != nil {
		return MissingObjectsResponse{}, err
	}
	return out, nil
}
