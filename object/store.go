package object

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/log"
	"github.com/moby/locker"
	"github.com/moby/sys/atomicwriter"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// Kind names one of the per-repo object directories.
type Kind string

const (
	KindBlob     Kind = "blobs"
	KindManifest Kind = "manifests"
	KindRecipe   Kind = "recipes"
	KindSnap     Kind = "snaps"
)

// Store is the filesystem content-addressed object store. Objects live
// under <root>/<repo>/objects/<kind>: blobs raw under their ID, the JSON
// kinds as <id>.json. Stored content is immutable, so reads take no lock;
// writes of the same ID serialize on a per-ID lock.
type Store struct {
	root  string
	locks *locker.Locker
}

// NewStore returns a store rooted at the data directory.
func NewStore(root string) *Store {
	return &Store{root: root, locks: locker.New()}
}

func (s *Store) kindDir(repoID string, kind Kind) string {
	return filepath.Join(s.root, repoID, "objects", string(kind))
}

func (s *Store) objectPath(repoID string, kind Kind, id string) string {
	if kind == KindBlob {
		return filepath.Join(s.kindDir(repoID, KindBlob), id)
	}
	return filepath.Join(s.kindDir(repoID, kind), id+".json")
}

func (s *Store) lockKey(repoID string, kind Kind, id string) string {
	return repoID + "/" + string(kind) + "/" + id
}

// corruptObject reports stored bytes that no longer hash to their ID.
// The log line carries the ID so the damaged file can be located.
func corruptObject(what, id string) error {
	log.G(context.TODO()).WithFields(log.Fields{"object": what, "id": id}).Error("stored object failed integrity re-check")
	return errdefs.System(errors.Errorf("%s integrity check failed", what))
}

// CheckDigest verifies that b hashes to id, naming kind in the error.
func CheckDigest(kind, id string, b []byte) error {
	if actual := DigestBytes(b); actual != id {
		return errdefs.InvalidParameter(errors.Errorf("%s hash mismatch (expected %s, got %s)", kind, id, actual))
	}
	return nil
}

// PutBlob streams body into the store, verifying that it hashes to id
// before the blob becomes visible. Re-uploading an existing blob still
// consumes and verifies the body so a corrupt duplicate upload is
// reported instead of silently dropped.
func (s *Store) PutBlob(repoID, id string, body io.Reader) error {
	key := s.lockKey(repoID, KindBlob, id)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	target := s.objectPath(repoID, KindBlob, id)
	digester := digest.Canonical.Digester()

	if _, err := os.Stat(target); err == nil {
		if _, err := io.Copy(digester.Hash(), body); err != nil {
			return errdefs.System(errors.Wrap(err, "read blob body"))
		}
		return checkBlobDigest(id, digester)
	}

	dir := s.kindDir(repoID, KindBlob)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.System(errors.Wrapf(err, "create dir %s", dir))
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+id)
	if err != nil {
		return errdefs.System(errors.Wrap(err, "create temp blob"))
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), body); err != nil {
		return errdefs.System(errors.Wrapf(err, "write %s", tmp.Name()))
	}
	if err := checkBlobDigest(id, digester); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return errdefs.System(errors.Wrapf(err, "sync %s", tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return errdefs.System(errors.Wrapf(err, "close %s", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errdefs.System(errors.Wrapf(err, "rename %s -> %s", tmp.Name(), target))
	}
	return nil
}

func checkBlobDigest(id string, d digest.Digester) error {
	if actual := d.Digest().Encoded(); actual != id {
		return errdefs.InvalidParameter(errors.Errorf("blob hash mismatch (expected %s, got %s)", id, actual))
	}
	return nil
}

func (s *Store) writeIfAbsent(repoID string, kind Kind, id string, b []byte) error {
	key := s.lockKey(repoID, kind, id)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	target := s.objectPath(repoID, kind, id)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errdefs.System(errors.Wrapf(err, "create dir %s", filepath.Dir(target)))
	}
	if err := atomicwriter.WriteFile(target, b, 0o644); err != nil {
		return errdefs.System(errors.Wrapf(err, "write %s", target))
	}
	return nil
}

// PutManifest stores serialized manifest bytes under id. The caller hash
// checks and validates the bytes first; storing is first-write-wins.
func (s *Store) PutManifest(repoID, id string, b []byte) error {
	return s.writeIfAbsent(repoID, KindManifest, id, b)
}

// PutRecipe stores serialized recipe bytes under id.
func (s *Store) PutRecipe(repoID, id string, b []byte) error {
	return s.writeIfAbsent(repoID, KindRecipe, id, b)
}

// PutSnap stores the snap record under its ID, serialized by the server
// so on-disk snaps have one canonical form.
func (s *Store) PutSnap(repoID string, snap *SnapRecord) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errdefs.System(errors.Wrap(err, "serialize snap"))
	}
	return s.writeIfAbsent(repoID, KindSnap, snap.ID, b)
}

// StoreManifest serializes m, stores it under its content ID and returns
// the ID. Used for server-built manifests, which have no client-supplied
// bytes to preserve.
func (s *Store) StoreManifest(repoID string, m *Manifest) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errdefs.System(errors.Wrap(err, "serialize manifest"))
	}
	id := DigestBytes(b)
	if err := s.PutManifest(repoID, id, b); err != nil {
		return "", err
	}
	return id, nil
}

// GetBlob returns stored blob bytes for serving, re-hashing them to catch
// on-disk corruption.
func (s *Store) GetBlob(repoID, id string) ([]byte, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindBlob, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound(errors.New("not found"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read blob %s", id))
	}
	if DigestBytes(b) != id {
		return nil, corruptObject("blob", id)
	}
	return b, nil
}

// GetManifestBytes returns stored manifest bytes for serving. The bytes
// are re-hashed and re-parsed so a corrupt object is surfaced as a server
// error rather than handed to the client.
func (s *Store) GetManifestBytes(repoID, id string) ([]byte, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindManifest, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound(errors.New("not found"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read manifest %s", id))
	}
	if DigestBytes(b) != id {
		return nil, corruptObject("manifest", id)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse manifest %s", id))
	}
	return b, nil
}

// GetRecipeBytes returns stored recipe bytes for serving.
func (s *Store) GetRecipeBytes(repoID, id string) ([]byte, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindRecipe, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound(errors.New("not found"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read recipe %s", id))
	}
	if DigestBytes(b) != id {
		return nil, corruptObject("recipe", id)
	}
	var r Recipe
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse recipe %s", id))
	}
	return b, nil
}

// GetSnapBytes returns stored snap bytes for serving. Snap IDs are
// derived rather than content hashes, so there is nothing to re-hash.
func (s *Store) GetSnapBytes(repoID, id string) ([]byte, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindSnap, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound(errors.New("not found"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read snap %s", id))
	}
	var snap SnapRecord
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse snap %s", id))
	}
	return b, nil
}

// ReadManifest loads a manifest for internal traversal. Internal reads
// resolve client-supplied references, so a missing manifest reports as a
// bad reference rather than a missing resource.
func (s *Store) ReadManifest(repoID, id string) (*Manifest, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindManifest, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.InvalidParameter(errors.New("unknown manifest"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read manifest %s", id))
	}
	if DigestBytes(b) != id {
		return nil, corruptObject("manifest", id)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse manifest %s", id))
	}
	return &m, nil
}

// ReadRecipe loads a recipe for internal traversal.
func (s *Store) ReadRecipe(repoID, id string) (*Recipe, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindRecipe, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.InvalidParameter(errors.New("unknown recipe"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read recipe %s", id))
	}
	if DigestBytes(b) != id {
		return nil, corruptObject("recipe", id)
	}
	var r Recipe
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse recipe %s", id))
	}
	return &r, nil
}

// ReadSnap loads a snap record for internal use.
func (s *Store) ReadSnap(repoID, id string) (*SnapRecord, error) {
	b, err := os.ReadFile(s.objectPath(repoID, KindSnap, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.InvalidParameter(errors.New("unknown snap"))
		}
		return nil, errdefs.System(errors.Wrapf(err, "read snap %s", id))
	}
	var snap SnapRecord
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errdefs.System(errors.Wrapf(err, "parse snap %s", id))
	}
	return &snap, nil
}

// HasBlob reports whether the blob exists.
func (s *Store) HasBlob(repoID, id string) bool {
	return fileExists(s.objectPath(repoID, KindBlob, id))
}

// HasManifest reports whether the manifest exists.
func (s *Store) HasManifest(repoID, id string) bool {
	return fileExists(s.objectPath(repoID, KindManifest, id))
}

// HasRecipe reports whether the recipe exists.
func (s *Store) HasRecipe(repoID, id string) bool {
	return fileExists(s.objectPath(repoID, KindRecipe, id))
}

// HasSnap reports whether the snap exists.
func (s *Store) HasSnap(repoID, id string) bool {
	return fileExists(s.objectPath(repoID, KindSnap, id))
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// ListIDs returns the IDs of every stored object of the given kind, in
// directory order.
func (s *Store) ListIDs(repoID string, kind Kind) ([]string, error) {
	entries, err := os.ReadDir(s.kindDir(repoID, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.System(errors.Wrapf(err, "read %s dir", kind))
	}
	var out []string
	for _, e := range entries {
		id, ok := sweepStem(e, kind)
		if !ok {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// SweepResult reports one directory sweep.
type SweepResult struct {
	Deleted   int
	Kept      int
	Reclaimed int64
}

// Sweep deletes every object of the given kind whose ID is not in keep.
// With dryRun set nothing is removed; counts and reclaimable bytes are
// reported either way.
func (s *Store) Sweep(repoID string, kind Kind, keep map[string]struct{}, dryRun bool) (SweepResult, error) {
	var res SweepResult
	dir := s.kindDir(repoID, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, errdefs.System(errors.Wrapf(err, "read %s dir", kind))
	}
	for _, e := range entries {
		id, ok := sweepStem(e, kind)
		if !ok {
			continue
		}
		if _, ok := keep[id]; ok {
			res.Kept++
			continue
		}
		path := filepath.Join(dir, e.Name())
		if fi, err := e.Info(); err == nil {
			res.Reclaimed += fi.Size()
		}
		if !dryRun {
			if err := os.Remove(path); err != nil {
				return res, errdefs.System(errors.Wrapf(err, "remove %s", path))
			}
		}
		res.Deleted++
	}
	return res, nil
}

// sweepStem extracts the object ID from a directory entry, rejecting
// anything that is not a regular stored object (temp files, foreign
// extensions, wrong-length names).
func sweepStem(e os.DirEntry, kind Kind) (string, bool) {
	if !e.Type().IsRegular() {
		return "", false
	}
	name := e.Name()
	if kind != KindBlob {
		var ok bool
		name, ok = strings.CutSuffix(name, ".json")
		if !ok {
			return "", false
		}
	}
	if len(name) != IDLen {
		return "", false
	}
	return name, true
}
