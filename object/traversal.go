package object

import (
	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// ReachableSet accumulates every object ID reachable from one or more
// manifest roots. Roots can share subtrees; a manifest or recipe already
// in the set is not reread.
type ReachableSet struct {
	Blobs     map[string]struct{}
	Manifests map[string]struct{}
	Recipes   map[string]struct{}
}

// NewReachableSet returns an empty set.
func NewReachableSet() *ReachableSet {
	return &ReachableSet{
		Blobs:     map[string]struct{}{},
		Manifests: map[string]struct{}{},
		Recipes:   map[string]struct{}{},
	}
}

// CollectReachable walks the manifest tree rooted at rootManifest and
// adds every reachable blob, manifest and recipe to out. Superposition
// variants are walked too: unresolved conflicts pin all their inputs.
func (s *Store) CollectReachable(repoID, rootManifest string, out *ReachableSet) error {
	if _, ok := out.Manifests[rootManifest]; ok {
		return nil
	}
	out.Manifests[rootManifest] = struct{}{}

	m, err := s.ReadManifest(repoID, rootManifest)
	if err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := s.collectKind(repoID, e.Kind, out); err != nil {
			return err
		}
	}
	return nil
}

// collectKind handles one entry or superposition variant payload. The
// two payload sets share every reference-carrying shape, so a single
// switch covers both.
func (s *Store) collectKind(repoID string, kind any, out *ReachableSet) error {
	switch k := kind.(type) {
	case File:
		out.Blobs[k.Blob] = struct{}{}
	case FileChunks:
		if err := s.collectRecipe(repoID, k.Recipe, out); err != nil {
			return err
		}
	case Dir:
		return s.CollectReachable(repoID, k.Manifest, out)
	case Superposition:
		for _, v := range k.Variants {
			if err := s.collectKind(repoID, v.Kind, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) collectRecipe(repoID, id string, out *ReachableSet) error {
	if _, ok := out.Recipes[id]; ok {
		return nil
	}
	out.Recipes[id] = struct{}{}

	r, err := s.ReadRecipe(repoID, id)
	if err != nil {
		return err
	}
	for _, c := range r.Chunks {
		out.Blobs[c.Blob] = struct{}{}
	}
	return nil
}

// ValidateTree checks that everything referenced from the manifest tree
// rooted at rootManifest is resolvable: manifests and recipes must exist
// and parse, blob IDs must be well formed, and blobs must exist when
// requireBlobs is set. Metadata-only flows pass requireBlobs false.
func (s *Store) ValidateTree(repoID, rootManifest string, requireBlobs bool) error {
	return s.validateTree(repoID, rootManifest, requireBlobs, map[string]struct{}{})
}

func (s *Store) validateTree(repoID, id string, requireBlobs bool, visited map[string]struct{}) error {
	if _, ok := visited[id]; ok {
		return nil
	}
	visited[id] = struct{}{}

	m, err := s.ReadManifest(repoID, id)
	if err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := s.validateTreeKind(repoID, e.Kind, requireBlobs, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) validateTreeKind(repoID string, kind any, requireBlobs bool, visited map[string]struct{}) error {
	switch k := kind.(type) {
	case File:
		return s.checkBlobRef(repoID, k.Blob, requireBlobs)
	case FileChunks:
		r, err := s.ReadRecipe(repoID, k.Recipe)
		if err != nil {
			return err
		}
		for _, c := range r.Chunks {
			if err := s.checkBlobRef(repoID, c.Blob, requireBlobs); err != nil {
				return err
			}
		}
	case Dir:
		return s.validateTree(repoID, k.Manifest, requireBlobs, visited)
	case Superposition:
		for _, v := range k.Variants {
			if err := s.validateTreeKind(repoID, v.Kind, requireBlobs, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) checkBlobRef(repoID, id string, requireExists bool) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if requireExists && !s.HasBlob(repoID, id) {
		return errdefs.InvalidParameter(errors.Errorf("missing referenced blob %s", id))
	}
	return nil
}

// ValidateEntryRefs checks the direct references of one manifest entry at
// upload time: blob IDs are checked for form always and existence unless
// allowMissingBlobs, while referenced recipes and manifests must already
// be stored. Only one level is checked; uploads arrive in postorder, so
// deeper levels were validated by their own uploads.
func (s *Store) ValidateEntryRefs(repoID string, kind any, allowMissingBlobs bool) error {
	switch k := kind.(type) {
	case File:
		return s.checkBlobRef(repoID, k.Blob, !allowMissingBlobs)
	case FileChunks:
		if err := ValidateID(k.Recipe); err != nil {
			return err
		}
		if !s.HasRecipe(repoID, k.Recipe) {
			return errdefs.InvalidParameter(errors.Errorf("missing referenced recipe %s", k.Recipe))
		}
	case Dir:
		if err := ValidateID(k.Manifest); err != nil {
			return err
		}
		if !s.HasManifest(repoID, k.Manifest) {
			return errdefs.InvalidParameter(errors.Errorf("missing referenced manifest %s", k.Manifest))
		}
	case Superposition:
		for _, v := range k.Variants {
			if err := s.ValidateEntryRefs(repoID, v.Kind, allowMissingBlobs); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateRecipeRefs checks every chunk blob reference of a recipe at
// upload time.
func (s *Store) ValidateRecipeRefs(repoID string, r *Recipe, allowMissingBlobs bool) error {
	for _, c := range r.Chunks {
		if err := s.checkBlobRef(repoID, c.Blob, !allowMissingBlobs); err != nil {
			return err
		}
	}
	return nil
}

// HasSuperpositions reports whether any manifest in the tree rooted at
// rootManifest carries a superposition entry. Only plain directory
// entries are descended; a superposition found higher up already answers
// the question, and conflicts nested under conflicting directories are
// the variants' own business.
func (s *Store) HasSuperpositions(repoID, rootManifest string) (bool, error) {
	return s.hasSuperpositions(repoID, rootManifest, map[string]struct{}{})
}

func (s *Store) hasSuperpositions(repoID, id string, visited map[string]struct{}) (bool, error) {
	if _, ok := visited[id]; ok {
		return false, nil
	}
	visited[id] = struct{}{}

	m, err := s.ReadManifest(repoID, id)
	if err != nil {
		return false, err
	}
	for _, e := range m.Entries {
		switch k := e.Kind.(type) {
		case Superposition:
			return true, nil
		case Dir:
			found, err := s.hasSuperpositions(repoID, k.Manifest, visited)
			if err != nil || found {
				return found, err
			}
		}
	}
	return false, nil
}
