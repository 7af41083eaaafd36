package object

import (
	"sort"
)

// MergeInput names one coalesce input: a publication and the root
// manifest of its snap.
type MergeInput struct {
	Publication  string
	RootManifest string
}

// Coalesce merges the input trees into a single manifest tree, storing
// every manifest it builds, and returns the merged root ID. Inputs are
// ordered by publication ID first so the result is independent of
// request order.
//
// At each directory level, entries present in all inputs merge when they
// are all directories (recursively) or all byte-identical scalars.
// Everything else becomes a superposition holding one variant per input
// in input order, with tombstones standing in for absent entries.
func (s *Store) Coalesce(repoID string, inputs []MergeInput) (string, error) {
	sorted := append([]MergeInput(nil), inputs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Publication < sorted[j].Publication
	})
	return s.mergeDirManifests(repoID, sorted)
}

// sourcedKind is one input's entry for a name; kind is nil when the
// input has no entry of that name.
type sourcedKind struct {
	pub  string
	kind EntryKind
}

func (s *Store) mergeDirManifests(repoID string, inputs []MergeInput) (string, error) {
	type inputLevel struct {
		pub     string
		entries map[string]EntryKind
	}
	levels := make([]inputLevel, 0, len(inputs))
	for _, in := range inputs {
		m, err := s.ReadManifest(repoID, in.RootManifest)
		if err != nil {
			return "", err
		}
		entries := make(map[string]EntryKind, len(m.Entries))
		for _, e := range m.Entries {
			entries[e.Name] = e.Kind
		}
		levels = append(levels, inputLevel{pub: in.Publication, entries: entries})
	}

	nameSet := map[string]struct{}{}
	for _, lv := range levels {
		for name := range lv.entries {
			nameSet[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Entry
	for _, name := range names {
		kinds := make([]sourcedKind, 0, len(levels))
		allPresent := true
		for _, lv := range levels {
			k := lv.entries[name]
			if k == nil {
				allPresent = false
			}
			kinds = append(kinds, sourcedKind{pub: lv.pub, kind: k})
		}

		if allPresent {
			merged, recursed, err := s.tryMergePresentDirs(repoID, name, kinds)
			if err != nil {
				return "", err
			}
			if recursed {
				out = append(out, *merged)
				continue
			}
			if e := tryMergeIdenticalScalar(name, kinds); e != nil {
				out = append(out, *e)
				continue
			}
		}

		out = append(out, superpositionEntry(name, kinds))
	}

	merged := &Manifest{Version: ManifestVersion, Entries: out}

	// Merged trees must stay resolvable, but bundles are constructible
	// while blob bytes are still pending upload.
	for _, e := range merged.Entries {
		if err := s.ValidateEntryRefs(repoID, e.Kind, true); err != nil {
			return "", err
		}
	}

	return s.StoreManifest(repoID, merged)
}

// tryMergePresentDirs recursively merges an all-directory column. The
// second return is false when any input is not a directory.
func (s *Store) tryMergePresentDirs(repoID, name string, kinds []sourcedKind) (*Entry, bool, error) {
	childInputs := make([]MergeInput, 0, len(kinds))
	for _, sk := range kinds {
		d, ok := sk.kind.(Dir)
		if !ok {
			return nil, false, nil
		}
		childInputs = append(childInputs, MergeInput{Publication: sk.pub, RootManifest: d.Manifest})
	}
	mergedChild, err := s.mergeDirManifests(repoID, childInputs)
	if err != nil {
		return nil, false, err
	}
	return &Entry{Name: name, Kind: Dir{Manifest: mergedChild}}, true, nil
}

// tryMergeIdenticalScalar keeps a file, chunked file or symlink entry
// that every input agrees on exactly.
func tryMergeIdenticalScalar(name string, kinds []sourcedKind) *Entry {
	first := kinds[0].kind
	switch first.(type) {
	case File, FileChunks, Symlink:
	default:
		return nil
	}
	for _, sk := range kinds[1:] {
		if sk.kind != first {
			return nil
		}
	}
	return &Entry{Name: name, Kind: first}
}

// superpositionEntry records a conflict as one variant per input.
// Absent entries and nested superpositions both turn into tombstones so
// unresolved conflicts are never silently stacked.
func superpositionEntry(name string, kinds []sourcedKind) Entry {
	variants := make([]Variant, 0, len(kinds))
	for _, sk := range kinds {
		var vk VariantKind
		switch k := sk.kind.(type) {
		case File:
			vk = k
		case FileChunks:
			vk = k
		case Dir:
			vk = k
		case Symlink:
			vk = k
		default:
			vk = Tombstone{}
		}
		variants = append(variants, Variant{Source: sk.pub, Kind: vk})
	}
	return Entry{Name: name, Kind: Superposition{Variants: variants}}
}
