package object

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// ManifestVersion is the only manifest schema version the server accepts.
const ManifestVersion = 1

// Entry type tags as they appear on the wire.
const (
	TypeFile          = "File"
	TypeFileChunks    = "FileChunks"
	TypeDir           = "Dir"
	TypeSymlink       = "Symlink"
	TypeSuperposition = "Superposition"
	TypeTombstone     = "Tombstone"
)

// Manifest describes one directory level of a snapshot tree. Entries are
// sorted by name so equal trees serialize to equal bytes and therefore
// equal IDs.
type Manifest struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Entry is a named member of a manifest. Kind carries the variant payload;
// it is one of File, FileChunks, Dir, Symlink or Superposition.
type Entry struct {
	Name string
	Kind EntryKind
}

// EntryKind is implemented by every type that can appear as a manifest
// entry payload.
type EntryKind interface {
	entryKind() string
}

// VariantKind is implemented by every type that can appear inside a
// superposition. It is the entry set minus Superposition (no nesting)
// plus Tombstone (entry absent in that input).
type VariantKind interface {
	variantKind() string
}

// File is a whole file stored as a single blob.
type File struct {
	Blob string
	Mode uint32
	Size uint64
}

// FileChunks is a large file reassembled from a chunk recipe.
type FileChunks struct {
	Recipe string
	Mode   uint32
	Size   uint64
}

// Dir references the manifest of a subdirectory.
type Dir struct {
	Manifest string
}

// Symlink records a symbolic link target verbatim.
type Symlink struct {
	Target string
}

// Superposition records an unresolved conflict: one variant per merge
// input, in input order.
type Superposition struct {
	Variants []Variant
}

// Tombstone marks an entry that was absent in one merge input.
type Tombstone struct{}

func (File) entryKind() string          { return TypeFile }
func (FileChunks) entryKind() string    { return TypeFileChunks }
func (Dir) entryKind() string           { return TypeDir }
func (Symlink) entryKind() string       { return TypeSymlink }
func (Superposition) entryKind() string { return TypeSuperposition }

func (File) variantKind() string       { return TypeFile }
func (FileChunks) variantKind() string { return TypeFileChunks }
func (Dir) variantKind() string        { return TypeDir }
func (Symlink) variantKind() string    { return TypeSymlink }
func (Tombstone) variantKind() string  { return TypeTombstone }

// Variant is one superposition alternative, tagged with the publication ID
// it came from.
type Variant struct {
	Source string
	Kind   VariantKind
}

func (e Entry) MarshalJSON() ([]byte, error) {
	switch k := e.Kind.(type) {
	case File:
		return json.Marshal(struct {
			Name string `json:"name"`
			Type string `json:"type"`
			Blob string `json:"blob"`
			Mode uint32 `json:"mode"`
			Size uint64 `json:"size"`
		}{e.Name, TypeFile, k.Blob, k.Mode, k.Size})
	case FileChunks:
		return json.Marshal(struct {
			Name   string `json:"name"`
			Type   string `json:"type"`
			Recipe string `json:"recipe"`
			Mode   uint32 `json:"mode"`
			Size   uint64 `json:"size"`
		}{e.Name, TypeFileChunks, k.Recipe, k.Mode, k.Size})
	case Dir:
		return json.Marshal(struct {
			Name     string `json:"name"`
			Type     string `json:"type"`
			Manifest string `json:"manifest"`
		}{e.Name, TypeDir, k.Manifest})
	case Symlink:
		return json.Marshal(struct {
			Name   string `json:"name"`
			Type   string `json:"type"`
			Target string `json:"target"`
		}{e.Name, TypeSymlink, k.Target})
	case Superposition:
		return json.Marshal(struct {
			Name     string    `json:"name"`
			Type     string    `json:"type"`
			Variants []Variant `json:"variants"`
		}{e.Name, TypeSuperposition, k.Variants})
	default:
		return nil, errors.Errorf("unknown manifest entry kind %T", e.Kind)
	}
}

func (v Variant) MarshalJSON() ([]byte, error) {
	switch k := v.Kind.(type) {
	case File:
		return json.Marshal(struct {
			Source string `json:"source"`
			Type   string `json:"type"`
			Blob   string `json:"blob"`
			Mode   uint32 `json:"mode"`
			Size   uint64 `json:"size"`
		}{v.Source, TypeFile, k.Blob, k.Mode, k.Size})
	case FileChunks:
		return json.Marshal(struct {
			Source string `json:"source"`
			Type   string `json:"type"`
			Recipe string `json:"recipe"`
			Mode   uint32 `json:"mode"`
			Size   uint64 `json:"size"`
		}{v.Source, TypeFileChunks, k.Recipe, k.Mode, k.Size})
	case Dir:
		return json.Marshal(struct {
			Source   string `json:"source"`
			Type     string `json:"type"`
			Manifest string `json:"manifest"`
		}{v.Source, TypeDir, k.Manifest})
	case Symlink:
		return json.Marshal(struct {
			Source string `json:"source"`
			Type   string `json:"type"`
			Target string `json:"target"`
		}{v.Source, TypeSymlink, k.Target})
	case Tombstone:
		return json.Marshal(struct {
			Source string `json:"source"`
			Type   string `json:"type"`
		}{v.Source, TypeTombstone})
	default:
		return nil, errors.Errorf("unknown superposition variant kind %T", v.Kind)
	}
}

// wirePayload holds the union of every entry and variant field for
// decoding. The type tag selects which fields are read.
type wirePayload struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	Type     string    `json:"type"`
	Blob     string    `json:"blob"`
	Recipe   string    `json:"recipe"`
	Manifest string    `json:"manifest"`
	Target   string    `json:"target"`
	Mode     uint32    `json:"mode"`
	Size     uint64    `json:"size"`
	Variants []Variant `json:"variants"`
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var w wirePayload
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Name = w.Name
	switch w.Type {
	case TypeFile:
		e.Kind = File{Blob: w.Blob, Mode: w.Mode, Size: w.Size}
	case TypeFileChunks:
		e.Kind = FileChunks{Recipe: w.Recipe, Mode: w.Mode, Size: w.Size}
	case TypeDir:
		e.Kind = Dir{Manifest: w.Manifest}
	case TypeSymlink:
		e.Kind = Symlink{Target: w.Target}
	case TypeSuperposition:
		e.Kind = Superposition{Variants: w.Variants}
	default:
		return errors.Errorf("unknown manifest entry type %q", w.Type)
	}
	return nil
}

func (v *Variant) UnmarshalJSON(b []byte) error {
	var w wirePayload
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v.Source = w.Source
	switch w.Type {
	case TypeFile:
		v.Kind = File{Blob: w.Blob, Mode: w.Mode, Size: w.Size}
	case TypeFileChunks:
		v.Kind = FileChunks{Recipe: w.Recipe, Mode: w.Mode, Size: w.Size}
	case TypeDir:
		v.Kind = Dir{Manifest: w.Manifest}
	case TypeSymlink:
		v.Kind = Symlink{Target: w.Target}
	case TypeTombstone:
		v.Kind = Tombstone{}
	default:
		return errors.Errorf("unknown superposition variant type %q", w.Type)
	}
	return nil
}

// ParseManifest decodes and version-checks a serialized manifest.
func ParseManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errdefs.InvalidParameter(errors.Wrap(err, "parse manifest"))
	}
	if m.Version != ManifestVersion {
		return nil, errdefs.InvalidParameter(errors.New("unsupported manifest version"))
	}
	return &m, nil
}
