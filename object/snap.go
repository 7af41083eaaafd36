package object

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// SnapVersion is the only snap schema version the server accepts.
const SnapVersion = 1

// SnapStats summarizes the tree a snap captured.
type SnapStats struct {
	Files    uint64 `json:"files"`
	Dirs     uint64 `json:"dirs"`
	Symlinks uint64 `json:"symlinks"`
	Bytes    uint64 `json:"bytes"`
}

// SnapRecord points at the root manifest of one captured workspace state.
// Message stays a pointer so an absent message round-trips as null.
type SnapRecord struct {
	Version      int       `json:"version"`
	ID           string    `json:"id"`
	CreatedAt    string    `json:"created_at"`
	RootManifest string    `json:"root_manifest"`
	Message      *string   `json:"message"`
	Stats        SnapStats `json:"stats"`
}

// ComputeSnapID derives the snap ID from its creation time and root
// manifest. Clients mint snap IDs the same way, which is what lets the
// server verify them on upload.
func ComputeSnapID(createdAt, rootManifest string) string {
	return DigestParts(createdAt, rootManifest)
}

// ParseSnap decodes and version-checks a serialized snap record.
func ParseSnap(b []byte) (*SnapRecord, error) {
	var s SnapRecord
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errdefs.InvalidParameter(errors.Wrap(err, "parse snap"))
	}
	if s.Version != SnapVersion {
		return nil, errdefs.InvalidParameter(errors.New("unsupported snap version"))
	}
	return &s, nil
}
