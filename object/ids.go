package object

import (
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
)

// IDLen is the length of an object ID, the lowercase hex encoding of a
// SHA-256 digest.
const IDLen = 64

// ValidateID checks that id is a well-formed object ID. Blobs, manifests,
// recipes and snaps all share this format, as do the derived identifiers
// (publications, bundles, promotions, releases, users, tokens).
func ValidateID(id string) error {
	if len(id) != IDLen {
		return errdefs.InvalidParameter(errors.New("object id must be 64 hex chars"))
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return errdefs.InvalidParameter(errors.New("object id must be lowercase hex"))
	}
	return nil
}

// DigestBytes returns the object ID of a serialized object.
func DigestBytes(b []byte) string {
	return digest.FromBytes(b).Encoded()
}

// DigestParts derives an identifier from its newline-joined parts. All
// non-content IDs in the system are minted this way so they can be
// recomputed from the record that carries them.
func DigestParts(parts ...string) string {
	return digest.FromString(strings.Join(parts, "\n")).Encoded()
}
