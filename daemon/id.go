package daemon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
)

const idFilename = "daemon-id"

// loadOrCreateID returns the unique identity of this daemon
// installation, generating and persisting one inside the data dir on
// first start. The ID survives restarts and distinguishes instances
// that share log aggregation.
func loadOrCreateID(dataDir string) (string, error) {
	idPath := filepath.Join(dataDir, idFilename)
	b, err := os.ReadFile(idPath)
	if os.IsNotExist(err) {
		id := uuid.New().String()
		if err := atomicwriter.WriteFile(idPath, []byte(id), 0o600); err != nil {
			return "", errors.Wrap(err, "saving daemon ID file")
		}
		return id, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "loading daemon ID file %s", idPath)
	}
	return strings.TrimSpace(string(b)), nil
}
