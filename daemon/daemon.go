// Package daemon wires the converge subsystems together: identity, the
// repo index, and the content-addressed object store. The API routers
// call into Daemon methods; nothing above this package mutates state.
package daemon

import (
	"context"
	"crypto/subtle"
	"os"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/convergeio/converge/daemon/config"
	"github.com/convergeio/converge/identity"
	"github.com/convergeio/converge/object"
	"github.com/convergeio/converge/repo"
)

// Daemon holds the shared state behind the HTTP surface.
type Daemon struct {
	id       string
	cfg      *config.Config
	ids      *identity.Store
	repos    *repo.Store
	objects  *object.Store
	strapSum string
}

// NewDaemon creates the data directory, loads or seeds identity, and
// hydrates every repo found on disk.
func NewDaemon(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", cfg.DataDir)
	}
	id, err := loadOrCreateID(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	ids, err := identity.NewStore(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "load identity")
	}
	if !ids.HasUsers() || !ids.HasTokens() {
		if cfg.BootstrapToken != "" {
			// Bootstrap mode starts from nothing; a half-populated
			// store cannot be repaired automatically.
			if ids.HasUsers() || ids.HasTokens() {
				return nil, errors.Errorf("identity store inconsistent (users/tokens missing); remove %s to re-bootstrap", cfg.DataDir)
			}
		} else {
			if err := ids.SeedDev(cfg.DevUser, cfg.DevToken); err != nil {
				return nil, errors.Wrap(err, "seed dev identity")
			}
			log.G(ctx).WithField("user", cfg.DevUser).Info("seeded development identity")
		}
	}

	repos, err := repo.NewStore(cfg.DataDir, defaultUser(ids, cfg), ids.HandleToID())
	if err != nil {
		return nil, errors.Wrap(err, "load repos from disk")
	}

	d := &Daemon{
		id:      id,
		cfg:     cfg,
		ids:     ids,
		repos:   repos,
		objects: object.NewStore(cfg.DataDir),
	}
	if cfg.BootstrapToken != "" {
		d.strapSum = identity.HashSecret(cfg.BootstrapToken)
	}
	return d, nil
}

// defaultUser picks the owner for aggregates repaired from bare repo
// directories: the first admin by handle, else the first user, else
// the configured dev user.
func defaultUser(ids *identity.Store, cfg *config.Config) string {
	users := ids.ListUsers()
	for _, u := range users {
		if u.Admin {
			return u.Handle
		}
	}
	if len(users) > 0 {
		return users[0].Handle
	}
	return cfg.DevUser
}

// ID returns the persisted identity of this daemon installation.
func (d *Daemon) ID() string { return d.id }

// Config returns the daemon's live configuration.
func (d *Daemon) Config() *config.Config { return d.cfg }

// Identity exposes the identity store to the auth middleware.
func (d *Daemon) Identity() *identity.Store { return d.ids }

// VerifyBootstrapToken reports whether the presented bearer secret is
// the configured bootstrap token. Always false when none is set.
func (d *Daemon) VerifyBootstrapToken(secret string) bool {
	if d.strapSum == "" {
		return false
	}
	sum := identity.HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(sum), []byte(d.strapSum)) == 1
}

// nowRFC3339 is the single clock for persisted timestamps. The fixed
// fractional width keeps lexicographic order equal to chronological
// order.
func nowRFC3339() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
