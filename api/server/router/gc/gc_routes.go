package gc

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
	"github.com/convergeio/converge/errdefs"
)

// postGC runs a collection. Both dry_run and prune_metadata default to
// true, so a bare POST reports what a full sweep would do without
// touching anything.
func (gr *gcRouter) postGC(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	if err := httputils.ParseForm(r); err != nil {
		return err
	}
	opts := daemon.GCOptions{
		DryRun:        httputils.BoolValueOrDefault(r, "dry_run", true),
		PruneMetadata: httputils.BoolValueOrDefault(r, "prune_metadata", true),
	}
	if r.Form.Get("prune_releases_keep_last") != "" {
		n, err := httputils.Int64ValueOrDefault(r, "prune_releases_keep_last", 0)
		if err != nil {
			return errdefs.InvalidParameter(errors.Wrap(err, "invalid prune_releases_keep_last"))
		}
		keep := int(n)
		opts.KeepLast = &keep
	}
	report, err := gr.backend.CollectGarbage(ctx, subject, vars["name"], opts)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, report)
}
