package release

import (
	"context"
	"net/http"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
)

func (rr *releaseRouter) getReleases(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	releases, err := rr.backend.ListReleases(ctx, subject, vars["name"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, releases)
}

func (rr *releaseRouter) postRelease(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	var body daemon.CreateReleaseRequest
	if err := httputils.ReadJSON(r, &body); err != nil {
		return err
	}
	rel, err := rr.backend.CreateRelease(ctx, subject, vars["name"], body)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, rel)
}

func (rr *releaseRouter) getChannelHead(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	head, err := rr.backend.GetChannelHead(ctx, subject, vars["name"], vars["channel"])
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, head)
}
