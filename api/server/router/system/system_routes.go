package system

import (
	"context"
	"net/http"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/daemon"
)

func (s *systemRouter) getHealth(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	return httputils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *systemRouter) postBootstrap(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	var req daemon.BootstrapRequest
	if err := httputils.ReadJSON(r, &req); err != nil {
		return err
	}
	resp, err := s.backend.Bootstrap(ctx, httputils.BearerToken(r), req)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, resp)
}

func (s *systemRouter) getWhoAmI(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	subject, err := httputils.Subject(ctx)
	if err != nil {
		return err
	}
	return httputils.WriteJSON(w, http.StatusOK, s.backend.WhoAmI(subject))
}

func (s *systemRouter) serveMetrics(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	s.metrics.ServeHTTP(w, r)
	return nil
}
