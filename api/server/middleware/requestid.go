package middleware

import (
	"context"
	"net/http"

	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/convergeio/converge/api/server/httpstatus"
	"github.com/convergeio/converge/api/server/httputils"
)

// statusRecorder captures the status code a handler writes so the
// request can be logged with its outcome.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// RequestIDMiddleware assigns every request a fresh ID. The ID rides
// the context logger so all lines emitted for one request correlate,
// and the request is logged with its status once the handler returns.
// Install it last so it wraps the other middlewares.
func RequestIDMiddleware(handler httputils.APIFunc) httputils.APIFunc {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
		ctx = log.WithLogger(ctx, log.G(ctx).WithField("request-id", uuid.New().String()))

		rec := &statusRecorder{ResponseWriter: w}
		err := handler(ctx, rec, r, vars)

		status := rec.status
		if err != nil {
			// The error body is written by the caller after this
			// middleware returns; log the status it will map to.
			status = httpstatus.FromError(err)
		} else if status == 0 {
			status = http.StatusOK
		}
		log.G(ctx).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		}).Debug("request completed")
		return err
	}
}
