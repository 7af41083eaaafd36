package middleware

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
)

// Authenticator resolves a bearer secret to the subject that owns it.
// *identity.Store implements it.
type Authenticator interface {
	Authenticate(secret string) (identity.Subject, error)
}

// publicRoutes are reachable without a token. Bootstrap authenticates
// with the one-time bootstrap secret inside its own handler.
var publicRoutes = map[string]string{
	"/healthz":   http.MethodGet,
	"/bootstrap": http.MethodPost,
	"/metrics":   http.MethodGet,
}

// AuthMiddleware resolves the request's bearer token through authn and
// attaches the resulting subject to the request context. Requests to
// non-public routes without a valid token never reach their handler.
func AuthMiddleware(authn Authenticator) Middleware {
	return func(handler httputils.APIFunc) httputils.APIFunc {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
			if method, ok := publicRoutes[r.URL.Path]; ok && method == r.Method {
				return handler(ctx, w, r, vars)
			}

			secret := httputils.BearerToken(r)
			if secret == "" {
				return errdefs.Unauthorized(errors.New("unauthorized"))
			}
			subject, err := authn.Authenticate(secret)
			if err != nil {
				return err
			}
			return handler(identity.WithSubject(ctx, subject), w, r, vars)
		}
	}
}
