package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
)

type fakeAuthenticator struct {
	secrets map[string]identity.Subject
}

func (f fakeAuthenticator) Authenticate(secret string) (identity.Subject, error) {
	s, ok := f.secrets[secret]
	if !ok {
		return identity.Subject{}, errdefs.Unauthorized(errors.New("unauthorized"))
	}
	return s, nil
}

func TestAuthMiddleware(t *testing.T) {
	authn := fakeAuthenticator{secrets: map[string]identity.Subject{
		"cvg_valid": {UserID: "u-1", User: "dev", Admin: true},
	}}
	mw := AuthMiddleware(authn)

	var gotSubject identity.Subject
	var gotOK bool
	handler := mw(func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
		gotSubject, gotOK = identity.SubjectFromContext(ctx)
		return nil
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		err := handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.Check(t, is.ErrorContains(err, "unauthorized"))
		assert.Check(t, errdefs.IsUnauthorized(err))
	})

	t.Run("unknown token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		r.Header.Set("Authorization", "Bearer cvg_bogus")
		err := handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.Check(t, errdefs.IsUnauthorized(err))
	})

	t.Run("valid token attaches subject", func(t *testing.T) {
		gotSubject, gotOK = identity.Subject{}, false
		r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		r.Header.Set("Authorization", "Bearer cvg_valid")
		err := handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.NilError(t, err)
		assert.Check(t, gotOK)
		assert.Check(t, is.Equal("dev", gotSubject.User))
		assert.Check(t, is.Equal("u-1", gotSubject.UserID))
	})

	t.Run("healthz is public", func(t *testing.T) {
		gotSubject, gotOK = identity.Subject{}, false
		r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		err := handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.NilError(t, err)
		assert.Check(t, !gotOK)
	})

	t.Run("bootstrap is public for POST only", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/bootstrap", nil)
		err := handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.NilError(t, err)

		r = httptest.NewRequest(http.MethodGet, "/bootstrap", nil)
		err = handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.Check(t, errdefs.IsUnauthorized(err))
	})
}
