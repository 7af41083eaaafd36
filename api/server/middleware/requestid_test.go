package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/convergeio/converge/errdefs"
)

func TestRequestIDMiddleware(t *testing.T) {
	requestID := func(ctx context.Context) string {
		id, _ := log.G(ctx).Data["request-id"].(string)
		return id
	}

	t.Run("tags the context logger", func(t *testing.T) {
		var seen []string
		handler := RequestIDMiddleware(func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
			seen = append(seen, requestID(ctx))
			return nil
		})

		for i := 0; i < 2; i++ {
			r := httptest.NewRequest(http.MethodGet, "/repos", nil)
			assert.NilError(t, handler(context.Background(), httptest.NewRecorder(), r, nil))
		}
		assert.Assert(t, is.Len(seen, 2))
		assert.Check(t, seen[0] != "")
		assert.Check(t, seen[1] != "")
		assert.Check(t, seen[0] != seen[1])
	})

	t.Run("passes handler errors through", func(t *testing.T) {
		want := errdefs.NotFound(errors.New("not found"))
		handler := RequestIDMiddleware(func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
			return want
		})
		r := httptest.NewRequest(http.MethodGet, "/repos/ghost", nil)
		err := handler(context.Background(), httptest.NewRecorder(), r, nil)
		assert.Check(t, is.Equal(want, err))
	})

	t.Run("response writes reach the client", func(t *testing.T) {
		handler := RequestIDMiddleware(func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
			w.WriteHeader(http.StatusCreated)
			_, err := w.Write([]byte("done"))
			return err
		})
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPut, "/repos/proj/blobs/x", nil)
		assert.NilError(t, handler(context.Background(), rec, r, nil))
		assert.Check(t, is.Equal(http.StatusCreated, rec.Code))
		assert.Check(t, is.Equal("done", rec.Body.String()))
	})
}
