// Package httputils provides shared helpers for the API route handlers:
// request decoding, response writing, and access to the authenticated
// subject placed on the context by the auth middleware.
package httputils

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/convergeio/converge/errdefs"
	"github.com/convergeio/converge/identity"
)

// APIFunc is an adapter to allow the use of ordinary functions as API
// endpoints. Any function that has the appropriate signature can be
// registered as an API endpoint.
type APIFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error

// WriteJSON writes the value v to the http response stream as json with
// standard json encoding.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// ReadJSON validates the request to have the correct content-type, and
// decodes the request's Body into out.
func ReadJSON(r *http.Request, out interface{}) error {
	if err := CheckForJSON(r); err != nil {
		return err
	}
	if r.Body == nil || r.ContentLength == 0 {
		// an empty body is not invalid, so don't return an error
		return nil
	}

	dec := json.NewDecoder(r.Body)
	err := dec.Decode(out)
	defer r.Body.Close()
	if err != nil {
		if err == io.EOF {
			return errdefs.InvalidParameter(errors.New("invalid JSON: got EOF while reading request body"))
		}
		return errdefs.InvalidParameter(errors.Wrap(err, "invalid JSON"))
	}

	if dec.More() {
		return errdefs.InvalidParameter(errors.New("unexpected content after JSON"))
	}
	return nil
}

// CheckForJSON makes sure that the request's Content-Type is application/json.
func CheckForJSON(r *http.Request) error {
	ct := r.Header.Get("Content-Type")

	// No Content-Type header is ok as long as there's no Body
	if ct == "" && (r.Body == nil || r.ContentLength == 0) {
		return nil
	}

	// Otherwise it better be json
	if matchesContentType(ct, "application/json") {
		return nil
	}
	return errdefs.InvalidParameter(errors.Errorf("unsupported Content-Type header (%s): must be 'application/json'", ct))
}

// matchesContentType validates the content type against the expected one.
func matchesContentType(contentType, expectedType string) bool {
	mimetype, _, err := mime.ParseMediaType(contentType)
	return err == nil && mimetype == expectedType
}

// ParseForm ensures the request form is parsed even with invalid content types.
// If we don't do this, POST method without Content-type (even with empty body) will fail.
func ParseForm(r *http.Request) error {
	if r == nil {
		return nil
	}
	if err := r.ParseForm(); err != nil && !strings.HasPrefix(err.Error(), "mime:") {
		return errdefs.InvalidParameter(err)
	}
	return nil
}

// BearerToken extracts the bearer secret from the Authorization header.
// It returns the empty string when the header is absent or uses another
// scheme.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

// Subject returns the authenticated subject stored on the context by
// the auth middleware.
func Subject(ctx context.Context) (identity.Subject, error) {
	s, ok := identity.SubjectFromContext(ctx)
	if !ok {
		return identity.Subject{}, errdefs.Unauthorized(errors.New("unauthorized"))
	}
	return s, nil
}
