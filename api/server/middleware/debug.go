package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/containerd/log"

	"github.com/convergeio/converge/api/server/httputils"
	"github.com/convergeio/converge/pkg/ioutils"
)

// maxDebugBodySize bounds how much of a request body the debug
// middleware is willing to buffer and log.
const maxDebugBodySize = 4096

// DebugRequestMiddleware logs every request at debug level. Small JSON
// bodies of mutating requests are logged too, with credential fields
// masked. Blob uploads and oversized bodies pass through untouched.
func DebugRequestMiddleware(handler httputils.APIFunc) httputils.APIFunc {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
		log.G(ctx).Debugf("calling %s %s", r.Method, r.RequestURI)

		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			return handler(ctx, w, r, vars)
		}
		if err := httputils.CheckForJSON(r); err != nil {
			return handler(ctx, w, r, vars)
		}
		if r.ContentLength > maxDebugBodySize {
			return handler(ctx, w, r, vars)
		}

		body := r.Body
		bufReader := bufio.NewReaderSize(body, maxDebugBodySize)
		r.Body = ioutils.NewReadCloserWrapper(bufReader, func() error { return body.Close() })

		b, err := bufReader.Peek(maxDebugBodySize)
		if err != io.EOF {
			// Read error, or the body filled the whole buffer.
			return handler(ctx, w, r, vars)
		}

		var form map[string]interface{}
		if err := json.Unmarshal(b, &form); err == nil {
			maskSecretKeys(form)
			if masked, err := json.Marshal(form); err == nil {
				log.G(ctx).Debugf("request body: %s", masked)
			}
		}

		return handler(ctx, w, r, vars)
	}
}

// maskSecretKeys replaces the values of credential-bearing fields, such
// as the bootstrap token, before a body is logged.
func maskSecretKeys(inp interface{}) {
	switch v := inp.(type) {
	case []interface{}:
		for _, e := range v {
			maskSecretKeys(e)
		}
	case map[string]interface{}:
		for k, e := range v {
			switch strings.ToLower(k) {
			case "token", "secret", "password":
				v[k] = "*****"
			default:
				maskSecretKeys(e)
			}
		}
	}
}
