package httpstatus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/containerd/log"

	"github.com/convergeio/converge/errdefs"
)

// FromError retrieves status code from error message.
func FromError(err error) int {
	if err == nil {
		log.G(context.TODO()).WithError(err).Error("unexpected HTTP error handling")
		return http.StatusInternalServerError
	}

	var statusCode int

	// Note that the below functions are already checking the error causal chain for matches.
	switch {
	case errdefs.IsNotFound(err):
		statusCode = http.StatusNotFound
	case errdefs.IsInvalidParameter(err):
		statusCode = http.StatusBadRequest
	case errdefs.IsConflict(err):
		statusCode = http.StatusConflict
	case errdefs.IsUnauthorized(err):
		statusCode = http.StatusUnauthorized
	case errdefs.IsForbidden(err):
		statusCode = http.StatusForbidden
	case errdefs.IsContext(err):
		statusCode = http.StatusInternalServerError
	case errdefs.IsSystem(err):
		statusCode = http.StatusInternalServerError
	default:
		log.G(context.TODO()).WithFields(log.Fields{
			"module":     "api",
			"error":      err,
			"error_type": fmt.Sprintf("%T", err),
		}).Debug("FIXME: Got an API for which error does not match any expected type!!!")
	}

	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	return statusCode
}
