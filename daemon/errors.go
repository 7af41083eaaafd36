package daemon

import (
	"github.com/convergeio/converge/errdefs"
	"github.com/pkg/errors"
)

// Shared terminal errors for access and lookup failures. The HTTP layer
// renders them verbatim, so the messages are part of the wire contract.
var (
	errForbidden = errdefs.Forbidden(errors.New("forbidden"))
	errNotFound  = errdefs.NotFound(errors.New("not found"))
)
