// Package errdefs defines the error classes used across the daemon and API.
//
// Errors are classified by marker interface rather than by concrete type so
// that any error can opt into a class, either by implementing the interface
// directly or by being wrapped with one of the helpers in this package. The
// HTTP layer maps classes to status codes; nothing below the API layer is
// allowed to reason about status codes directly.
package errdefs

// ErrNotFound signals that the requested object does not exist.
type ErrNotFound interface {
	NotFound()
}

// ErrInvalidParameter signals that the user input is invalid.
type ErrInvalidParameter interface {
	InvalidParameter()
}

// ErrConflict signals that some requested operation conflicts with the
// current state of the object it addresses.
type ErrConflict interface {
	Conflict()
}

// ErrUnauthorized is used to signal that the user is not authenticated.
type ErrUnauthorized interface {
	Unauthorized()
}

// ErrForbidden signals that the authenticated user is not permitted to
// perform the requested operation.
type ErrForbidden interface {
	Forbidden()
}

// ErrSystem signals that some internal error occurred. An example of this
// would be a failed filesystem write or a corrupt on-disk record.
type ErrSystem interface {
	System()
}
