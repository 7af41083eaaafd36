// Package ioutils provides io.Reader wrappers used by the API layer.
package ioutils

import (
	"context"
	"io"
	"sync"

	"github.com/containerd/log"
)

// readCloserWrapper pairs an io.Reader with an explicit close callback.
// Construct it with NewReadCloserWrapper.
type readCloserWrapper struct {
	io.Reader
	close func() error
	once  sync.Once
}

// Close invokes the callback once. Later calls are logged and return nil.
func (r *readCloserWrapper) Close() error {
	var err error
	fired := false
	r.once.Do(func() {
		fired = true
		err = r.close()
	})
	if !fired {
		log.G(context.TODO()).Error("subsequent attempt to close ReadCloserWrapper")
	}
	return err
}

// NewReadCloserWrapper returns an io.ReadCloser that reads from r and
// calls closer on Close. The API layer uses it to swap a request body
// for a buffered copy while keeping the original body's close behavior.
func NewReadCloserWrapper(r io.Reader, closer func() error) io.ReadCloser {
	return &readCloserWrapper{Reader: r, close: closer}
}
