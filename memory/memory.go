// Package memory provides the buffer source abstraction consumed by the
// image pipeline, plus two baseline implementations: a GC-backed allocator
// and a size-class recycling pool. The buddy allocator in memory/buddy
// plugs into the same interface through its Source adapter.
package memory

import "errors"

// ErrInvalidSize is returned for zero or negative allocation requests.
var ErrInvalidSize = errors.New("memory: invalid size")

// Allocator hands out byte buffers and takes them back. Implementations
// decide for themselves whether Free actually recycles anything; callers
// must not use a buffer after freeing it.
type Allocator interface {
	// Allocate returns a buffer of length size. Contents may not be zeroed.
	Allocate(size int) ([]byte, error)
	// Free releases a buffer previously returned by Allocate.
	Free(buf []byte) error
}
