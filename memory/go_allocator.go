package memory

import "github.com/bytedance/gopkg/lang/dirtmake"

// GoAllocator allocates straight from the Go heap and leaves reclamation to
// the garbage collector. It is the baseline the pooled allocators are
// measured against.
type GoAllocator struct{}

func NewGoAllocator() *GoAllocator { return &GoAllocator{} }

// Allocate returns a heap buffer of length size. The buffer is not zeroed.
func (a *GoAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return dirtmake.Bytes(size, size), nil
}

// Free is a no-op; the GC owns the buffer.
func (a *GoAllocator) Free(buf []byte) error { return nil }
