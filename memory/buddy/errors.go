package buddy

import "errors"

var (
	// ErrInvalidSize rejects zero or negative sizes, both at construction
	// and on Allocate.
	ErrInvalidSize = errors.New("buddy: invalid size")

	// ErrOutOfRange rejects requests larger than the whole pool; such a
	// request can never succeed regardless of fragmentation.
	ErrOutOfRange = errors.New("buddy: size exceeds pool capacity")

	// ErrOutOfMemory means the requested class is representable but no free
	// or splittable block is currently available. The caller may retry
	// after other blocks are released.
	ErrOutOfMemory = errors.New("buddy: out of memory")

	// ErrUnknownHandle reports a deallocate or free for an allocation this
	// allocator does not manage (foreign pointer, resliced buffer, or
	// double free). The operation is a no-op.
	ErrUnknownHandle = errors.New("buddy: unknown handle")

	// ErrClosed reports an operation on a closed allocator.
	ErrClosed = errors.New("buddy: allocator closed")
)
