// Package buddy implements a fixed-size binary buddy allocator over a
// single contiguous pool.
//
// The pool size and the minimum block size are rounded up to powers of two
// at construction, and free capacity is tracked per size class: class k
// holds free blocks of minBlockSize<<k bytes, the top class is the whole
// pool. Allocation rounds the request up to a class and splits larger free
// blocks downward until that class has a block; deallocation returns the
// block to its class and merges free buddy pairs upward until no pair
// remains. Merging only runs after a deallocation, never during allocation,
// so a request can fail with out of memory while enough non-buddy free
// bytes exist in smaller classes.
//
//	a, err := buddy.New(1<<20, buddy.WithMinBlockSize(256))
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//
//	h, err := a.Allocate(1000) // occupies a 1024-byte block
//	if err != nil {
//		return err
//	}
//	copy(a.Bytes(h), data)
//	a.Deallocate(h)
//
// An Allocator is not safe for concurrent use: no operation blocks or
// yields, and nothing guards the free lists or the ledger. Callers sharing
// an instance across goroutines must serialize access themselves
// (single-writer discipline). Buffers and handles are valid only until they
// are deallocated or the allocator is closed.
package buddy
