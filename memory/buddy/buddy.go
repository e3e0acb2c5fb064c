package buddy

import (
	"fmt"
	"log/slog"
	"math/bits"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"
)

const (
	// DefaultMinBlockSize is the default allocation granularity.
	DefaultMinBlockSize = 64

	// maxPoolSize bounds construction so the power-of-two rounding and
	// the class math below cannot overflow int.
	maxPoolSize = 1 << (bits.UintSize - 2)
)

// Handle identifies a live allocation. The zero Handle is invalid and is
// never returned by Allocate.
type Handle struct {
	off int // block offset + 1, so the zero Handle matches no block
}

// Allocator is a binary buddy allocator owning one contiguous pool.
type Allocator struct {
	// pool is the backing byte region, held for the allocator's lifetime.
	pool []byte

	// poolStart is a cached pointer to the start of the pool, used for
	// offset recovery when a Source frees by slice.
	poolStart unsafe.Pointer

	// free holds the offsets of free blocks per size class.
	// free[0] is minBlockSize blocks; free[maxClass] is the whole pool.
	free [][]int

	// ledger maps a live block's offset to its block size. It contains
	// exactly the allocated blocks: together with the free lists it tiles
	// the whole pool.
	ledger map[int]int

	minBlockSize int
	// minShift is log2(minBlockSize).
	minShift  int
	totalSize int
	// maxClass is log2(totalSize) - log2(minBlockSize).
	maxClass int

	logger *slog.Logger
	closed bool
}

type options struct {
	minBlockSize int
	logger       *slog.Logger
}

// Option configures an Allocator at construction.
type Option func(*options)

// WithMinBlockSize sets the allocation granularity. The value is rounded up
// to a power of two; the default is DefaultMinBlockSize.
func WithMinBlockSize(n int) Option {
	return func(o *options) { o.minBlockSize = n }
}

// WithLogger sets the logger used to report usage errors such as
// deallocating an unmanaged handle. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an allocator managing a pool of at least poolSize bytes.
// The effective pool size is the next power of two, never below the
// minimum block size, and starts out as a single free block in the top
// size class.
func New(poolSize int, opts ...Option) (*Allocator, error) {
	if poolSize <= 0 || poolSize > maxPoolSize {
		return nil, fmt.Errorf("%w: pool size %d", ErrInvalidSize, poolSize)
	}
	o := options{minBlockSize: DefaultMinBlockSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.minBlockSize <= 0 || o.minBlockSize > maxPoolSize {
		return nil, fmt.Errorf("buddy: min block size %d out of range", o.minBlockSize)
	}
	if o.logger == nil {
		return nil, fmt.Errorf("buddy: nil logger")
	}

	minBlock := nextPow2(o.minBlockSize)
	totalSize := nextPow2(poolSize)
	if totalSize < minBlock {
		totalSize = minBlock
	}
	maxClass := bits.Len(uint(totalSize)) - bits.Len(uint(minBlock))

	a := &Allocator{
		pool:         mcache.Malloc(totalSize),
		free:         make([][]int, maxClass+1),
		ledger:       make(map[int]int),
		minBlockSize: minBlock,
		minShift:     bits.TrailingZeros(uint(minBlock)),
		totalSize:    totalSize,
		maxClass:     maxClass,
		logger:       o.logger,
	}
	a.poolStart = unsafe.Pointer(&a.pool[0])

	// Lower classes hold more blocks: each split doubles the count, up to
	// 2^(maxClass-k) in class k.
	for k := 0; k < maxClass; k++ {
		capacity := 1 << (maxClass - k)
		if capacity > 64 {
			capacity = 64
		}
		a.free[k] = make([]int, 0, capacity)
	}
	a.free[maxClass] = make([]int, 0, 1)

	// one free block spanning the whole pool
	a.free[maxClass] = append(a.free[maxClass], 0)
	return a, nil
}

// Allocate reserves a block of at least size bytes and returns its handle.
// The block size is size rounded up to a multiple of the minimum block
// size and then to the next power of two. Requests larger than the pool
// fail with ErrOutOfRange before any rounding, so the rounding itself
// cannot overflow.
func (a *Allocator) Allocate(size int) (Handle, error) {
	if a.closed {
		return Handle{}, ErrClosed
	}
	if size <= 0 {
		return Handle{}, ErrInvalidSize
	}
	if size > a.totalSize {
		return Handle{}, ErrOutOfRange
	}
	blockSize := a.blockSizeFor(size)
	k := a.sizeClass(blockSize)
	off, err := a.findBlock(k)
	if err != nil {
		return Handle{}, err
	}
	a.removeFree(k, off)
	a.ledger[off] = blockSize
	return Handle{off: off + 1}, nil
}

// findBlock returns the offset of a free block in class k, splitting larger
// blocks downward as needed. The offset is returned as a plain value and
// stays in class k's free list until the caller removes it.
func (a *Allocator) findBlock(k int) (int, error) {
	if fl := a.free[k]; len(fl) > 0 {
		return fl[0], nil
	}
	if k+1 > a.maxClass {
		return 0, ErrOutOfMemory
	}
	parent, err := a.findBlock(k + 1)
	if err != nil {
		return 0, err
	}
	a.removeFree(k+1, parent)
	// both halves enter class k; the lower half is handed back so a later
	// request of the same class picks up the upper one
	a.free[k] = append(a.free[k], parent, parent+a.classSize(k))
	return parent, nil
}

// Deallocate releases the allocation identified by h and merges free buddy
// pairs upward until none remain. Deallocating a handle this allocator does
// not manage is reported and returns ErrUnknownHandle without touching any
// state.
func (a *Allocator) Deallocate(h Handle) error {
	if a.closed {
		return ErrClosed
	}
	off := h.off - 1
	size, ok := a.ledger[off]
	if !ok {
		a.logger.Warn("buddy: deallocate of unmanaged handle", "offset", off)
		return ErrUnknownHandle
	}
	delete(a.ledger, off)
	k := a.sizeClass(size)
	a.free[k] = append(a.free[k], off)
	for a.coalesceOnce() {
	}
	return nil
}

// coalesceOnce runs one ascending sweep over all classes, merging every
// sorted-adjacent buddy pair. It reports whether anything merged; callers
// repeat it until a sweep merges nothing.
func (a *Allocator) coalesceOnce() bool {
	merged := false
	for k := 0; k < a.maxClass; k++ {
		fl := a.free[k]
		if len(fl) < 2 {
			continue
		}
		sortOffsets(fl)
		blockSize := a.classSize(k)
		n := 0 // write index for blocks that stay
		for i := 0; i < len(fl); {
			off := fl[i]
			// Offsets are multiples of their block size, so the buddy is
			// off^blockSize and, when sorted, follows immediately; the
			// merged block starts at the lower, 2*blockSize-aligned offset.
			if i+1 < len(fl) && fl[i+1] == off^blockSize {
				a.free[k+1] = append(a.free[k+1], off&^blockSize)
				merged = true
				i += 2
			} else {
				fl[n] = off
				n++
				i++
			}
		}
		a.free[k] = fl[:n]
	}
	return merged
}

// IsManaged reports whether h identifies a live allocation of this
// allocator. Useful for callers holding a handle of unknown provenance.
func (a *Allocator) IsManaged(h Handle) bool {
	_, ok := a.ledger[h.off-1]
	return ok
}

// AllocatedSize returns the block size of the live allocation identified by
// h, or 0 if h is not managed by this allocator.
func (a *Allocator) AllocatedSize(h Handle) int {
	return a.ledger[h.off-1]
}

// Bytes returns the storage of the live allocation identified by h, with
// length and capacity equal to its block size. It returns nil if h is not
// managed by this allocator. The slice is valid until the allocation is
// deallocated or the allocator is closed.
func (a *Allocator) Bytes(h Handle) []byte {
	off := h.off - 1
	size, ok := a.ledger[off]
	if !ok {
		return nil
	}
	return a.pool[off : off+size : off+size]
}

// TotalSize returns the effective pool size in bytes.
func (a *Allocator) TotalSize() int { return a.totalSize }

// MinBlockSize returns the effective minimum block size in bytes.
func (a *Allocator) MinBlockSize() int { return a.minBlockSize }

// Stats is a point-in-time summary of the allocator's bookkeeping.
type Stats struct {
	TotalSize      int // effective pool size
	MinBlockSize   int // effective granularity
	Classes        int // number of size classes
	FreeBytes      int // sum of free block sizes
	FreeBlocks     int // number of free blocks across all classes
	AllocatedBytes int // sum of live block sizes
	Allocations    int // number of live allocations
}

// Stats returns the current allocation statistics. FreeBytes plus
// AllocatedBytes always equals TotalSize.
func (a *Allocator) Stats() Stats {
	s := Stats{
		TotalSize:    a.totalSize,
		MinBlockSize: a.minBlockSize,
		Classes:      a.maxClass + 1,
		Allocations:  len(a.ledger),
	}
	for k, fl := range a.free {
		s.FreeBytes += len(fl) * a.classSize(k)
		s.FreeBlocks += len(fl)
	}
	for _, size := range a.ledger {
		s.AllocatedBytes += size
	}
	return s
}

// Close releases the pool. All outstanding handles and buffers become
// invalid; using them afterwards is a caller contract violation the
// allocator does not detect. Close is idempotent.
func (a *Allocator) Close() error {
	if a.closed {
		return nil
	}
	if n := len(a.ledger); n > 0 {
		a.logger.Debug("buddy: closing with live allocations", "count", n)
	}
	a.closed = true
	mcache.Free(a.pool)
	a.pool = nil
	a.poolStart = nil
	a.free = nil
	a.ledger = nil
	return nil
}

// handleAt recovers the handle for a block starting at buf's first byte.
// It only validates that the address falls inside the pool; whether the
// offset is a live allocation is decided by the ledger in Deallocate.
func (a *Allocator) handleAt(buf []byte) (Handle, bool) {
	if a.closed || cap(buf) == 0 {
		return Handle{}, false
	}
	dataPtr := *(*uintptr)(unsafe.Pointer(&buf))
	off := int(dataPtr - uintptr(a.poolStart))
	if off < 0 || off >= a.totalSize {
		return Handle{}, false
	}
	return Handle{off: off + 1}, true
}

// removeFree deletes the block at off from class k's free list.
func (a *Allocator) removeFree(k, off int) {
	fl := a.free[k]
	for i, o := range fl {
		if o == off {
			a.free[k] = append(fl[:i], fl[i+1:]...)
			return
		}
	}
}

// blockSizeFor rounds size up to a multiple of the minimum block size and
// then to the next power of two.
func (a *Allocator) blockSizeFor(size int) int {
	rounded := (size + a.minBlockSize - 1) &^ (a.minBlockSize - 1)
	return nextPow2(rounded)
}

// sizeClass returns the class index of a power-of-two block size.
func (a *Allocator) sizeClass(blockSize int) int {
	return bits.Len(uint(blockSize)) - 1 - a.minShift
}

// classSize returns the block size of class k.
func (a *Allocator) classSize(k int) int {
	return a.minBlockSize << k
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// sortOffsets insertion-sorts fl in place. Free lists are short and nearly
// sorted, which keeps this linear in practice.
func sortOffsets(fl []int) {
	for i := 1; i < len(fl); i++ {
		for j := i; j > 0 && fl[j] < fl[j-1]; j-- {
			fl[j], fl[j-1] = fl[j-1], fl[j]
		}
	}
}
