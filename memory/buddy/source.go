package buddy

// Source exposes an Allocator as a plain buffer source, interchangeable
// with the allocators in the memory package. It hands out slices into the
// pool and recovers the owning block from the slice pointer on Free.
//
// A Source shares its Allocator's single-writer constraint.
type Source struct {
	a *Allocator
}

// NewSource wraps a. The allocator's lifecycle stays with the caller;
// closing it invalidates every buffer the Source handed out.
func NewSource(a *Allocator) *Source {
	return &Source{a: a}
}

// Allocator returns the wrapped buddy allocator.
func (s *Source) Allocator() *Allocator { return s.a }

// Allocate reserves a block and returns its storage trimmed to size bytes;
// the capacity is the underlying block size. Contents are not zeroed.
func (s *Source) Allocate(size int) ([]byte, error) {
	h, err := s.a.Allocate(size)
	if err != nil {
		return nil, err
	}
	return s.a.Bytes(h)[:size], nil
}

// Free returns buf's block to the pool. buf must be the slice returned by
// Allocate, not resliced past its start. Buffers that do not begin at a
// live block of this pool are reported and rejected with ErrUnknownHandle;
// nil and empty buffers are ignored.
func (s *Source) Free(buf []byte) error {
	if cap(buf) == 0 {
		return nil
	}
	h, ok := s.a.handleAt(buf)
	if !ok {
		s.a.logger.Warn("buddy: free of buffer outside pool")
		return ErrUnknownHandle
	}
	return s.a.Deallocate(h)
}
