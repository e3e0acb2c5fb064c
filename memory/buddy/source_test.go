package buddy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceAllocateFree(t *testing.T) {
	a := newTestAllocator(t, 1<<16, 64)
	s := NewSource(a)
	assert.Same(t, a, s.Allocator())

	buf, err := s.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, 100, len(buf))
	assert.Equal(t, 128, cap(buf))

	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, s.Free(buf))
	requireInitialState(t, a)
}

func TestSourceAllocateErrors(t *testing.T) {
	a := newTestAllocator(t, 1024, 64)
	s := NewSource(a)

	_, err := s.Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = s.Allocate(4096)
	assert.ErrorIs(t, err, ErrOutOfRange)

	buf, err := s.Allocate(1024)
	require.NoError(t, err)
	_, err = s.Allocate(64)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	require.NoError(t, s.Free(buf))
}

func TestSourceFreeForeign(t *testing.T) {
	a := newTestAllocator(t, 4096, 64)
	s := NewSource(a)

	// nil and empty buffers are ignored
	require.NoError(t, s.Free(nil))
	require.NoError(t, s.Free([]byte{}))

	// heap buffer outside the pool
	assert.ErrorIs(t, s.Free(make([]byte, 64)), ErrUnknownHandle)

	buf, err := s.Allocate(200)
	require.NoError(t, err)

	// resliced past the block start: inside the pool, but not a live block
	assert.ErrorIs(t, s.Free(buf[64:]), ErrUnknownHandle)

	// double free
	require.NoError(t, s.Free(buf))
	assert.ErrorIs(t, s.Free(buf), ErrUnknownHandle)

	requireInitialState(t, a)
}

func TestSourceInterleaved(t *testing.T) {
	a := newTestAllocator(t, 4096, 64)
	s := NewSource(a)

	bufs := make([][]byte, 8)
	for i := range bufs {
		buf, err := s.Allocate(256)
		require.NoError(t, err)
		bufs[i] = buf
	}
	for i, buf := range bufs {
		for j := range buf {
			buf[j] = byte(i)
		}
	}
	for i, buf := range bufs {
		assert.Equal(t, byte(i), buf[0])
		assert.Equal(t, byte(i), buf[255])
	}
	for _, buf := range bufs {
		require.NoError(t, s.Free(buf))
	}
	requireInitialState(t, a)
}

func TestSourceFreeAfterClose(t *testing.T) {
	a, err := New(1024, WithLogger(discardLogger()))
	require.NoError(t, err)
	s := NewSource(a)

	buf, err := s.Allocate(100)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, s.Free(buf), ErrUnknownHandle)
}

func BenchmarkSource(b *testing.B) {
	a, _ := New(16<<20, WithMinBlockSize(4096), WithLogger(discardLogger()))
	defer a.Close()
	s := NewSource(a)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := s.Allocate(10000)
		if err == nil {
			s.Free(buf)
		}
	}
}
