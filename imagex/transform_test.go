package imagex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgxform/imgxform/memory"
	"github.com/imgxform/imgxform/memory/buddy"
)

func TestRotateDims(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		deg          int
		wantW, wantH int
	}{
		{"quarter_turn", 100, 50, 90, 50, 100},
		{"half_turn", 100, 50, 180, 100, 50},
		{"full_turn", 100, 50, 360, 100, 50},
		{"diagonal", 100, 50, 45, 106, 106},
		{"negative", 100, 50, -90, 50, 100},
		{"square_thirty", 64, 64, 30, 87, 87},
	}
	alloc := memory.NewGoAllocator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := New(alloc, tt.w, tt.h, 3)
			require.NoError(t, err)
			for i := range img.Pix {
				img.Pix[i] = byte(i)
			}
			out, err := img.Rotate(tt.deg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, out.W)
			assert.Equal(t, tt.wantH, out.H)
			assert.Equal(t, 3, out.C)
			assert.Equal(t, tt.wantW*tt.wantH*3, len(out.Pix))
		})
	}
}

func TestRotateFullTurnIdentity(t *testing.T) {
	alloc := memory.NewGoAllocator()
	img, err := New(alloc, 9, 7, 4)
	require.NoError(t, err)
	for i := range img.Pix {
		img.Pix[i] = byte(i * 3)
	}

	out, err := img.Rotate(360)
	require.NoError(t, err)
	assert.Equal(t, img.W, out.W)
	assert.Equal(t, img.H, out.H)
	assert.Equal(t, img.Pix, out.Pix)
}

// Quarter-turn mapping on a 2x2: the centers sit on pixel corners, so the
// two samples that round outside the source come back black.
func TestRotateQuarterTurn(t *testing.T) {
	alloc := memory.NewGoAllocator()
	img, err := New(alloc, 2, 2, 1)
	require.NoError(t, err)
	copy(img.Pix, []byte{10, 20, 30, 40})

	out, err := img.Rotate(90)
	require.NoError(t, err)
	assert.Equal(t, 2, out.W)
	assert.Equal(t, 2, out.H)
	assert.Equal(t, []byte{0, 30, 0, 40}, out.Pix)
}

func TestRotateFillsBlack(t *testing.T) {
	alloc := memory.NewGoAllocator()
	img, err := New(alloc, 10, 10, 1)
	require.NoError(t, err)
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	// 45 degrees grows the box; its corners lie outside the source
	out, err := img.Rotate(45)
	require.NoError(t, err)
	assert.Equal(t, byte(0), out.Pix[0])
	assert.Equal(t, byte(0), out.Pix[out.W-1])
	assert.Equal(t, byte(0), out.Pix[(out.H-1)*out.W])
	assert.Equal(t, byte(0), out.Pix[out.H*out.W-1])

	// the center still comes from the source
	assert.Equal(t, byte(255), out.Pix[(out.H/2)*out.W+out.W/2])
}

func TestScale(t *testing.T) {
	alloc := memory.NewGoAllocator()

	t.Run("up", func(t *testing.T) {
		img, err := New(alloc, 2, 2, 1)
		require.NoError(t, err)
		copy(img.Pix, []byte{1, 2, 3, 4})

		out, err := img.Scale(2)
		require.NoError(t, err)
		assert.Equal(t, 4, out.W)
		assert.Equal(t, 4, out.H)
		assert.Equal(t, []byte{
			1, 1, 2, 2,
			1, 1, 2, 2,
			3, 3, 4, 4,
			3, 3, 4, 4,
		}, out.Pix)
	})

	t.Run("down", func(t *testing.T) {
		img, err := New(alloc, 4, 4, 1)
		require.NoError(t, err)
		for i := range img.Pix {
			img.Pix[i] = byte(i)
		}

		out, err := img.Scale(0.5)
		require.NoError(t, err)
		assert.Equal(t, 2, out.W)
		assert.Equal(t, 2, out.H)
		assert.Equal(t, []byte{0, 2, 8, 10}, out.Pix)
	})

	t.Run("invalid", func(t *testing.T) {
		img, err := New(alloc, 4, 4, 1)
		require.NoError(t, err)
		_, err = img.Scale(0)
		assert.Error(t, err)
		_, err = img.Scale(-1.5)
		assert.Error(t, err)
	})

	t.Run("collapse", func(t *testing.T) {
		img, err := New(alloc, 10, 10, 1)
		require.NoError(t, err)
		_, err = img.Scale(0.05)
		assert.Error(t, err)
	})
}

func TestTransform(t *testing.T) {
	input := writePNG(t, testNRGBA(20, 10))
	output := filepath.Join(t.TempDir(), "out.png")

	res, err := Transform(memory.NewGoAllocator(), TransformOptions{
		Input:  input,
		Output: output,
		Angle:  90,
		Scale:  2,
	})
	require.NoError(t, err)

	// scaled to 40x20, then a quarter turn swaps the axes
	assert.Equal(t, 20, res.W)
	assert.Equal(t, 40, res.H)
	assert.Equal(t, 4, res.C)
	assert.NotZero(t, res.Checksum)

	w, h, c, err := Probe(output)
	require.NoError(t, err)
	assert.Equal(t, 20, w)
	assert.Equal(t, 40, h)
	assert.Equal(t, 4, c)
}

func TestTransformNoOps(t *testing.T) {
	input := writePNG(t, testNRGBA(12, 8))
	alloc := memory.NewGoAllocator()

	src, err := Load(alloc, input)
	require.NoError(t, err)
	want := src.Checksum()

	output := filepath.Join(t.TempDir(), "copy.png")
	res, err := Transform(alloc, TransformOptions{Input: input, Output: output, Angle: 0, Scale: 1})
	require.NoError(t, err)
	assert.Equal(t, 12, res.W)
	assert.Equal(t, 8, res.H)
	assert.Equal(t, want, res.Checksum)

	// whole turns skip the rotation pass entirely
	res2, err := Transform(alloc, TransformOptions{Input: input, Output: output, Angle: 720, Scale: 1})
	require.NoError(t, err)
	assert.Equal(t, want, res2.Checksum)
}

func TestTransformInvalid(t *testing.T) {
	input := writePNG(t, testNRGBA(4, 4))
	alloc := memory.NewGoAllocator()

	_, err := Transform(alloc, TransformOptions{Input: input, Output: "x.png", Angle: 0, Scale: 0})
	assert.Error(t, err)

	_, err = Transform(alloc, TransformOptions{Input: "missing.png", Output: "x.png", Angle: 0, Scale: 1})
	assert.Error(t, err)

	_, err = Transform(alloc, TransformOptions{
		Input:  input,
		Output: filepath.Join(t.TempDir(), "out.tiff"),
		Angle:  0,
		Scale:  1,
	})
	assert.Error(t, err)
}

// The same transform must produce identical pixels no matter which
// allocator backs it.
func TestTransformAllocatorIdentity(t *testing.T) {
	input := writePNG(t, testNRGBA(30, 20))
	dir := t.TempDir()

	run := func(name string, alloc memory.Allocator) uint64 {
		t.Helper()
		res, err := Transform(alloc, TransformOptions{
			Input:  input,
			Output: filepath.Join(dir, name+".png"),
			Angle:  45,
			Scale:  1.5,
		})
		require.NoError(t, err)
		return res.Checksum
	}

	std := run("std", memory.NewGoAllocator())
	pool := run("pool", memory.NewPoolAllocator())

	w, h, c, err := Probe(input)
	require.NoError(t, err)
	size := EstimateTransformSize(w, h, c, 45, 1.5)
	a, err := buddy.New(size, buddy.WithLogger(testLogger()))
	require.NoError(t, err)
	defer a.Close()
	bd := run("buddy", buddy.NewSource(a))

	assert.Equal(t, std, pool)
	assert.Equal(t, std, bd)

	// every buffer went back to the pool
	assert.Zero(t, a.Stats().Allocations)
}

// Transform keeps at most two pixel buffers alive at a time; after it
// returns, the buddy pool must be whole again.
func TestTransformReleasesAll(t *testing.T) {
	input := writePNG(t, testNRGBA(16, 16))

	w, h, c, err := Probe(input)
	require.NoError(t, err)
	size := EstimateTransformSize(w, h, c, 30, 2)
	a, err := buddy.New(size, buddy.WithLogger(testLogger()))
	require.NoError(t, err)
	defer a.Close()

	_, err = Transform(buddy.NewSource(a), TransformOptions{
		Input:  input,
		Output: filepath.Join(t.TempDir(), "out.jpg"),
		Angle:  30,
		Scale:  2,
	})
	require.NoError(t, err)

	s := a.Stats()
	assert.Zero(t, s.Allocations)
	assert.Equal(t, s.TotalSize, s.FreeBytes)
	assert.Equal(t, 1, s.FreeBlocks)
}

func TestEstimateTransformSize(t *testing.T) {
	tests := []struct {
		name    string
		w, h, c int
		angle   int
		scale   float64
		want    int
	}{
		{"identity", 100, 50, 3, 0, 1, 100 * 50 * 3 * 4},
		{"quarter_turn", 100, 50, 3, 90, 1, 50 * 100 * 3 * 4},
		{"double", 100, 50, 3, 0, 2, 200 * 100 * 3 * 4},
		{"gray_half", 100, 50, 1, 0, 0.5, 50 * 25 * 1 * 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTransformSize(tt.w, tt.h, tt.c, tt.angle, tt.scale))
		})
	}

	// the diagonal bounding box grows beyond the source
	grown := EstimateTransformSize(100, 100, 3, 45, 1)
	assert.Greater(t, grown, 100*100*3*4)
}
