package imagex

import (
	"fmt"
	"math"

	"github.com/imgxform/imgxform/memory"
)

// TransformOptions describes one load-scale-rotate-save run.
type TransformOptions struct {
	Input  string
	Output string
	Angle  int     // degrees, counterclockwise
	Scale  float64 // must be positive; 1 skips scaling
}

// TransformResult reports the output dimensions and a checksum of the final
// pixels.
type TransformResult struct {
	W, H, C  int
	Checksum uint64
}

// Rotate returns a copy rotated by deg degrees. The result grows to the
// rotated bounding box (|W cos| + |H sin| by |W sin| + |H cos|) and the
// areas outside the source are black. Sampling is nearest neighbor through
// the inverse rotation about the image centers.
func (m *Image) Rotate(deg int) (*Image, error) {
	rad := float64(deg) * math.Pi / 180
	sin, cos := math.Sincos(rad)

	newW := int(math.Abs(float64(m.W)*cos) + math.Abs(float64(m.H)*sin))
	newH := int(math.Abs(float64(m.W)*sin) + math.Abs(float64(m.H)*cos))
	if newW <= 0 || newH <= 0 {
		return nil, fmt.Errorf("imagex: rotation by %d collapses %dx%d", deg, m.W, m.H)
	}

	out, err := New(m.alloc, newW, newH, m.C)
	if err != nil {
		return nil, err
	}

	cxOld, cyOld := float64(m.W)/2, float64(m.H)/2
	cxNew, cyNew := float64(newW)/2, float64(newH)/2

	for i := 0; i < newH; i++ {
		for j := 0; j < newW; j++ {
			dx, dy := float64(j)-cxNew, float64(i)-cyNew
			x := int(math.Round(cos*dx + sin*dy + cxOld))
			y := int(math.Round(-sin*dx + cos*dy + cyOld))

			dst := (i*newW + j) * m.C
			if x >= 0 && x < m.W && y >= 0 && y < m.H {
				src := (y*m.W + x) * m.C
				copy(out.Pix[dst:dst+m.C], m.Pix[src:src+m.C])
			} else {
				for c := 0; c < m.C; c++ {
					out.Pix[dst+c] = 0
				}
			}
		}
	}
	return out, nil
}

// Scale returns a nearest-neighbor resample by factor f. The result is
// floor(W*f) by floor(H*f); factors that collapse either axis are an error.
func (m *Image) Scale(f float64) (*Image, error) {
	if f <= 0 {
		return nil, fmt.Errorf("imagex: scale factor must be positive, got %g", f)
	}
	newW, newH := int(float64(m.W)*f), int(float64(m.H)*f)
	if newW <= 0 || newH <= 0 {
		return nil, fmt.Errorf("imagex: scale by %g collapses %dx%d", f, m.W, m.H)
	}

	out, err := New(m.alloc, newW, newH, m.C)
	if err != nil {
		return nil, err
	}

	for i := 0; i < newH; i++ {
		y := int(float64(i) / f)
		if y >= m.H {
			y = m.H - 1
		}
		for j := 0; j < newW; j++ {
			x := int(float64(j) / f)
			if x >= m.W {
				x = m.W - 1
			}
			copy(out.Pix[(i*newW+j)*m.C:(i*newW+j+1)*m.C], m.Pix[(y*m.W+x)*m.C:(y*m.W+x+1)*m.C])
		}
	}
	return out, nil
}

// Transform runs the full pipeline: load the input, scale it when the
// factor is not 1, rotate it when the angle is not a multiple of 360, save
// the result, and release every intermediate buffer back to alloc.
func Transform(alloc memory.Allocator, opts TransformOptions) (*TransformResult, error) {
	if opts.Scale <= 0 {
		return nil, fmt.Errorf("imagex: scale factor must be positive, got %g", opts.Scale)
	}

	cur, err := Load(alloc, opts.Input)
	if err != nil {
		return nil, err
	}
	defer func() { cur.Release() }()

	if opts.Scale != 1 {
		scaled, err := cur.Scale(opts.Scale)
		if err != nil {
			return nil, err
		}
		cur.Release()
		cur = scaled
	}
	if opts.Angle%360 != 0 {
		rotated, err := cur.Rotate(opts.Angle)
		if err != nil {
			return nil, err
		}
		cur.Release()
		cur = rotated
	}

	if err := cur.Save(opts.Output); err != nil {
		return nil, err
	}
	return &TransformResult{W: cur.W, H: cur.H, C: cur.C, Checksum: cur.Checksum()}, nil
}

// EstimateTransformSize returns a pool size covering a transform of a
// w by h image with c channels: the scaled-and-rotated bounding box with a
// 4x factor for the intermediate copies the pipeline holds at once.
func EstimateTransformSize(w, h, c, angle int, scale float64) int {
	rad := float64(angle) * math.Pi / 180
	sin, cos := math.Sincos(rad)
	sw, sh := float64(w)*scale, float64(h)*scale

	newW := int(math.Abs(sw*cos) + math.Abs(sh*sin))
	newH := int(math.Abs(sw*sin) + math.Abs(sh*cos))
	return newW * newH * c * 4
}
