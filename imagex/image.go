// Package imagex implements an image transform pipeline over a pluggable
// byte allocator. Every pixel buffer an Image owns comes from the
// memory.Allocator it was created with, so the whole pipeline can run
// against the GC, a recycling pool, or a fixed buddy pool without code
// changes.
package imagex

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/imgxform/imgxform/memory"
)

// Image is an interleaved raster: Pix holds H rows of W pixels with C bytes
// each, len(Pix) == W*H*C. C is 1 (gray), 3 (RGB), or 4 (RGBA).
type Image struct {
	W, H, C int
	Pix     []byte

	alloc memory.Allocator
}

// Probe reads the header of the image at path and returns its dimensions
// and the channel count a subsequent Load would produce. It is cheap and
// does not decode pixel data, which makes it suitable for sizing a pool
// before any allocation happens.
func Probe(path string) (w, h, c int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("imagex: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("imagex: probe %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, channelsFor(cfg.ColorModel), nil
}

func channelsFor(m color.Model) int {
	switch m {
	case color.GrayModel:
		return 1
	case color.YCbCrModel:
		return 3
	default:
		return 4
	}
}

// New allocates a w*h*c pixel buffer from alloc. The buffer contents are
// unspecified until written; callers that do not cover every pixel must
// clear it themselves.
func New(alloc memory.Allocator, w, h, c int) (*Image, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("imagex: invalid dimensions %dx%d", w, h)
	}
	if c != 1 && c != 3 && c != 4 {
		return nil, fmt.Errorf("imagex: unsupported channel count %d", c)
	}
	pix, err := alloc.Allocate(w * h * c)
	if err != nil {
		return nil, fmt.Errorf("imagex: allocate %d bytes: %w", w*h*c, err)
	}
	return &Image{W: w, H: h, C: c, Pix: pix, alloc: alloc}, nil
}

// Load decodes the JPEG or PNG at path into a freshly allocated Image.
// Grayscale sources yield C=1, YCbCr (baseline JPEG) C=3, everything else
// C=4.
func Load(alloc memory.Allocator, path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imagex: open %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imagex: decode %s: %w", path, err)
	}
	return fromImage(alloc, src)
}

func fromImage(alloc memory.Allocator, src image.Image) (*Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch s := src.(type) {
	case *image.Gray:
		img, err := New(alloc, w, h, 1)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			row := s.Pix[s.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(img.Pix[y*w:(y+1)*w], row[:w])
		}
		return img, nil

	case *image.NRGBA:
		img, err := New(alloc, w, h, 4)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			row := s.Pix[s.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(img.Pix[y*w*4:(y+1)*w*4], row[:w*4])
		}
		return img, nil

	case *image.RGBA:
		img, err := New(alloc, w, h, 4)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			row := s.Pix[s.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(img.Pix[y*w*4:(y+1)*w*4], row[:w*4])
		}
		return img, nil

	case *image.YCbCr:
		img, err := New(alloc, w, h, 3)
		if err != nil {
			return nil, err
		}
		i := 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := s.YCbCrAt(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(p.Y, p.Cb, p.Cr)
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = r, g, bl
				i += 3
			}
		}
		return img, nil
	}

	img, err := New(alloc, w, h, 4)
	if err != nil {
		return nil, err
	}
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			img.Pix[i] = byte(r >> 8)
			img.Pix[i+1] = byte(g >> 8)
			img.Pix[i+2] = byte(bl >> 8)
			img.Pix[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return img, nil
}

// SplitChannels returns one single-channel Image per channel, allocated
// from the same source as the receiver.
func (m *Image) SplitChannels() ([]*Image, error) {
	out := make([]*Image, m.C)
	for c := 0; c < m.C; c++ {
		ch, err := New(m.alloc, m.W, m.H, 1)
		if err != nil {
			for _, done := range out[:c] {
				done.Release()
			}
			return nil, err
		}
		for p := 0; p < m.W*m.H; p++ {
			ch.Pix[p] = m.Pix[p*m.C+c]
		}
		out[c] = ch
	}
	return out, nil
}

// Save encodes the image to path. The format follows the extension: .jpg
// and .jpeg encode JPEG at quality 100, .png encodes PNG.
func (m *Image) Save(path string) error {
	if m.Pix == nil {
		return fmt.Errorf("imagex: no pixel data to save")
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png":
	default:
		return fmt.Errorf("imagex: unsupported output format %q", ext)
	}

	img, done, err := m.stdImage()
	if err != nil {
		return err
	}
	defer done()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imagex: create %s: %w", path, err)
	}
	if ext == ".png" {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 100})
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("imagex: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("imagex: close %s: %w", path, err)
	}
	return nil
}

// stdImage wraps Pix in a standard library image for encoding. Gray and
// RGBA pixels wrap in place; RGB expands into a temporary staging buffer
// released by the returned cleanup func.
func (m *Image) stdImage() (image.Image, func(), error) {
	r := image.Rect(0, 0, m.W, m.H)
	switch m.C {
	case 1:
		return &image.Gray{Pix: m.Pix, Stride: m.W, Rect: r}, func() {}, nil
	case 4:
		return &image.NRGBA{Pix: m.Pix, Stride: 4 * m.W, Rect: r}, func() {}, nil
	case 3:
		buf := mcache.Malloc(m.W * m.H * 4)
		for p, q := 0, 0; p < len(m.Pix); p, q = p+3, q+4 {
			buf[q], buf[q+1], buf[q+2], buf[q+3] = m.Pix[p], m.Pix[p+1], m.Pix[p+2], 0xFF
		}
		return &image.NRGBA{Pix: buf, Stride: 4 * m.W, Rect: r}, func() { mcache.Free(buf) }, nil
	}
	return nil, nil, fmt.Errorf("imagex: unsupported channel count %d", m.C)
}

// Checksum returns a 64-bit hash of the pixel data. Two images with the
// same dimensions and identical pixels hash equal regardless of which
// allocator produced them.
func (m *Image) Checksum() uint64 {
	return xxhash3.Hash(m.Pix)
}

// Release returns the pixel buffer to the allocator that produced it.
// It is safe on nil receivers and idempotent.
func (m *Image) Release() error {
	if m == nil || m.Pix == nil {
		return nil
	}
	err := m.alloc.Free(m.Pix)
	m.Pix = nil
	return err
}
