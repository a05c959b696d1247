// Package depth locates and decodes the per-frame depth rasters of a scene.
package depth

import (
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"github.com/andresmejia3/smartstore/internal/utils"
)

var (
	// ErrFrameNotFound is returned when no depth file carries the frame's padded number.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrDepthDecode is returned when a depth raster cannot be decoded.
	ErrDepthDecode = errors.New("depth decode error")
)

// FrameStride is the capture interval between annotated frames.
const FrameStride = 5

// FileNumber returns the token embedded in the file names of frame:
// the 7-digit zero-padded capture number 1+frame*5 followed by "-".
func FileNumber(frame int) string {
	return fmt.Sprintf("%07d-", 1+frame*FrameStride)
}

// Find returns the path of the file in dir belonging to frame.
func Find(dir string, frame int) (string, error) {
	token := FileNumber(frame)
	path, ok, err := utils.FindEntry(dir, token)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", ErrFrameNotFound, err)
		}
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no file matching %q in %s", ErrFrameNotFound, token, dir)
	}
	return path, nil
}

// Sample converts one raw sensor value to meters. The sensor stores depth
// rotated left by 3 bits inside a 16-bit word.
func Sample(d uint16) float64 {
	v := (d >> 3) | (d << 13)
	return float64(v) / 1000.0
}

// Decode reads a depth raster and returns a height x width matrix of meters.
func Decode(r io.Reader) (*mat.Dense, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDepthDecode, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrDepthDecode)
	}

	// Samples are read raw: 16-bit grey as stored, 8-bit grey widened without scaling.
	data := make([]float64, w*h)
	switch g := img.(type) {
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = Sample(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = Sample(uint16(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported colour model %T, want 8 or 16-bit greyscale", ErrDepthDecode, img)
	}
	return mat.NewDense(h, w, data), nil
}

// Load opens and decodes the depth raster at path.
func Load(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrDepthDecode, err)
	}
	defer f.Close()

	dm, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dm, nil
}
