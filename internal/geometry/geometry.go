// Package geometry back-projects depth maps into camera space and maps the
// resulting points into the world frame of a scene.
//
// Pixels are addressed one-based: column x runs over [1, width] and row y over
// [1, height], so matrix cell (r, c) is pixel (c+1, r+1).
package geometry

import (
	"fmt"
	"image"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/andresmejia3/smartstore/internal/calib"
)

// Mask records, per pixel, whether the depth sample was valid.
type Mask struct {
	Rows, Cols int
	valid      []bool
}

// NewMask returns an all-invalid mask of the given shape.
func NewMask(rows, cols int) *Mask {
	return &Mask{Rows: rows, Cols: cols, valid: make([]bool, rows*cols)}
}

// At reports whether the pixel at (row, col) is valid.
func (m *Mask) At(row, col int) bool { return m.valid[row*m.Cols+col] }

func (m *Mask) set(row, col int, v bool) { m.valid[row*m.Cols+col] = v }

// Count returns the number of valid pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.valid {
		if v {
			n++
		}
	}
	return n
}

// Pixels returns the one-based pixel coordinates of the valid pixels in
// projection order: columns outer, rows inner.
func (m *Mask) Pixels() []image.Point {
	out := make([]image.Point, 0, m.Count())
	for c := 0; c < m.Cols; c++ {
		for r := 0; r < m.Rows; r++ {
			if m.At(r, c) {
				out = append(out, image.Point{X: c + 1, Y: r + 1})
			}
		}
	}
	return out
}

// CameraPoints holds the camera-space coordinates of every pixel of a depth map.
type CameraPoints struct {
	X, Y, Z *mat.Dense
	Valid   *Mask
}

// WorldPoints holds the world-space coordinates of the valid pixels, in the
// order given by Valid.Pixels.
type WorldPoints struct {
	Points []r3.Vector
	Valid  *Mask
}

// DepthToCamera back-projects depth (meters, height x width) through the intrinsics.
func DepthToCamera(in *calib.Intrinsics, depth mat.Matrix) (*CameraPoints, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rows, cols := depth.Dims()
	fx, fy, cx, cy := in.Fx(), in.Fy(), in.Cx(), in.Cy()

	cam := &CameraPoints{
		X:     mat.NewDense(rows, cols, nil),
		Y:     mat.NewDense(rows, cols, nil),
		Z:     mat.NewDense(rows, cols, nil),
		Valid: NewMask(rows, cols),
	}
	for r := 0; r < rows; r++ {
		y := float64(r + 1)
		for c := 0; c < cols; c++ {
			x := float64(c + 1)
			d := depth.At(r, c)
			cam.X.Set(r, c, (x-cx)*d/fx)
			cam.Y.Set(r, c, (y-cy)*d/fy)
			cam.Z.Set(r, c, d)
			cam.Valid.set(r, c, d != 0)
		}
	}
	return cam, nil
}

// CameraToWorld applies [R|t] to the valid camera points.
func CameraToWorld(cam *CameraPoints, ex *calib.Extrinsics) (*WorldPoints, error) {
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	n := cam.Valid.Count()
	if n == 0 {
		return &WorldPoints{Points: []r3.Vector{}, Valid: cam.Valid}, nil
	}

	// Homogeneous points as columns: the transposed point list.
	pts := mat.NewDense(4, n, nil)
	i := 0
	for c := 0; c < cam.Valid.Cols; c++ {
		for r := 0; r < cam.Valid.Rows; r++ {
			if !cam.Valid.At(r, c) {
				continue
			}
			pts.Set(0, i, cam.X.At(r, c))
			pts.Set(1, i, cam.Y.At(r, c))
			pts.Set(2, i, cam.Z.At(r, c))
			pts.Set(3, i, 1)
			i++
		}
	}

	var world mat.Dense
	world.Mul(ex.Rt, pts)

	out := make([]r3.Vector, n)
	for j := range out {
		out[j] = r3.Vector{X: world.At(0, j), Y: world.At(1, j), Z: world.At(2, j)}
	}
	return &WorldPoints{Points: out, Valid: cam.Valid}, nil
}

// Project runs both stages for one frame.
func Project(in *calib.Intrinsics, ex *calib.Extrinsics, depth mat.Matrix) (*WorldPoints, error) {
	// Reject the transform before back-projecting.
	if err := ex.Validate(); err != nil {
		return nil, fmt.Errorf("extrinsics: %w", err)
	}
	cam, err := DepthToCamera(in, depth)
	if err != nil {
		return nil, fmt.Errorf("intrinsics: %w", err)
	}
	return CameraToWorld(cam, ex)
}
