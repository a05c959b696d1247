// Package calib loads per-scene camera calibration from the text files shipped
// with the dataset.
package calib

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/andresmejia3/smartstore/internal/utils"
)

var (
	// ErrCalibrationMissing is returned when a calibration file or directory does not exist.
	ErrCalibrationMissing = errors.New("calibration missing")
	// ErrCalibrationMalformed is returned when a calibration file has the wrong number of values.
	ErrCalibrationMalformed = errors.New("calibration malformed")
	// ErrInvalidCalibration is returned when parsed values violate the camera model.
	ErrInvalidCalibration = errors.New("invalid calibration")
)

// RotationTolerance bounds the deviation of R^T*R from identity accepted by Extrinsics.Validate.
const RotationTolerance = 1e-4

// Intrinsics is the 3x3 pinhole matrix of a scene's camera.
type Intrinsics struct {
	K *mat.Dense
}

// Fx returns the horizontal focal term.
func (in *Intrinsics) Fx() float64 { return in.K.At(0, 0) }

// Fy returns the vertical focal term.
func (in *Intrinsics) Fy() float64 { return in.K.At(1, 1) }

// Cx returns the principal point column.
func (in *Intrinsics) Cx() float64 { return in.K.At(0, 2) }

// Cy returns the principal point row.
func (in *Intrinsics) Cy() float64 { return in.K.At(1, 2) }

// Validate checks that the focal terms are usable.
func (in *Intrinsics) Validate() error {
	if in == nil || in.K == nil {
		return fmt.Errorf("%w: intrinsics not loaded", ErrInvalidCalibration)
	}
	if r, c := in.K.Dims(); r != 3 || c != 3 {
		return fmt.Errorf("%w: intrinsics must be 3x3, got %dx%d", ErrInvalidCalibration, r, c)
	}
	if in.Fx() == 0 || in.Fy() == 0 {
		return fmt.Errorf("%w: zero focal length (fx=%v, fy=%v)", ErrInvalidCalibration, in.Fx(), in.Fy())
	}
	return nil
}

// Extrinsics is the 3x4 camera-to-world transform [R|t] of one frame.
type Extrinsics struct {
	Rt *mat.Dense
}

// Rotation returns a view of the 3x3 rotation block.
func (ex *Extrinsics) Rotation() mat.Matrix {
	return ex.Rt.Slice(0, 3, 0, 3)
}

// Validate checks that the rotation block is orthonormal with determinant +1.
func (ex *Extrinsics) Validate() error {
	if ex == nil || ex.Rt == nil {
		return fmt.Errorf("%w: extrinsics not loaded", ErrInvalidCalibration)
	}
	if r, c := ex.Rt.Dims(); r != 3 || c != 4 {
		return fmt.Errorf("%w: extrinsics must be 3x4, got %dx%d", ErrInvalidCalibration, r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if v := ex.Rt.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value at (%d,%d)", ErrInvalidCalibration, i, j)
			}
		}
	}

	rot := ex.Rotation()
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	if !mat.EqualApprox(&rtr, identity3, RotationTolerance) {
		return fmt.Errorf("%w: rotation block is not orthonormal", ErrInvalidCalibration)
	}
	if det := mat.Det(rot); math.Abs(det-1) > RotationTolerance {
		return fmt.Errorf("%w: rotation determinant is %v", ErrInvalidCalibration, det)
	}
	return nil
}

var identity3 = mat.NewDiagDense(3, []float64{1, 1, 1})

// LoadIntrinsics reads 9 values and returns them as a matrix. The file stores
// the matrix column-major, so the values are reshaped row-major and transposed.
func LoadIntrinsics(path string) (*Intrinsics, error) {
	vals, err := readValues(path)
	if err != nil {
		return nil, err
	}
	if len(vals) != 9 {
		return nil, fmt.Errorf("%w: %s holds %d values, want 9", ErrCalibrationMalformed, path, len(vals))
	}
	k := mat.NewDense(3, 3, nil)
	k.CloneFrom(mat.NewDense(3, 3, vals).T())
	return &Intrinsics{K: k}, nil
}

// LoadExtrinsics reads a flattened block of N 3x4 transforms and returns the one for frame.
func LoadExtrinsics(path string, frame int) (*Extrinsics, error) {
	vals, err := ReadExtrinsicsBlock(path)
	if err != nil {
		return nil, err
	}
	return SelectExtrinsics(vals, frame)
}

// ReadExtrinsicsBlock reads the flattened transforms of a capture session.
func ReadExtrinsicsBlock(path string) ([]float64, error) {
	vals, err := readValues(path)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 || len(vals)%12 != 0 {
		return nil, fmt.Errorf("%w: %s holds %d values, not a multiple of 12", ErrCalibrationMalformed, path, len(vals))
	}
	return vals, nil
}

// SelectExtrinsics slices the row-major 3x4 transform of frame out of a flattened block.
func SelectExtrinsics(vals []float64, frame int) (*Extrinsics, error) {
	if len(vals) == 0 || len(vals)%12 != 0 {
		return nil, fmt.Errorf("%w: extrinsics hold %d values, not a multiple of 12", ErrCalibrationMalformed, len(vals))
	}
	n := len(vals) / 12
	if frame < 0 || frame >= n {
		return nil, fmt.Errorf("%w: frame %d outside extrinsics block of %d frames", ErrCalibrationMalformed, frame, n)
	}
	block := make([]float64, 12)
	copy(block, vals[frame*12:(frame+1)*12])
	return &Extrinsics{Rt: mat.NewDense(3, 4, block)}, nil
}

// ExtrinsicsFile returns the lexicographically last file of dir, the active capture session.
func ExtrinsicsFile(dir string) (string, error) {
	name, err := utils.LastEntry(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", ErrCalibrationMissing, err)
		}
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: no extrinsics file in %s", ErrCalibrationMissing, dir)
	}
	return filepath.Join(dir, name), nil
}

func readValues(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCalibrationMissing, path)
		}
		return nil, err
	}
	return ParseValues(string(data))
}

// ParseValues splits s on whitespace and parses every field as a float.
func ParseValues(s string) ([]float64, error) {
	fields := strings.Fields(s)
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCalibrationMalformed, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}
