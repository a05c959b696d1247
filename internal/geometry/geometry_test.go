package geometry

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"

	"github.com/andresmejia3/smartstore/internal/calib"
)

func testIntrinsics() *calib.Intrinsics {
	return &calib.Intrinsics{K: mat.NewDense(3, 3, []float64{
		2, 0, 1,
		0, 4, 1,
		0, 0, 1,
	})}
}

func identityExtrinsics() *calib.Extrinsics {
	return &calib.Extrinsics{Rt: mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})}
}

func TestDepthToCamera(t *testing.T) {
	// 2 rows x 3 cols, pixel (x=3, y=2) has no depth
	depth := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		4, 5, 0,
	})

	cam, err := DepthToCamera(testIntrinsics(), depth)
	if err != nil {
		t.Fatalf("DepthToCamera failed: %v", err)
	}

	// X = (x - cx) * d / fx, Y = (y - cy) * d / fy
	wantX := mat.NewDense(2, 3, []float64{0, 1, 3, 0, 2.5, 0})
	wantY := mat.NewDense(2, 3, []float64{0, 0, 0, 1, 1.25, 0})
	if !mat.EqualApprox(cam.X, wantX, 1e-12) {
		t.Errorf("X mismatch:\n%v", mat.Formatted(cam.X))
	}
	if !mat.EqualApprox(cam.Y, wantY, 1e-12) {
		t.Errorf("Y mismatch:\n%v", mat.Formatted(cam.Y))
	}
	if !mat.Equal(cam.Z, depth) {
		t.Errorf("Z should equal the depth map")
	}

	if cam.Valid.Count() != 5 {
		t.Errorf("Expected 5 valid pixels, got %d", cam.Valid.Count())
	}
	if cam.Valid.At(1, 2) {
		t.Error("Zero-depth pixel should be invalid")
	}
}

func TestCameraToWorldSkipsInvalid(t *testing.T) {
	depth := mat.NewDense(2, 2, []float64{
		1, 0,
		2, 3,
	})
	cam, err := DepthToCamera(testIntrinsics(), depth)
	if err != nil {
		t.Fatal(err)
	}

	world, err := CameraToWorld(cam, identityExtrinsics())
	if err != nil {
		t.Fatalf("CameraToWorld failed: %v", err)
	}

	// Columns outer, rows inner: (1,1), (1,2), (2,2)
	wantPixels := []image.Point{{X: 1, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 2}}
	if diff := cmp.Diff(wantPixels, world.Valid.Pixels()); diff != "" {
		t.Errorf("Pixel order mismatch (-want +got):\n%s", diff)
	}

	want := []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 0, Y: 0.5, Z: 2},
		{X: 1.5, Y: 0.75, Z: 3},
	}
	if diff := cmp.Diff(want, world.Points, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("World points mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectRotationTranslation(t *testing.T) {
	depth := mat.NewDense(1, 1, []float64{2})
	// fx=fy=1, principal point at the pixel: the point sits on the optical axis
	in := &calib.Intrinsics{K: mat.NewDense(3, 3, []float64{1, 0, 1, 0, 1, 1, 0, 0, 1})}
	// 90 degrees about x, then translate
	ex := &calib.Extrinsics{Rt: mat.NewDense(3, 4, []float64{
		1, 0, 0, 10,
		0, 0, -1, 20,
		0, 1, 0, 30,
	})}

	world, err := Project(in, ex, depth)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if len(world.Points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(world.Points))
	}
	got := world.Points[0]
	want := r3.Vector{X: 10, Y: 18, Z: 30}
	if got.Sub(want).Norm() > 1e-12 {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestProjectAllInvalid(t *testing.T) {
	world, err := Project(testIntrinsics(), identityExtrinsics(), mat.NewDense(2, 2, nil))
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if len(world.Points) != 0 || world.Valid.Count() != 0 {
		t.Errorf("Expected no points, got %d", len(world.Points))
	}
}

func TestProjectInvalidCalibration(t *testing.T) {
	depth := mat.NewDense(1, 2, []float64{1, 1})
	skewed := &calib.Extrinsics{Rt: mat.NewDense(3, 4, []float64{
		1, 0.5, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})}
	world, err := Project(testIntrinsics(), skewed, depth)
	if !errors.Is(err, calib.ErrInvalidCalibration) {
		t.Errorf("Expected ErrInvalidCalibration for skewed rotation, got %v", err)
	}
	if world != nil {
		t.Error("Expected no partial output")
	}

	noFocal := &calib.Intrinsics{K: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 0, 0, 0, 0, 1})}
	if _, err := Project(noFocal, identityExtrinsics(), depth); !errors.Is(err, calib.ErrInvalidCalibration) {
		t.Errorf("Expected ErrInvalidCalibration for zero fy, got %v", err)
	}
}

func TestMaskPixelsMatchesPoints(t *testing.T) {
	depth := mat.NewDense(3, 3, []float64{
		1, 0, 1,
		0, 1, 0,
		1, 1, math.SmallestNonzeroFloat64,
	})
	world, err := Project(testIntrinsics(), identityExtrinsics(), depth)
	if err != nil {
		t.Fatal(err)
	}
	if len(world.Valid.Pixels()) != len(world.Points) {
		t.Errorf("Pixels (%d) and points (%d) must align", len(world.Valid.Pixels()), len(world.Points))
	}
}
