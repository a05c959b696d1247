// Package dataset resolves scene files under a dataset root and materialises
// world points for individual frames.
//
// Layout: <root>/data/<scene>/{intrinsics.txt, extrinsics/, depth/, image/}
package dataset

import (
	"fmt"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/andresmejia3/smartstore/internal/calib"
	"github.com/andresmejia3/smartstore/internal/depth"
	"github.com/andresmejia3/smartstore/internal/geometry"
	"github.com/andresmejia3/smartstore/internal/types"
)

// Dataset gives concurrent, read-only access to the calibration and depth files
// of every scene under Root.
type Dataset struct {
	Root string

	mu     sync.Mutex
	scenes map[string]*sceneCalib
}

// sceneCalib holds what is loaded once per scene.
type sceneCalib struct {
	inOnce     sync.Once
	intrinsics *calib.Intrinsics
	inErr      error

	exOnce     sync.Once
	extrinsics []float64
	exErr      error
}

// New returns a dataset rooted at root.
func New(root string) *Dataset {
	return &Dataset{Root: root, scenes: make(map[string]*sceneCalib)}
}

// SceneDir returns the directory of scene.
func (d *Dataset) SceneDir(scene string) string {
	return filepath.Join(d.Root, "data", scene)
}

func (d *Dataset) scene(name string) *sceneCalib {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.scenes[name]
	if !ok {
		sc = &sceneCalib{}
		d.scenes[name] = sc
	}
	return sc
}

// Intrinsics returns the intrinsics of scene, loaded once.
func (d *Dataset) Intrinsics(scene string) (*calib.Intrinsics, error) {
	sc := d.scene(scene)
	sc.inOnce.Do(func() {
		sc.intrinsics, sc.inErr = calib.LoadIntrinsics(filepath.Join(d.SceneDir(scene), "intrinsics.txt"))
	})
	if sc.inErr != nil {
		return nil, fmt.Errorf("scene %s: %w", scene, sc.inErr)
	}
	return sc.intrinsics, nil
}

// Extrinsics returns the camera-to-world transform of f. The session block is
// read once per scene from the last file of the extrinsics directory.
func (d *Dataset) Extrinsics(f types.Frame) (*calib.Extrinsics, error) {
	sc := d.scene(f.Scene)
	sc.exOnce.Do(func() {
		var path string
		path, sc.exErr = calib.ExtrinsicsFile(filepath.Join(d.SceneDir(f.Scene), "extrinsics"))
		if sc.exErr != nil {
			return
		}
		sc.extrinsics, sc.exErr = calib.ReadExtrinsicsBlock(path)
	})
	if sc.exErr != nil {
		return nil, fmt.Errorf("scene %s: %w", f.Scene, sc.exErr)
	}
	ex, err := calib.SelectExtrinsics(sc.extrinsics, f.Index)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", f, err)
	}
	return ex, nil
}

// Depth decodes the depth map of f.
func (d *Dataset) Depth(f types.Frame) (*mat.Dense, error) {
	path, err := depth.Find(filepath.Join(d.SceneDir(f.Scene), "depth"), f.Index)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", f, err)
	}
	return depth.Load(path)
}

// Project materialises the world points of f. Failures concern f alone.
func (d *Dataset) Project(f types.Frame) (*geometry.WorldPoints, error) {
	in, err := d.Intrinsics(f.Scene)
	if err != nil {
		return nil, err
	}
	ex, err := d.Extrinsics(f)
	if err != nil {
		return nil, err
	}
	dm, err := d.Depth(f)
	if err != nil {
		return nil, err
	}
	wp, err := geometry.Project(in, ex, dm)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", f, err)
	}
	return wp, nil
}
