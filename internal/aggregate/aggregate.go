// Package aggregate folds annotation files into a catalogue of label sets keyed
// by frame, resolving every polygon's label through the identity registry.
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andresmejia3/smartstore/internal/registry"
	"github.com/andresmejia3/smartstore/internal/types"
)

var (
	// ErrUnknownObjectIndex is returned for a polygon whose object index has no entry in its file's object table.
	ErrUnknownObjectIndex = errors.New("unknown object index")
	// ErrMalformedPolygon is returned for a polygon without vertices or with mismatched x/y lists.
	ErrMalformedPolygon = errors.New("malformed polygon")
)

// PolygonError locates a rejected polygon.
type PolygonError struct {
	File    string
	Frame   types.Frame
	Polygon int
	Err     error
}

func (e *PolygonError) Error() string {
	return fmt.Sprintf("%s: frame %s polygon %d: %v", e.File, e.Frame, e.Polygon, e.Err)
}

func (e *PolygonError) Unwrap() error { return e.Err }

// Bounds is the image size used to drop out-of-frame vertices. Vertices are
// kept when 0 < x <= Width and 0 < y <= Height, the one-based pixel grid of
// the projector. The zero value keeps every vertex.
type Bounds struct {
	Width, Height int
}

func (b Bounds) contains(p types.Point) bool {
	if b.Width == 0 && b.Height == 0 {
		return true
	}
	return p.X > 0 && p.X <= float64(b.Width) && p.Y > 0 && p.Y <= float64(b.Height)
}

// Stats counts what an aggregator has seen.
type Stats struct {
	Files      int
	Polygons   int
	Inserted   int
	Duplicates int
	Rejected   int
	Dropped    int // vertices outside Bounds
}

// Aggregator accumulates annotation files into a Catalogue.
type Aggregator struct {
	reg       *registry.Registry
	logger    *zap.Logger
	bounds    Bounds
	catalogue *Catalogue
	stats     Stats
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBounds drops vertices that fall outside the image.
func WithBounds(b Bounds) Option {
	return func(a *Aggregator) { a.bounds = b }
}

// WithLogger sets the logger for rejected polygons.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New returns an aggregator resolving labels through reg.
func New(reg *registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		reg:       reg,
		logger:    zap.NewNop(),
		catalogue: NewCatalogue(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Catalogue returns the accumulated result.
func (a *Aggregator) Catalogue() *Catalogue { return a.catalogue }

// Stats returns the running counters.
func (a *Aggregator) Stats() Stats { return a.stats }

// AddFile reads and aggregates one annotation file. A read or parse failure
// is returned on its own; otherwise the result combines one *PolygonError per
// rejected polygon (see multierr.Errors) and the remaining polygons are kept.
func (a *Aggregator) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var af types.AnnotationFile
	if err := json.Unmarshal(data, &af); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return a.Add(path, &af)
}

// Add aggregates a decoded annotation file. source names it in errors.
func (a *Aggregator) Add(source string, af *types.AnnotationFile) error {
	a.stats.Files++

	// Index -> label text, built once per file.
	objects := make([]string, len(af.Objects))
	for i, o := range af.Objects {
		if o != nil {
			objects[i] = o.Name
		}
	}

	var errs error
	for i, f := range af.Frames {
		if f == nil || len(f.Polygon) == 0 {
			continue
		}
		frame := types.Frame{Scene: af.Name, Index: i}
		for j, poly := range f.Polygon {
			a.stats.Polygons++
			if err := a.addPolygon(frame, objects, poly); err != nil {
				a.stats.Rejected++
				perr := &PolygonError{File: source, Frame: frame, Polygon: j, Err: err}
				a.logger.Warn("rejected polygon",
					zap.String("file", source),
					zap.Stringer("frame", frame),
					zap.Int("polygon", j),
					zap.Error(err))
				errs = multierr.Append(errs, perr)
			}
		}
	}
	return errs
}

func (a *Aggregator) addPolygon(frame types.Frame, objects []string, poly types.Polygon) error {
	if poly.Object < 0 || poly.Object >= len(objects) || objects[poly.Object] == "" {
		return fmt.Errorf("%w: %d (file has %d objects)", ErrUnknownObjectIndex, poly.Object, len(objects))
	}
	if len(poly.X) != len(poly.Y) {
		return fmt.Errorf("%w: %d x values, %d y values", ErrMalformedPolygon, len(poly.X), len(poly.Y))
	}
	if len(poly.X) == 0 {
		return fmt.Errorf("%w: no vertices", ErrMalformedPolygon)
	}

	// Every well-formed polygon registers its label, even when no vertex survives the bounds.
	label := objects[poly.Object]
	id, err := a.reg.GetOrAdd(label)
	if err != nil {
		return err
	}

	pts := make([]types.Point, 0, len(poly.X))
	for k := range poly.X {
		p := types.Point{X: poly.X[k], Y: poly.Y[k]}
		if !a.bounds.contains(p) {
			a.stats.Dropped++
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) == 0 {
		a.logger.Debug("polygon entirely outside image", zap.Stringer("frame", frame))
		return nil
	}

	ls := types.LabelSet{
		Frame:   frame,
		LabelID: id,
		Label:   label,
		Points:  types.CanonicalPoints(pts),
	}
	if a.catalogue.Insert(ls) {
		a.stats.Inserted++
	} else {
		a.stats.Duplicates++
	}
	return nil
}
