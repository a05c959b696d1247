package types

import (
	"fmt"
	"sort"
	"strings"
)

// Frame identifies one capture within a scene.
type Frame struct {
	Scene string `json:"scene"`
	Index int    `json:"index"`
}

func (f Frame) String() string {
	return fmt.Sprintf("%s/%d", f.Scene, f.Index)
}

// Point is an annotation vertex in pixel coordinates. Values are kept unrounded.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LabelSet is one deduplicated polygon annotation of a label within a frame.
type LabelSet struct {
	Frame   Frame   `json:"frame"`
	LabelID int     `json:"label_id"`
	Label   string  `json:"label"`
	Points  []Point `json:"points"`
}

// Key returns the identity of the label set: frame, label ID and the canonical points.
func (l LabelSet) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|", l.Frame, l.LabelID)
	for i, p := range l.Points {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%v,%v", p.X, p.Y)
	}
	return b.String()
}

// CanonicalPoints returns a sorted copy of pts, ascending by x then y.
// Negative zero is folded into zero so equal tuples share one key.
func CanonicalPoints(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		if p.X == 0 {
			p.X = 0
		}
		if p.Y == 0 {
			p.Y = 0
		}
		out[i] = p
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// FrameTask represents a single frame sent to a worker for projection
type FrameTask struct {
	Frame Frame
}

// AnnotationFile matches the JSON layout of one annotation file.
type AnnotationFile struct {
	Name    string            `json:"name"`
	Date    string            `json:"date"`
	Frames  []*AnnotatedFrame `json:"frames"`
	Objects []*ObjectEntry    `json:"objects"`
}

// AnnotatedFrame holds the polygons drawn on one frame. Frames without
// annotations decode as null.
type AnnotatedFrame struct {
	Polygon []Polygon `json:"polygon"`
}

// Polygon is a raw annotation whose Object field indexes the file's object table.
type Polygon struct {
	Object int       `json:"object"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
}

// ObjectEntry is one row of a file's object table. Deleted objects decode as null.
type ObjectEntry struct {
	Name string `json:"name"`
}
