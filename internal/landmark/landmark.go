// Package landmark holds face landmark sets, the registered profile, and the
// distance check used to decide whether a live face matches it.
package landmark

import "fmt"

// Point is a single normalized keypoint as reported by the detector.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LandmarkSet is the ordered keypoint list for one face in one frame.
// Treat it as immutable: New copies its input and nothing in this package
// writes to a set after construction.
type LandmarkSet []Point

// New copies pts into a fresh LandmarkSet.
func New(pts []Point) LandmarkSet {
	if len(pts) == 0 {
		return nil
	}
	out := make(LandmarkSet, len(pts))
	copy(out, pts)
	return out
}

// FromTriples builds a set from [x, y, z] triples, the layout used by the
// worker protocol and the profile store.
func FromTriples(triples [][3]float64) LandmarkSet {
	if len(triples) == 0 {
		return nil
	}
	out := make(LandmarkSet, len(triples))
	for i, t := range triples {
		out[i] = Point{X: t[0], Y: t[1], Z: t[2]}
	}
	return out
}

// Triples is the inverse of FromTriples.
func (s LandmarkSet) Triples() [][3]float64 {
	out := make([][3]float64, len(s))
	for i, p := range s {
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}

// Empty reports whether the detector produced no points.
func (s LandmarkSet) Empty() bool { return len(s) == 0 }

// Pose names one of the three registration views.
type Pose string

const (
	Front Pose = "front"
	Left  Pose = "left"
	Right Pose = "right"
)

// Poses lists the registration views in capture order.
var Poses = []Pose{Front, Left, Right}

// ParsePose validates a pose name.
func ParsePose(s string) (Pose, error) {
	switch Pose(s) {
	case Front, Left, Right:
		return Pose(s), nil
	}
	return "", fmt.Errorf("unknown pose %q (want front, left or right)", s)
}
