package landmark

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the mean landmark distance below which two faces are
// considered the same person.
const DefaultThreshold = 0.05

var (
	ErrEmptyLandmarks     = errors.New("landmark set is empty")
	ErrPointCountMismatch = errors.New("landmark sets differ in point count")
)

// MeanDistance averages the per-point Euclidean distance between a and b.
// Both sets must come from the same detector configuration so that index i
// names the same facial keypoint in each.
func MeanDistance(a, b LandmarkSet) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, ErrEmptyLandmarks
	}
	if len(a) != len(b) {
		return 0, ErrPointCountMismatch
	}

	dists := make([]float64, len(a))
	var pa, pb [3]float64
	for i := range a {
		pa = [3]float64{a[i].X, a[i].Y, a[i].Z}
		pb = [3]float64{b[i].X, b[i].Y, b[i].Z}
		dists[i] = floats.Distance(pa[:], pb[:], 2)
	}
	return stat.Mean(dists, nil), nil
}

// Matcher applies a fixed distance threshold.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher, falling back to DefaultThreshold for
// non-positive values.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

// Match reports whether live is close enough to registered. Sets that cannot
// be compared (empty, different point counts) never match.
func (m Matcher) Match(registered, live LandmarkSet) bool {
	d, err := MeanDistance(registered, live)
	if err != nil {
		return false
	}
	return d < m.Threshold
}
