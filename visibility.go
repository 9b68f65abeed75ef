package localba

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Visibility is the immutable association between observations, viewpoints
// and points. Observation o sees point PointIndex(o) from viewpoint ViewpointIndex(o).
type Visibility struct {
	viewpoints  []int
	points      []int
	byViewpoint [][]int
	byPoint     [][]int
}

// NewVisibility builds the index from two parallel slices of equal length.
// The slices are copied.
func NewVisibility(viewpointIndices, pointIndices []int) (*Visibility, error) {
	if len(viewpointIndices) != len(pointIndices) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d viewpoint indices but %d point indices",
			len(viewpointIndices), len(pointIndices))
	}
	var err error
	nViewpoints, nPoints := 0, 0
	for o := range viewpointIndices {
		j, i := viewpointIndices[o], pointIndices[o]
		if j < 0 || i < 0 {
			err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch,
				"observation %d has negative index (viewpoint %d, point %d)", o, j, i))
			continue
		}
		nViewpoints = max(nViewpoints, j+1)
		nPoints = max(nPoints, i+1)
	}
	if err != nil {
		return nil, err
	}

	v := &Visibility{
		viewpoints:  append([]int(nil), viewpointIndices...),
		points:      append([]int(nil), pointIndices...),
		byViewpoint: make([][]int, nViewpoints),
		byPoint:     make([][]int, nPoints),
	}
	for o := range v.viewpoints {
		v.byViewpoint[v.viewpoints[o]] = append(v.byViewpoint[v.viewpoints[o]], o)
		v.byPoint[v.points[o]] = append(v.byPoint[v.points[o]], o)
	}
	return v, nil
}

// VisibilityFromMask builds the index from a mask of shape (n_viewpoints, n_points)
// where mask[j][i] tells whether point i is seen from viewpoint j. Observations
// are ordered row-major.
func VisibilityFromMask(mask [][]bool) (*Visibility, error) {
	var viewpoints, points []int
	for j, row := range mask {
		for i, seen := range row {
			if seen {
				viewpoints = append(viewpoints, j)
				points = append(points, i)
			}
		}
	}
	return NewVisibility(viewpoints, points)
}

// Len returns the number of observations.
func (v *Visibility) Len() int { return len(v.viewpoints) }

// NumViewpoints returns one more than the largest referenced viewpoint index.
func (v *Visibility) NumViewpoints() int { return len(v.byViewpoint) }

// NumPoints returns one more than the largest referenced point index.
func (v *Visibility) NumPoints() int { return len(v.byPoint) }

// Observation returns the viewpoint and point indices of observation o.
func (v *Visibility) Observation(o int) (viewpoint, point int) {
	return v.viewpoints[o], v.points[o]
}

// ViewpointIndex returns the viewpoint of observation o.
func (v *Visibility) ViewpointIndex(o int) int { return v.viewpoints[o] }

// PointIndex returns the point of observation o.
func (v *Visibility) PointIndex(o int) int { return v.points[o] }

// ViewpointObservations returns the observations made from viewpoint j.
// The returned slice must not be modified.
func (v *Visibility) ViewpointObservations(j int) []int {
	if j >= len(v.byViewpoint) {
		return nil
	}
	return v.byViewpoint[j]
}

// PointObservations returns the observations of point i.
// The returned slice must not be modified.
func (v *Visibility) PointObservations(i int) []int {
	if i >= len(v.byPoint) {
		return nil
	}
	return v.byPoint[i]
}

// ViewpointIndices returns a copy of the viewpoint index of every observation.
func (v *Visibility) ViewpointIndices() []int { return append([]int(nil), v.viewpoints...) }

// PointIndices returns a copy of the point index of every observation.
func (v *Visibility) PointIndices() []int { return append([]int(nil), v.points...) }
