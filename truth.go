package localba

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GroundTruth computes the error of an estimate from known poses and points.
type GroundTruth struct {
	poses  []Pose
	points []r3.Vector
}

// NewGroundTruth initializes a new ground truth. The slices are copied.
func NewGroundTruth(poses []Pose, points []r3.Vector) *GroundTruth {
	return &GroundTruth{append([]Pose(nil), poses...), append([]r3.Vector(nil), points...)}
}

// Poses returns a copy of the true poses.
func (t *GroundTruth) Poses() []Pose { return append([]Pose(nil), t.poses...) }

// Points returns a copy of the true points.
func (t *GroundTruth) Points() []r3.Vector { return append([]r3.Vector(nil), t.points...) }

// Error compares the estimate with the ground truth. It panics if the estimate
// does not have as many poses and points as the truth.
func (t *GroundTruth) Error(poses []Pose, points []r3.Vector) TruthError {
	if len(poses) != len(t.poses) {
		panic(fmt.Errorf("ground truth has %d poses, estimate has %d", len(t.poses), len(poses)))
	}
	if len(points) != len(t.points) {
		panic(fmt.Errorf("ground truth has %d points, estimate has %d", len(t.points), len(points)))
	}
	e := TruthError{
		Rotation:    make([]float64, len(poses)),
		Translation: make([]float64, len(poses)),
		Point:       make([]float64, len(points)),
	}
	var Δ mat.Dense
	for j := range poses {
		// Angle of R_est·R_trueᵀ.
		Δ.Mul(poses[j].Rotation(), t.poses[j].Rotation().T())
		e.Rotation[j] = Log(&Δ).Norm()
		e.Translation[j] = floats.Distance(vecSlice(poses[j].T), vecSlice(t.poses[j].T), 2)
	}
	for i := range points {
		e.Point[i] = floats.Distance(vecSlice(points[i]), vecSlice(t.points[i]), 2)
	}
	return e
}

// TruthError holds, per viewpoint, the rotation angle (radians) and
// translation distance between the estimated and true poses, and per point
// the distance between the estimated and true positions.
type TruthError struct {
	Rotation    []float64
	Translation []float64
	Point       []float64
}

// MeanRotation returns the mean rotation error.
func (e TruthError) MeanRotation() float64 { return stat.Mean(e.Rotation, nil) }

// MeanTranslation returns the mean translation error.
func (e TruthError) MeanTranslation() float64 { return stat.Mean(e.Translation, nil) }

// MeanPoint returns the mean point error.
func (e TruthError) MeanPoint() float64 { return stat.Mean(e.Point, nil) }

func (e TruthError) String() string {
	return fmt.Sprintf("rotation=%.3e translation=%.3e point=%.3e", e.MeanRotation(), e.MeanTranslation(), e.MeanPoint())
}

func vecSlice(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}
