package localba

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PoseDim is the number of parameters of a Pose.
const PoseDim = 6

// PointDim is the number of parameters of a landmark.
const PointDim = 3

// Pose is the minimal parameterization of a viewpoint: a rotation vector Omega
// and a translation T. A world point p maps to Exp(Omega)·p + T in the camera frame.
type Pose struct {
	Omega r3.Vector
	T     r3.Vector
}

// NewPose returns a Pose from [ωx, ωy, ωz, tx, ty, tz].
func NewPose(params []float64) (Pose, error) {
	if len(params) != PoseDim {
		return Pose{}, errors.Wrapf(ErrShapeMismatch, "pose has %d parameters, want %d", len(params), PoseDim)
	}
	return Pose{
		Omega: r3.Vector{X: params[0], Y: params[1], Z: params[2]},
		T:     r3.Vector{X: params[3], Y: params[4], Z: params[5]},
	}, nil
}

// Params returns the six pose parameters in NewPose order.
func (p Pose) Params() []float64 {
	return []float64{p.Omega.X, p.Omega.Y, p.Omega.Z, p.T.X, p.T.Y, p.T.Z}
}

// Rotation returns the rotation matrix of the pose.
func (p Pose) Rotation() *mat.Dense {
	return Exp(p.Omega)
}

// Transform maps a world point into the camera frame.
func (p Pose) Transform(x r3.Vector) r3.Vector {
	return mulVec3(p.Rotation(), x).Add(p.T)
}

// Retract applies a 6-vector update δ to the pose. The rotation part is composed
// on the manifold, Exp(J·δω)·Exp(ω) with J the left Jacobian at ω, which agrees
// to first order with the additive perturbation ω+δω used by Projection.Jacobians.
func (p Pose) Retract(δ mat.Vector) Pose {
	δω := r3.Vector{X: δ.AtVec(0), Y: δ.AtVec(1), Z: δ.AtVec(2)}
	δt := r3.Vector{X: δ.AtVec(3), Y: δ.AtVec(4), Z: δ.AtVec(5)}
	var R mat.Dense
	R.Mul(Exp(mulVec3(LeftJacobian(p.Omega), δω)), p.Rotation())
	return Pose{Omega: Log(&R), T: p.T.Add(δt)}
}

func (p Pose) String() string {
	return fmt.Sprintf("Pose{ω=%v t=%v}", p.Omega, p.T)
}

// PosesFromRows converts an (N, 6) array into poses.
func PosesFromRows(rows [][]float64) ([]Pose, error) {
	poses := make([]Pose, len(rows))
	for i, row := range rows {
		p, err := NewPose(row)
		if err != nil {
			return nil, errors.Wrapf(err, "pose %d", i)
		}
		poses[i] = p
	}
	return poses, nil
}

// PoseRows is the inverse of PosesFromRows.
func PoseRows(poses []Pose) [][]float64 {
	rows := make([][]float64, len(poses))
	for i, p := range poses {
		rows[i] = p.Params()
	}
	return rows
}

// PointsFromRows converts an (N, 3) array into points.
func PointsFromRows(rows [][]float64) ([]r3.Vector, error) {
	points := make([]r3.Vector, len(rows))
	for i, row := range rows {
		if len(row) != PointDim {
			return nil, errors.Wrapf(ErrShapeMismatch, "point %d has %d coordinates, want %d", i, len(row), PointDim)
		}
		points[i] = r3.Vector{X: row[0], Y: row[1], Z: row[2]}
	}
	return points, nil
}

// PointRows is the inverse of PointsFromRows.
func PointRows(points []r3.Vector) [][]float64 {
	rows := make([][]float64, len(points))
	for i, p := range points {
		rows[i] = []float64{p.X, p.Y, p.Z}
	}
	return rows
}
