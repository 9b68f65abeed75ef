package localba

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Projection predicts the keypoint of every observation of a Visibility index
// and differentiates the prediction with respect to the pose and the point.
// Its methods return ErrShapeMismatch when the index references more poses
// or points than given.
type Projection struct {
	vis     *Visibility
	camera  Camera
	workers int
}

// NewProjection returns a Projection over vis. Only the WithCamera and
// WithWorkers options are used.
func NewProjection(vis *Visibility, opts ...Option) *Projection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Projection{vis: vis, camera: o.camera, workers: o.workers}
}

// Camera returns the camera model used to project points.
func (p *Projection) Camera() Camera { return p.camera }

// Compute returns the predicted keypoint of every observation.
func (p *Projection) Compute(poses []Pose, points []r3.Vector) ([]r2.Point, error) {
	if err := p.check(len(poses), len(points)); err != nil {
		return nil, err
	}
	return p.predict(poses, points), nil
}

// Jacobians returns, for every observation, the 2x6 derivative A of the
// predicted keypoint with respect to the pose parameters [ω, t] and the 2x3
// derivative B with respect to the point.
//
// With x = R(ω)·p + t and D the camera derivative at x:
//
//	A = [ D·(-[R·p]×)·J(ω) | D ]
//	B = D·R(ω)
//
// where J is the left Jacobian of SO(3).
func (p *Projection) Jacobians(poses []Pose, points []r3.Vector) (A, B []*mat.Dense, err error) {
	if err = p.check(len(poses), len(points)); err != nil {
		return nil, nil, err
	}
	_, A, B = p.linearize(poses, points)
	return A, B, nil
}

func (p *Projection) check(nPoses, nPoints int) error {
	if nPoses < p.vis.NumViewpoints() {
		return errors.Wrapf(ErrShapeMismatch, "observations reference viewpoint %d but only %d poses given", p.vis.NumViewpoints()-1, nPoses)
	}
	if nPoints < p.vis.NumPoints() {
		return errors.Wrapf(ErrShapeMismatch, "observations reference point %d but only %d points given", p.vis.NumPoints()-1, nPoints)
	}
	return nil
}

// predict is Compute on inputs already checked against the index.
func (p *Projection) predict(poses []Pose, points []r3.Vector) []r2.Point {
	rotations := make([]*mat.Dense, len(poses))
	for j, pose := range poses {
		rotations[j] = pose.Rotation()
	}
	predicted := make([]r2.Point, p.vis.Len())
	parallelFor(p.vis.Len(), p.workers, func(lo, hi int) {
		for o := lo; o < hi; o++ {
			j, i := p.vis.Observation(o)
			x := mulVec3(rotations[j], points[i]).Add(poses[j].T)
			predicted[o] = p.camera.Project(x)
		}
	})
	return predicted
}

// linearize computes predictions and Jacobians in a single pass.
func (p *Projection) linearize(poses []Pose, points []r3.Vector) (predicted []r2.Point, A, B []*mat.Dense) {
	rotations := make([]*mat.Dense, len(poses))
	jacobians := make([]*mat.Dense, len(poses))
	for j, pose := range poses {
		rotations[j] = pose.Rotation()
		jacobians[j] = LeftJacobian(pose.Omega)
	}

	n := p.vis.Len()
	predicted = make([]r2.Point, n)
	A = make([]*mat.Dense, n)
	B = make([]*mat.Dense, n)
	parallelFor(n, p.workers, func(lo, hi int) {
		var M, DM mat.Dense
		for o := lo; o < hi; o++ {
			j, i := p.vis.Observation(o)
			R := rotations[j]
			Rp := mulVec3(R, points[i])
			x := Rp.Add(poses[j].T)
			predicted[o] = p.camera.Project(x)
			D := p.camera.Derivative(x)

			M.Mul(Skew(Rp), jacobians[j])
			M.Scale(-1, &M)
			DM.Mul(D, &M)

			a := mat.NewDense(2, PoseDim, nil)
			a.Slice(0, 2, 0, 3).(*mat.Dense).Copy(&DM)
			a.Slice(0, 2, 3, 6).(*mat.Dense).Copy(D)
			A[o] = a

			b := mat.NewDense(2, PointDim, nil)
			b.Mul(D, R)
			B[o] = b
		}
	})
	return predicted, A, B
}
