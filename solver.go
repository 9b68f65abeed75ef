package localba

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// StopReason tells why LocalBundleAdjustment.Compute stopped iterating.
type StopReason uint8

const (
	// StopMaxIterations means the iteration budget was used up.
	StopMaxIterations StopReason = iota + 1
	// StopAbsoluteError means the mean error fell below the absolute threshold.
	StopAbsoluteError
	// StopRelativeError means an accepted step improved the error by less than the relative threshold.
	StopRelativeError
	// StopRetriesExhausted means every damped step of an iteration was rejected.
	StopRetriesExhausted
	// StopNumericInstability means the current estimate has NaN or infinite residuals or Jacobians.
	StopNumericInstability
)

func (r StopReason) String() string {
	switch r {
	case StopMaxIterations:
		return "max iterations"
	case StopAbsoluteError:
		return "absolute error threshold"
	case StopRelativeError:
		return "relative error threshold"
	case StopRetriesExhausted:
		return "retries exhausted"
	case StopNumericInstability:
		return "numeric instability"
	default:
		return fmt.Sprintf("StopReason(%d)", uint8(r))
	}
}

// Converged returns whether the reason is one of the error thresholds.
func (r StopReason) Converged() bool {
	return r == StopAbsoluteError || r == StopRelativeError
}

// Result is the outcome of LocalBundleAdjustment.Compute.
type Result struct {
	Poses        []Pose
	Points       []r3.Vector
	InitialError float64
	FinalError   float64
	// Iterations counts linearizations, accepted or not.
	Iterations int
	// History holds the initial error followed by the error of every accepted step.
	History  []float64
	Reason   StopReason
	Warnings []error
}

// LocalBundleAdjustment refines the poses of a window of viewpoints and the
// positions of the points they observe by damped Gauss-Newton
// (Levenberg-Marquardt) on the mean squared reprojection error.
// It holds no mutable state and may be used by concurrent Compute calls.
type LocalBundleAdjustment struct {
	vis        *Visibility
	keypoints  []r2.Point
	projection *Projection
	opts       options
}

// NewLocalBundleAdjustment returns a solver for the observations described by
// the three parallel slices.
func NewLocalBundleAdjustment(viewpointIndices, pointIndices []int, keypoints []r2.Point, opts ...Option) (*LocalBundleAdjustment, error) {
	vis, err := NewVisibility(viewpointIndices, pointIndices)
	if err != nil {
		return nil, err
	}
	return NewLocalBundleAdjustmentFromVisibility(vis, keypoints, opts...)
}

// NewLocalBundleAdjustmentFromVisibility is NewLocalBundleAdjustment with a prebuilt index.
func NewLocalBundleAdjustmentFromVisibility(vis *Visibility, keypoints []r2.Point, opts ...Option) (*LocalBundleAdjustment, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var err error
	if len(keypoints) != vis.Len() {
		err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch, "%d keypoints for %d observations", len(keypoints), vis.Len()))
	}
	if o.initialDamping <= 0 || o.minDamping <= 0 {
		err = multierr.Append(err, errors.Errorf("damping must be positive (initial %g, min %g)", o.initialDamping, o.minDamping))
	}
	if o.dampingUp <= 1 || o.dampingDown <= 0 || o.dampingDown >= 1 {
		err = multierr.Append(err, errors.Errorf("damping factors must satisfy up > 1 and 0 < down < 1 (up %g, down %g)", o.dampingUp, o.dampingDown))
	}
	if o.maxRetries < 1 {
		err = multierr.Append(err, errors.Errorf("max retries must be positive, got %d", o.maxRetries))
	}
	for _, j := range o.fixed {
		if j < 0 {
			err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch, "fixed viewpoint %d", j))
		}
	}
	if err != nil {
		return nil, err
	}
	return &LocalBundleAdjustment{
		vis:        vis,
		keypoints:  append([]r2.Point(nil), keypoints...),
		projection: NewProjection(vis, WithCamera(o.camera), WithWorkers(o.workers)),
		opts:       o,
	}, nil
}

// Visibility returns the observation index of the solver.
func (ba *LocalBundleAdjustment) Visibility() *Visibility { return ba.vis }

// Projection returns the projection model of the solver.
func (ba *LocalBundleAdjustment) Projection() *Projection { return ba.projection }

// Keypoints returns a copy of the observed keypoints.
func (ba *LocalBundleAdjustment) Keypoints() []r2.Point {
	return append([]r2.Point(nil), ba.keypoints...)
}

// Error returns the mean squared reprojection error of the given estimate.
func (ba *LocalBundleAdjustment) Error(poses []Pose, points []r3.Vector) (float64, error) {
	if err := checkInputs(ba.vis, len(ba.keypoints), len(poses), len(points)); err != nil {
		return 0, err
	}
	return ba.meanError(poses, points), nil
}

func (ba *LocalBundleAdjustment) meanError(poses []Pose, points []r3.Vector) float64 {
	return CalcError(ba.keypoints, ba.projection.predict(poses, points))
}

// Compute refines the given poses and points. The inputs are not modified.
//
// It stops after maxIter linearizations, when an accepted step brings the mean
// error below absoluteErrorThreshold, or when an accepted step changes the
// error by a relative amount below relativeErrorThreshold. At least one damped
// step is always tried. If none is accepted from an estimate already below
// absoluteErrorThreshold, the reason is StopAbsoluteError. The returned
// estimate is never worse than the input. Inconsistent shapes return ErrShapeMismatch before any
// iteration. If every damped step of an iteration fails on a singular block,
// the last accepted estimate is returned with an error wrapping ErrSingularBlock.
func (ba *LocalBundleAdjustment) Compute(poses []Pose, points []r3.Vector, maxIter int, absoluteErrorThreshold, relativeErrorThreshold float64) (Result, error) {
	if err := checkInputs(ba.vis, len(ba.keypoints), len(poses), len(points)); err != nil {
		return Result{}, err
	}
	if maxIter < 1 || absoluteErrorThreshold <= 0 || relativeErrorThreshold <= 0 {
		return Result{}, errors.Wrapf(ErrShapeMismatch, "invalid termination: max_iter=%d absolute=%g relative=%g",
			maxIter, absoluteErrorThreshold, relativeErrorThreshold)
	}
	for _, j := range ba.opts.fixed {
		if j >= len(poses) {
			return Result{}, errors.Wrapf(ErrShapeMismatch, "fixed viewpoint %d but only %d poses given", j, len(poses))
		}
	}

	log := ba.opts.logger.With("viewpoints", len(poses), "points", len(points), "observations", ba.vis.Len())
	fixed := make([]bool, len(poses))
	for _, j := range ba.opts.fixed {
		fixed[j] = true
	}

	cur := Result{
		Poses:  append([]Pose(nil), poses...),
		Points: append([]r3.Vector(nil), points...),
	}
	predicted, A, B := ba.projection.linearize(cur.Poses, cur.Points)
	E := CalcError(ba.keypoints, predicted)
	cur.InitialError, cur.FinalError = E, E
	cur.History = []float64{E}
	if !isFinite([]float64{E}) {
		cur.Reason = StopNumericInstability
		cur.Warnings = append(cur.Warnings, errors.Wrap(ErrNumericInstability, "initial estimate"))
		log.Warnw("initial estimate is not finite", "error", E)
		return cur, nil
	}

	λ := ba.opts.initialDamping
	var fatal error
	cur.Reason = StopMaxIterations
iterations:
	for iter := 0; iter < maxIter; iter++ {
		if iter > 0 {
			predicted, A, B = ba.projection.linearize(cur.Poses, cur.Points)
		}
		if !jacobiansFinite(A, B) {
			cur.Reason = StopNumericInstability
			cur.Warnings = append(cur.Warnings, errors.Wrapf(ErrNumericInstability, "jacobians at iteration %d", iter))
			log.Warnw("jacobians are not finite", "iter", iter)
			break
		}
		cur.Iterations++

		residuals := make([]r2.Point, len(predicted))
		for o := range predicted {
			residuals[o] = ba.keypoints[o].Sub(predicted[o])
		}
		ne := newNormalEquations(ba.vis, A, B, residuals, len(cur.Poses), len(cur.Points), ba.opts.workers, fixed)

		var lastErr error
		for retry := 0; retry < ba.opts.maxRetries; retry++ {
			δa, δb, err := ne.solve(λ)
			if err != nil {
				lastErr = err
				log.Debugw("singular step", "iter", iter, "lambda", λ, "cause", err.Error())
				λ *= ba.opts.dampingUp
				continue
			}
			trialPoses, trialPoints := retract(cur.Poses, cur.Points, δa, δb, fixed)
			trialE := ba.meanError(trialPoses, trialPoints)
			if !isFinite([]float64{trialE}) {
				lastErr = errors.Wrapf(ErrNumericInstability, "trial step at iteration %d", iter)
				cur.Warnings = append(cur.Warnings, lastErr)
				log.Warnw("trial step is not finite", "iter", iter, "lambda", λ)
				λ *= ba.opts.dampingUp
				continue
			}
			if trialE >= E {
				lastErr = nil
				log.Debugw("rejected step", "iter", iter, "lambda", λ, "error", trialE, "previous", E)
				λ *= ba.opts.dampingUp
				continue
			}

			relative := CalcRelativeError(trialE, E)
			cur.Poses, cur.Points = trialPoses, trialPoints
			E = trialE
			cur.FinalError = E
			cur.History = append(cur.History, E)
			λ = math.Max(λ*ba.opts.dampingDown, ba.opts.minDamping)
			log.Debugw("accepted step", "iter", iter, "lambda", λ, "error", E, "relative", relative)
			if E < absoluteErrorThreshold {
				cur.Reason = StopAbsoluteError
				break iterations
			}
			if relative < relativeErrorThreshold {
				cur.Reason = StopRelativeError
				break iterations
			}
			continue iterations
		}

		if E < absoluteErrorThreshold {
			cur.Reason = StopAbsoluteError
			log.Debugw("no step improves an estimate below the absolute threshold", "iter", iter, "error", E)
			break
		}
		cur.Reason = StopRetriesExhausted
		cause := "no damped step decreased the error"
		if lastErr != nil {
			cause = lastErr.Error()
		}
		if errors.Is(lastErr, ErrSingularBlock) {
			fatal = lastErr
		}
		log.Warnw("every damped step was rejected", "iter", iter, "lambda", λ, "error", E, "cause", cause)
		break
	}

	log.Infow("local bundle adjustment finished",
		"reason", cur.Reason.String(),
		"iterations", cur.Iterations,
		"initial_error", cur.InitialError,
		"final_error", cur.FinalError)
	if fatal != nil {
		return cur, errors.Wrap(fatal, "local bundle adjustment did not converge")
	}
	return cur, nil
}

// retract applies the updates to copies of the poses and points.
func retract(poses []Pose, points []r3.Vector, δa, δb []*mat.VecDense, fixed []bool) ([]Pose, []r3.Vector) {
	newPoses := make([]Pose, len(poses))
	for j, p := range poses {
		if fixed[j] {
			newPoses[j] = p
			continue
		}
		newPoses[j] = p.Retract(δa[j])
	}
	newPoints := make([]r3.Vector, len(points))
	for i, p := range points {
		newPoints[i] = p.Add(vec3(δb[i]))
	}
	return newPoses, newPoints
}

func jacobiansFinite(A, B []*mat.Dense) bool {
	for o := range A {
		if !denseIsFinite(A[o]) || !denseIsFinite(B[o]) {
			return false
		}
	}
	return true
}
