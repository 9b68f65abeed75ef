package localba

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// ChiSquareResult is the outcome of a chi-square consistency test.
type ChiSquareResult struct {
	// Statistic is the sum of squared residuals divided by σ².
	Statistic float64
	// DegreesOfFreedom is the number of residuals minus the number of free parameters.
	DegreesOfFreedom float64
	// PValue is the probability of a statistic at least as large under the noise model.
	PValue float64
	Passed bool
}

func (r ChiSquareResult) String() string {
	return fmt.Sprintf("χ²=%.3f dof=%.0f p=%.4f passed=%t", r.Statistic, r.DegreesOfFreedom, r.PValue, r.Passed)
}

// ChiSquareGate tests whether the final residual of res is consistent with
// isotropic Gaussian keypoint noise of standard deviation σ. The test passes
// when its p-value is at least significance.
//
// The free parameters exclude the gauge of a monocular window: seven
// (rotation, translation and scale) without fixed viewpoints, the scale alone
// with one fixed viewpoint.
func (ba *LocalBundleAdjustment) ChiSquareGate(res Result, σ, significance float64) (ChiSquareResult, error) {
	if σ <= 0 {
		return ChiSquareResult{}, errors.Errorf("noise standard deviation must be positive, got %g", σ)
	}
	if significance <= 0 || significance >= 1 {
		return ChiSquareResult{}, errors.Errorf("significance must be in (0, 1), got %g", significance)
	}
	fixed := make(map[int]struct{})
	for _, j := range ba.opts.fixed {
		fixed[j] = struct{}{}
	}
	gauge := 0
	switch len(fixed) {
	case 0:
		gauge = 7
	case 1:
		gauge = 1
	}
	free := PoseDim*(len(res.Poses)-len(fixed)) + PointDim*len(res.Points) - gauge
	dof := 2*ba.vis.Len() - free
	if dof < 1 {
		return ChiSquareResult{}, errors.Wrapf(ErrShapeMismatch,
			"%d residuals cannot constrain %d free parameters", 2*ba.vis.Len(), free)
	}

	out := ChiSquareResult{
		Statistic:        res.FinalError * float64(ba.vis.Len()) / (σ * σ),
		DegreesOfFreedom: float64(dof),
	}
	out.PValue = distuv.ChiSquared{K: out.DegreesOfFreedom}.Survival(out.Statistic)
	out.Passed = out.PValue >= significance
	return out, nil
}
