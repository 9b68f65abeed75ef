package localba

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch is returned when the inputs of an optimization have
	// inconsistent lengths, dimensions or indices.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrSingularBlock is returned when a damped block of the normal equations
	// cannot be factorized.
	ErrSingularBlock = errors.New("singular block")
	// ErrNumericInstability reports NaN or infinite residuals or Jacobians.
	ErrNumericInstability = errors.New("numeric instability")
)

// checkDims returns an ErrShapeMismatch if m is not r×c.
func checkDims(m mat.Matrix, name string, r, c int) error {
	if mr, mc := m.Dims(); mr != r || mc != c {
		return errors.Wrapf(ErrShapeMismatch, "%s is %dx%d, want %dx%d", name, mr, mc, r, c)
	}
	return nil
}

// checkInputs validates the arrays given to LocalBundleAdjustment.Compute
// against the visibility index. Every problem found is reported.
func checkInputs(vis *Visibility, nKeypoints, nPoses, nPoints int) error {
	var err error
	if vis.Len() == 0 {
		err = multierr.Append(err, errors.Wrap(ErrShapeMismatch, "no observations"))
	}
	if nKeypoints != vis.Len() {
		err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch,
			"%d keypoints for %d observations", nKeypoints, vis.Len()))
	}
	if nPoses < vis.NumViewpoints() {
		err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch,
			"observations reference viewpoint %d but only %d poses given", vis.NumViewpoints()-1, nPoses))
	}
	if nPoints < vis.NumPoints() {
		err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch,
			"observations reference point %d but only %d points given", vis.NumPoints()-1, nPoints))
	}
	return err
}
