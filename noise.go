package localba

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Noise generates the keypoint noise of synthetic observations.
type Noise interface {
	Keypoint(k int) r2.Point  // Returns the noise added to observation k
	Covariance() mat.Symmetric // Returns the 2x2 keypoint noise covariance
	String() string            // Stringer interface implementation
}

// Noiseless implements the Noise interface with zero noise.
type Noiseless struct{}

// Keypoint implements the Noise interface.
func (Noiseless) Keypoint(k int) r2.Point {
	return r2.Point{}
}

// Covariance implements the Noise interface.
func (Noiseless) Covariance() mat.Symmetric {
	return mat.NewSymDense(2, nil)
}

// String implements the Stringer interface.
func (Noiseless) String() string {
	return "Noiseless"
}

// BatchNoise replays recorded keypoint noise.
type BatchNoise struct {
	keypoints []r2.Point
}

// NewBatchNoise returns a BatchNoise replaying the given offsets.
func NewBatchNoise(keypoints []r2.Point) *BatchNoise {
	return &BatchNoise{append([]r2.Point(nil), keypoints...)}
}

// Keypoint implements the Noise interface.
func (n BatchNoise) Keypoint(k int) r2.Point {
	if k >= len(n.keypoints) {
		panic(fmt.Errorf("no keypoint noise defined for observation k=%d", k))
	}
	return n.keypoints[k]
}

// Covariance implements the Noise interface and returns the sample covariance.
func (n BatchNoise) Covariance() mat.Symmetric {
	cov := mat.NewSymDense(2, nil)
	if len(n.keypoints) < 2 {
		return cov
	}
	samples := mat.NewDense(len(n.keypoints), 2, nil)
	for k, p := range n.keypoints {
		samples.SetRow(k, []float64{p.X, p.Y})
	}
	stat.CovarianceMatrix(cov, samples, nil)
	return cov
}

// String implements the Stringer interface.
func (n BatchNoise) String() string {
	return "BatchNoise"
}

// AWGN implements the Noise interface and generates additive white Gaussian keypoint noise.
type AWGN struct {
	R    mat.Symmetric
	dist *distmv.Normal
}

// NewAWGN creates AWGN with the 2x2 covariance R.
func NewAWGN(R mat.Symmetric, src rand.Source) (*AWGN, error) {
	if err := checkDims(R, "R", 2, 2); err != nil {
		return nil, err
	}
	dist, ok := distmv.NewNormal(make([]float64, 2), R, src)
	if !ok {
		return nil, errors.New("keypoint noise covariance is not positive definite")
	}
	return &AWGN{R, dist}, nil
}

// NewIsotropicAWGN creates AWGN with standard deviation σ on both image axes.
func NewIsotropicAWGN(σ float64, src rand.Source) (*AWGN, error) {
	return NewAWGN(ScaledIdentity(2, σ*σ), src)
}

// Keypoint implements the Noise interface.
func (n AWGN) Keypoint(k int) r2.Point {
	r := n.dist.Rand(nil)
	return r2.Point{X: r[0], Y: r[1]}
}

// Covariance implements the Noise interface.
func (n AWGN) Covariance() mat.Symmetric {
	return n.R
}

// String implements the Stringer interface.
func (n AWGN) String() string {
	return fmt.Sprintf("AWGN{\nR=%v}\n", mat.Formatted(n.R, mat.Prefix("  ")))
}
