package localba

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestImplementsNoise(t *testing.T) {
	implements := func(Noise) {}
	implements(new(Noiseless))
	implements(new(BatchNoise))
	implements(new(AWGN))
}

func TestNoiseless(t *testing.T) {
	nl := Noiseless{}
	assert.Equal(t, r2.Point{}, nl.Keypoint(3))
	assert.True(t, mat.Equal(mat.NewSymDense(2, nil), nl.Covariance()))
	assert.Equal(t, "Noiseless", nl.String())
}

func TestBatchNoise(t *testing.T) {
	keypoints := []r2.Point{{X: 1, Y: -1}, {X: -1, Y: 1}, {X: 1, Y: 1}, {X: -1, Y: -1}}
	bn := NewBatchNoise(keypoints)
	for k, p := range keypoints {
		assert.Equal(t, p, bn.Keypoint(k))
	}
	assertPanic(t, func() { bn.Keypoint(len(keypoints)) })

	cov := bn.Covariance()
	assert.InDelta(t, 4.0/3, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 4.0/3, cov.At(1, 1), 1e-12)
	assert.InDelta(t, 0, cov.At(0, 1), 1e-12)
}

func TestAWGN(t *testing.T) {
	_, err := NewAWGN(Identity(3), newSource(1))
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = NewAWGN(mat.NewSymDense(2, []float64{1, 2, 2, 1}), newSource(1))
	assert.Error(t, err)

	n, err := NewIsotropicAWGN(2, newSource(2))
	require.NoError(t, err)
	xs, ys := make([]float64, 5000), make([]float64, 5000)
	for k := range xs {
		p := n.Keypoint(k)
		xs[k], ys[k] = p.X, p.Y
	}
	assert.InDelta(t, 0, stat.Mean(xs, nil), 0.15)
	assert.InDelta(t, 2, stat.StdDev(xs, nil), 0.15)
	assert.InDelta(t, 2, stat.StdDev(ys, nil), 0.15)
	assert.Equal(t, 4.0, n.Covariance().At(1, 1))
}
