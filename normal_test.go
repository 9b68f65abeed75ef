package localba

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// denseSystem assembles the full damped normal equations of the observations
// so the Schur solution can be compared with a direct solve.
func denseSystem(vis *Visibility, A, B []*mat.Dense, residuals []r2.Point, nViewpoints, nPoints int, λ float64) (*mat.SymDense, *mat.VecDense) {
	n := PoseDim*nViewpoints + PointDim*nPoints
	J := mat.NewDense(2*vis.Len(), n, nil)
	r := mat.NewVecDense(2*vis.Len(), nil)
	for o := 0; o < vis.Len(); o++ {
		j, i := vis.Observation(o)
		J.Slice(2*o, 2*o+2, PoseDim*j, PoseDim*(j+1)).(*mat.Dense).Copy(A[o])
		off := PoseDim * nViewpoints
		J.Slice(2*o, 2*o+2, off+PointDim*i, off+PointDim*(i+1)).(*mat.Dense).Copy(B[o])
		r.SetVec(2*o, residuals[o].X)
		r.SetVec(2*o+1, residuals[o].Y)
	}
	H := mat.NewSymDense(n, nil)
	H.SymOuterK(1, J.T())
	for k := 0; k < n; k++ {
		H.SetSym(k, k, H.At(k, k)+λ)
	}
	g := mat.NewVecDense(n, nil)
	g.MulVec(J.T(), r)
	return H, g
}

func TestNormalEquationsMatchDenseSolve(t *testing.T) {
	scene := newTestScene(t, 3, 6, 41)
	poses, points := scene.Perturb(1e-2, 1e-2, 1e-2, newSource(42))
	proj := NewProjection(scene.Visibility, WithCamera(scene.Camera))
	predicted, A, B := proj.linearize(poses, points)
	residuals := make([]r2.Point, len(predicted))
	for o := range predicted {
		residuals[o] = scene.Keypoints[o].Sub(predicted[o])
	}

	λ := 1e-2
	ne := newNormalEquations(scene.Visibility, A, B, residuals, len(poses), len(points), 2, make([]bool, len(poses)))
	δa, δb, err := ne.solve(λ)
	require.NoError(t, err)

	H, g := denseSystem(scene.Visibility, A, B, residuals, len(poses), len(points), λ)
	var chol mat.Cholesky
	require.True(t, chol.Factorize(H))
	var want mat.VecDense
	require.NoError(t, chol.SolveVecTo(&want, g))

	for j := range δa {
		for k := 0; k < PoseDim; k++ {
			assert.InDelta(t, want.AtVec(PoseDim*j+k), δa[j].AtVec(k), 1e-8, "pose %d parameter %d", j, k)
		}
	}
	off := PoseDim * len(poses)
	for i := range δb {
		for k := 0; k < PointDim; k++ {
			assert.InDelta(t, want.AtVec(off+PointDim*i+k), δb[i].AtVec(k), 1e-8, "point %d coordinate %d", i, k)
		}
	}
}

func TestNormalEquationsFixedViewpoint(t *testing.T) {
	scene := newTestScene(t, 3, 6, 43)
	poses, points := scene.Perturb(1e-2, 1e-2, 1e-2, newSource(44))
	proj := NewProjection(scene.Visibility, WithCamera(scene.Camera))
	predicted, A, B := proj.linearize(poses, points)
	residuals := make([]r2.Point, len(predicted))
	for o := range predicted {
		residuals[o] = scene.Keypoints[o].Sub(predicted[o])
	}
	ne := newNormalEquations(scene.Visibility, A, B, residuals, len(poses), len(points), 1, []bool{false, true, false})
	δa, _, err := ne.solve(1e-3)
	require.NoError(t, err)
	assert.Zero(t, mat.Norm(δa[1], 2))
	assert.NotZero(t, mat.Norm(δa[0], 2))
}

func TestNormalEquationsSingularBlock(t *testing.T) {
	vis, err := NewVisibility([]int{0}, []int{0})
	require.NoError(t, err)
	ne := &normalEquations{
		vis:   vis,
		U:     []*mat.SymDense{Identity(PoseDim)},
		V:     []*mat.SymDense{ScaledIdentity(PointDim, -10)},
		W:     []*mat.Dense{mat.NewDense(PoseDim, PointDim, nil)},
		ea:    []*mat.VecDense{mat.NewVecDense(PoseDim, nil)},
		eb:    []*mat.VecDense{mat.NewVecDense(PointDim, nil)},
		fixed: []bool{false},
	}
	_, _, err = ne.solve(1e-3)
	assert.ErrorIs(t, err, ErrSingularBlock)

	// Enough damping makes the point block positive definite again.
	_, _, err = ne.solve(100)
	assert.NoError(t, err)
}

func TestDamped(t *testing.T) {
	S := mat.NewSymDense(2, []float64{1, 2, 2, 5})
	D := damped(S, 0.5)
	assert.Equal(t, 1.5, D.At(0, 0))
	assert.Equal(t, 5.5, D.At(1, 1))
	assert.Equal(t, 2.0, D.At(0, 1))
	assert.Equal(t, 1.0, S.At(0, 0))
}
