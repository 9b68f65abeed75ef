package localba

import (
	"math/rand/v2"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestImplementsCamera(t *testing.T) {
	implements := func(Camera) {}
	implements(Normalized{})
	implements(Pinhole{})
}

func TestPinholeCheckValid(t *testing.T) {
	var nilCam *Pinhole
	assert.ErrorIs(t, nilCam.CheckValid(), ErrNoIntrinsics)
	assert.ErrorIs(t, (&Pinhole{Fx: 0, Fy: 1}).CheckValid(), ErrNoIntrinsics)
	assert.ErrorIs(t, (&Pinhole{Fx: 1, Fy: -1}).CheckValid(), ErrNoIntrinsics)
	assert.NoError(t, (&Pinhole{Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}).CheckValid())
}

func TestCameraProject(t *testing.T) {
	x := r3.Vector{X: 1, Y: -2, Z: 4}
	assert.Equal(t, r2.Point{X: 0.25, Y: -0.5}, Normalized{}.Project(x))
	assert.Equal(t, r2.Point{X: 420, Y: 190}, Pinhole{Fx: 400, Fy: 100, Ppx: 320, Ppy: 240}.Project(x))
}

// finiteDifferences returns the central difference Jacobians of Projection.Compute
// with respect to the additive pose and point parameters of every observation.
func finiteDifferences(p *Projection, poses []Pose, points []r3.Vector, h float64) (A, B []*mat.Dense) {
	n := p.vis.Len()
	A, B = make([]*mat.Dense, n), make([]*mat.Dense, n)
	for o := 0; o < n; o++ {
		A[o], B[o] = mat.NewDense(2, PoseDim, nil), mat.NewDense(2, PointDim, nil)
	}
	for j := range poses {
		for k := 0; k < PoseDim; k++ {
			plus, minus := append([]Pose(nil), poses...), append([]Pose(nil), poses...)
			params := poses[j].Params()
			params[k] += h
			plus[j], _ = NewPose(params)
			params[k] -= 2 * h
			minus[j], _ = NewPose(params)
			fp, fm := p.predict(plus, points), p.predict(minus, points)
			for _, o := range p.vis.ViewpointObservations(j) {
				d := fp[o].Sub(fm[o]).Mul(1 / (2 * h))
				A[o].Set(0, k, d.X)
				A[o].Set(1, k, d.Y)
			}
		}
	}
	for i := range points {
		for k := 0; k < PointDim; k++ {
			plus, minus := append([]r3.Vector(nil), points...), append([]r3.Vector(nil), points...)
			params := vecSlice(points[i])
			params[k] += h
			plus[i] = r3.Vector{X: params[0], Y: params[1], Z: params[2]}
			params[k] -= 2 * h
			minus[i] = r3.Vector{X: params[0], Y: params[1], Z: params[2]}
			fp, fm := p.predict(poses, plus), p.predict(poses, minus)
			for _, o := range p.vis.PointObservations(i) {
				d := fp[o].Sub(fm[o]).Mul(1 / (2 * h))
				B[o].Set(0, k, d.X)
				B[o].Set(1, k, d.Y)
			}
		}
	}
	return A, B
}

func relativeError(got, want mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(got, want)
	return mat.Norm(&diff, 2) / mat.Norm(want, 2)
}

func TestJacobiansMatchFiniteDifferences(t *testing.T) {
	for _, tc := range []struct {
		name   string
		camera Camera
	}{
		{"normalized", Normalized{}},
		{"pinhole", Pinhole{Fx: 520, Fy: 480, Ppx: 320, Ppy: 240}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			scene, err := NewScene(SceneConfig{Viewpoints: 4, Points: 6, Camera: tc.camera}, rand.NewPCG(11, 12))
			require.NoError(t, err)
			proj := NewProjection(scene.Visibility, WithCamera(tc.camera))
			A, B, err := proj.Jacobians(scene.Poses, scene.Points)
			require.NoError(t, err)
			Afd, Bfd := finiteDifferences(proj, scene.Poses, scene.Points, 1e-6)
			for o := range A {
				assert.Less(t, relativeError(A[o], Afd[o]), 1e-4, "A of observation %d", o)
				assert.Less(t, relativeError(B[o], Bfd[o]), 1e-4, "B of observation %d", o)
			}
		})
	}
}

func TestJacobiansPredictSmallPerturbation(t *testing.T) {
	scene := newTestScene(t, 3, 5, 21)
	proj := NewProjection(scene.Visibility, WithCamera(scene.Camera))
	base, err := proj.Compute(scene.Poses, scene.Points)
	require.NoError(t, err)
	A, B, err := proj.Jacobians(scene.Poses, scene.Points)
	require.NoError(t, err)

	rnd := rand.New(rand.NewPCG(13, 14))
	δpose := make([][]float64, len(scene.Poses))
	poses := make([]Pose, len(scene.Poses))
	for j, p := range scene.Poses {
		params := p.Params()
		δpose[j] = make([]float64, PoseDim)
		for k := range params {
			δpose[j][k] = 1e-4 * rnd.NormFloat64()
			params[k] += δpose[j][k]
		}
		poses[j], _ = NewPose(params)
	}
	moved, err := proj.Compute(poses, scene.Points)
	require.NoError(t, err)
	for o := range moved {
		var predicted mat.VecDense
		predicted.MulVec(A[o], mat.NewVecDense(PoseDim, δpose[scene.Visibility.ViewpointIndex(o)]))
		actual := mat.NewVecDense(2, []float64{moved[o].X - base[o].X, moved[o].Y - base[o].Y})
		assert.Less(t, relativeError(&predicted, actual), 0.1, "pose perturbation of observation %d", o)
	}

	δpoint := make([]r3.Vector, len(scene.Points))
	points := make([]r3.Vector, len(scene.Points))
	for i, p := range scene.Points {
		δpoint[i] = r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()}.Mul(1e-4)
		points[i] = p.Add(δpoint[i])
	}
	moved, err = proj.Compute(scene.Poses, points)
	require.NoError(t, err)
	for o := range moved {
		var predicted mat.VecDense
		predicted.MulVec(B[o], mat.NewVecDense(PointDim, vecSlice(δpoint[scene.Visibility.PointIndex(o)])))
		actual := mat.NewVecDense(2, []float64{moved[o].X - base[o].X, moved[o].Y - base[o].Y})
		assert.Less(t, relativeError(&predicted, actual), 0.1, "point perturbation of observation %d", o)
	}
}

func TestProjectionWorkersAgree(t *testing.T) {
	scene := newTestScene(t, 6, 40, 31)
	serial := NewProjection(scene.Visibility, WithCamera(scene.Camera), WithWorkers(1))
	parallel := NewProjection(scene.Visibility, WithCamera(scene.Camera), WithWorkers(4))
	want, err := serial.Compute(scene.Poses, scene.Points)
	require.NoError(t, err)
	got, err := parallel.Compute(scene.Poses, scene.Points)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	As, Bs, err := serial.Jacobians(scene.Poses, scene.Points)
	require.NoError(t, err)
	Ap, Bp, err := parallel.Jacobians(scene.Poses, scene.Points)
	require.NoError(t, err)
	for o := range As {
		require.True(t, mat.Equal(As[o], Ap[o]))
		require.True(t, mat.Equal(Bs[o], Bp[o]))
	}
	// Noiseless keypoints are the projections of the truth.
	assert.InDelta(t, 0, CalcError(scene.Keypoints, want), 1e-20)
}

func TestProjectionShapeMismatch(t *testing.T) {
	scene := newTestScene(t, 3, 5, 33)
	proj := NewProjection(scene.Visibility, WithCamera(scene.Camera))
	for _, tc := range []struct {
		name   string
		poses  []Pose
		points []r3.Vector
	}{
		{"too few poses", scene.Poses[:2], scene.Points},
		{"too few points", scene.Poses, scene.Points[:4]},
		{"empty", nil, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			predicted, err := proj.Compute(tc.poses, tc.points)
			assert.ErrorIs(t, err, ErrShapeMismatch)
			assert.Nil(t, predicted)
			A, B, err := proj.Jacobians(tc.poses, tc.points)
			assert.ErrorIs(t, err, ErrShapeMismatch)
			assert.Nil(t, A)
			assert.Nil(t, B)
		})
	}
}
