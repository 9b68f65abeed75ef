package localba

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func assertPanic(t *testing.T, f func()) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("code did not panic")
		}
	}()
	f()
}

// testCamera has a focal length large enough that the perturbations used in
// the tests produce errors well above the convergence threshold.
var testCamera = Pinhole{Fx: 100, Fy: 100, Ppx: 0, Ppy: 0}

func newSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, 1)
}

func newTestScene(t *testing.T, viewpoints, points int, seed uint64) *Scene {
	t.Helper()
	return newCameraScene(t, testCamera, viewpoints, points, seed)
}

func newCameraScene(t *testing.T, camera Camera, viewpoints, points int, seed uint64) *Scene {
	t.Helper()
	scene, err := NewScene(SceneConfig{Viewpoints: viewpoints, Points: points, Camera: camera}, newSource(seed))
	require.NoError(t, err)
	return scene
}

func newTestSolver(t *testing.T, scene *Scene, opts ...Option) *LocalBundleAdjustment {
	t.Helper()
	ba, err := scene.Solver(append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)...)
	require.NoError(t, err)
	return ba
}

func TestIdentity(t *testing.T) {
	n := 3
	i33 := Identity(n)
	if r, c := i33.Dims(); r != n || r != c {
		t.Fatalf("i33 has dimensions (%dx%d)", r, c)
	}
	for i := 0; i < n; i++ {
		if i33.At(i, i) != 1 {
			t.Fatalf("i33(%d,%d) != 1", i, i)
		}
		for j := 0; j < n; j++ {
			if i != j && i33.At(i, j) != 0 {
				t.Fatalf("i33(%d,%d) != 0", i, j)
			}
		}
	}
	s := ScaledIdentity(2, 4)
	if s.At(0, 0) != 4 || s.At(1, 1) != 4 || s.At(0, 1) != 0 {
		t.Fatalf("unexpected scaled identity %v", s)
	}
}

func TestSkew(t *testing.T) {
	v := r3.Vector{X: 1, Y: -2, Z: 3}
	u := r3.Vector{X: 0.5, Y: 4, Z: -1}
	got := mulVec3(Skew(v), u)
	want := v.Cross(u)
	if !got.ApproxEqual(want) {
		t.Fatalf("Skew(v)*u = %v, want %v", got, want)
	}
}

func TestIsFinite(t *testing.T) {
	if !isFinite([]float64{0, 1, -1e300}) {
		t.Fatal("finite values reported as not finite")
	}
	if isFinite([]float64{0, math.NaN()}) {
		t.Fatal("NaN not detected")
	}
	if isFinite([]float64{math.Inf(-1)}) {
		t.Fatal("Inf not detected")
	}
}
