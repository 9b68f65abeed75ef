package localba

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSceneDepth is the distance along the optical axis between the
// synthetic cameras and the center of the point cloud.
const DefaultSceneDepth = 4.0

// SceneConfig describes a synthetic window.
type SceneConfig struct {
	Viewpoints int
	Points     int
	// Depth defaults to DefaultSceneDepth. It must exceed √3 so that every
	// point of the unit cube lies in front of every camera.
	Depth float64
	// Mask of shape (Viewpoints, Points). Nil means every point is seen from every viewpoint.
	Mask   [][]bool
	Camera Camera // Defaults to Normalized
	Noise  Noise  // Keypoint noise, defaults to Noiseless
}

// Scene is a synthetic window with its ground truth and observed keypoints.
type Scene struct {
	Poses      []Pose
	Points     []r3.Vector
	Visibility *Visibility
	Keypoints  []r2.Point
	Camera     Camera
}

// NewScene draws a random window: rotation vectors uniform in [-π, π]³,
// translations (U(-1,1), U(-1,1), depth) and points uniform in the unit cube.
// Keypoints are the projections of the true points plus the configured noise.
func NewScene(cfg SceneConfig, src rand.Source) (*Scene, error) {
	if cfg.Depth == 0 {
		cfg.Depth = DefaultSceneDepth
	}
	if cfg.Camera == nil {
		cfg.Camera = Normalized{}
	}
	if cfg.Noise == nil {
		cfg.Noise = Noiseless{}
	}
	if cfg.Mask == nil {
		cfg.Mask = make([][]bool, cfg.Viewpoints)
		for j := range cfg.Mask {
			cfg.Mask[j] = make([]bool, cfg.Points)
			for i := range cfg.Mask[j] {
				cfg.Mask[j][i] = true
			}
		}
	}

	var err error
	if cfg.Viewpoints < 1 || cfg.Points < 1 {
		err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch, "scene needs viewpoints and points, got %d and %d", cfg.Viewpoints, cfg.Points))
	}
	if cfg.Depth <= math.Sqrt(3) {
		err = multierr.Append(err, errors.Errorf("scene depth %g puts points behind the cameras", cfg.Depth))
	}
	if len(cfg.Mask) != cfg.Viewpoints {
		err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch, "mask has %d rows for %d viewpoints", len(cfg.Mask), cfg.Viewpoints))
	}
	for j, row := range cfg.Mask {
		if len(row) != cfg.Points {
			err = multierr.Append(err, errors.Wrapf(ErrShapeMismatch, "mask row %d has %d columns for %d points", j, len(row), cfg.Points))
		}
	}
	if err != nil {
		return nil, err
	}

	vis, err := VisibilityFromMask(cfg.Mask)
	if err != nil {
		return nil, err
	}

	u := distuv.Uniform{Min: -1, Max: 1, Src: src}
	poses := make([]Pose, cfg.Viewpoints)
	for j := range poses {
		poses[j] = Pose{
			Omega: r3.Vector{X: math.Pi * u.Rand(), Y: math.Pi * u.Rand(), Z: math.Pi * u.Rand()},
			T:     r3.Vector{X: u.Rand(), Y: u.Rand(), Z: cfg.Depth},
		}
	}
	points := make([]r3.Vector, cfg.Points)
	for i := range points {
		points[i] = r3.Vector{X: u.Rand(), Y: u.Rand(), Z: u.Rand()}
	}

	keypoints, err := NewProjection(vis, WithCamera(cfg.Camera), WithWorkers(1)).Compute(poses, points)
	if err != nil {
		return nil, err
	}
	for k := range keypoints {
		keypoints[k] = keypoints[k].Add(cfg.Noise.Keypoint(k))
	}
	return &Scene{
		Poses:      poses,
		Points:     points,
		Visibility: vis,
		Keypoints:  keypoints,
		Camera:     cfg.Camera,
	}, nil
}

// Perturb returns a copy of the true poses and points with uniform noise of
// the given half-widths added to every rotation, translation and point parameter.
func (s *Scene) Perturb(rotation, translation, point float64, src rand.Source) ([]Pose, []r3.Vector) {
	u := distuv.Uniform{Min: -1, Max: 1, Src: src}
	noise := func(scale float64) r3.Vector {
		return r3.Vector{X: u.Rand(), Y: u.Rand(), Z: u.Rand()}.Mul(scale)
	}
	poses := make([]Pose, len(s.Poses))
	for j, p := range s.Poses {
		poses[j] = Pose{Omega: p.Omega.Add(noise(rotation)), T: p.T.Add(noise(translation))}
	}
	points := make([]r3.Vector, len(s.Points))
	for i, p := range s.Points {
		points[i] = p.Add(noise(point))
	}
	return poses, points
}

// Solver returns a LocalBundleAdjustment over the scene observations using
// the scene camera. Options passed after it take precedence.
func (s *Scene) Solver(opts ...Option) (*LocalBundleAdjustment, error) {
	return NewLocalBundleAdjustmentFromVisibility(s.Visibility, s.Keypoints, append([]Option{WithCamera(s.Camera)}, opts...)...)
}

// Truth returns the ground truth of the scene.
func (s *Scene) Truth() *GroundTruth {
	return NewGroundTruth(s.Poses, s.Points)
}
