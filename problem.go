package localba

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Problem is the file representation of a local bundle adjustment: the
// observations, the estimate to refine and the camera. A nil Camera selects
// the Normalized projection.
type Problem struct {
	Camera           *Pinhole    `json:"camera,omitempty"`
	Poses            [][]float64 `json:"poses"`
	Points           [][]float64 `json:"points"`
	ViewpointIndices []int       `json:"viewpoint_indices"`
	PointIndices     []int       `json:"point_indices"`
	Keypoints        [][]float64 `json:"keypoints"`
	FixedViewpoints  []int       `json:"fixed_viewpoints,omitempty"`
}

// NewProblem builds a Problem from a solver and an estimate.
func NewProblem(ba *LocalBundleAdjustment, poses []Pose, points []r3.Vector) *Problem {
	p := &Problem{
		Poses:            PoseRows(poses),
		Points:           PointRows(points),
		ViewpointIndices: ba.vis.ViewpointIndices(),
		PointIndices:     ba.vis.PointIndices(),
		Keypoints:        KeypointRows(ba.keypoints),
		FixedViewpoints:  append([]int(nil), ba.opts.fixed...),
	}
	if c, ok := ba.projection.Camera().(Pinhole); ok {
		p.Camera = &c
	}
	return p
}

// LoadProblem reads a JSON problem file.
func LoadProblem(path string) (*Problem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read problem")
	}
	var p Problem
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrapf(err, "cannot parse problem %s", path)
	}
	return &p, nil
}

// Save writes the problem as indented JSON.
func (p *Problem) Save(path string) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode problem")
	}
	return errors.Wrap(os.WriteFile(path, b, 0o644), "cannot write problem")
}

// Estimate decodes the poses and points of the problem.
func (p *Problem) Estimate() ([]Pose, []r3.Vector, error) {
	poses, err := PosesFromRows(p.Poses)
	points, perr := PointsFromRows(p.Points)
	if err = multierr.Append(err, perr); err != nil {
		return nil, nil, err
	}
	return poses, points, nil
}

// Solver builds the LocalBundleAdjustment described by the problem. Options
// passed to it take precedence over the problem camera.
func (p *Problem) Solver(opts ...Option) (*LocalBundleAdjustment, error) {
	keypoints, err := KeypointsFromRows(p.Keypoints)
	if err != nil {
		return nil, err
	}
	base := []Option{WithFixedViewpoints(p.FixedViewpoints...)}
	if p.Camera != nil {
		if err := p.Camera.CheckValid(); err != nil {
			return nil, err
		}
		base = append(base, WithCamera(*p.Camera))
	}
	return NewLocalBundleAdjustment(p.ViewpointIndices, p.PointIndices, keypoints, append(base, opts...)...)
}

// WithEstimate returns a copy of the problem holding the given estimate.
func (p *Problem) WithEstimate(poses []Pose, points []r3.Vector) *Problem {
	out := *p
	out.Poses = PoseRows(poses)
	out.Points = PointRows(points)
	return &out
}

// KeypointsFromRows converts an (N, 2) array into keypoints.
func KeypointsFromRows(rows [][]float64) ([]r2.Point, error) {
	keypoints := make([]r2.Point, len(rows))
	for k, row := range rows {
		if len(row) != 2 {
			return nil, errors.Wrapf(ErrShapeMismatch, "keypoint %d has %d coordinates, want 2", k, len(row))
		}
		keypoints[k] = r2.Point{X: row[0], Y: row[1]}
	}
	return keypoints, nil
}

// KeypointRows is the inverse of KeypointsFromRows.
func KeypointRows(keypoints []r2.Point) [][]float64 {
	rows := make([][]float64, len(keypoints))
	for k, p := range keypoints {
		rows[k] = []float64{p.X, p.Y}
	}
	return rows
}
