package localba

import (
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// MonteCarloConfig describes repeated perturb-and-refine runs over random scenes.
type MonteCarloConfig struct {
	Scene   SceneConfig
	Samples int
	Seed    uint64
	// NoiseFactory builds the keypoint noise of a sample. Nil keeps Scene.Noise.
	NoiseFactory func(src rand.Source) (Noise, error)
	// Half-widths of the uniform perturbation of the initial estimate.
	RotationNoise, TranslationNoise, PointNoise float64

	MaxIter                int
	AbsoluteErrorThreshold float64
	RelativeErrorThreshold float64
	// Parallel bounds the samples refined concurrently. Defaults to GOMAXPROCS.
	Parallel int
}

// MonteCarloRun stores the results of a Monte Carlo run.
type MonteCarloRun struct {
	Result  Result
	Initial TruthError
	Final   TruthError
	Err     error
}

// MonteCarloRuns stores Monte Carlo runs.
type MonteCarloRuns struct {
	Runs []MonteCarloRun
}

// NewMonteCarloRuns refines Samples independent random scenes. Sample s draws
// its scene and perturbation from a PCG source seeded with (Seed, s), so the
// runs are reproducible whatever the scheduling. A solver error is stored in
// the run; only configuration errors are returned.
func NewMonteCarloRuns(cfg MonteCarloConfig, opts ...Option) (MonteCarloRuns, error) {
	if cfg.Samples < 1 {
		return MonteCarloRuns{}, errors.Errorf("monte carlo needs at least one sample, got %d", cfg.Samples)
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = runtime.GOMAXPROCS(0)
	}
	runs := make([]MonteCarloRun, cfg.Samples)
	var g errgroup.Group
	g.SetLimit(cfg.Parallel)
	for sample := 0; sample < cfg.Samples; sample++ {
		g.Go(func() error {
			src := rand.NewPCG(cfg.Seed, uint64(sample))
			sceneCfg := cfg.Scene
			if cfg.NoiseFactory != nil {
				noise, err := cfg.NoiseFactory(src)
				if err != nil {
					return errors.Wrapf(err, "sample %d", sample)
				}
				sceneCfg.Noise = noise
			}
			scene, err := NewScene(sceneCfg, src)
			if err != nil {
				return errors.Wrapf(err, "sample %d", sample)
			}
			ba, err := scene.Solver(opts...)
			if err != nil {
				return errors.Wrapf(err, "sample %d", sample)
			}
			poses, points := scene.Perturb(cfg.RotationNoise, cfg.TranslationNoise, cfg.PointNoise, src)
			res, err := ba.Compute(poses, points, cfg.MaxIter, cfg.AbsoluteErrorThreshold, cfg.RelativeErrorThreshold)
			if errors.Is(err, ErrShapeMismatch) {
				return errors.Wrapf(err, "sample %d", sample)
			}
			truth := scene.Truth()
			run := MonteCarloRun{Result: res, Initial: truth.Error(poses, points), Err: err}
			if res.Poses != nil {
				run.Final = truth.Error(res.Poses, res.Points)
			}
			runs[sample] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MonteCarloRuns{}, err
	}
	return MonteCarloRuns{runs}, nil
}

// InitialErrors returns the initial mean reprojection error of every run.
func (mc MonteCarloRuns) InitialErrors() []float64 {
	errs := make([]float64, len(mc.Runs))
	for r, run := range mc.Runs {
		errs[r] = run.Result.InitialError
	}
	return errs
}

// FinalErrors returns the final mean reprojection error of every run.
func (mc MonteCarloRuns) FinalErrors() []float64 {
	errs := make([]float64, len(mc.Runs))
	for r, run := range mc.Runs {
		errs[r] = run.Result.FinalError
	}
	return errs
}

// Mean returns the mean initial and final errors over all runs.
func (mc MonteCarloRuns) Mean() (initial, final float64) {
	return stat.Mean(mc.InitialErrors(), nil), stat.Mean(mc.FinalErrors(), nil)
}

// StdDev returns the standard deviation of the initial and final errors over all runs.
func (mc MonteCarloRuns) StdDev() (initial, final float64) {
	return stat.StdDev(mc.InitialErrors(), nil), stat.StdDev(mc.FinalErrors(), nil)
}

// Converged returns the fraction of runs that stopped on an error threshold.
func (mc MonteCarloRuns) Converged() float64 {
	n := 0
	for _, run := range mc.Runs {
		if run.Err == nil && run.Result.Reason.Converged() {
			n++
		}
	}
	return float64(n) / float64(len(mc.Runs))
}

// AsCSV is used as a CSV serializer. Does not include the header.
func (mc MonteCarloRuns) AsCSV() []string {
	lines := make([]string, len(mc.Runs))
	for r, run := range mc.Runs {
		lines[r] = fmt.Sprintf("%d,%s,%d,%e,%e,%e,%e,%e",
			r, run.Result.Reason, run.Result.Iterations, run.Result.InitialError, run.Result.FinalError,
			run.Final.MeanRotation(), run.Final.MeanTranslation(), run.Final.MeanPoint())
	}
	return lines
}

// MonteCarloCSVHeader is the header matching MonteCarloRuns.AsCSV.
const MonteCarloCSVHeader = "run,reason,iterations,initial_error,final_error,rotation_error,translation_error,point_error"
