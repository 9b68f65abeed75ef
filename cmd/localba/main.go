// Package main is the localba command line tool.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ChristopherRabotin/localba"
)

const (
	// Flags.
	flagDebug            = "debug"
	flagViewpoints       = "viewpoints"
	flagPoints           = "points"
	flagSeed             = "seed"
	flagFocal            = "focal"
	flagKeypointNoise    = "keypoint-noise"
	flagRotationNoise    = "rotation-noise"
	flagTranslationNoise = "translation-noise"
	flagPointNoise       = "point-noise"
	flagFixed            = "fixed"
	flagOut              = "out"
	flagTruth            = "truth"
	flagProblem          = "problem"
	flagMaxIter          = "max-iter"
	flagAbs              = "abs"
	flagRel              = "rel"
	flagDamping          = "damping"
	flagWorkers          = "workers"
	flagHistory          = "history"
	flagPlot             = "plot"
	flagSamples          = "samples"
	flagParallel         = "parallel"
	flagCSV              = "csv"
)

var logger = zap.NewNop().Sugar()

func main() {
	app := &cli.App{
		Name:  "localba",
		Usage: "refine windows of camera poses and landmarks by local bundle adjustment",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			var (
				l   *zap.Logger
				err error
			)
			if c.Bool(flagDebug) {
				l, err = zap.NewDevelopment()
			} else {
				l, err = zap.NewProduction()
			}
			if err != nil {
				return errors.Wrap(err, "cannot build logger")
			}
			logger = l.Sugar()
			return nil
		},
		After: func(c *cli.Context) error {
			_ = logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "synth",
				Usage: "generate a synthetic window and a perturbed initial estimate",
				Flags: append(sceneFlags(),
					&cli.IntSliceFlag{
						Name:  flagFixed,
						Usage: "viewpoints kept at their true pose",
					},
					&cli.StringFlag{
						Name:     flagOut,
						Required: true,
						Usage:    "write the problem to `FILE`",
					},
					&cli.StringFlag{
						Name:  flagTruth,
						Usage: "write the ground truth problem to `FILE`",
					},
				),
				Action: synthAction,
			},
			{
				Name:  "refine",
				Usage: "run local bundle adjustment on a problem file",
				Flags: append(solverFlags(),
					&cli.StringFlag{
						Name:     flagProblem,
						Aliases:  []string{"p"},
						Required: true,
						Usage:    "load the problem from `FILE`",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write the refined problem to `FILE`",
					},
					&cli.StringFlag{
						Name:  flagTruth,
						Usage: "compare the refined estimate with the ground truth problem in `FILE`",
					},
					&cli.StringFlag{
						Name:  flagHistory,
						Usage: "write the error of every accepted step to the CSV `FILE`",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "plot the convergence to the PNG `FILE`",
					},
				),
				Action: refineAction,
			},
			{
				Name:  "montecarlo",
				Usage: "refine many random windows and report error statistics",
				Flags: append(append(sceneFlags(), solverFlags()...),
					&cli.IntFlag{
						Name:  flagSamples,
						Value: 100,
						Usage: "number of random windows",
					},
					&cli.IntFlag{
						Name:  flagParallel,
						Usage: "windows refined concurrently (0 for GOMAXPROCS)",
					},
					&cli.StringFlag{
						Name:  flagCSV,
						Usage: "write one line per run to the CSV `FILE`",
					},
				),
				Action: monteCarloAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sceneFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: flagViewpoints, Value: 5, Usage: "number of viewpoints in the window"},
		&cli.IntFlag{Name: flagPoints, Value: 30, Usage: "number of landmarks"},
		&cli.Uint64Flag{Name: flagSeed, Value: 1, Usage: "random seed"},
		&cli.Float64Flag{Name: flagFocal, Usage: "pinhole focal length in pixels (0 for normalized coordinates)"},
		&cli.Float64Flag{Name: flagKeypointNoise, Usage: "standard deviation of the keypoint noise"},
		&cli.Float64Flag{Name: flagRotationNoise, Value: 1e-3, Usage: "half-width of the rotation vector perturbation"},
		&cli.Float64Flag{Name: flagTranslationNoise, Value: 1e-2, Usage: "half-width of the translation perturbation"},
		&cli.Float64Flag{Name: flagPointNoise, Value: 1e-2, Usage: "half-width of the point perturbation"},
	}
}

func solverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: flagMaxIter, Value: 20, Usage: "maximum number of iterations"},
		&cli.Float64Flag{Name: flagAbs, Value: 1e-6, Usage: "absolute mean error threshold"},
		&cli.Float64Flag{Name: flagRel, Value: 1e-3, Usage: "relative error improvement threshold"},
		&cli.Float64Flag{Name: flagDamping, Value: localba.DefaultInitialDamping, Usage: "initial Levenberg-Marquardt damping"},
		&cli.IntFlag{Name: flagWorkers, Usage: "goroutines per solve (0 for GOMAXPROCS)"},
	}
}

func solverOptions(c *cli.Context) []localba.Option {
	opts := []localba.Option{
		localba.WithLogger(logger),
		localba.WithInitialDamping(c.Float64(flagDamping)),
	}
	if w := c.Int(flagWorkers); w > 0 {
		opts = append(opts, localba.WithWorkers(w))
	}
	return opts
}

func sceneConfig(c *cli.Context) localba.SceneConfig {
	cfg := localba.SceneConfig{
		Viewpoints: c.Int(flagViewpoints),
		Points:     c.Int(flagPoints),
	}
	if f := c.Float64(flagFocal); f > 0 {
		cfg.Camera = localba.Pinhole{Fx: f, Fy: f}
	}
	return cfg
}

func keypointNoise(σ float64, src rand.Source) (localba.Noise, error) {
	if σ <= 0 {
		return localba.Noiseless{}, nil
	}
	return localba.NewIsotropicAWGN(σ, src)
}

func synthAction(c *cli.Context) error {
	src := rand.NewPCG(c.Uint64(flagSeed), 0)
	cfg := sceneConfig(c)
	noise, err := keypointNoise(c.Float64(flagKeypointNoise), src)
	if err != nil {
		return err
	}
	cfg.Noise = noise
	scene, err := localba.NewScene(cfg, src)
	if err != nil {
		return err
	}
	fixed := c.IntSlice(flagFixed)
	ba, err := scene.Solver(localba.WithFixedViewpoints(fixed...))
	if err != nil {
		return err
	}
	poses, points := scene.Perturb(c.Float64(flagRotationNoise), c.Float64(flagTranslationNoise), c.Float64(flagPointNoise), src)
	for _, j := range fixed {
		if j < 0 || j >= len(poses) {
			return errors.Wrapf(localba.ErrShapeMismatch, "fixed viewpoint %d", j)
		}
		poses[j] = scene.Poses[j]
	}

	initialError, err := ba.Error(poses, points)
	if err != nil {
		return err
	}
	problem := localba.NewProblem(ba, poses, points)
	if err := problem.Save(c.String(flagOut)); err != nil {
		return err
	}
	logger.Infow("wrote problem",
		"file", c.String(flagOut),
		"viewpoints", len(poses),
		"points", len(points),
		"observations", scene.Visibility.Len(),
		"initial_error", initialError)

	if path := c.String(flagTruth); path != "" {
		if err := problem.WithEstimate(scene.Poses, scene.Points).Save(path); err != nil {
			return err
		}
		logger.Infow("wrote ground truth", "file", path)
	}
	return nil
}

func refineAction(c *cli.Context) error {
	problem, err := localba.LoadProblem(c.String(flagProblem))
	if err != nil {
		return err
	}
	ba, err := problem.Solver(solverOptions(c)...)
	if err != nil {
		return err
	}
	poses, points, err := problem.Estimate()
	if err != nil {
		return err
	}
	res, err := ba.Compute(poses, points, c.Int(flagMaxIter), c.Float64(flagAbs), c.Float64(flagRel))
	if err != nil && res.Poses == nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warnw("refinement warning", "warning", w)
	}
	fmt.Printf("%s after %d iterations: error %.6e -> %.6e\n", res.Reason, res.Iterations, res.InitialError, res.FinalError)

	if path := c.String(flagTruth); path != "" {
		truth, terr := localba.LoadProblem(path)
		if terr != nil {
			return terr
		}
		truePoses, truePoints, terr := truth.Estimate()
		if terr != nil {
			return terr
		}
		gt := localba.NewGroundTruth(truePoses, truePoints)
		fmt.Printf("ground truth error before: %s\n", gt.Error(poses, points))
		fmt.Printf("ground truth error after:  %s\n", gt.Error(res.Poses, res.Points))
	}
	if path := c.String(flagOut); path != "" {
		if serr := problem.WithEstimate(res.Poses, res.Points).Save(path); serr != nil {
			return serr
		}
	}
	if path := c.String(flagHistory); path != "" {
		f, ferr := os.Create(path)
		if ferr != nil {
			return errors.Wrap(ferr, "cannot create history file")
		}
		if ferr = localba.WriteHistory(f, res); ferr != nil {
			f.Close()
			return ferr
		}
		if ferr = f.Close(); ferr != nil {
			return ferr
		}
	}
	if path := c.String(flagPlot); path != "" {
		if perr := plotHistory(res, path); perr != nil {
			return perr
		}
	}
	return err
}

func monteCarloAction(c *cli.Context) error {
	cfg := localba.MonteCarloConfig{
		Scene:                  sceneConfig(c),
		Samples:                c.Int(flagSamples),
		Seed:                   c.Uint64(flagSeed),
		RotationNoise:          c.Float64(flagRotationNoise),
		TranslationNoise:       c.Float64(flagTranslationNoise),
		PointNoise:             c.Float64(flagPointNoise),
		MaxIter:                c.Int(flagMaxIter),
		AbsoluteErrorThreshold: c.Float64(flagAbs),
		RelativeErrorThreshold: c.Float64(flagRel),
		Parallel:               c.Int(flagParallel),
	}
	if σ := c.Float64(flagKeypointNoise); σ > 0 {
		cfg.NoiseFactory = func(src rand.Source) (localba.Noise, error) {
			return keypointNoise(σ, src)
		}
	}
	// Runs are already spread over goroutines.
	opts := append(solverOptions(c), localba.WithWorkers(1), localba.WithLogger(logger.Named("run")))
	mc, err := localba.NewMonteCarloRuns(cfg, opts...)
	if err != nil {
		return err
	}

	initial, final := mc.Mean()
	initialDev, finalDev := mc.StdDev()
	fmt.Printf("%d runs, %.1f%% converged\n", len(mc.Runs), 100*mc.Converged())
	fmt.Printf("initial error: mean %.6e stddev %.6e\n", initial, initialDev)
	fmt.Printf("final error:   mean %.6e stddev %.6e\n", final, finalDev)

	if path := c.String(flagCSV); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "cannot create CSV file")
		}
		defer f.Close()
		if _, err := fmt.Fprintln(f, localba.MonteCarloCSVHeader); err != nil {
			return err
		}
		for _, line := range mc.AsCSV() {
			if _, err := fmt.Fprintln(f, line); err != nil {
				return err
			}
		}
	}
	return nil
}
