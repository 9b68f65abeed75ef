package main

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ChristopherRabotin/localba"
)

// plotHistory draws the mean reprojection error of every accepted step on a log scale.
func plotHistory(res localba.Result, file string) error {
	p := plot.New()
	p.Title.Text = "Local bundle adjustment: " + res.Reason.String()
	p.X.Label.Text = "Accepted step"
	p.Y.Label.Text = "Mean squared reprojection error"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(res.History))
	for k, E := range res.History {
		// Log axes cannot show an exact zero.
		pts = append(pts, plotter.XY{X: float64(k), Y: math.Max(E, math.SmallestNonzeroFloat64)})
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return errors.Wrap(err, "history line")
	}
	line.Width = vg.Points(1)
	p.Add(line, points)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, file); err != nil {
		return errors.Wrap(err, "save convergence plot")
	}
	return nil
}
