package localba

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/stat"
)

// CalcErrors returns the squared euclidean distance between each observed and
// predicted keypoint. It panics if the slices differ in length.
func CalcErrors(observed, predicted []r2.Point) []float64 {
	if len(observed) != len(predicted) {
		panic(fmt.Errorf("localba: %d observed keypoints but %d predicted", len(observed), len(predicted)))
	}
	errs := make([]float64, len(observed))
	for k := range observed {
		d := observed[k].Sub(predicted[k])
		errs[k] = d.Dot(d)
	}
	return errs
}

// CalcError returns the mean of CalcErrors.
func CalcError(observed, predicted []r2.Point) float64 {
	return stat.Mean(CalcErrors(observed, predicted), nil)
}

// CalcRelativeError returns |a-b|/b. The result is not defined for b == 0.
func CalcRelativeError(a, b float64) float64 {
	return math.Abs(a-b) / b
}
