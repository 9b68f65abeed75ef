package localba

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is returned when pinhole intrinsics are missing or invalid.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not valid")

// Camera projects a point expressed in the camera frame onto the image.
// Derivative returns the 2x3 Jacobian of Project at x.
type Camera interface {
	Project(x r3.Vector) r2.Point
	Derivative(x r3.Vector) *mat.Dense
}

// Normalized is the intrinsic-free perspective projection (x/z, y/z).
type Normalized struct{}

// Project implements the Camera interface.
func (Normalized) Project(x r3.Vector) r2.Point {
	return r2.Point{X: x.X / x.Z, Y: x.Y / x.Z}
}

// Derivative implements the Camera interface.
func (Normalized) Derivative(x r3.Vector) *mat.Dense {
	iz := 1 / x.Z
	iz2 := iz * iz
	return mat.NewDense(2, 3, []float64{
		iz, 0, -x.X * iz2,
		0, iz, -x.Y * iz2,
	})
}

// Pinhole is a perspective camera with focal lengths and principal point in pixels.
type Pinhole struct {
	Fx  float64 `json:"fx"`
	Fy  float64 `json:"fy"`
	Ppx float64 `json:"ppx"`
	Ppy float64 `json:"ppy"`
}

// CheckValid checks that the focal lengths are positive.
func (c *Pinhole) CheckValid() error {
	if c == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics do not exist")
	}
	if c.Fx <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fx = %#v", c.Fx)
	}
	if c.Fy <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fy = %#v", c.Fy)
	}
	return nil
}

// Project implements the Camera interface.
func (c Pinhole) Project(x r3.Vector) r2.Point {
	return r2.Point{X: c.Fx*x.X/x.Z + c.Ppx, Y: c.Fy*x.Y/x.Z + c.Ppy}
}

// Derivative implements the Camera interface.
func (c Pinhole) Derivative(x r3.Vector) *mat.Dense {
	D := Normalized{}.Derivative(x)
	row := D.RawRowView(0)
	for j := range row {
		row[j] *= c.Fx
	}
	row = D.RawRowView(1)
	for j := range row {
		row[j] *= c.Fy
	}
	return D
}
