package localba

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Angles below smallAngle use Taylor expansions of the Rodrigues coefficients.
const smallAngle = 1e-6

// Within nearPi of π the rotation axis is read from the symmetric part of R.
const nearPi = 1e-2

// Exp maps a rotation vector ω (axis times angle) to its rotation matrix
// using the Rodrigues formula.
func Exp(ω r3.Vector) *mat.Dense {
	θ := ω.Norm()
	var a, b float64
	if θ < smallAngle {
		a = 1 - θ*θ/6
		b = 0.5 - θ*θ/24
	} else {
		a = math.Sin(θ) / θ
		b = (1 - math.Cos(θ)) / (θ * θ)
	}
	return rodrigues(ω, a, b)
}

// LeftJacobian returns the left Jacobian of SO(3) at ω, which satisfies
// Exp(ω+δ) ≈ Exp(J·δ)·Exp(ω) for a small δ.
func LeftJacobian(ω r3.Vector) *mat.Dense {
	θ := ω.Norm()
	var a, b float64
	if θ < smallAngle {
		a = 0.5 - θ*θ/24
		b = 1.0/6 - θ*θ/120
	} else {
		θ2 := θ * θ
		a = (1 - math.Cos(θ)) / θ2
		b = (θ - math.Sin(θ)) / (θ2 * θ)
	}
	return rodrigues(ω, a, b)
}

// rodrigues returns I + a·[ω]× + b·[ω]×².
func rodrigues(ω r3.Vector, a, b float64) *mat.Dense {
	K := Skew(ω)
	var K2 mat.Dense
	K2.Mul(K, K)
	R := mat.DenseCopyOf(Identity(3))
	K.Scale(a, K)
	K2.Scale(b, &K2)
	R.Add(R, K)
	R.Add(R, &K2)
	return R
}

// Log is the inverse of Exp. The returned rotation vector has a norm in [0, π].
func Log(R mat.Matrix) r3.Vector {
	tr := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	cosθ := math.Max(-1, math.Min(1, (tr-1)/2))
	θ := math.Acos(cosθ)
	// vee(R - Rᵀ) == 2·sin(θ)·axis
	v := r3.Vector{
		X: R.At(2, 1) - R.At(1, 2),
		Y: R.At(0, 2) - R.At(2, 0),
		Z: R.At(1, 0) - R.At(0, 1),
	}
	switch {
	case θ < smallAngle:
		return v.Mul(0.5)
	case math.Pi-θ < nearPi:
		// Symmetric part is cosθ·I + (1-cosθ)·aaᵀ.
		k := 0
		for i := 1; i < 3; i++ {
			if R.At(i, i) > R.At(k, k) {
				k = i
			}
		}
		s := 1 - cosθ
		col := [3]float64{}
		for i := 0; i < 3; i++ {
			col[i] = (R.At(i, k) + R.At(k, i)) / (2 * s)
		}
		col[k] = (R.At(k, k) - cosθ) / s
		axis := r3.Vector{X: col[0], Y: col[1], Z: col[2]}.Normalize()
		if axis.Dot(v) < 0 {
			axis = axis.Mul(-1)
		}
		return axis.Mul(θ)
	default:
		return v.Mul(θ / (2 * math.Sin(θ)))
	}
}
