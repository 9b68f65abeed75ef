package localba

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalEquations holds the blocks of JᵀJ·δ = Jᵀr for one linearization.
// U is block diagonal over viewpoints, V over points, and W couples a
// viewpoint to a point through a single observation.
type normalEquations struct {
	vis   *Visibility
	U     []*mat.SymDense // 6x6 per viewpoint
	V     []*mat.SymDense // 3x3 per point
	W     []*mat.Dense    // 6x3 per observation
	ea    []*mat.VecDense // Aᵀr per viewpoint
	eb    []*mat.VecDense // Bᵀr per point
	fixed []bool
}

// newNormalEquations accumulates the blocks of every observation. Each block
// sum is owned by one goroutine and added in observation order, so the result
// does not depend on scheduling.
func newNormalEquations(vis *Visibility, A, B []*mat.Dense, residuals []r2.Point, nViewpoints, nPoints, workers int, fixed []bool) *normalEquations {
	ne := &normalEquations{
		vis:   vis,
		U:     make([]*mat.SymDense, nViewpoints),
		V:     make([]*mat.SymDense, nPoints),
		W:     make([]*mat.Dense, vis.Len()),
		ea:    make([]*mat.VecDense, nViewpoints),
		eb:    make([]*mat.VecDense, nPoints),
		fixed: fixed,
	}
	r := make([]*mat.VecDense, vis.Len())
	parallelFor(vis.Len(), workers, func(lo, hi int) {
		for o := lo; o < hi; o++ {
			w := mat.NewDense(PoseDim, PointDim, nil)
			w.Mul(A[o].T(), B[o])
			ne.W[o] = w
			r[o] = mat.NewVecDense(2, []float64{residuals[o].X, residuals[o].Y})
		}
	})
	parallelFor(nViewpoints, workers, func(lo, hi int) {
		var tmp mat.VecDense
		for j := lo; j < hi; j++ {
			U := mat.NewSymDense(PoseDim, nil)
			ea := mat.NewVecDense(PoseDim, nil)
			for _, o := range vis.ViewpointObservations(j) {
				U.SymRankK(U, 1, A[o].T())
				tmp.MulVec(A[o].T(), r[o])
				ea.AddVec(ea, &tmp)
			}
			ne.U[j], ne.ea[j] = U, ea
		}
	})
	parallelFor(nPoints, workers, func(lo, hi int) {
		var tmp mat.VecDense
		for i := lo; i < hi; i++ {
			V := mat.NewSymDense(PointDim, nil)
			eb := mat.NewVecDense(PointDim, nil)
			for _, o := range vis.PointObservations(i) {
				V.SymRankK(V, 1, B[o].T())
				tmp.MulVec(B[o].T(), r[o])
				eb.AddVec(eb, &tmp)
			}
			ne.V[i], ne.eb[i] = V, eb
		}
	})
	return ne
}

// damped returns a copy of S with λ added to its diagonal.
func damped(S *mat.SymDense, λ float64) *mat.SymDense {
	n := S.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(S)
	for k := 0; k < n; k++ {
		out.SetSym(k, k, out.At(k, k)+λ)
	}
	return out
}

// solve eliminates the point blocks and returns the pose and point updates
// of the system damped by λ. The error wraps ErrSingularBlock if a damped
// point block or the reduced camera system is not positive definite.
func (ne *normalEquations) solve(λ float64) (δa, δb []*mat.VecDense, err error) {
	nViewpoints, nPoints := len(ne.U), len(ne.V)

	Vinv := make([]*mat.SymDense, nPoints)
	for i := range ne.V {
		var chol mat.Cholesky
		if ok := chol.Factorize(damped(ne.V[i], λ)); !ok {
			return nil, nil, errors.Wrapf(ErrSingularBlock, "point %d with damping %g", i, λ)
		}
		Vinv[i] = mat.NewSymDense(PointDim, nil)
		if err := chol.InverseTo(Vinv[i]); err != nil {
			return nil, nil, errors.Wrapf(ErrSingularBlock, "point %d: %v", i, err)
		}
	}

	// Y = W·V⁻¹ for every observation.
	Y := make([]*mat.Dense, len(ne.W))
	for o, W := range ne.W {
		Y[o] = mat.NewDense(PoseDim, PointDim, nil)
		Y[o].Mul(W, Vinv[ne.vis.PointIndex(o)])
	}

	n := PoseDim * nViewpoints
	S := mat.NewDense(n, n, nil)
	g := mat.NewVecDense(n, nil)
	block := func(j, k int) *mat.Dense {
		return S.Slice(PoseDim*j, PoseDim*(j+1), PoseDim*k, PoseDim*(k+1)).(*mat.Dense)
	}
	segment := func(v *mat.VecDense, j int) *mat.VecDense {
		return v.SliceVec(PoseDim*j, PoseDim*(j+1)).(*mat.VecDense)
	}

	for j := range ne.U {
		block(j, j).Copy(damped(ne.U[j], λ))
		segment(g, j).CopyVec(ne.ea[j])
	}
	var YWt mat.Dense
	var Yeb mat.VecDense
	for i := 0; i < nPoints; i++ {
		obs := ne.vis.PointObservations(i)
		for _, o1 := range obs {
			j1 := ne.vis.ViewpointIndex(o1)
			for _, o2 := range obs {
				j2 := ne.vis.ViewpointIndex(o2)
				YWt.Mul(Y[o1], ne.W[o2].T())
				b := block(j1, j2)
				b.Sub(b, &YWt)
			}
			Yeb.MulVec(Y[o1], ne.eb[i])
			gj := segment(g, j1)
			gj.SubVec(gj, &Yeb)
		}
	}

	for j, fixed := range ne.fixed {
		if !fixed || j >= nViewpoints {
			continue
		}
		for k := 0; k < nViewpoints; k++ {
			block(j, k).Zero()
			block(k, j).Zero()
		}
		block(j, j).Copy(Identity(PoseDim))
		segment(g, j).Zero()
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(n, S.RawMatrix().Data)); !ok {
		return nil, nil, errors.Wrapf(ErrSingularBlock, "reduced camera system with damping %g", λ)
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, g); err != nil {
		return nil, nil, errors.Wrapf(ErrSingularBlock, "reduced camera system: %v", err)
	}
	if !isFinite(x.RawVector().Data) {
		return nil, nil, errors.Wrapf(ErrSingularBlock, "reduced camera system with damping %g has no finite solution", λ)
	}

	δa = make([]*mat.VecDense, nViewpoints)
	for j := range δa {
		δa[j] = mat.VecDenseCopyOf(x.SliceVec(PoseDim*j, PoseDim*(j+1)))
	}

	// Back substitution: δb = V⁻¹·(eb - Σ Wᵀ·δa).
	δb = make([]*mat.VecDense, nPoints)
	var Wtδa mat.VecDense
	for i := 0; i < nPoints; i++ {
		rhs := mat.VecDenseCopyOf(ne.eb[i])
		for _, o := range ne.vis.PointObservations(i) {
			Wtδa.MulVec(ne.W[o].T(), δa[ne.vis.ViewpointIndex(o)])
			rhs.SubVec(rhs, &Wtδa)
		}
		δb[i] = mat.NewVecDense(PointDim, nil)
		δb[i].MulVec(Vinv[i], rhs)
	}
	return δa, δb, nil
}
