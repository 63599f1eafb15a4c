package optim

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Newton takes quasi-Newton steps: the Hessian is estimated from successive
// gradients with the BFGS secant update and the damped system
// (B + Damping*I) d = -g is solved through an SVD pseudo-inverse, dropping
// singular values below MinSingular times the largest. The first step after a
// reset is a gradient-descent step of size LearningRate.
//
// The curvature estimate is a dense n x n matrix, so this rule is meant for
// small parameter vectors.
type Newton struct {
	LearningRate float64
	Damping      float64
	MinSingular  float64

	hessian  *mat.SymDense
	prevGrad []float64
	prevStep []float64
	version  uint64
}

// NewNewton returns a Newton rule with damping 1e-3 and singular cutoff 1e-10.
func NewNewton(lr float64) *Newton {
	return &Newton{LearningRate: lr, Damping: 1e-3, MinSingular: 1e-10}
}

func (nw *Newton) Step(grad []float64, layout Layout) ([]float64, error) {
	if err := checkLength(grad, layout); err != nil {
		return nil, err
	}
	n := len(grad)
	if n == 0 {
		return nil, nil
	}
	if nw.hessian == nil || nw.hessian.SymmetricDim() != n || nw.version != layout.Version() {
		nw.Reset()
		nw.hessian = identity(n)
		nw.version = layout.Version()
	}

	var delta []float64
	if nw.prevGrad == nil {
		delta = make([]float64, n)
		floats.ScaleTo(delta, -nw.LearningRate, grad)
	} else {
		nw.secantUpdate(grad)
		var err error
		delta, err = nw.solve(grad)
		if err != nil {
			return nil, err
		}
	}

	nw.prevGrad = append(nw.prevGrad[:0], grad...)
	nw.prevStep = append(nw.prevStep[:0], delta...)
	return delta, nil
}

// secantUpdate applies B += y y'/(y's) - (Bs)(Bs)'/(s'Bs), skipped when the
// curvature condition y's > 0 does not hold.
func (nw *Newton) secantUpdate(grad []float64) {
	n := len(grad)
	y := make([]float64, n)
	floats.SubTo(y, grad, nw.prevGrad)
	s := mat.NewVecDense(n, append([]float64(nil), nw.prevStep...))
	yv := mat.NewVecDense(n, y)

	ys := mat.Dot(yv, s)
	if ys <= 1e-12 {
		return
	}
	bs := mat.NewVecDense(n, nil)
	bs.MulVec(nw.hessian, s)
	sbs := mat.Dot(s, bs)
	if sbs <= 1e-12 {
		return
	}
	nw.hessian.SymRankOne(nw.hessian, 1/ys, yv)
	nw.hessian.SymRankOne(nw.hessian, -1/sbs, bs)
}

// solve returns LearningRate * -pinv(B + Damping*I) g.
func (nw *Newton) solve(grad []float64) ([]float64, error) {
	n := len(grad)
	a := mat.NewSymDense(n, nil)
	a.CopySym(nw.hessian)
	for i := 0; i < n; i++ {
		a.SetSym(i, i, a.At(i, i)+nw.Damping)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("newton: SVD factorization failed")
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	g := mat.NewVecDense(n, grad)
	coeff := mat.NewVecDense(len(values), nil)
	coeff.MulVec(u.T(), g)
	cutoff := nw.MinSingular * values[0]
	for i, sv := range values {
		if sv <= cutoff || sv == 0 {
			coeff.SetVec(i, 0)
			continue
		}
		coeff.SetVec(i, coeff.AtVec(i)/sv)
	}
	d := mat.NewVecDense(n, nil)
	d.MulVec(&v, coeff)

	delta := make([]float64, n)
	for i := range delta {
		delta[i] = -nw.LearningRate * d.AtVec(i)
	}
	return delta, nil
}

func (nw *Newton) Reset() {
	nw.hessian = nil
	nw.prevGrad = nil
	nw.prevStep = nil
}

func identity(n int) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}
