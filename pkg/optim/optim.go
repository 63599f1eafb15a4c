// Package optim provides step rules that turn a linearized gradient into a
// linearized parameter delta.
//
// Optimizers are stateful and keyed to one layout. When the layout's size or
// version changes (the network topology changed and the linearizer was
// rebuilt) their state is discarded, since moments and curvature estimates
// refer to slots that no longer mean the same parameter.
package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrLength is returned when a gradient does not match the layout size.
var ErrLength = errors.New("gradient length does not match layout")

// Layout is the part of a linearization an optimizer needs.
type Layout interface {
	Size() int
	Version() uint64
}

// Optimizer maps a gradient to the delta to add to the parameters.
type Optimizer interface {
	Step(grad []float64, layout Layout) ([]float64, error)
	Reset()
}

func checkLength(grad []float64, layout Layout) error {
	if len(grad) != layout.Size() {
		return fmt.Errorf("%w: got %d, want %d", ErrLength, len(grad), layout.Size())
	}
	for _, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("non-finite gradient component %v", g)
		}
	}
	return nil
}

// GradientDescent is plain steepest descent.
type GradientDescent struct {
	LearningRate float64
}

// NewGradientDescent returns a descent rule with the given learning rate.
func NewGradientDescent(lr float64) *GradientDescent {
	return &GradientDescent{LearningRate: lr}
}

func (gd *GradientDescent) Step(grad []float64, layout Layout) ([]float64, error) {
	if err := checkLength(grad, layout); err != nil {
		return nil, err
	}
	delta := make([]float64, len(grad))
	floats.ScaleTo(delta, -gd.LearningRate, grad)
	return delta, nil
}

func (gd *GradientDescent) Reset() {}

// Adam keeps bias-corrected first and second moment estimates per slot.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m, v    []float64
	t       int
	version uint64
}

// NewAdam returns Adam with beta1 0.9, beta2 0.999 and epsilon 1e-8.
func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

func (a *Adam) Step(grad []float64, layout Layout) ([]float64, error) {
	if err := checkLength(grad, layout); err != nil {
		return nil, err
	}
	if len(a.m) != len(grad) || a.version != layout.Version() {
		a.Reset()
		a.m = make([]float64, len(grad))
		a.v = make([]float64, len(grad))
		a.version = layout.Version()
	}
	a.t++
	b1Corr := 1 - math.Pow(a.Beta1, float64(a.t))
	b2Corr := 1 - math.Pow(a.Beta2, float64(a.t))

	delta := make([]float64, len(grad))
	for j, g := range grad {
		a.m[j] = a.Beta1*a.m[j] + (1-a.Beta1)*g
		a.v[j] = a.Beta2*a.v[j] + (1-a.Beta2)*g*g
		mhat := a.m[j] / b1Corr
		vhat := a.v[j] / b2Corr
		delta[j] = -a.LearningRate * mhat / (math.Sqrt(vhat) + a.Epsilon)
	}
	return delta, nil
}

func (a *Adam) Reset() {
	a.m, a.v, a.t = nil, nil, 0
}
