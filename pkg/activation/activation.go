// Package activation provides the transfer functions nodes apply to their net value.
// Every type implements graph.Activation.
package activation

import (
	"math"

	"github.com/sanonone/graphnet/pkg/graph"
)

// Linear is the identity.
type Linear struct{}

func (Linear) Activate(x float64) float64   { return x }
func (Linear) Derivative(x float64) float64 { return 1 }

// Sigmoid is the logistic function.
type Sigmoid struct{}

func (Sigmoid) Activate(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (s Sigmoid) Derivative(x float64) float64 {
	y := s.Activate(x)
	return y * (1 - y)
}

// Tanh is the hyperbolic tangent.
type Tanh struct{}

func (Tanh) Activate(x float64) float64 { return math.Tanh(x) }

func (Tanh) Derivative(x float64) float64 {
	y := math.Tanh(x)
	return 1 - y*y
}

// ReLU clamps negative values to zero. The derivative at 0 is taken as 0.
type ReLU struct{}

func (ReLU) Activate(x float64) float64 { return math.Max(0, x) }

func (ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// LeakyReLU keeps a small slope Alpha for negative values.
type LeakyReLU struct {
	Alpha float64
}

func (l LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

func (l LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// ByName returns the activation registered under name: "linear", "sigmoid",
// "tanh", "relu" or "leaky_relu" (alpha 0.01).
func ByName(name string) (graph.Activation, bool) {
	switch name {
	case "linear", "":
		return Linear{}, true
	case "sigmoid":
		return Sigmoid{}, true
	case "tanh":
		return Tanh{}, true
	case "relu":
		return ReLU{}, true
	case "leaky_relu":
		return LeakyReLU{Alpha: 0.01}, true
	default:
		return nil, false
	}
}
