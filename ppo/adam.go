package ppo

import (
	"math"

	"github.com/pthm-cable/wake/agent"
)

// Adam is the usual first and second moment optimizer with bias correction.
// The epsilon is added outside the square root.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdam sets up optimizer state for the given parameter set.
func NewAdam(params []*agent.Param, lr float64) *Adam {
	o := &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-5}
	for _, p := range params {
		o.m = append(o.m, make([]float64, len(p.Data)))
		o.v = append(o.v, make([]float64, len(p.Data)))
	}
	return o
}

// Step applies one update from the accumulated gradients. The params must be
// the same slice NewAdam saw, in the same order.
func (o *Adam) Step(params []*agent.Param) {
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for pi, p := range params {
		m, v := o.m[pi], o.v[pi]
		for k, g := range p.Grad {
			m[k] = o.Beta1*m[k] + (1-o.Beta1)*g
			v[k] = o.Beta2*v[k] + (1-o.Beta2)*g*g
			mhat := m[k] / c1
			vhat := v[k] / c2
			p.Data[k] -= o.LR * mhat / (math.Sqrt(vhat) + o.Eps)
		}
	}
}

// ClipGradNorm rescales all gradients so their joint L2 norm does not exceed
// maxNorm. It returns the norm before clipping.
func ClipGradNorm(params []*agent.Param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			for k := range p.Grad {
				p.Grad[k] *= scale
			}
		}
	}
	return norm
}
