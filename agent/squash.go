package agent

import "math"

// epsilon keeps squashing and std transforms away from singular points.
const epsilon = 1e-6

var logEpsilon = math.Log(epsilon)

// Bounds maps the squashed (-1,1) policy output onto the environment action
// interval. For relative increments the interval is compressed by a fixed
// fraction so a single increment cannot sweep the whole jet range.
type Bounds struct {
	Low   []float64
	High  []float64
	Scale []float64 // (high-low)/2
	Bias  []float64 // (high+low)/2
}

// NewBounds derives the affine map from the action interval. fraction
// compresses the interval first; pass 1 to use it as is.
func NewBounds(low, high []float64, fraction float64) Bounds {
	n := len(low)
	b := Bounds{
		Low:   make([]float64, n),
		High:  make([]float64, n),
		Scale: make([]float64, n),
		Bias:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		b.Low[i] = low[i] * fraction
		b.High[i] = high[i] * fraction
		b.Scale[i] = (b.High[i] - b.Low[i]) / 2
		b.Bias[i] = (b.High[i] + b.Low[i]) / 2
	}
	return b
}

// Dim returns the action dimension.
func (b Bounds) Dim() int { return len(b.Low) }

// Squash maps a pre-squash sample u onto the action interval.
func (b Bounds) Squash(u, out []float64) {
	for i := range out {
		out[i] = math.Tanh(u[i])*b.Scale[i] + b.Bias[i]
	}
}

// Normalize maps an action back to (-1,1), clipped epsilon inside the open
// interval so the atanh that follows stays finite.
func (b Bounds) Normalize(a, out []float64) {
	clip := 1.0 - epsilon
	for i := range out {
		v := 2*(a[i]-b.Low[i])/(b.High[i]-b.Low[i]) - 1
		if v > clip {
			v = clip
		} else if v < -clip {
			v = -clip
		}
		out[i] = v
	}
}

// Unsquash recovers the pre-squash sample for an action.
func (b Bounds) Unsquash(a, out []float64) {
	b.Normalize(a, out)
	for i := range out {
		out[i] = math.Atanh(out[i])
	}
}

// logDetTanh is log(1 - tanh(u)^2) in the closed form that stays finite for
// large |u|.
func logDetTanh(u float64) float64 {
	return 2 * (math.Ln2 - u - softplus(-2*u))
}

// softplus is log(1 + exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}
