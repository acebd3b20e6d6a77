// Package env defines the environment interface the trainer drives, the
// wrapper stack applied to each instance, and the vectorized batch runner
// that steps instances concurrently.
package env

// Box is a bounded continuous space.
type Box struct {
	Low  []float64
	High []float64
}

// UniformBox builds a space with the same bounds in every dimension.
func UniformBox(low, high float64, dim int) Box {
	b := Box{Low: make([]float64, dim), High: make([]float64, dim)}
	for i := 0; i < dim; i++ {
		b.Low[i] = low
		b.High[i] = high
	}
	return b
}

// Dim returns the dimensionality of the space.
func (b Box) Dim() int { return len(b.Low) }

// Env is a single simulation instance. Step advances one solver step, which
// is finer than a policy step; the trainer interpolates actions across them.
type Env interface {
	Reset() ([]float64, error)
	Step(action []float64) (obs []float64, reward float64, done bool, err error)
	ObservationSpace() Box
	ActionSpace() Box
	Close() error
}
