package env

import (
	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/wake/telemetry"
)

// Recorder watches the raw step stream of a Vec and reports completed
// episodes to a collector: cumulative return, length in solver steps, and
// the step count at completion.
type Recorder struct {
	*Vec
	collector *telemetry.Collector

	returns []float64
	lengths []int
	steps   int // raw vec steps taken
}

// NewRecorder wraps a Vec with episode accounting.
func NewRecorder(v *Vec, c *telemetry.Collector) *Recorder {
	return &Recorder{
		Vec:       v,
		collector: c,
		returns:   make([]float64, v.NumEnvs()),
		lengths:   make([]int, v.NumEnvs()),
	}
}

// Reset restarts the environments and zeroes the episode accumulators.
func (r *Recorder) Reset() (*mat.Dense, error) {
	obs, err := r.Vec.Reset()
	if err != nil {
		return nil, err
	}
	for i := range r.returns {
		r.returns[i] = 0
		r.lengths[i] = 0
	}
	return obs, nil
}

// Step forwards to the Vec and accounts the rewards. A done env has its
// episode recorded and its accumulators cleared for the episode already
// running behind the auto-reset.
func (r *Recorder) Step(actions *mat.Dense) (*mat.Dense, []float64, []float64, error) {
	obs, rewards, dones, err := r.Vec.Step(actions)
	if err != nil {
		return nil, nil, nil, err
	}
	r.steps++

	for i := range rewards {
		r.returns[i] += rewards[i]
		r.lengths[i]++
		if dones[i] != 0 {
			if r.collector != nil {
				r.collector.RecordEpisode(i, r.steps, r.returns[i], r.lengths[i])
			}
			r.returns[i] = 0
			r.lengths[i] = 0
		}
	}
	return obs, rewards, dones, nil
}
