package ppo

import "gonum.org/v1/gonum/mat"

// Interpolator ramps each policy action across the solver substeps of one
// macro step, so the jets never jump. It remembers the last action actually
// sent to the solver across macro steps; a terminated episode clears that
// memory and the next macro step ramps up from zero again.
type Interpolator struct {
	Substeps int
	Relative bool

	envs, actDim int
	prev         *mat.Dense // nil right after construction or a mid-ramp termination
}

// NewInterpolator builds an interpolator for a batch of envs.
func NewInterpolator(substeps int, relative bool, envs, actDim int) *Interpolator {
	return &Interpolator{Substeps: substeps, Relative: relative, envs: envs, actDim: actDim}
}

// At returns the action to send on substep k of the current macro action.
//
// Standard mode closes the remaining gap in equal parts, which works out to
// a linear ramp from the previous action that lands exactly on the target at
// the final substep. Relative mode treats the action as a rate and adds a
// fixed increment per substep, so the macro action integrates on top of
// wherever the previous step left the jets.
func (ip *Interpolator) At(action *mat.Dense, k int) *mat.Dense {
	if ip.prev == nil {
		ip.prev = mat.NewDense(ip.envs, ip.actDim, nil)
	}
	out := mat.NewDense(ip.envs, ip.actDim, nil)
	for i := 0; i < ip.envs; i++ {
		pr, ar, or := ip.prev.RawRowView(i), action.RawRowView(i), out.RawRowView(i)
		if ip.Relative {
			f := 1.0 / float64(ip.Substeps)
			for d := range or {
				or[d] = pr[d] + f*ar[d]
			}
		} else {
			f := 1.0 / float64(ip.Substeps-k)
			for d := range or {
				or[d] = pr[d] + f*(ar[d]-pr[d])
			}
		}
	}
	return out
}

// Commit records the action that was actually sent.
func (ip *Interpolator) Commit(sent *mat.Dense) {
	if ip.prev == nil {
		ip.prev = mat.NewDense(ip.envs, ip.actDim, nil)
	}
	ip.prev.Copy(sent)
}

// Clear forgets the previous action. Call on episode termination; the next
// ramp then starts from zero.
func (ip *Interpolator) Clear() {
	ip.prev = nil
}
