// Package ppo implements the on-policy trainer: a time-major rollout buffer,
// generalized advantage estimation, the clipped surrogate update with
// optional smoothness penalty, and the substep action interpolation that
// bridges policy steps to solver steps.
package ppo

import "gonum.org/v1/gonum/mat"

// Buffer stores one rollout in time-major order: index [step][env]. The
// backing arrays are contiguous, so flattening for the update is a view, not
// a copy, and minibatch index t*envs+i walks steps outer, envs inner.
type Buffer struct {
	Steps  int
	Envs   int
	ObsDim int
	ActDim int

	Obs      []float64 // steps*envs*obsDim
	Actions  []float64 // steps*envs*actDim
	LogProbs []float64 // steps*envs
	Rewards  []float64
	Dones    []float64
	Values   []float64
}

// NewBuffer allocates a rollout buffer.
func NewBuffer(steps, envs, obsDim, actDim int) *Buffer {
	n := steps * envs
	return &Buffer{
		Steps:    steps,
		Envs:     envs,
		ObsDim:   obsDim,
		ActDim:   actDim,
		Obs:      make([]float64, n*obsDim),
		Actions:  make([]float64, n*actDim),
		LogProbs: make([]float64, n),
		Rewards:  make([]float64, n),
		Dones:    make([]float64, n),
		Values:   make([]float64, n),
	}
}

// ObsAt returns the envs x obsDim block for one step, sharing the buffer's
// backing array.
func (b *Buffer) ObsAt(step int) *mat.Dense {
	off := step * b.Envs * b.ObsDim
	return mat.NewDense(b.Envs, b.ObsDim, b.Obs[off:off+b.Envs*b.ObsDim])
}

// ActionsAt returns the envs x actDim block for one step, sharing the
// buffer's backing array.
func (b *Buffer) ActionsAt(step int) *mat.Dense {
	off := step * b.Envs * b.ActDim
	return mat.NewDense(b.Envs, b.ActDim, b.Actions[off:off+b.Envs*b.ActDim])
}

// SetStep records everything the policy produced for one step.
func (b *Buffer) SetStep(step int, obs, actions *mat.Dense, logProbs, values, dones []float64) {
	b.ObsAt(step).Copy(obs)
	b.ActionsAt(step).Copy(actions)
	off := step * b.Envs
	copy(b.LogProbs[off:off+b.Envs], logProbs)
	copy(b.Values[off:off+b.Envs], values)
	copy(b.Dones[off:off+b.Envs], dones)
}

// SetRewards records the rewards observed after one step.
func (b *Buffer) SetRewards(step int, rewards []float64) {
	off := step * b.Envs
	copy(b.Rewards[off:off+b.Envs], rewards)
}

// FlatObs returns the whole rollout as a (steps*envs) x obsDim batch,
// sharing the buffer's backing array.
func (b *Buffer) FlatObs() *mat.Dense {
	return mat.NewDense(b.Steps*b.Envs, b.ObsDim, b.Obs)
}

// FlatActions returns the whole rollout as a (steps*envs) x actDim batch,
// sharing the buffer's backing array.
func (b *Buffer) FlatActions() *mat.Dense {
	return mat.NewDense(b.Steps*b.Envs, b.ActDim, b.Actions)
}

// FlatNextObs returns the observation each stored one was followed by,
// shifting steps down by one and repeating the last. The smoothness penalty
// compares policy means across this pairing.
func (b *Buffer) FlatNextObs() *mat.Dense {
	n := b.Steps * b.Envs
	next := mat.NewDense(n, b.ObsDim, nil)
	rowLen := b.Envs * b.ObsDim
	for t := 0; t < b.Steps; t++ {
		src := t + 1
		if src == b.Steps {
			src = b.Steps - 1
		}
		dst := next.Slice(t*b.Envs, (t+1)*b.Envs, 0, b.ObsDim).(*mat.Dense)
		dst.Copy(mat.NewDense(b.Envs, b.ObsDim, b.Obs[src*rowLen:(src+1)*rowLen]))
	}
	return next
}
