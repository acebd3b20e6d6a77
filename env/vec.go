package env

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// vecRequest asks a worker for a reset or a step.
type vecRequest struct {
	reset  bool
	action []float64
}

// vecResult carries one worker's answer back in env order.
type vecResult struct {
	obs    []float64
	reward float64
	done   float64
	err    error
}

// Vec steps a batch of environments in lockstep, one persistent goroutine
// per environment so solver-bound instances run concurrently. An environment
// that reports done is reset immediately and its new first observation
// replaces the terminal one, with the done flag still set.
type Vec struct {
	envs []Env
	reqs []chan vecRequest
	res  []chan vecResult
	wg   sync.WaitGroup

	obsDim int
	actDim int
	closed bool
}

// NewVec wires the environments into a batch and starts their workers. All
// instances must share the same observation and action spaces.
func NewVec(envs []Env) (*Vec, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("no environments")
	}
	obsDim := envs[0].ObservationSpace().Dim()
	actDim := envs[0].ActionSpace().Dim()
	for i, e := range envs {
		if e.ObservationSpace().Dim() != obsDim || e.ActionSpace().Dim() != actDim {
			return nil, fmt.Errorf("env %d: space mismatch", i)
		}
	}

	v := &Vec{
		envs:   envs,
		reqs:   make([]chan vecRequest, len(envs)),
		res:    make([]chan vecResult, len(envs)),
		obsDim: obsDim,
		actDim: actDim,
	}
	for i := range envs {
		v.reqs[i] = make(chan vecRequest, 1)
		v.res[i] = make(chan vecResult, 1)
		v.wg.Add(1)
		go v.worker(i)
	}
	return v, nil
}

// worker serves one environment until its request channel closes.
func (v *Vec) worker(i int) {
	defer v.wg.Done()
	e := v.envs[i]

	for req := range v.reqs[i] {
		if req.reset {
			obs, err := e.Reset()
			v.res[i] <- vecResult{obs: obs, err: err}
			continue
		}

		obs, reward, done, err := e.Step(req.action)
		if done && err == nil {
			obs, err = e.Reset()
		}
		r := vecResult{obs: obs, reward: reward, err: err}
		if done {
			r.done = 1
		}
		v.res[i] <- r
	}
}

// NumEnvs returns the batch size.
func (v *Vec) NumEnvs() int { return len(v.envs) }

// ObservationSpace returns the per-env observation space.
func (v *Vec) ObservationSpace() Box { return v.envs[0].ObservationSpace() }

// ActionSpace returns the per-env action space.
func (v *Vec) ActionSpace() Box { return v.envs[0].ActionSpace() }

// Reset restarts every environment and returns the stacked observations.
func (v *Vec) Reset() (*mat.Dense, error) {
	for i := range v.reqs {
		v.reqs[i] <- vecRequest{reset: true}
	}
	obs := mat.NewDense(len(v.envs), v.obsDim, nil)
	for i := range v.res {
		r := <-v.res[i]
		if r.err != nil {
			return nil, fmt.Errorf("env %d: %w", i, r.err)
		}
		copy(obs.RawRowView(i), r.obs)
	}
	return obs, nil
}

// Step sends one action row to each environment and gathers the results.
func (v *Vec) Step(actions *mat.Dense) (*mat.Dense, []float64, []float64, error) {
	for i := range v.reqs {
		action := make([]float64, v.actDim)
		copy(action, actions.RawRowView(i))
		v.reqs[i] <- vecRequest{action: action}
	}

	obs := mat.NewDense(len(v.envs), v.obsDim, nil)
	rewards := make([]float64, len(v.envs))
	dones := make([]float64, len(v.envs))
	for i := range v.res {
		r := <-v.res[i]
		if r.err != nil {
			return nil, nil, nil, fmt.Errorf("env %d: %w", i, r.err)
		}
		copy(obs.RawRowView(i), r.obs)
		rewards[i] = r.reward
		dones[i] = r.done
	}
	return obs, rewards, dones, nil
}

// Close stops the workers and closes every environment, returning the first
// error encountered.
func (v *Vec) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true

	for i := range v.reqs {
		close(v.reqs[i])
	}
	v.wg.Wait()

	var firstErr error
	for i, e := range v.envs {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("env %d: %w", i, err)
		}
	}
	return firstErr
}
