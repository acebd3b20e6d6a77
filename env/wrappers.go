package env

import "fmt"

// Wrapper names accepted in the env.wrappers config list.
const (
	WrapClipAction    = "clip_action"
	WrapAugmentAction = "augment_action"
	WrapStackPair     = "stack_pair"
)

// Wrap applies the named wrappers around an environment, first name
// innermost. A name this build does not know is an error.
func Wrap(e Env, names []string, stackWindow int) (Env, error) {
	for _, name := range names {
		switch name {
		case WrapClipAction:
			e = ClipAction{e}
		case WrapAugmentAction:
			e = NewAugmentAction(e)
		case WrapStackPair:
			e = NewStackPair(e, stackWindow)
		default:
			return nil, fmt.Errorf("wrapper %q not implemented", name)
		}
	}
	return e, nil
}

// ClipAction clamps actions into the action space before they reach the
// environment.
type ClipAction struct {
	Env
}

func (w ClipAction) Step(action []float64) ([]float64, float64, bool, error) {
	space := w.Env.ActionSpace()
	clipped := make([]float64, len(action))
	for i, a := range action {
		if a < space.Low[i] {
			a = space.Low[i]
		} else if a > space.High[i] {
			a = space.High[i]
		}
		clipped[i] = a
	}
	return w.Env.Step(clipped)
}

// AugmentAction appends the action taken to the observation, so the policy
// sees where the jets currently sit. Resets report a zero action.
type AugmentAction struct {
	Env
	space Box
}

// NewAugmentAction wraps an environment with action-augmented observations.
func NewAugmentAction(e Env) *AugmentAction {
	obs, act := e.ObservationSpace(), e.ActionSpace()
	return &AugmentAction{
		Env: e,
		space: Box{
			Low:  concat(obs.Low, act.Low),
			High: concat(obs.High, act.High),
		},
	}
}

func (w *AugmentAction) ObservationSpace() Box { return w.space }

func (w *AugmentAction) Reset() ([]float64, error) {
	obs, err := w.Env.Reset()
	if err != nil {
		return nil, err
	}
	return concat(obs, make([]float64, w.Env.ActionSpace().Dim())), nil
}

func (w *AugmentAction) Step(action []float64) ([]float64, float64, bool, error) {
	obs, reward, done, err := w.Env.Step(action)
	if err != nil {
		return nil, 0, false, err
	}
	return concat(obs, action), reward, done, nil
}

// StackPair pairs each observation with a lagged one: the oldest still
// inside a sliding window of the last window observations. The policy then
// sees how the wake looked a while ago next to how it looks now, which
// stands in for velocity information the probes alone cannot give. A reset
// pairs the first observation with itself.
type StackPair struct {
	Env
	window int
	queue  [][]float64
	space  Box
}

// NewStackPair wraps an environment with lagged-pair observations.
func NewStackPair(e Env, window int) *StackPair {
	obs := e.ObservationSpace()
	return &StackPair{
		Env:    e,
		window: window,
		space: Box{
			Low:  concat(obs.Low, obs.Low),
			High: concat(obs.High, obs.High),
		},
	}
}

func (w *StackPair) ObservationSpace() Box { return w.space }

func (w *StackPair) Reset() ([]float64, error) {
	obs, err := w.Env.Reset()
	if err != nil {
		return nil, err
	}
	w.queue = w.queue[:0]
	w.queue = append(w.queue, obs)
	return concat(obs, obs), nil
}

func (w *StackPair) Step(action []float64) ([]float64, float64, bool, error) {
	obs, reward, done, err := w.Env.Step(action)
	if err != nil {
		return nil, 0, false, err
	}
	if len(w.queue) == w.window {
		copy(w.queue, w.queue[1:])
		w.queue = w.queue[:w.window-1]
	}
	w.queue = append(w.queue, obs)
	return concat(w.queue[0], obs), reward, done, nil
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
