// Package wake implements a reduced-order model of the cylinder wake so the
// trainer can run without an external solver. The dominant vortex-shedding
// mode is a Van der Pol oscillator forced by the jet; probe pressures are
// projections of the oscillator state with correlated inflow noise on top.
package wake

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/pthm-cable/wake/config"
	"github.com/pthm-cable/wake/env"
)

// Wake is a single surrogate environment instance. One Step advances the
// oscillator by one solver substep.
type Wake struct {
	cfg config.WakeConfig
	rng *rand.Rand

	noise opensimplex.Noise
	theta []float64 // probe angles around the cylinder

	q     float64 // shedding mode amplitude
	qdot  float64
	jet   float64 // last applied mass flow rate
	steps int     // substeps into the current episode
	time  float64 // run time, never reset so the inflow noise does not repeat
}

// New builds a surrogate wake from the model parameters. The seed fixes both
// the reset phase sequence and the inflow turbulence field.
func New(cfg config.WakeConfig, seed int64) *Wake {
	theta := make([]float64, cfg.Probes)
	for i := range theta {
		theta[i] = 2 * math.Pi * float64(i) / float64(cfg.Probes)
	}
	return &Wake{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		noise: opensimplex.New(seed),
		theta: theta,
	}
}

// Reset places the oscillator on the natural limit cycle at a random phase,
// the state the flow relaxes to when the jet is off.
func (w *Wake) Reset() ([]float64, error) {
	phase := 2 * math.Pi * w.rng.Float64()
	w.q = limitCycleAmp * math.Cos(phase)
	w.qdot = -limitCycleAmp * w.cfg.Omega * math.Sin(phase)
	w.jet = 0
	w.steps = 0
	return w.observe(), nil
}

// limitCycleAmp is the Van der Pol limit cycle amplitude in mode units.
const limitCycleAmp = 2.0

// Step applies one jet command for one substep of length dt. Reward is the
// negative drag proxy, so it peaks at zero when the shedding mode is dead and
// the jet is off.
func (w *Wake) Step(action []float64) ([]float64, float64, bool, error) {
	w.jet = action[0]
	u := w.jet / w.cfg.JetMax

	// Semi-implicit Euler keeps the limit cycle stable at large dt.
	accel := w.cfg.Mu*(1-w.q*w.q)*w.qdot - w.cfg.Omega*w.cfg.Omega*w.q + w.cfg.Coupling*u
	w.qdot += w.cfg.Dt * accel
	w.q += w.cfg.Dt * w.qdot
	w.time += w.cfg.Dt

	energy := w.q*w.q + (w.qdot/w.cfg.Omega)*(w.qdot/w.cfg.Omega)
	reward := -(w.cfg.DragGain*energy + w.cfg.JetPenalty*u*u)

	w.steps++
	done := w.steps >= w.cfg.EpisodeSteps
	return w.observe(), reward, done, nil
}

// observe projects the oscillator state onto the probe ring. Each probe sees
// the mode through its own gain and phase, plus smooth inflow turbulence that
// decorrelates between probes.
func (w *Wake) observe() []float64 {
	obs := make([]float64, len(w.theta))
	for i, th := range w.theta {
		p := w.q*math.Cos(th) + (w.qdot/w.cfg.Omega)*math.Sin(th)
		if w.cfg.TurbAmp > 0 {
			p += w.cfg.TurbAmp * w.noise.Eval2(w.time*w.cfg.TurbFreq, float64(i)*probeNoiseSpacing)
		}
		obs[i] = p
	}
	return obs
}

// probeNoiseSpacing pushes probes far enough apart in noise space that their
// turbulence samples are only weakly correlated.
const probeNoiseSpacing = 7.3

// Spaces reports the observation and action boxes for a wake model with the
// given parameters. External solvers speak the same contract, so the process
// backend builds its boxes from here too.
func Spaces(cfg config.WakeConfig) (obs, act env.Box) {
	return env.UniformBox(-probeBound, probeBound, cfg.Probes),
		env.UniformBox(-cfg.JetMax, cfg.JetMax, 1)
}

func (w *Wake) ObservationSpace() env.Box {
	obs, _ := Spaces(w.cfg)
	return obs
}

func (w *Wake) ActionSpace() env.Box {
	_, act := Spaces(w.cfg)
	return act
}

// probeBound caps the nominal probe range. The limit cycle stays within a
// few mode units, so this is generous.
const probeBound = 10.0

func (w *Wake) Close() error { return nil }

// Energy reports the current fluctuation energy of the shedding mode, the
// quantity a working controller drives toward zero.
func (w *Wake) Energy() float64 {
	return w.q*w.q + (w.qdot/w.cfg.Omega)*(w.qdot/w.cfg.Omega)
}
