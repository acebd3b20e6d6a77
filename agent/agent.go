// Package agent implements the actor-critic used by the flow controller: a
// tanh trunk with a linear mean head, a separate value network, and a
// squashed Gaussian action distribution with either a fixed per-dimension
// std or generalized state-dependent exploration. Gradients are computed by
// hand against the evaluation caches, so every Eval* call has a matching
// Backward* that accumulates into the parameter set.
package agent

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Options configures a new Agent.
type Options struct {
	ObsDim int
	ActDim int
	Latent int // trunk output width, also the noise dimension for gSDE
	SDE    bool
	Bounds Bounds
}

// Agent holds the policy and value networks plus the exploration parameters
// for the active mode.
type Agent struct {
	ObsDim int
	ActDim int
	Latent int
	SDE    bool

	Trunk  *MLP // obs -> latent, tanh throughout
	Mean   *MLP // latent -> act, linear
	Critic *MLP // obs -> 1

	RawStd *Param // fixed mode: one unconstrained std per action dim
	LogStd *Param // gSDE mode: latent x act log std factors

	Bounds Bounds
}

// New builds an agent with orthogonal layer init: sqrt(2) gain on hidden
// layers, 0.1 on the mean head so initial actions stay near the middle of
// the interval, 1.0 on the value head. Exploration params start at zero,
// which the std transform maps to 0.25.
func New(rng *rand.Rand, opt Options) *Agent {
	a := &Agent{
		ObsDim: opt.ObsDim,
		ActDim: opt.ActDim,
		Latent: opt.Latent,
		SDE:    opt.SDE,
		Bounds: opt.Bounds,
	}
	root2 := math.Sqrt(2)
	a.Trunk = NewMLP(rng, "trunk", []int{opt.ObsDim, 64, opt.Latent}, []float64{root2, root2}, true)
	a.Mean = NewMLP(rng, "mean", []int{opt.Latent, opt.ActDim}, []float64{0.1}, false)
	a.Critic = NewMLP(rng, "critic", []int{opt.ObsDim, 64, opt.Latent, 1}, []float64{root2, root2, 1.0}, false)
	if opt.SDE {
		a.LogStd = newParam("logstd", opt.Latent, opt.ActDim)
	} else {
		a.RawStd = newParam("rawstd", 1, opt.ActDim)
	}
	return a
}

// Params returns every learnable tensor in a stable order.
func (a *Agent) Params() []*Param {
	ps := append(a.Trunk.Params(), a.Mean.Params()...)
	ps = append(ps, a.Critic.Params()...)
	if a.SDE {
		ps = append(ps, a.LogStd)
	} else {
		ps = append(ps, a.RawStd)
	}
	return ps
}

// sdeStd returns the latent-to-action std factors under gSDE.
func (a *Agent) sdeStd() *mat.Dense {
	s := mat.NewDense(a.Latent, a.ActDim, nil)
	for i := 0; i < a.Latent; i++ {
		row := s.RawRowView(i)
		lrow := a.LogStd.Data[i*a.ActDim : (i+1)*a.ActDim]
		for j := range row {
			row[j] = stdTransform(math.Exp(lrow[j]))
		}
	}
	return s
}

// sigmaFor returns the per-sample std for a batch with the given policy
// latent. Under gSDE it also returns the std factor matrix the variance was
// built from; the latent enters as a constant there, features do not learn
// through the variance.
func (a *Agent) sigmaFor(latent *mat.Dense) (sigma, sdeS *mat.Dense) {
	b, _ := latent.Dims()
	sigma = mat.NewDense(b, a.ActDim, nil)
	if !a.SDE {
		std := make([]float64, a.ActDim)
		for d := range std {
			std[d] = stdTransform(a.RawStd.Data[d])
		}
		for i := 0; i < b; i++ {
			copy(sigma.RawRowView(i), std)
		}
		return sigma, nil
	}

	s := a.sdeStd()
	for i := 0; i < b; i++ {
		lrow := latent.RawRowView(i)
		out := sigma.RawRowView(i)
		for d := 0; d < a.ActDim; d++ {
			v := 0.0
			for j := 0; j < a.Latent; j++ {
				sj := s.At(j, d)
				v += lrow[j] * lrow[j] * sj * sj
			}
			out[d] = math.Sqrt(v + epsilon)
		}
	}
	return sigma, s
}

// logProbs sums the per-dimension Gaussian log density of the pre-squash
// samples minus the tanh Jacobian correction.
func logProbs(mu, sigma, u *mat.Dense) []float64 {
	b, adim := mu.Dims()
	out := make([]float64, b)
	for i := 0; i < b; i++ {
		mr, sr, ur := mu.RawRowView(i), sigma.RawRowView(i), u.RawRowView(i)
		lp := 0.0
		for d := 0; d < adim; d++ {
			n := distuv.Normal{Mu: mr[d], Sigma: sr[d]}
			lp += n.LogProb(ur[d]) - logDetTanh(ur[d])
		}
		out[i] = lp
	}
	return out
}

// PolicyEval is one gradient-enabled evaluation of the policy on a batch of
// stored transitions.
type PolicyEval struct {
	Mu      *mat.Dense
	Sigma   *mat.Dense
	U       *mat.Dense // pre-squash samples recovered from the actions
	LogProb []float64
	Entropy []float64 // nil under gSDE, which has no closed form here

	latent     *mat.Dense
	sdeS       *mat.Dense
	trunkCache *Cache
	meanCache  *Cache
}

// EvalPolicy recomputes the action distribution for stored env-space actions
// and keeps the caches BackwardPolicy needs.
func (a *Agent) EvalPolicy(obs, actions *mat.Dense) *PolicyEval {
	latent, tc := a.Trunk.Forward(obs)
	mu, mc := a.Mean.Forward(latent)
	sigma, sdeS := a.sigmaFor(latent)

	b, _ := obs.Dims()
	u := mat.NewDense(b, a.ActDim, nil)
	for i := 0; i < b; i++ {
		a.Bounds.Unsquash(actions.RawRowView(i), u.RawRowView(i))
	}

	pe := &PolicyEval{
		Mu:         mu,
		Sigma:      sigma,
		U:          u,
		LogProb:    logProbs(mu, sigma, u),
		latent:     latent,
		sdeS:       sdeS,
		trunkCache: tc,
		meanCache:  mc,
	}
	if !a.SDE {
		pe.Entropy = make([]float64, b)
		for i := 0; i < b; i++ {
			sr := sigma.RawRowView(i)
			h := 0.0
			for d := range sr {
				h += distuv.Normal{Mu: 0, Sigma: sr[d]}.Entropy()
			}
			pe.Entropy[i] = h
		}
	}
	return pe
}

// BackwardPolicy accumulates parameter gradients for an evaluation given the
// loss gradient with respect to each sample's log prob and entropy, plus an
// optional extra gradient on the mean (the smoothness penalty attaches
// there). dEntropy must be nil whenever Entropy is.
func (a *Agent) BackwardPolicy(pe *PolicyEval, dLogProb, dEntropy []float64, dMuExtra *mat.Dense) {
	b, adim := pe.Mu.Dims()
	dMu := mat.NewDense(b, adim, nil)
	dSigma := mat.NewDense(b, adim, nil)
	for i := 0; i < b; i++ {
		mr, sr, ur := pe.Mu.RawRowView(i), pe.Sigma.RawRowView(i), pe.U.RawRowView(i)
		dmr, dsr := dMu.RawRowView(i), dSigma.RawRowView(i)
		dl := dLogProb[i]
		for d := 0; d < adim; d++ {
			diff := ur[d] - mr[d]
			s := sr[d]
			dmr[d] = dl * diff / (s * s)
			dsr[d] = dl * (diff*diff/(s*s*s) - 1/s)
		}
		if dEntropy != nil {
			for d := 0; d < adim; d++ {
				dsr[d] += dEntropy[i] / sr[d]
			}
		}
	}
	if dMuExtra != nil {
		dMu.Add(dMu, dMuExtra)
	}

	dLatent := a.Mean.Backward(pe.meanCache, dMu)
	a.Trunk.Backward(pe.trunkCache, dLatent)

	if !a.SDE {
		for d := 0; d < adim; d++ {
			sum := 0.0
			for i := 0; i < b; i++ {
				sum += dSigma.At(i, d)
			}
			a.RawStd.Grad[d] += sum * stdTransformDeriv(a.RawStd.Data[d])
		}
		return
	}

	// d sigma / d s_jd = latent_bj^2 * s_jd / sigma_bd, then through the
	// exp and std transform of the log std parameter.
	for j := 0; j < a.Latent; j++ {
		for d := 0; d < adim; d++ {
			sum := 0.0
			for i := 0; i < b; i++ {
				lj := pe.latent.At(i, j)
				sum += dSigma.At(i, d) * lj * lj * pe.sdeS.At(j, d) / pe.Sigma.At(i, d)
			}
			ls := a.LogStd.Data[j*adim+d]
			e := math.Exp(ls)
			a.LogStd.Grad[j*adim+d] += sum * stdTransformDeriv(e) * e
		}
	}
}

// ValueEval is one gradient-enabled evaluation of the value network.
type ValueEval struct {
	V     []float64
	cache *Cache
}

// EvalValue runs the value network on a batch.
func (a *Agent) EvalValue(obs *mat.Dense) *ValueEval {
	out, c := a.Critic.Forward(obs)
	b, _ := obs.Dims()
	ve := &ValueEval{V: make([]float64, b), cache: c}
	for i := 0; i < b; i++ {
		ve.V[i] = out.At(i, 0)
	}
	return ve
}

// BackwardValue accumulates value network gradients.
func (a *Agent) BackwardValue(ve *ValueEval, dV []float64) {
	d := mat.NewDense(len(dV), 1, nil)
	for i, v := range dV {
		d.Set(i, 0, v)
	}
	a.Critic.Backward(ve.cache, d)
}

// MeanEval is a mean-only forward pass, used for the policy mean at the
// following observation when the smoothness penalty is on.
type MeanEval struct {
	Mu         *mat.Dense
	trunkCache *Cache
	meanCache  *Cache
}

// EvalMean runs trunk and mean head only.
func (a *Agent) EvalMean(obs *mat.Dense) *MeanEval {
	latent, tc := a.Trunk.Forward(obs)
	mu, mc := a.Mean.Forward(latent)
	return &MeanEval{Mu: mu, trunkCache: tc, meanCache: mc}
}

// BackwardMean accumulates gradients for a mean-only pass.
func (a *Agent) BackwardMean(me *MeanEval, dMu *mat.Dense) {
	dLatent := a.Mean.Backward(me.meanCache, dMu)
	a.Trunk.Backward(me.trunkCache, dLatent)
}

// StepResult carries one sampled batch step.
type StepResult struct {
	Action  *mat.Dense // env-space actions
	Mu      *mat.Dense
	LogProb []float64
	Value   []float64
}

// Step samples bounded actions for a batch of observations. Fixed mode
// draws independent Gaussian noise per dimension; gSDE projects the policy
// latent through the noise state. The log prob is computed from the squashed
// action by inverting the scaling, exactly as the update will recompute it.
func (a *Agent) Step(obs *mat.Dense, noise *NoiseState, rng *rand.Rand) StepResult {
	latent, _ := a.Trunk.Forward(obs)
	mu, _ := a.Mean.Forward(latent)
	sigma, _ := a.sigmaFor(latent)
	b, _ := obs.Dims()

	u := mat.NewDense(b, a.ActDim, nil)
	if a.SDE {
		for i := 0; i < b; i++ {
			noise.noiseFor(latent, i, b, u.RawRowView(i))
			ur, mr := u.RawRowView(i), mu.RawRowView(i)
			for d := range ur {
				ur[d] += mr[d]
			}
		}
	} else {
		for i := 0; i < b; i++ {
			ur, mr, sr := u.RawRowView(i), mu.RawRowView(i), sigma.RawRowView(i)
			for d := range ur {
				ur[d] = mr[d] + sr[d]*rng.NormFloat64()
			}
		}
	}

	action := mat.NewDense(b, a.ActDim, nil)
	for i := 0; i < b; i++ {
		a.Bounds.Squash(u.RawRowView(i), action.RawRowView(i))
	}

	// Recover the pre-squash sample from the action so rollout and update
	// agree on the density even where the clip bites.
	uu := mat.NewDense(b, a.ActDim, nil)
	for i := 0; i < b; i++ {
		a.Bounds.Unsquash(action.RawRowView(i), uu.RawRowView(i))
	}

	vout, _ := a.Critic.Forward(obs)
	value := make([]float64, b)
	for i := 0; i < b; i++ {
		value[i] = vout.At(i, 0)
	}

	return StepResult{
		Action:  action,
		Mu:      mu,
		LogProb: logProbs(mu, sigma, uu),
		Value:   value,
	}
}

// Values runs the value network without keeping gradient state.
func (a *Agent) Values(obs *mat.Dense) []float64 {
	out, _ := a.Critic.Forward(obs)
	b, _ := obs.Dims()
	v := make([]float64, b)
	for i := 0; i < b; i++ {
		v[i] = out.At(i, 0)
	}
	return v
}
