package ppo

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/wake/agent"
)

// UpdateConfig holds the optimization settings for one PPO update.
type UpdateConfig struct {
	Epochs      int
	Minibatches int
	ClipCoef    float64
	ClipVLoss   bool
	EntCoef     float64
	VFCoef      float64
	NormAdv     bool
	MaxGradNorm float64
	TargetKL    float64 // stop epochs when approx KL exceeds this (0 = disabled)
	CAPSWeight  float64 // weight on the mean smoothness penalty (0 = off)
}

// UpdateMetrics reports what one update did. Loss values are from the final
// minibatch processed; the clip fraction averages over all of them.
type UpdateMetrics struct {
	PolicyLoss   float64
	ValueLoss    float64
	EntropyLoss  float64
	CAPSLoss     float64
	OldApproxKL  float64
	ApproxKL     float64
	ClipFrac     float64
	ExplainedVar float64
	GradNorm     float64
	EpochsRun    int
}

// Update runs the clipped surrogate optimization over one rollout. adv and
// ret come from Advantages; nextObs pairs each sample with the observation
// that followed it and is only touched when the smoothness penalty is on.
func Update(a *agent.Agent, opt *Adam, b *Buffer, adv, ret []float64, cfg UpdateConfig, rng *rand.Rand) UpdateMetrics {
	batch := b.Steps * b.Envs
	mbSize := batch / cfg.Minibatches
	obs := b.FlatObs()
	actions := b.FlatActions()
	var nextObs *mat.Dense
	if cfg.CAPSWeight > 0 {
		nextObs = b.FlatNextObs()
	}

	inds := make([]int, batch)
	for i := range inds {
		inds[i] = i
	}

	var m UpdateMetrics
	clipFracSum, clipFracN := 0.0, 0
	params := a.Params()

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		m.EpochsRun = epoch + 1
		rng.Shuffle(batch, func(i, j int) { inds[i], inds[j] = inds[j], inds[i] })

		for start := 0; start < batch; start += mbSize {
			mb := inds[start : start+mbSize]
			mbObs := gatherRows(obs, mb)
			mbActions := gatherRows(actions, mb)

			pe := a.EvalPolicy(mbObs, mbActions)
			ve := a.EvalValue(mbObs)
			var me *agent.MeanEval
			if cfg.CAPSWeight > 0 {
				me = a.EvalMean(gatherRows(nextObs, mb))
			}

			n := float64(len(mb))
			ratio := make([]float64, len(mb))
			oldKL, kl, clipped := 0.0, 0.0, 0
			for i, k := range mb {
				logratio := pe.LogProb[i] - b.LogProbs[k]
				ratio[i] = math.Exp(logratio)
				oldKL += -logratio
				kl += (ratio[i] - 1) - logratio
				if math.Abs(ratio[i]-1) > cfg.ClipCoef {
					clipped++
				}
			}
			m.OldApproxKL = oldKL / n
			m.ApproxKL = kl / n
			clipFracSum += float64(clipped) / n
			clipFracN++

			mbAdv := make([]float64, len(mb))
			for i, k := range mb {
				mbAdv[i] = adv[k]
			}
			if cfg.NormAdv {
				mean, std := stat.MeanStdDev(mbAdv, nil)
				for i := range mbAdv {
					mbAdv[i] = (mbAdv[i] - mean) / (std + 1e-8)
				}
			}

			// Policy loss. The gradient seed is nonzero only where the
			// unclipped branch is the larger one.
			dLogp := make([]float64, len(mb))
			pgLoss := 0.0
			for i := range mb {
				pg1 := -mbAdv[i] * ratio[i]
				cr := ratio[i]
				if cr < 1-cfg.ClipCoef {
					cr = 1 - cfg.ClipCoef
				} else if cr > 1+cfg.ClipCoef {
					cr = 1 + cfg.ClipCoef
				}
				pg2 := -mbAdv[i] * cr
				if pg1 >= pg2 {
					pgLoss += pg1
					dLogp[i] = -mbAdv[i] * ratio[i] / n
				} else {
					pgLoss += pg2
				}
			}
			m.PolicyLoss = pgLoss / n

			// Value loss, optionally clipped against the rollout values.
			dV := make([]float64, len(mb))
			vLoss := 0.0
			for i, k := range mb {
				diff := ve.V[i] - ret[k]
				if cfg.ClipVLoss {
					dv := ve.V[i] - b.Values[k]
					clippedDV := dv
					if clippedDV < -cfg.ClipCoef {
						clippedDV = -cfg.ClipCoef
					} else if clippedDV > cfg.ClipCoef {
						clippedDV = cfg.ClipCoef
					}
					clDiff := b.Values[k] + clippedDV - ret[k]
					if diff*diff >= clDiff*clDiff {
						vLoss += diff * diff
						dV[i] = cfg.VFCoef * diff / n
					} else {
						// The clipped prediction is constant in v here, so
						// no gradient flows.
						vLoss += clDiff * clDiff
					}
				} else {
					vLoss += diff * diff
					dV[i] = cfg.VFCoef * diff / n
				}
			}
			m.ValueLoss = 0.5 * vLoss / n

			// Entropy bonus. gSDE has no closed form, so fall back to the
			// sampled negative log prob.
			var dEnt []float64
			if pe.Entropy != nil {
				sum := 0.0
				for _, h := range pe.Entropy {
					sum += h
				}
				m.EntropyLoss = -sum / n
				dEnt = make([]float64, len(mb))
				for i := range dEnt {
					dEnt[i] = -cfg.EntCoef / n
				}
			} else {
				sum := 0.0
				for _, lp := range pe.LogProb {
					sum += lp
				}
				m.EntropyLoss = sum / n
				for i := range dLogp {
					dLogp[i] += cfg.EntCoef / n
				}
			}

			// Smoothness penalty on the policy mean across consecutive
			// observations.
			var dMuExtra, dMuNext *mat.Dense
			if cfg.CAPSWeight > 0 {
				rows, cols := pe.Mu.Dims()
				dMuExtra = mat.NewDense(rows, cols, nil)
				dMuNext = mat.NewDense(rows, cols, nil)
				elems := float64(rows * cols)
				caps := 0.0
				for i := 0; i < rows; i++ {
					for d := 0; d < cols; d++ {
						diff := pe.Mu.At(i, d) - me.Mu.At(i, d)
						caps += diff * diff
						g := cfg.CAPSWeight * diff / elems
						dMuExtra.Set(i, d, g)
						dMuNext.Set(i, d, -g)
					}
				}
				m.CAPSLoss = 0.5 * caps / elems
			}

			agent.ZeroGrads(params)
			a.BackwardPolicy(pe, dLogp, dEnt, dMuExtra)
			a.BackwardValue(ve, dV)
			if me != nil {
				a.BackwardMean(me, dMuNext)
			}
			m.GradNorm = ClipGradNorm(params, cfg.MaxGradNorm)
			opt.Step(params)
		}

		if cfg.TargetKL > 0 && m.ApproxKL > cfg.TargetKL {
			break
		}
	}

	if clipFracN > 0 {
		m.ClipFrac = clipFracSum / float64(clipFracN)
	}
	m.ExplainedVar = explainedVariance(b.Values, ret)
	return m
}

// gatherRows copies the given rows of src into a fresh matrix.
func gatherRows(src *mat.Dense, inds []int) *mat.Dense {
	_, cols := src.Dims()
	out := mat.NewDense(len(inds), cols, nil)
	for i, k := range inds {
		copy(out.RawRowView(i), src.RawRowView(k))
	}
	return out
}

// explainedVariance is 1 - Var(ret-val)/Var(ret), NaN when the targets have
// no variance. Both variances are population variances.
func explainedVariance(values, returns []float64) float64 {
	varY := popVariance(returns)
	if varY == 0 {
		return math.NaN()
	}
	resid := make([]float64, len(returns))
	for i := range resid {
		resid[i] = returns[i] - values[i]
	}
	return 1 - popVariance(resid)/varY
}

func popVariance(x []float64) float64 {
	mean := stat.Mean(x, nil)
	sum := 0.0
	for _, v := range x {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(x))
}
