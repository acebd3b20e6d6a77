package ppo

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/wake/agent"
)

func testUpdateAgent(seed int64, sde bool) *agent.Agent {
	rng := rand.New(rand.NewSource(seed))
	return agent.New(rng, agent.Options{
		ObsDim: 3,
		ActDim: 1,
		Latent: 4,
		SDE:    sde,
		Bounds: agent.NewBounds([]float64{-1}, []float64{1}, 1),
	})
}

// fillRollout plays the agent against random observations and rewards so the
// buffer holds a self-consistent rollout.
func fillRollout(a *agent.Agent, steps, envs int, seed int64) (*Buffer, []float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	b := NewBuffer(steps, envs, a.ObsDim, a.ActDim)
	noise := a.SampleNoise(rng, envs)

	for step := 0; step < steps; step++ {
		obs := mat.NewDense(envs, a.ObsDim, nil)
		for i := 0; i < envs; i++ {
			for j := 0; j < a.ObsDim; j++ {
				obs.Set(i, j, rng.NormFloat64())
			}
		}
		res := a.Step(obs, noise, rng)
		b.SetStep(step, obs, res.Action, res.LogProb, res.Value, make([]float64, envs))

		rewards := make([]float64, envs)
		for i := range rewards {
			rewards[i] = rng.NormFloat64()
		}
		b.SetRewards(step, rewards)
	}

	adv, ret := b.Advantages(0.99, 0.95, true, make([]float64, envs), make([]float64, envs))
	return b, adv, ret
}

func baseUpdateConfig() UpdateConfig {
	return UpdateConfig{
		Epochs:      1,
		Minibatches: 1,
		ClipCoef:    0.2,
		ClipVLoss:   true,
		EntCoef:     0.01,
		VFCoef:      0.5,
		NormAdv:     true,
		MaxGradNorm: 0.5,
	}
}

func TestUpdateFreshPolicyMetrics(t *testing.T) {
	a := testUpdateAgent(1, false)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 0) // zero LR freezes the policy

	m := Update(a, opt, b, adv, ret, baseUpdateConfig(), rand.New(rand.NewSource(3)))

	// Recomputing log probs of the unchanged policy gives ratio 1 exactly.
	if math.Abs(m.ApproxKL) > 1e-12 {
		t.Errorf("ApproxKL = %g, want 0", m.ApproxKL)
	}
	if math.Abs(m.OldApproxKL) > 1e-12 {
		t.Errorf("OldApproxKL = %g, want 0", m.OldApproxKL)
	}
	if m.ClipFrac != 0 {
		t.Errorf("ClipFrac = %g, want 0", m.ClipFrac)
	}

	// With ratio 1 the surrogate is minus the mean normalized advantage.
	if math.Abs(m.PolicyLoss) > 1e-9 {
		t.Errorf("PolicyLoss = %g, want ~0", m.PolicyLoss)
	}

	// The critic had no chance to move either, so both value branches agree.
	var want float64
	n := len(ret)
	for k := 0; k < n; k++ {
		d := b.Values[k] - ret[k]
		want += d * d
	}
	want = 0.5 * want / float64(n)
	if math.Abs(m.ValueLoss-want) > 1e-12 {
		t.Errorf("ValueLoss = %g, want %g", m.ValueLoss, want)
	}

	// Fixed mode reports the closed-form Gaussian entropy; the initial std
	// transform puts sigma at 0.25.
	wantEnt := -0.5 * math.Log(2*math.Pi*math.E*0.0625)
	if math.Abs(m.EntropyLoss-wantEnt) > 1e-12 {
		t.Errorf("EntropyLoss = %g, want %g", m.EntropyLoss, wantEnt)
	}

	if m.EpochsRun != 1 {
		t.Errorf("EpochsRun = %d, want 1", m.EpochsRun)
	}
	if m.GradNorm <= 0 || math.IsNaN(m.GradNorm) {
		t.Errorf("GradNorm = %g, want positive", m.GradNorm)
	}
	if m.CAPSLoss != 0 {
		t.Errorf("CAPSLoss = %g, want 0 when the penalty is off", m.CAPSLoss)
	}
}

func TestUpdateMovesParameters(t *testing.T) {
	a := testUpdateAgent(1, false)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 1e-3)

	before := append([]float64(nil), a.Mean.Ws[0].Data...)

	cfg := baseUpdateConfig()
	cfg.Epochs = 2
	cfg.Minibatches = 2
	Update(a, opt, b, adv, ret, cfg, rand.New(rand.NewSource(3)))

	changed := false
	for k, v := range a.Mean.Ws[0].Data {
		if v != before[k] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("mean head weights did not move")
	}
}

func TestUpdateTargetKLStopsEarly(t *testing.T) {
	a := testUpdateAgent(1, false)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 0.05)

	cfg := baseUpdateConfig()
	cfg.Epochs = 5
	cfg.Minibatches = 2
	cfg.TargetKL = 1e-9
	m := Update(a, opt, b, adv, ret, cfg, rand.New(rand.NewSource(3)))

	// The second minibatch of the first epoch already sees a moved policy,
	// so its KL trips the threshold and the epoch loop stops.
	if m.EpochsRun != 1 {
		t.Errorf("EpochsRun = %d, want 1", m.EpochsRun)
	}
	if m.ApproxKL <= cfg.TargetKL {
		t.Errorf("ApproxKL = %g, expected above the threshold", m.ApproxKL)
	}
}

func TestUpdateRunsAllEpochsWithoutTargetKL(t *testing.T) {
	a := testUpdateAgent(1, false)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 0.05)

	cfg := baseUpdateConfig()
	cfg.Epochs = 3
	cfg.Minibatches = 2
	m := Update(a, opt, b, adv, ret, cfg, rand.New(rand.NewSource(3)))

	if m.EpochsRun != 3 {
		t.Errorf("EpochsRun = %d, want 3", m.EpochsRun)
	}
}

func TestUpdateCAPSLossMatchesMeans(t *testing.T) {
	a := testUpdateAgent(1, false)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 0)

	cfg := baseUpdateConfig()
	cfg.CAPSWeight = 10
	m := Update(a, opt, b, adv, ret, cfg, rand.New(rand.NewSource(3)))

	// The penalty compares the policy mean on each observation with the
	// mean on the one that followed it. With a frozen policy that is
	// directly computable.
	pe := a.EvalPolicy(b.FlatObs(), b.FlatActions())
	me := a.EvalMean(b.FlatNextObs())
	rows, cols := pe.Mu.Dims()
	var want float64
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			diff := pe.Mu.At(i, d) - me.Mu.At(i, d)
			want += diff * diff
		}
	}
	want = 0.5 * want / float64(rows*cols)

	if math.Abs(m.CAPSLoss-want) > 1e-12 {
		t.Errorf("CAPSLoss = %g, want %g", m.CAPSLoss, want)
	}
	if m.CAPSLoss <= 0 {
		t.Errorf("CAPSLoss = %g, want positive for a moving mean", m.CAPSLoss)
	}
}

func TestUpdateSDEEntropyProxy(t *testing.T) {
	a := testUpdateAgent(1, true)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 0)

	m := Update(a, opt, b, adv, ret, baseUpdateConfig(), rand.New(rand.NewSource(3)))

	// No closed-form entropy under gSDE; the proxy is the mean sampled log
	// prob, which for a frozen policy is the rollout's own.
	var want float64
	for _, lp := range b.LogProbs {
		want += lp
	}
	want /= float64(len(b.LogProbs))

	if math.Abs(m.EntropyLoss-want) > 1e-12 {
		t.Errorf("EntropyLoss = %g, want %g", m.EntropyLoss, want)
	}
}

func TestUpdateRatioClipBinds(t *testing.T) {
	cases := []struct {
		name     string
		shift    float64 // added to the stored log probs
		adv      float64
		wantLoss float64
	}{
		// Shifting the stored log probs down makes the recomputed ratio
		// e^5, far above the clip, so the surrogate caps at -(1+c).
		{"ratio high", -5, 1, -1.2},
		// Shifting up gives ratio e^-5; with negative advantage the
		// clipped branch pins the loss at 1-c.
		{"ratio low", 5, -1, 0.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := testUpdateAgent(1, false)
			b, _, ret := fillRollout(a, 4, 2, 2)
			opt := NewAdam(a.Params(), 0)

			for k := range b.LogProbs {
				b.LogProbs[k] += tc.shift
			}
			adv := make([]float64, len(ret))
			for k := range adv {
				adv[k] = tc.adv
			}

			cfg := baseUpdateConfig()
			cfg.NormAdv = false
			m := Update(a, opt, b, adv, ret, cfg, rand.New(rand.NewSource(3)))

			if math.Abs(m.PolicyLoss-tc.wantLoss) > 1e-12 {
				t.Errorf("PolicyLoss = %g, want %g", m.PolicyLoss, tc.wantLoss)
			}
			if m.ClipFrac != 1 {
				t.Errorf("ClipFrac = %g, want 1", m.ClipFrac)
			}
		})
	}
}

func TestUpdateValueClipBinds(t *testing.T) {
	a := testUpdateAgent(1, false)
	b, adv, ret := fillRollout(a, 4, 2, 2)
	opt := NewAdam(a.Params(), 0)

	// Pretend the rollout critic was wildly different from the current one.
	// The clipped branch then dominates and its gradient is cut.
	orig := append([]float64(nil), b.Values...)
	for k := range b.Values {
		b.Values[k] += 100
	}

	cfg := baseUpdateConfig()
	m := Update(a, opt, b, adv, ret, cfg, rand.New(rand.NewSource(3)))

	var want float64
	for k := range orig {
		clDiff := orig[k] + 100 - cfg.ClipCoef - ret[k]
		want += clDiff * clDiff
	}
	want = 0.5 * want / float64(len(orig))

	if math.Abs(m.ValueLoss-want) > 1e-9*(1+math.Abs(want)) {
		t.Errorf("ValueLoss = %g, want %g", m.ValueLoss, want)
	}
}

func TestExplainedVariance(t *testing.T) {
	if ev := explainedVariance([]float64{1, 2, 3}, []float64{1, 2, 3}); ev != 1 {
		t.Errorf("perfect prediction gave %g, want 1", ev)
	}
	if ev := explainedVariance([]float64{0, 0, 0}, []float64{2, 2, 2}); !math.IsNaN(ev) {
		t.Errorf("constant targets gave %g, want NaN", ev)
	}
	if ev := explainedVariance([]float64{3, 2, 1}, []float64{1, 2, 3}); ev >= 1 {
		t.Errorf("anti-correlated prediction gave %g, want < 1", ev)
	}
}

func BenchmarkUpdate(b *testing.B) {
	a := testUpdateAgent(1, false)
	buf, adv, ret := fillRollout(a, 16, 4, 2)
	opt := NewAdam(a.Params(), 1e-4)
	cfg := baseUpdateConfig()
	cfg.Epochs = 2
	cfg.Minibatches = 4
	rng := rand.New(rand.NewSource(3))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Update(a, opt, buf, adv, ret, cfg, rng)
	}
}
