package ppo

import (
	"math"
	"testing"
)

func fillSingleEnv(b *Buffer, rewards, values, dones []float64) {
	copy(b.Rewards, rewards)
	copy(b.Values, values)
	copy(b.Dones, dones)
}

func TestAdvantagesGAE(t *testing.T) {
	b := NewBuffer(3, 1, 1, 1)
	fillSingleEnv(b, []float64{1, 2, 3}, []float64{0.5, 1.0, 1.5}, []float64{0, 0, 0})

	adv, ret := b.Advantages(0.9, 0.8, true, []float64{2.0}, []float64{0})

	// Worked backwards by hand:
	//   delta2 = 3 + 0.9*2.0 - 1.5           = 3.3
	//   delta1 = 2 + 0.9*1.5 - 1.0           = 2.35
	//   delta0 = 1 + 0.9*1.0 - 0.5           = 1.4
	//   adv2 = 3.3
	//   adv1 = 2.35 + 0.72*3.3               = 4.726
	//   adv0 = 1.4  + 0.72*4.726             = 4.80272
	wantAdv := []float64{4.80272, 4.726, 3.3}
	for k := range wantAdv {
		if math.Abs(adv[k]-wantAdv[k]) > 1e-12 {
			t.Errorf("adv[%d] = %.8f, want %.8f", k, adv[k], wantAdv[k])
		}
		if math.Abs(ret[k]-(wantAdv[k]+b.Values[k])) > 1e-12 {
			t.Errorf("ret[%d] = %.8f, want adv+value", k, ret[k])
		}
	}
}

func TestAdvantagesGAETerminalCutsBootstrap(t *testing.T) {
	b := NewBuffer(3, 1, 1, 1)
	// Dones[t] flags that the observation at t started a fresh episode, so a
	// one at t=2 severs the t=1 -> t=2 bootstrap.
	fillSingleEnv(b, []float64{1, 1, 1}, []float64{0, 0, 0}, []float64{0, 0, 1})

	adv, _ := b.Advantages(1.0, 1.0, true, []float64{10}, []float64{0})

	want := []float64{2, 1, 11}
	for k := range want {
		if math.Abs(adv[k]-want[k]) > 1e-12 {
			t.Errorf("adv[%d] = %f, want %f", k, adv[k], want[k])
		}
	}
}

func TestAdvantagesDiscountedReturns(t *testing.T) {
	b := NewBuffer(3, 1, 1, 1)
	fillSingleEnv(b, []float64{1, 2, 3}, []float64{0.5, 1.0, 1.5}, []float64{0, 0, 0})

	adv, ret := b.Advantages(0.9, 0.95, false, []float64{2.0}, []float64{0})

	//   ret2 = 3 + 0.9*2.0  = 4.8
	//   ret1 = 2 + 0.9*4.8  = 6.32
	//   ret0 = 1 + 0.9*6.32 = 6.688
	wantRet := []float64{6.688, 6.32, 4.8}
	for k := range wantRet {
		if math.Abs(ret[k]-wantRet[k]) > 1e-12 {
			t.Errorf("ret[%d] = %.8f, want %.8f", k, ret[k], wantRet[k])
		}
		if math.Abs(adv[k]-(wantRet[k]-b.Values[k])) > 1e-12 {
			t.Errorf("adv[%d] = %.8f, want ret-value", k, adv[k])
		}
	}
}

func TestAdvantagesLambdaOneMatchesReturns(t *testing.T) {
	b := NewBuffer(4, 1, 1, 1)
	fillSingleEnv(b, []float64{1, -2, 3, 0.5}, []float64{0.3, -0.1, 0.7, 0.2}, []float64{0, 0, 1, 0})

	// With lambda=1 the trace telescopes into plain discounted returns,
	// terminal cuts included. The returns branch ignores lambda entirely.
	advG, retG := b.Advantages(0.9, 1.0, true, []float64{2.0}, []float64{0})
	advR, retR := b.Advantages(0.9, 0.5, false, []float64{2.0}, []float64{0})

	for k := range retG {
		if math.Abs(retG[k]-retR[k]) > 1e-12 {
			t.Errorf("ret[%d]: gae %g, returns %g", k, retG[k], retR[k])
		}
		if math.Abs(advG[k]-advR[k]) > 1e-12 {
			t.Errorf("adv[%d]: gae %g, returns %g", k, advG[k], advR[k])
		}
	}
}

func TestAdvantagesNextDoneCutsTail(t *testing.T) {
	b := NewBuffer(1, 1, 1, 1)
	fillSingleEnv(b, []float64{5}, []float64{2}, []float64{0})

	adv, ret := b.Advantages(0.99, 0.95, true, []float64{100}, []float64{1})

	// The rollout ended exactly on a terminal, so the bootstrap value is
	// ignored entirely.
	if math.Abs(adv[0]-3) > 1e-12 {
		t.Errorf("adv = %f, want 3", adv[0])
	}
	if math.Abs(ret[0]-5) > 1e-12 {
		t.Errorf("ret = %f, want 5", ret[0])
	}
}

func TestAdvantagesEnvsIndependent(t *testing.T) {
	b := NewBuffer(2, 2, 1, 1)
	// Env 0 earns nothing, env 1 earns 1 per step. Layout is [t][env].
	copy(b.Rewards, []float64{0, 1, 0, 1})
	copy(b.Values, []float64{0, 0, 0, 0})

	adv, _ := b.Advantages(1.0, 1.0, true, []float64{0, 0}, []float64{0, 0})

	want := []float64{0, 2, 0, 1}
	for k := range want {
		if math.Abs(adv[k]-want[k]) > 1e-12 {
			t.Errorf("adv[%d] = %f, want %f", k, adv[k], want[k])
		}
	}
}
