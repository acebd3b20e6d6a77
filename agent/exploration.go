package agent

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// stdTransform maps an unconstrained value onto a bounded positive standard
// deviation. The input is clamped for numerical stability, then passed
// through a rescaled softplus so the std stays in (0, ~3.5) with value 0.25
// at zero input.
func stdTransform(x float64) float64 {
	if x < logEpsilon {
		x = logEpsilon
	} else if x > -logEpsilon {
		x = -logEpsilon
	}
	return 0.25 * (softplus(x) + 0.2) / (math.Ln2 + 0.2)
}

// stdTransformDeriv is the derivative of stdTransform, zero where the clamp
// is active.
func stdTransformDeriv(x float64) float64 {
	if x <= logEpsilon || x >= -logEpsilon {
		return 0
	}
	return 0.25 / (math.Ln2 + 0.2) / (1 + math.Exp(-x))
}

// NoiseState holds exploration noise for state-dependent exploration: one
// latent-to-action matrix per env plus a shared fallback used whenever the
// batch size does not match. The state is explicit so the trainer decides
// when it refreshes; a stale state keeps producing valid, merely repeated,
// exploration directions.
type NoiseState struct {
	Mat  *mat.Dense
	Mats []*mat.Dense
}

// SampleNoise draws a fresh noise state for n parallel envs from the current
// exploration std. It returns nil under fixed exploration, which has no
// noise state.
func (a *Agent) SampleNoise(rng *rand.Rand, n int) *NoiseState {
	if !a.SDE {
		return nil
	}
	std := a.sdeStd()
	ns := &NoiseState{
		Mat:  sampleNoiseMat(rng, std),
		Mats: make([]*mat.Dense, n),
	}
	for i := range ns.Mats {
		ns.Mats[i] = sampleNoiseMat(rng, std)
	}
	return ns
}

func sampleNoiseMat(rng *rand.Rand, std *mat.Dense) *mat.Dense {
	r, c := std.Dims()
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		srow := std.RawRowView(i)
		for j := range row {
			row[j] = rng.NormFloat64() * srow[j]
		}
	}
	return m
}

// noiseFor returns the noise row for sample i of a batch of b latents.
func (ns *NoiseState) noiseFor(latent *mat.Dense, i, b int, out []float64) {
	w := ns.Mat
	if b > 1 && b == len(ns.Mats) {
		w = ns.Mats[i]
	}
	row := mat.NewVecDense(len(out), out)
	row.MulVec(w.T(), latent.RowView(i))
}
