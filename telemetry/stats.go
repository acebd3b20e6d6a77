// Package telemetry provides metrics collection and structured output for
// training runs.
package telemetry

import (
	"log/slog"
	"sort"
)

// UpdateStats holds aggregated statistics for one training update.
type UpdateStats struct {
	Update       int     `csv:"update"`
	GlobalStep   int     `csv:"global_step"`
	LearningRate float64 `csv:"learning_rate"`

	// Losses from the final minibatch of the update
	PolicyLoss  float64 `csv:"policy_loss"`
	ValueLoss   float64 `csv:"value_loss"`
	EntropyLoss float64 `csv:"entropy_loss"`
	CAPSLoss    float64 `csv:"caps_loss"`

	// Update health
	OldApproxKL  float64 `csv:"old_approx_kl"`
	ApproxKL     float64 `csv:"approx_kl"`
	ClipFrac     float64 `csv:"clipfrac"`
	ExplainedVar float64 `csv:"explained_variance"`
	GradNorm     float64 `csv:"grad_norm"`
	EpochsRun    int     `csv:"epochs_run"`

	// Episode returns over the recent window
	EpisodeCount int     `csv:"episodes"`
	ReturnMean   float64 `csv:"return_mean"`
	ReturnP10    float64 `csv:"return_p10"`
	ReturnP50    float64 `csv:"return_p50"`
	ReturnP90    float64 `csv:"return_p90"`
	StepsPerSec  int     `csv:"sps"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s UpdateStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("update", s.Update),
		slog.Int("global_step", s.GlobalStep),
		slog.Float64("learning_rate", s.LearningRate),
		slog.Float64("policy_loss", s.PolicyLoss),
		slog.Float64("value_loss", s.ValueLoss),
		slog.Float64("entropy_loss", s.EntropyLoss),
		slog.Float64("caps_loss", s.CAPSLoss),
		slog.Float64("old_approx_kl", s.OldApproxKL),
		slog.Float64("approx_kl", s.ApproxKL),
		slog.Float64("clipfrac", s.ClipFrac),
		slog.Float64("explained_variance", s.ExplainedVar),
		slog.Float64("grad_norm", s.GradNorm),
		slog.Int("epochs_run", s.EpochsRun),
		slog.Int("episodes", s.EpisodeCount),
		slog.Float64("return_mean", s.ReturnMean),
		slog.Float64("return_p10", s.ReturnP10),
		slog.Float64("return_p50", s.ReturnP50),
		slog.Float64("return_p90", s.ReturnP90),
		slog.Int("sps", s.StepsPerSec),
	)
}

// LogStats logs the update stats using slog.
func (s UpdateStats) LogStats() {
	slog.Info("update",
		"update", s.Update,
		"global_step", s.GlobalStep,
		"learning_rate", s.LearningRate,
		"policy_loss", s.PolicyLoss,
		"value_loss", s.ValueLoss,
		"entropy_loss", s.EntropyLoss,
		"caps_loss", s.CAPSLoss,
		"old_approx_kl", s.OldApproxKL,
		"approx_kl", s.ApproxKL,
		"clipfrac", s.ClipFrac,
		"explained_variance", s.ExplainedVar,
		"grad_norm", s.GradNorm,
		"epochs_run", s.EpochsRun,
		"episodes", s.EpisodeCount,
		"return_mean", s.ReturnMean,
		"return_p50", s.ReturnP50,
		"sps", s.StepsPerSec,
	)
}

// EpisodeStats holds one completed episode.
type EpisodeStats struct {
	Episode    int     `csv:"episode"`
	Env        int     `csv:"env"`
	GlobalStep int     `csv:"global_step"`
	Return     float64 `csv:"return"`
	Length     int     `csv:"length"`
	MeanReward float64 `csv:"mean_reward"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ReturnSummary aggregates a window of episode returns.
type ReturnSummary struct {
	Count int
	Mean  float64
	P10   float64
	P50   float64
	P90   float64
}

// ComputeReturnStats calculates mean and percentiles from episode returns.
func ComputeReturnStats(values []float64) ReturnSummary {
	n := len(values)
	if n == 0 {
		return ReturnSummary{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	return ReturnSummary{
		Count: n,
		Mean:  sum / float64(n),
		P10:   Percentile(sorted, 0.10),
		P50:   Percentile(sorted, 0.50),
		P90:   Percentile(sorted, 0.90),
	}
}
