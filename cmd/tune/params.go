// Package main provides CMA-ES search over PPO hyperparameters, scored by
// short training runs on the built-in wake surrogate.
package main

import (
	"github.com/pthm-cable/wake/config"
)

// ParamSpec defines a single tunable hyperparameter.
type ParamSpec struct {
	Name    string  // column name in the eval log
	Path    string  // config path, for readers of the log
	Min     float64 // lower bound
	Max     float64 // upper bound
	Default float64 // starting point, matches the config defaults
}

// ParamVector holds the set of all tunable hyperparameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard tuning set. Rollout shape parameters
// (num_steps, num_envs, minibatches) stay fixed so every evaluation sees the
// same batch layout and step budget.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "learning_rate", Path: "ppo.learning_rate", Min: 1e-4, Max: 2e-3, Default: 5e-4},
			{Name: "clip_coef", Path: "ppo.clip_coef", Min: 0.05, Max: 0.4, Default: 0.2},
			{Name: "ent_coef", Path: "ppo.ent_coef", Min: 0.0, Max: 0.03, Default: 0.01},
			{Name: "vf_coef", Path: "ppo.vf_coef", Min: 0.25, Max: 1.0, Default: 0.5},
			{Name: "gae_lambda", Path: "ppo.gae_lambda", Min: 0.9, Max: 0.99, Default: 0.95},
			{Name: "max_grad_norm", Path: "ppo.max_grad_norm", Min: 0.25, Max: 1.0, Default: 0.5},
			{Name: "caps_weight", Path: "action.caps_weight", Min: 0.0, Max: 20.0, Default: 10.0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	cfg.PPO.LearningRate = clamped[0]
	cfg.PPO.ClipCoef = clamped[1]
	cfg.PPO.EntCoef = clamped[2]
	cfg.PPO.VFCoef = clamped[3]
	cfg.PPO.GAELambda = clamped[4]
	cfg.PPO.MaxGradNorm = clamped[5]
	cfg.Action.CAPSWeight = clamped[6]
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.PPO.LearningRate,
		cfg.PPO.ClipCoef,
		cfg.PPO.EntCoef,
		cfg.PPO.VFCoef,
		cfg.PPO.GAELambda,
		cfg.PPO.MaxGradNorm,
		cfg.Action.CAPSWeight,
	}
}
