package main

import (
	"log"
	"math"
	"math/rand"
	"sync"

	"github.com/pthm-cable/wake/agent"
	"github.com/pthm-cable/wake/config"
	"github.com/pthm-cable/wake/env"
	"github.com/pthm-cable/wake/ppo"
	"github.com/pthm-cable/wake/telemetry"
	"github.com/pthm-cable/wake/wake"
)

// FitnessEvaluator scores hyperparameter vectors by running short seeded
// trainings on the wake surrogate and averaging the episode returns they
// reach.
type FitnessEvaluator struct {
	params     *ParamVector
	updates    int // training updates per run
	seeds      []int64
	baseConfig *config.Config

	// Best run tracking
	mu          sync.Mutex
	bestFitness float64
	lastReturn  float64 // mean return from the most recent Evaluate call
}

// warmupUpdates keeps the flailing at the start of a run out of the score.
const warmupUpdates = 2

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, updates int, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		updates:     updates,
		seeds:       seeds,
		baseConfig:  baseCfg,
		bestFitness: math.Inf(1),
	}
}

// LastReturn returns the mean episode return from the most recent evaluation.
func (fe *FitnessEvaluator) LastReturn() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastReturn
}

// Evaluate computes fitness for a parameter vector (lower = better). Fitness
// is the negated mean episode return averaged across seeds: a policy that
// kills the shedding with little actuation scores near zero, an uncontrolled
// wake stays strongly positive.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	// Run all seeds in parallel
	results := make([]float64, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runTraining(x, s)
		}(i, seed)
	}
	wg.Wait()

	var total float64
	for _, r := range results {
		total += r
	}
	meanReturn := total / float64(len(fe.seeds))
	fitness := -meanReturn

	fe.mu.Lock()
	if fitness < fe.bestFitness {
		fe.bestFitness = fitness
	}
	fe.lastReturn = meanReturn
	fe.mu.Unlock()

	return fitness
}

// runTraining executes one short training run and reports the mean episode
// return over the post-warmup updates. Failed runs count as -Inf return so
// the search steers away from them.
func (fe *FitnessEvaluator) runTraining(x []float64, seed int64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Derived.NumUpdates = fe.updates

	collector := telemetry.NewCollector(cfg.Telemetry.EpisodeHistory)
	envs, err := buildWakeEnvs(cfg, seed, collector)
	if err != nil {
		log.Printf("seed %d: build envs: %v", seed, err)
		return math.Inf(-1)
	}

	fraction := 1.0
	if cfg.Action.Smoothing == config.SmoothRelative {
		fraction = cfg.Action.RelativeScale
	}
	actSpace := envs.ActionSpace()
	a := agent.New(rand.New(rand.NewSource(seed)), agent.Options{
		ObsDim: envs.ObservationSpace().Dim(),
		ActDim: actSpace.Dim(),
		Latent: cfg.Exploration.LatentSize,
		SDE:    cfg.Exploration.Mode == config.ExploreSDE,
		Bounds: agent.NewBounds(actSpace.Low, actSpace.High, fraction),
	})

	var returnSum float64
	var returnN int
	trainer, err := ppo.NewTrainer(a, envs, ppo.Options{
		Config:   cfg,
		Seed:     seed,
		Episodes: collector,
		StatsCallback: func(stats telemetry.UpdateStats) {
			if stats.Update > warmupUpdates && stats.EpisodeCount > 0 {
				returnSum += stats.ReturnMean
				returnN++
			}
		},
	})
	if err != nil {
		envs.Close()
		log.Printf("seed %d: build trainer: %v", seed, err)
		return math.Inf(-1)
	}

	err = trainer.Run()
	trainer.Close()
	if err != nil {
		log.Printf("seed %d: training: %v", seed, err)
		return math.Inf(-1)
	}
	if returnN == 0 {
		return math.Inf(-1)
	}
	return returnSum / float64(returnN)
}

// buildWakeEnvs vectorizes surrogate instances with the configured wrapper
// stack. Tuning always runs on the surrogate; launching external solvers per
// evaluation would dominate the search cost.
func buildWakeEnvs(cfg *config.Config, seed int64, collector *telemetry.Collector) (*env.Recorder, error) {
	single := make([]env.Env, cfg.Env.NumEnvs)
	for i := range single {
		wrapped, err := env.Wrap(wake.New(cfg.Wake, seed+int64(i)), cfg.Env.Wrappers, cfg.Env.StackWindow)
		if err != nil {
			return nil, err
		}
		single[i] = wrapped
	}
	vec, err := env.NewVec(single)
	if err != nil {
		return nil, err
	}
	return env.NewRecorder(vec, collector), nil
}

// copyConfig creates a copy of the base config for one run.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg, _ := config.Load("")

	cfg.Run = fe.baseConfig.Run
	cfg.Env = fe.baseConfig.Env
	cfg.Action = fe.baseConfig.Action
	cfg.Exploration = fe.baseConfig.Exploration
	cfg.PPO = fe.baseConfig.PPO
	cfg.Wake = fe.baseConfig.Wake
	cfg.Solver = fe.baseConfig.Solver
	cfg.Telemetry = fe.baseConfig.Telemetry
	cfg.Derived = fe.baseConfig.Derived

	// Evaluations never checkpoint and always run the surrogate backend.
	cfg.Run.CheckpointInterval = 0
	cfg.Env.Backend = config.BackendWake
	return cfg
}
