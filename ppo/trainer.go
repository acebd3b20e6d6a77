package ppo

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/wake/agent"
	"github.com/pthm-cable/wake/config"
	"github.com/pthm-cable/wake/telemetry"
)

// VecStepper drives a batch of environments in lockstep. Step takes one row
// of actions per environment and returns next observations plus a reward and
// done flag per environment. An environment that finishes an episode resets
// itself and returns the first observation of the new episode.
type VecStepper interface {
	Reset() (*mat.Dense, error)
	Step(actions *mat.Dense) (*mat.Dense, []float64, []float64, error)
	NumEnvs() int
	Close() error
}

// Options configures a Trainer.
type Options struct {
	Config        *config.Config       // nil = use global config
	Seed          int64                // 0 = use config seed
	LogStats      bool                 // log per-update stats via slog
	OutputDir     string               // CSV logs and config snapshot (empty = disabled)
	CheckpointDir string               // agent checkpoints (empty = disabled)
	Episodes      *telemetry.Collector // completed-episode sink, shared with the env recorder
	StatsCallback func(telemetry.UpdateStats)
}

// Trainer owns the full training loop: rollout collection, advantage
// estimation, gradient updates, telemetry and checkpoints.
type Trainer struct {
	agent *agent.Agent
	envs  VecStepper
	opt   *Adam

	cfg *config.Config
	rng *rand.Rand

	episodes      *telemetry.Collector
	output        *telemetry.OutputManager
	logStats      bool
	checkpointDir string
	statsCallback func(telemetry.UpdateStats)

	buf       *Buffer
	interp    *Interpolator
	updateCfg UpdateConfig
	noise     *agent.NoiseState

	nextObs  *mat.Dense
	nextDone []float64

	globalStep int
	startTime  time.Time
}

// NewTrainer wires an agent and a set of environments into a training loop.
func NewTrainer(a *agent.Agent, envs VecStepper, opts Options) (*Trainer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}

	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Run.Seed
	}

	var output *telemetry.OutputManager
	if opts.OutputDir != "" {
		om, err := telemetry.NewOutputManager(opts.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("create output manager: %w", err)
		}
		if err := om.WriteConfig(cfg); err != nil {
			return nil, fmt.Errorf("write config snapshot: %w", err)
		}
		output = om
	}

	capsWeight := 0.0
	if cfg.Action.Smoothing == config.SmoothCAPS {
		capsWeight = cfg.Action.CAPSWeight
	}

	t := &Trainer{
		agent:         a,
		envs:          envs,
		opt:           NewAdam(a.Params(), cfg.PPO.LearningRate),
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(seed)),
		episodes:      opts.Episodes,
		output:        output,
		logStats:      opts.LogStats,
		checkpointDir: opts.CheckpointDir,
		statsCallback: opts.StatsCallback,
		buf:           NewBuffer(cfg.PPO.NumSteps, envs.NumEnvs(), a.ObsDim, a.ActDim),
		interp: NewInterpolator(cfg.Action.Substeps,
			cfg.Action.Smoothing == config.SmoothRelative, envs.NumEnvs(), a.ActDim),
		updateCfg: UpdateConfig{
			Epochs:      cfg.PPO.UpdateEpochs,
			Minibatches: cfg.PPO.NumMinibatches,
			ClipCoef:    cfg.PPO.ClipCoef,
			ClipVLoss:   cfg.PPO.ClipVLoss,
			EntCoef:     cfg.PPO.EntCoef,
			VFCoef:      cfg.PPO.VFCoef,
			NormAdv:     cfg.PPO.NormAdv,
			MaxGradNorm: cfg.PPO.MaxGradNorm,
			TargetKL:    cfg.PPO.TargetKL,
			CAPSWeight:  capsWeight,
		},
	}
	return t, nil
}

// GlobalStep returns the number of environment macro steps taken so far,
// summed across environments.
func (t *Trainer) GlobalStep() int {
	return t.globalStep
}

// Run executes training until the configured step budget is exhausted.
func (t *Trainer) Run() error {
	numUpdates := t.cfg.Derived.NumUpdates

	obs, err := t.envs.Reset()
	if err != nil {
		return fmt.Errorf("reset envs: %w", err)
	}
	t.nextObs = obs
	t.nextDone = make([]float64, t.envs.NumEnvs())
	t.startTime = time.Now()

	for update := 1; update <= numUpdates; update++ {
		if err := t.RunUpdate(update); err != nil {
			return err
		}
	}

	// Save final weights unless the interval already did.
	interval := t.cfg.Run.CheckpointInterval
	if t.checkpointDir != "" && (interval <= 0 || numUpdates%interval != 0) {
		t.saveCheckpoint(numUpdates)
	}
	return nil
}

// RunUpdate collects one rollout and performs one optimization round. Run
// calls this in a loop; the tuner calls it directly for short budgeted runs.
func (t *Trainer) RunUpdate(update int) error {
	if t.nextObs == nil {
		obs, err := t.envs.Reset()
		if err != nil {
			return fmt.Errorf("reset envs: %w", err)
		}
		t.nextObs = obs
		t.nextDone = make([]float64, t.envs.NumEnvs())
		t.startTime = time.Now()
	}

	ppoCfg := t.cfg.PPO

	if ppoCfg.AnnealLR {
		frac := 1.0 - float64(update-1)/float64(t.cfg.Derived.NumUpdates)
		t.opt.LR = frac * ppoCfg.LearningRate
	}

	if t.agent.SDE {
		t.noise = t.agent.SampleNoise(t.rng, t.envs.NumEnvs())
	}

	freq := t.cfg.Exploration.SDESampleFreq
	for step := 0; step < ppoCfg.NumSteps; step++ {
		t.globalStep += t.envs.NumEnvs()

		if t.agent.SDE && freq > 0 && step%freq == 0 {
			t.noise = t.agent.SampleNoise(t.rng, t.envs.NumEnvs())
		}

		res := t.agent.Step(t.nextObs, t.noise, t.rng)
		t.buf.SetStep(step, t.nextObs, res.Action, res.LogProb, res.Value, t.nextDone)

		obs, rewards, dones, err := t.stepEnvs(res.Action)
		if err != nil {
			return fmt.Errorf("step envs: %w", err)
		}

		t.buf.SetRewards(step, rewards)
		t.nextObs = obs
		t.nextDone = dones
	}

	nextValue := t.agent.Values(t.nextObs)
	adv, ret := t.buf.Advantages(ppoCfg.Gamma, ppoCfg.GAELambda, ppoCfg.GAE, nextValue, t.nextDone)

	metrics := Update(t.agent, t.opt, t.buf, adv, ret, t.updateCfg, t.rng)

	t.flushTelemetry(update, metrics)

	interval := t.cfg.Run.CheckpointInterval
	if t.checkpointDir != "" && interval > 0 && update%interval == 0 {
		t.saveCheckpoint(update)
	}
	return nil
}

// stepEnvs advances the environments through one full actuation cycle,
// ramping from the previous jet command toward the new one. The reward and
// done flags of the last substep stand for the whole cycle. When any
// environment terminates the cycle stops early and the ramp state resets, so
// fresh episodes start from a zero command.
func (t *Trainer) stepEnvs(action *mat.Dense) (obs *mat.Dense, rewards, dones []float64, err error) {
	for k := 0; k < t.interp.Substeps; k++ {
		smoothed := t.interp.At(action, k)
		obs, rewards, dones, err = t.envs.Step(smoothed)
		if err != nil {
			return nil, nil, nil, err
		}
		if anyDone(dones) {
			t.interp.Clear()
			break
		}
		t.interp.Commit(smoothed)
	}
	return obs, rewards, dones, nil
}

func anyDone(dones []float64) bool {
	for _, d := range dones {
		if d != 0 {
			return true
		}
	}
	return false
}

// flushTelemetry assembles the per-update stats row and routes it to the
// callback, the console and the CSV files.
func (t *Trainer) flushTelemetry(update int, m UpdateMetrics) {
	stats := telemetry.UpdateStats{
		Update:       update,
		GlobalStep:   t.globalStep,
		LearningRate: t.opt.LR,
		PolicyLoss:   m.PolicyLoss,
		ValueLoss:    m.ValueLoss,
		EntropyLoss:  m.EntropyLoss,
		CAPSLoss:     m.CAPSLoss,
		OldApproxKL:  m.OldApproxKL,
		ApproxKL:     m.ApproxKL,
		ClipFrac:     m.ClipFrac,
		ExplainedVar: m.ExplainedVar,
		GradNorm:     m.GradNorm,
		EpochsRun:    m.EpochsRun,
	}

	var episodes []telemetry.EpisodeStats
	if t.episodes != nil {
		summary := t.episodes.Summary()
		stats.EpisodeCount = summary.Count
		stats.ReturnMean = summary.Mean
		stats.ReturnP10 = summary.P10
		stats.ReturnP50 = summary.P50
		stats.ReturnP90 = summary.P90
		episodes = t.episodes.Drain()
	}

	if elapsed := time.Since(t.startTime).Seconds(); elapsed > 0 {
		stats.StepsPerSec = int(float64(t.globalStep) / elapsed)
	}

	if t.statsCallback != nil {
		t.statsCallback(stats)
	}

	if t.logStats {
		stats.LogStats()
	}

	if t.output != nil {
		if err := t.output.WriteUpdate(stats); err != nil {
			slog.Error("failed to write update stats", "error", err)
		}
		if len(episodes) > 0 {
			if err := t.output.WriteEpisodes(episodes); err != nil {
				slog.Error("failed to write episodes", "error", err)
			}
		}
	}
}

func (t *Trainer) saveCheckpoint(update int) {
	path, err := agent.SaveCheckpoint(t.agent, t.checkpointDir, update)
	if err != nil {
		slog.Error("failed to save checkpoint", "error", err)
		return
	}
	slog.Info("checkpoint saved", "path", path, "update", update, "global_step", t.globalStep)
}

// Close shuts down the environments and flushes CSV output. The first error
// encountered is returned.
func (t *Trainer) Close() error {
	var firstErr error
	if err := t.envs.Close(); err != nil {
		firstErr = err
	}
	if t.output != nil {
		if err := t.output.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
