package main

import (
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pthm-cable/wake/agent"
	"github.com/pthm-cable/wake/config"
	"github.com/pthm-cable/wake/env"
	"github.com/pthm-cable/wake/ppo"
	"github.com/pthm-cable/wake/telemetry"
	"github.com/pthm-cable/wake/wake"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output per-update stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	checkpointDir := flag.String("checkpoint-dir", "", "Directory for agent checkpoint files")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config, config 0 = time-based)")
	updates := flag.Int("updates", 0, "Stop after N updates (0 = full schedule)")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = cfg.Run.Seed
	}
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	if *updates > 0 {
		cfg.Derived.NumUpdates = *updates
	}

	collector := telemetry.NewCollector(cfg.Telemetry.EpisodeHistory)
	envs, err := buildEnvs(cfg, rngSeed, collector)
	if err != nil {
		slog.Error("failed to build environments", "error", err)
		os.Exit(1)
	}

	// Bound compression only applies when actions are relative increments.
	fraction := 1.0
	if cfg.Action.Smoothing == config.SmoothRelative {
		fraction = cfg.Action.RelativeScale
	}
	actSpace := envs.ActionSpace()
	a := agent.New(rand.New(rand.NewSource(rngSeed)), agent.Options{
		ObsDim: envs.ObservationSpace().Dim(),
		ActDim: actSpace.Dim(),
		Latent: cfg.Exploration.LatentSize,
		SDE:    cfg.Exploration.Mode == config.ExploreSDE,
		Bounds: agent.NewBounds(actSpace.Low, actSpace.High, fraction),
	})

	trainer, err := ppo.NewTrainer(a, envs, ppo.Options{
		Config:        cfg,
		Seed:          rngSeed,
		LogStats:      *logStats,
		OutputDir:     *outputDir,
		CheckpointDir: *checkpointDir,
		Episodes:      collector,
	})
	if err != nil {
		slog.Error("failed to build trainer", "error", err)
		envs.Close()
		os.Exit(1)
	}

	slog.Info("starting training",
		"seed", rngSeed,
		"backend", cfg.Env.Backend,
		"envs", cfg.Env.NumEnvs,
		"updates", cfg.Derived.NumUpdates,
		"batch_size", cfg.Derived.BatchSize,
	)

	if err := trainer.Run(); err != nil {
		slog.Error("training failed", "error", err)
		trainer.Close()
		os.Exit(1)
	}
	if err := trainer.Close(); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("training complete", "global_step", trainer.GlobalStep())
}

// buildEnvs constructs one environment per slot for the configured backend,
// applies the wrapper stack to each, and vectorizes the set behind an
// episode recorder.
func buildEnvs(cfg *config.Config, seed int64, collector *telemetry.Collector) (*env.Recorder, error) {
	// All solver instances of one training run share a timestamped folder.
	runRoot := ""
	if cfg.Env.Backend == config.BackendProcess {
		runRoot = filepath.Join(cfg.Solver.RunRoot, "rl_run_"+time.Now().Format("20060102_150405"))
	}

	single := make([]env.Env, cfg.Env.NumEnvs)
	for i := range single {
		base, err := buildEnv(cfg, seed, i, runRoot)
		if err != nil {
			closeAll(single[:i])
			return nil, err
		}
		wrapped, err := env.Wrap(base, cfg.Env.Wrappers, cfg.Env.StackWindow)
		if err != nil {
			base.Close()
			closeAll(single[:i])
			return nil, err
		}
		single[i] = wrapped
	}

	vec, err := env.NewVec(single)
	if err != nil {
		closeAll(single)
		return nil, err
	}
	return env.NewRecorder(vec, collector), nil
}

func buildEnv(cfg *config.Config, seed int64, i int, runRoot string) (env.Env, error) {
	switch cfg.Env.Backend {
	case config.BackendProcess:
		dir, err := env.PrepareRunFolder(runRoot, cfg.Solver.CaseDir, cfg.Solver.ExtraFiles, i)
		if err != nil {
			return nil, err
		}
		slog.Info("run folder ready", "env", i, "dir", dir)
		obs, act := wake.Spaces(cfg.Wake)
		return env.StartProc(cfg.Solver.Command, cfg.Solver.Args, dir, obs, act)
	default:
		return wake.New(cfg.Wake, seed+int64(i)), nil
	}
}

func closeAll(envs []env.Env) {
	for _, e := range envs {
		if e != nil {
			e.Close()
		}
	}
}
