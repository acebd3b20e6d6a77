// Package config provides configuration loading and access for the trainer.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Exploration modes for the policy head.
const (
	ExploreFixed = "fixed" // state-independent Gaussian, one std per action dim
	ExploreSDE   = "gsde"  // generalized state-dependent exploration
)

// Action smoothing methods applied during the update.
const (
	SmoothNone     = "none"
	SmoothCAPS     = "caps"     // penalize mean drift between consecutive observations
	SmoothRelative = "relative" // actions are increments on the previous action
)

// Environment backends.
const (
	BackendWake    = "wake"    // built-in reduced-order wake model
	BackendProcess = "process" // external solver over stdin/stdout
)

// Config holds all trainer configuration parameters.
type Config struct {
	Run         RunConfig         `yaml:"run"`
	Env         EnvConfig         `yaml:"env"`
	Action      ActionConfig      `yaml:"action"`
	Exploration ExplorationConfig `yaml:"exploration"`
	PPO         PPOConfig         `yaml:"ppo"`
	Wake        WakeConfig        `yaml:"wake"`
	Solver      SolverConfig      `yaml:"solver"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// RunConfig holds experiment-level settings.
type RunConfig struct {
	Name               string `yaml:"name"`
	Seed               int64  `yaml:"seed"`
	TotalSteps         int    `yaml:"total_steps"`         // environment macro-steps across all envs
	CheckpointInterval int    `yaml:"checkpoint_interval"` // save agent every N updates (0 = never)
}

// EnvConfig holds environment construction parameters.
type EnvConfig struct {
	Backend     string   `yaml:"backend"` // wake | process
	NumEnvs     int      `yaml:"num_envs"`
	Wrappers    []string `yaml:"wrappers"`     // per-env wrapper stack, applied in order
	StackWindow int      `yaml:"stack_window"` // lag window for the stack_pair wrapper
}

// ActionConfig holds action shaping parameters.
type ActionConfig struct {
	Substeps      int     `yaml:"substeps"`       // solver substeps per policy step
	Smoothing     string  `yaml:"smoothing"`      // none | caps | relative
	CAPSWeight    float64 `yaml:"caps_weight"`    // multiplier on the mean-drift penalty
	RelativeScale float64 `yaml:"relative_scale"` // bound compression for relative increments
}

// ExplorationConfig holds policy exploration parameters.
type ExplorationConfig struct {
	Mode          string `yaml:"mode"`            // fixed | gsde
	SDESampleFreq int    `yaml:"sde_sample_freq"` // resample noise every N steps (-1 = per rollout)
	LatentSize    int    `yaml:"latent_size"`     // actor trunk width, also the gSDE noise dimension
}

// PPOConfig holds the optimization parameters.
type PPOConfig struct {
	LearningRate   float64 `yaml:"learning_rate"`
	AnnealLR       bool    `yaml:"anneal_lr"`
	Gamma          float64 `yaml:"gamma"`
	GAE            bool    `yaml:"gae"`
	GAELambda      float64 `yaml:"gae_lambda"`
	NumSteps       int     `yaml:"num_steps"` // macro-steps per env per rollout
	NumMinibatches int     `yaml:"num_minibatches"`
	UpdateEpochs   int     `yaml:"update_epochs"`
	NormAdv        bool    `yaml:"norm_adv"`
	ClipCoef       float64 `yaml:"clip_coef"`
	ClipVLoss      bool    `yaml:"clip_vloss"`
	EntCoef        float64 `yaml:"ent_coef"`
	VFCoef         float64 `yaml:"vf_coef"`
	MaxGradNorm    float64 `yaml:"max_grad_norm"`
	TargetKL       float64 `yaml:"target_kl"` // stop epochs when approx KL exceeds this (0 = disabled)
}

// WakeConfig holds the reduced-order wake model parameters.
type WakeConfig struct {
	Probes       int     `yaml:"probes"`        // pressure probes around the cylinder
	Dt           float64 `yaml:"dt"`            // solver substep in convective time units
	Mu           float64 `yaml:"mu"`            // shedding limit-cycle growth rate
	Omega        float64 `yaml:"omega"`         // natural shedding frequency
	Coupling     float64 `yaml:"coupling"`      // jet authority on the oscillator
	JetMax       float64 `yaml:"jet_max"`       // mass-flow-rate bound, defines the action space
	DragGain     float64 `yaml:"drag_gain"`     // fluctuation energy weight in the drag proxy
	JetPenalty   float64 `yaml:"jet_penalty"`   // actuation cost weight in the reward
	TurbAmp      float64 `yaml:"turb_amp"`      // inflow turbulence amplitude at the probes
	TurbFreq     float64 `yaml:"turb_freq"`     // inflow turbulence time scale
	EpisodeSteps int     `yaml:"episode_steps"` // solver substeps per episode
}

// SolverConfig holds external solver settings for the process backend.
type SolverConfig struct {
	Command    string   `yaml:"command"`     // solver executable, run once per env
	Args       []string `yaml:"args"`        // extra arguments passed to the command
	CaseDir    string   `yaml:"case_dir"`    // base case copied into each run folder
	ExtraFiles []string `yaml:"extra_files"` // auxiliary files copied next to the case
	RunRoot    string   `yaml:"run_root"`    // where run folders are created
}

// TelemetryConfig holds metrics output parameters.
type TelemetryConfig struct {
	Dir            string `yaml:"dir"`             // output directory ("" = run folder)
	EpisodeHistory int    `yaml:"episode_history"` // completed episodes kept for summaries
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	BatchSize     int // NumEnvs * NumSteps
	MinibatchSize int // BatchSize / NumMinibatches
	NumUpdates    int // TotalSteps / BatchSize
	MacroDt       float64
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Compute derived values
	cfg.computeDerived()

	return cfg, nil
}

// validate rejects unknown enum values and inconsistent sizes before anything runs.
func (c *Config) validate() error {
	switch c.Env.Backend {
	case BackendWake, BackendProcess:
	default:
		return fmt.Errorf("env backend %q not implemented", c.Env.Backend)
	}
	switch c.Action.Smoothing {
	case SmoothNone, SmoothCAPS, SmoothRelative:
	default:
		return fmt.Errorf("action smoothing %q not implemented", c.Action.Smoothing)
	}
	switch c.Exploration.Mode {
	case ExploreFixed, ExploreSDE:
	default:
		return fmt.Errorf("exploration mode %q not implemented", c.Exploration.Mode)
	}
	if c.Env.NumEnvs < 1 {
		return fmt.Errorf("env num_envs must be at least 1, got %d", c.Env.NumEnvs)
	}
	if c.Action.Substeps < 1 {
		return fmt.Errorf("action substeps must be at least 1, got %d", c.Action.Substeps)
	}
	if c.Action.Smoothing == SmoothRelative && (c.Action.RelativeScale <= 0 || c.Action.RelativeScale > 1) {
		return fmt.Errorf("action relative_scale must be in (0, 1], got %g", c.Action.RelativeScale)
	}
	if c.PPO.NumSteps < 1 || c.PPO.NumMinibatches < 1 {
		return fmt.Errorf("ppo num_steps and num_minibatches must be at least 1")
	}
	batch := c.Env.NumEnvs * c.PPO.NumSteps
	if batch%c.PPO.NumMinibatches != 0 {
		return fmt.Errorf("ppo num_minibatches %d does not divide batch size %d", c.PPO.NumMinibatches, batch)
	}
	if c.Exploration.LatentSize < 1 {
		return fmt.Errorf("exploration latent_size must be at least 1, got %d", c.Exploration.LatentSize)
	}
	if c.Env.StackWindow < 2 {
		for _, w := range c.Env.Wrappers {
			if w == "stack_pair" {
				return fmt.Errorf("env stack_window must be at least 2 for the stack_pair wrapper, got %d", c.Env.StackWindow)
			}
		}
	}
	if c.Wake.JetMax <= 0 {
		return fmt.Errorf("wake jet_max must be positive, got %g", c.Wake.JetMax)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.BatchSize = c.Env.NumEnvs * c.PPO.NumSteps
	c.Derived.MinibatchSize = c.Derived.BatchSize / c.PPO.NumMinibatches
	c.Derived.NumUpdates = c.Run.TotalSteps / c.Derived.BatchSize
	if c.Derived.NumUpdates < 1 {
		c.Derived.NumUpdates = 1
	}
	c.Derived.MacroDt = c.Wake.Dt * float64(c.Action.Substeps)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
