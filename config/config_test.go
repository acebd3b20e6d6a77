package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}

	if cfg.Env.NumEnvs != 32 {
		t.Errorf("num_envs = %d, want 32", cfg.Env.NumEnvs)
	}
	if cfg.PPO.LearningRate != 5e-4 {
		t.Errorf("learning_rate = %g, want 5e-4", cfg.PPO.LearningRate)
	}
	if cfg.Wake.Probes != 11 {
		t.Errorf("probes = %d, want 11", cfg.Wake.Probes)
	}
	if !cfg.PPO.AnnealLR {
		t.Error("anneal_lr should default to true")
	}
}

func TestLoadDerivedValues(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	wantBatch := cfg.Env.NumEnvs * cfg.PPO.NumSteps
	if cfg.Derived.BatchSize != wantBatch {
		t.Errorf("batch size = %d, want %d", cfg.Derived.BatchSize, wantBatch)
	}
	if got, want := cfg.Derived.MinibatchSize, wantBatch/cfg.PPO.NumMinibatches; got != want {
		t.Errorf("minibatch size = %d, want %d", got, want)
	}
	if got, want := cfg.Derived.NumUpdates, cfg.Run.TotalSteps/wantBatch; got != want {
		t.Errorf("num updates = %d, want %d", got, want)
	}
	if got, want := cfg.Derived.MacroDt, cfg.Wake.Dt*float64(cfg.Action.Substeps); got != want {
		t.Errorf("macro dt = %g, want %g", got, want)
	}
}

func TestLoadMergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
env:
  num_envs: 4
ppo:
  num_steps: 16
  num_minibatches: 8
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env.NumEnvs != 4 {
		t.Errorf("num_envs = %d, want 4", cfg.Env.NumEnvs)
	}
	if cfg.Derived.BatchSize != 64 {
		t.Errorf("batch size = %d, want 64", cfg.Derived.BatchSize)
	}
	// Untouched fields keep their defaults.
	if cfg.Wake.Probes != 11 {
		t.Errorf("probes = %d, want default 11", cfg.Wake.Probes)
	}
}

func loadWith(t *testing.T, body string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return Load(path)
}

func TestLoadRejectsUnknownEnums(t *testing.T) {
	cases := []struct {
		name, body, wantErr string
	}{
		{"backend", "env:\n  backend: fenics\n", `backend "fenics" not implemented`},
		{"smoothing", "action:\n  smoothing: lowpass\n", `smoothing "lowpass" not implemented`},
		{"exploration", "exploration:\n  mode: ou_noise\n", `mode "ou_noise" not implemented`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadWith(t, tc.body)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want contains %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadRejectsIndivisibleMinibatches(t *testing.T) {
	_, err := loadWith(t, "env:\n  num_envs: 3\nppo:\n  num_steps: 5\n  num_minibatches: 4\n")
	if err == nil || !strings.Contains(err.Error(), "does not divide") {
		t.Errorf("error = %v, want minibatch divisibility failure", err)
	}
}

func TestLoadRejectsBadRelativeScale(t *testing.T) {
	_, err := loadWith(t, "action:\n  smoothing: relative\n  relative_scale: 0\n")
	if err == nil || !strings.Contains(err.Error(), "relative_scale") {
		t.Errorf("error = %v, want relative_scale failure", err)
	}
}

func TestLoadRejectsSmallStackWindow(t *testing.T) {
	_, err := loadWith(t, "env:\n  wrappers: [stack_pair]\n  stack_window: 1\n")
	if err == nil || !strings.Contains(err.Error(), "stack_window") {
		t.Errorf("error = %v, want stack_window failure", err)
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.PPO.LearningRate = 1.25e-4
	cfg.Env.Wrappers = []string{"clip_action", "stack_pair"}

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.PPO.LearningRate != 1.25e-4 {
		t.Errorf("learning rate = %g, want 1.25e-4", back.PPO.LearningRate)
	}
	if len(back.Env.Wrappers) != 2 || back.Env.Wrappers[1] != "stack_pair" {
		t.Errorf("wrappers = %v", back.Env.Wrappers)
	}
}

func TestInitAndCfg(t *testing.T) {
	if err := Init(""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Cfg() == nil {
		t.Fatal("Cfg returned nil after Init")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}
}
