package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/wake/config"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	if om != nil {
		t.Fatal("empty dir should disable output")
	}

	// All methods are nil-safe so callers skip the checks.
	if err := om.WriteUpdate(UpdateStats{}); err != nil {
		t.Errorf("WriteUpdate on nil: %v", err)
	}
	if err := om.WriteEpisodes([]EpisodeStats{{}}); err != nil {
		t.Errorf("WriteEpisodes on nil: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
	if om.Dir() != "" {
		t.Errorf("Dir on nil = %q", om.Dir())
	}
}

func TestOutputManagerWritesCSV(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	if err := om.WriteUpdate(UpdateStats{Update: 1, ApproxKL: 0.01}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteUpdate(UpdateStats{Update: 2, ApproxKL: 0.02}); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteEpisodes([]EpisodeStats{
		{Episode: 0, Return: -5},
		{Episode: 1, Return: -4},
	}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	updates, err := os.ReadFile(filepath.Join(dir, "updates.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(updates)), "\n")
	if len(lines) != 3 {
		t.Fatalf("updates.csv has %d lines, want header + 2 rows", len(lines))
	}
	if !strings.Contains(lines[0], "approx_kl") {
		t.Errorf("header missing approx_kl: %s", lines[0])
	}
	// Header must appear once, not per write.
	if strings.Contains(lines[1], "approx_kl") {
		t.Errorf("second line repeats the header: %s", lines[1])
	}

	episodes, err := os.ReadFile(filepath.Join(dir, "episodes.csv"))
	if err != nil {
		t.Fatal(err)
	}
	epLines := strings.Split(strings.TrimSpace(string(episodes)), "\n")
	if len(epLines) != 3 {
		t.Errorf("episodes.csv has %d lines, want header + 2 rows", len(epLines))
	}
}

func TestOutputManagerWriteConfig(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer om.Close()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := om.WriteConfig(cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "learning_rate") {
		t.Error("config snapshot missing ppo settings")
	}
}
