package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/wake/config"
)

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir          string
	updatesFile  *os.File
	episodesFile *os.File

	// Track if headers have been written
	updatesHeaderWritten  bool
	episodesHeaderWritten bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	// Create output directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	// Open updates.csv
	updatesPath := filepath.Join(dir, "updates.csv")
	f, err := os.Create(updatesPath)
	if err != nil {
		return nil, fmt.Errorf("creating updates.csv: %w", err)
	}
	om.updatesFile = f

	// Open episodes.csv
	episodesPath := filepath.Join(dir, "episodes.csv")
	f, err = os.Create(episodesPath)
	if err != nil {
		om.updatesFile.Close()
		return nil, fmt.Errorf("creating episodes.csv: %w", err)
	}
	om.episodesFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	configPath := filepath.Join(om.dir, "config.yaml")
	return cfg.WriteYAML(configPath)
}

// WriteUpdate writes an update stats record to updates.csv.
func (om *OutputManager) WriteUpdate(stats UpdateStats) error {
	if om == nil {
		return nil
	}

	records := []UpdateStats{stats}

	if !om.updatesHeaderWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, om.updatesFile); err != nil {
			return fmt.Errorf("writing update stats: %w", err)
		}
		om.updatesHeaderWritten = true
	} else {
		// Subsequent writes skip headers
		if err := gocsv.MarshalWithoutHeaders(records, om.updatesFile); err != nil {
			return fmt.Errorf("writing update stats: %w", err)
		}
	}

	return nil
}

// WriteEpisodes writes episode records to episodes.csv.
func (om *OutputManager) WriteEpisodes(episodes []EpisodeStats) error {
	if om == nil || len(episodes) == 0 {
		return nil
	}

	if !om.episodesHeaderWritten {
		if err := gocsv.Marshal(episodes, om.episodesFile); err != nil {
			return fmt.Errorf("writing episodes: %w", err)
		}
		om.episodesHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(episodes, om.episodesFile); err != nil {
			return fmt.Errorf("writing episodes: %w", err)
		}
	}

	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error

	if om.updatesFile != nil {
		if err := om.updatesFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if om.episodesFile != nil {
		if err := om.episodesFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
