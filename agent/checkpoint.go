package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CheckpointVersion is incremented when the format changes.
const CheckpointVersion = 1

// Checkpoint holds the complete agent state for resuming or evaluation.
type Checkpoint struct {
	Version int  `json:"version"`
	ObsDim  int  `json:"obs_dim"`
	ActDim  int  `json:"act_dim"`
	Latent  int  `json:"latent"`
	SDE     bool `json:"sde"`

	Low  []float64 `json:"action_low"`
	High []float64 `json:"action_high"`

	Params []ParamState `json:"params"`
}

// ParamState holds one named tensor.
type ParamState struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Snapshot captures the current parameters.
func (a *Agent) Snapshot() *Checkpoint {
	cp := &Checkpoint{
		Version: CheckpointVersion,
		ObsDim:  a.ObsDim,
		ActDim:  a.ActDim,
		Latent:  a.Latent,
		SDE:     a.SDE,
		Low:     a.Bounds.Low,
		High:    a.Bounds.High,
	}
	for _, p := range a.Params() {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		cp.Params = append(cp.Params, ParamState{Name: p.Name, Rows: p.Rows, Cols: p.Cols, Data: data})
	}
	return cp
}

// SaveCheckpoint writes the agent state for the given update to dir.
// Returns the filepath where it was saved.
func SaveCheckpoint(a *Agent, dir string, update int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("agent_%06d.json", update))

	data, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}

	return path, nil
}

// LoadCheckpoint reads an agent state from disk and applies it to a. The
// agent must have been built with the same dimensions and mode.
func LoadCheckpoint(a *Agent, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if cp.Version != CheckpointVersion {
		return fmt.Errorf("checkpoint version %d, want %d", cp.Version, CheckpointVersion)
	}
	if cp.ObsDim != a.ObsDim || cp.ActDim != a.ActDim || cp.Latent != a.Latent || cp.SDE != a.SDE {
		return fmt.Errorf("checkpoint shape %d/%d/%d sde=%v does not match agent %d/%d/%d sde=%v",
			cp.ObsDim, cp.ActDim, cp.Latent, cp.SDE, a.ObsDim, a.ActDim, a.Latent, a.SDE)
	}

	byName := make(map[string]ParamState, len(cp.Params))
	for _, ps := range cp.Params {
		byName[ps.Name] = ps
	}
	for _, p := range a.Params() {
		ps, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint missing param %s", p.Name)
		}
		if ps.Rows != p.Rows || ps.Cols != p.Cols || len(ps.Data) != len(p.Data) {
			return fmt.Errorf("checkpoint param %s has shape %dx%d, want %dx%d", p.Name, ps.Rows, ps.Cols, p.Rows, p.Cols)
		}
		copy(p.Data, ps.Data)
	}
	return nil
}
