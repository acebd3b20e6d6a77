package telemetry

import "sync"

// Collector accumulates completed episodes from the environment workers. It
// is safe for concurrent use; the env step runs one goroutine per env.
type Collector struct {
	mu         sync.Mutex
	pending    []EpisodeStats
	window     []float64 // recent returns, ring
	windowSize int
	next       int
	count      int // total episodes ever recorded
}

// NewCollector creates a collector keeping the last windowSize returns for
// summaries.
func NewCollector(windowSize int) *Collector {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Collector{windowSize: windowSize}
}

// RecordEpisode records one completed episode.
func (c *Collector) RecordEpisode(env, globalStep int, ret float64, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := EpisodeStats{
		Episode:    c.count,
		Env:        env,
		GlobalStep: globalStep,
		Return:     ret,
		Length:     length,
	}
	if length > 0 {
		stats.MeanReward = ret / float64(length)
	}
	c.pending = append(c.pending, stats)
	c.count++

	if len(c.window) < c.windowSize {
		c.window = append(c.window, ret)
	} else {
		c.window[c.next] = ret
	}
	c.next = (c.next + 1) % c.windowSize
}

// Drain returns the episodes recorded since the last drain.
func (c *Collector) Drain() []EpisodeStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Count returns the total number of episodes recorded.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Summary aggregates the recent return window.
func (c *Collector) Summary() ReturnSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeReturnStats(c.window)
}
