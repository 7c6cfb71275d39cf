// Package health tracks liveness and readiness of the orchestrator's
// external collaborators.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status of one probe.
type Status string

const (
	StatusOK   Status = "ok"
	StatusDown Status = "down"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) Status

// Checker runs named probes on demand.
type Checker struct {
	mu     sync.RWMutex
	probes map[string]Probe
	logger zerolog.Logger
}

// NewChecker creates an empty checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		probes: make(map[string]Probe),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named probe.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Check runs every probe with a short timeout and returns the
// per-probe results.
func (c *Checker) Check(ctx context.Context) map[string]Status {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(probes))
	for name, probe := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		results[name] = probe(probeCtx)
		cancel()
	}
	return results
}

// Ready reports whether every probe passes.
func (c *Checker) Ready(ctx context.Context) bool {
	for name, status := range c.Check(ctx) {
		if status != StatusOK {
			c.logger.Warn().Str("probe", name).Msg("probe down")
			return false
		}
	}
	return true
}
