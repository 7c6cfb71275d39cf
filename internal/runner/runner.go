// Package runner supervises external agent subprocesses. It is pure
// supervision: spawn, watch, collect, tear down. Callers decide what
// to do with the result.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// Defaults for supervision windows.
const (
	DefaultTimeout   = time.Hour
	DefaultHeartbeat = 10 * time.Minute
)

// Spec describes one agent run.
type Spec struct {
	Agent        string
	Prompt       string
	Dir          string
	AllowedTools []string
	Timeout      time.Duration
	Heartbeat    time.Duration

	// Worktree mode: create an isolated git worktree on Branch before
	// spawning, remove it after the run unless KeepWorktree.
	Worktree     bool
	KeepWorktree bool
	Branch       string
}

// Result is the settled outcome of a run.
type Result struct {
	Success         bool
	ExitCode        int
	HeartbeatKilled bool
	Duration        time.Duration

	// Fields decoded from the agent's JSON output. Wrong-typed fields
	// are left at their zero value, never coerced.
	Output        string
	CostUSD       float64
	DurationMS    int64
	DurationAPIMS int64
	NumTurns      int
	IsError       bool
	SessionID     string

	// Raw collected stdout, kept for diagnostics.
	Raw string
}

// Workspace creates and removes isolated working directories.
type Workspace interface {
	Create(ctx context.Context, branch string) (string, error)
	Remove(ctx context.Context, path string) error
}

// Runner supervises agent subprocesses through an injected spawner.
type Runner struct {
	spawner   Spawner
	workspace Workspace
	logger    zerolog.Logger
}

// New creates a Runner. workspace may be nil when worktree specs are
// never used.
func New(spawner Spawner, workspace Workspace, logger zerolog.Logger) *Runner {
	return &Runner{
		spawner:   spawner,
		workspace: workspace,
		logger:    logger.With().Str("component", "runner").Logger(),
	}
}

// Run spawns the agent and supervises it until exactly one of three
// outcomes settles: completion (stdout EOF + exit), heartbeat expiry
// (no output for Heartbeat), or hard timeout (wall clock exceeds
// Timeout). The first two return a Result; the hard timeout returns
// an error and is fatal for the job.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultTimeout
	}
	if spec.Heartbeat <= 0 {
		spec.Heartbeat = DefaultHeartbeat
	}

	if spec.Worktree {
		if r.workspace == nil {
			return nil, fmt.Errorf("worktree requested but no workspace configured: %w", cerrors.ErrInvalidInput)
		}
		dir, err := r.workspace.Create(ctx, spec.Branch)
		if err != nil {
			return nil, fmt.Errorf("creating worktree for %s: %w", spec.Branch, err)
		}
		spec.Dir = dir
		if !spec.KeepWorktree {
			defer func() {
				if err := r.workspace.Remove(context.Background(), dir); err != nil {
					r.logger.Warn().Err(err).Str("dir", dir).Msg("worktree removal failed")
				}
			}()
		}
	}

	start := time.Now()
	proc, err := r.spawner.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("spawning agent %s: %w", spec.Agent, err)
	}

	log := r.logger.With().Str("agent", spec.Agent).Logger()
	log.Info().Str("dir", spec.Dir).Msg("agent started")

	chunks := make(chan []byte)
	readDone := make(chan error, 1)
	settled := make(chan struct{})
	defer close(settled)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := proc.Stdout().Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-settled:
					return
				}
			}
			if err != nil {
				readDone <- err
				return
			}
		}
	}()

	heartbeat := time.NewTimer(spec.Heartbeat)
	deadline := time.NewTimer(spec.Timeout)
	defer heartbeat.Stop()
	defer deadline.Stop()

	var collected bytes.Buffer
	for {
		select {
		case chunk := <-chunks:
			collected.Write(chunk)
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(spec.Heartbeat)

		case <-readDone:
			// Stream closed; reap the process, then decode.
			_ = proc.Wait()
			res := ParseAgentOutput(collected.Bytes())
			res.ExitCode = proc.ExitCode()
			res.Success = res.ExitCode == 0
			res.Duration = time.Since(start)
			log.Info().
				Bool("success", res.Success).
				Int("exit_code", res.ExitCode).
				Dur("duration", res.Duration).
				Msg("agent completed")
			return res, nil

		case <-heartbeat.C:
			// Liveness lost. Kill first so a late EOF cannot re-settle,
			// then reap and return what was collected.
			_ = proc.Kill()
			_ = proc.Wait()
			res := ParseAgentOutput(collected.Bytes())
			res.Success = false
			res.HeartbeatKilled = true
			res.ExitCode = proc.ExitCode()
			res.Duration = time.Since(start)
			log.Warn().Dur("duration", res.Duration).Msg("agent killed: heartbeat expired")
			return res, nil

		case <-deadline.C:
			_ = proc.Kill()
			_ = proc.Wait()
			log.Error().Dur("duration", time.Since(start)).Msg("agent killed: hard timeout")
			return nil, fmt.Errorf("agent %s after %s: %w", spec.Agent, spec.Timeout, cerrors.ErrAgentTimeout)
		}
	}
}
