package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// fakeProcess scripts a subprocess: bytes to emit, an optional delay
// between chunks, and an exit code.
type fakeProcess struct {
	reader   *io.PipeReader
	writer   *io.PipeWriter
	exitCode int
	killed   bool
	mu       sync.Mutex
	waitCh   chan struct{}
	waitOnce sync.Once
}

func newFakeProcess(exitCode int) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{reader: r, writer: w, exitCode: exitCode, waitCh: make(chan struct{})}
}

func (p *fakeProcess) emit(data string) {
	_, _ = p.writer.Write([]byte(data))
}

func (p *fakeProcess) finish() {
	_ = p.writer.Close()
	p.waitOnce.Do(func() { close(p.waitCh) })
}

func (p *fakeProcess) Stdout() io.Reader { return p.reader }

func (p *fakeProcess) Wait() error {
	<-p.waitCh
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	_ = p.writer.Close()
	p.waitOnce.Do(func() { close(p.waitCh) })
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) ExitCode() int { return p.exitCode }

type fakeSpawner struct {
	proc    Process
	started []Spec
	err     error
}

func (s *fakeSpawner) Start(_ context.Context, spec Spec) (Process, error) {
	s.started = append(s.started, spec)
	if s.err != nil {
		return nil, s.err
	}
	return s.proc, nil
}

type fakeWorkspace struct {
	mu        sync.Mutex
	created   []string
	removed   []string
	createErr error
}

func (w *fakeWorkspace) Create(_ context.Context, branch string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return "", w.createErr
	}
	dir := "/tmp/worktrees/" + branch
	w.created = append(w.created, dir)
	return dir, nil
}

func (w *fakeWorkspace) Remove(_ context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = append(w.removed, path)
	return nil
}

func TestRun_Completion(t *testing.T) {
	proc := newFakeProcess(0)
	spawner := &fakeSpawner{proc: proc}
	r := New(spawner, nil, testLogger())

	go func() {
		proc.emit(`{"result":"done","cost_usd":0.42,"num_turns":7,"session_id":"s1"}`)
		proc.finish()
	}()

	res, err := r.Run(context.Background(), Spec{
		Agent: "architect", Prompt: "design it",
		Timeout: 5 * time.Second, Heartbeat: time.Second,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, 0.42, res.CostUSD)
	assert.Equal(t, 7, res.NumTurns)
	assert.Equal(t, "s1", res.SessionID)
	assert.False(t, res.HeartbeatKilled)
}

func TestRun_NonZeroExit(t *testing.T) {
	proc := newFakeProcess(1)
	spawner := &fakeSpawner{proc: proc}
	r := New(spawner, nil, testLogger())

	go func() {
		proc.emit(`{"result":"could not finish","is_error":true}`)
		proc.finish()
	}()

	res, err := r.Run(context.Background(), Spec{
		Agent: "code_writer", Timeout: 5 * time.Second, Heartbeat: time.Second,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.IsError)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRun_HeartbeatKillsSilentProcess(t *testing.T) {
	proc := newFakeProcess(0)
	spawner := &fakeSpawner{proc: proc}
	r := New(spawner, nil, testLogger())

	start := time.Now()
	res, err := r.Run(context.Background(), Spec{
		Agent:     "architect",
		Heartbeat: 50 * time.Millisecond,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.HeartbeatKilled)
	assert.True(t, proc.wasKilled())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.GreaterOrEqual(t, res.Duration, 50*time.Millisecond)
}

func TestRun_HeartbeatResetsOnOutput(t *testing.T) {
	proc := newFakeProcess(0)
	spawner := &fakeSpawner{proc: proc}
	r := New(spawner, nil, testLogger())

	go func() {
		// Keep emitting inside the heartbeat window, then finish.
		for i := 0; i < 4; i++ {
			time.Sleep(40 * time.Millisecond)
			proc.emit("chunk")
		}
		proc.emit(`{"result":"ok"}`)
		proc.finish()
	}()

	res, err := r.Run(context.Background(), Spec{
		Agent:     "architect",
		Heartbeat: 100 * time.Millisecond,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	assert.False(t, res.HeartbeatKilled)
	assert.True(t, res.Success)
}

func TestRun_HardTimeoutWinsOverActiveProcess(t *testing.T) {
	proc := newFakeProcess(0)
	spawner := &fakeSpawner{proc: proc}
	r := New(spawner, nil, testLogger())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		// Emit steadily so the heartbeat never fires.
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				proc.emit("still working")
			}
		}
	}()

	_, err := r.Run(context.Background(), Spec{
		Agent:     "code_writer",
		Heartbeat: time.Second,
		Timeout:   80 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrAgentTimeout)
	assert.True(t, proc.wasKilled())
}

func TestRun_WorktreeLifecycle(t *testing.T) {
	t.Run("removed on success", func(t *testing.T) {
		proc := newFakeProcess(0)
		ws := &fakeWorkspace{}
		r := New(&fakeSpawner{proc: proc}, ws, testLogger())

		go func() {
			proc.emit(`{"result":"ok"}`)
			proc.finish()
		}()

		_, err := r.Run(context.Background(), Spec{
			Agent: "code_writer", Worktree: true, Branch: "feature/tos-1-schema",
			Timeout: 5 * time.Second, Heartbeat: time.Second,
		})
		require.NoError(t, err)
		require.Len(t, ws.created, 1)
		assert.Equal(t, ws.created, ws.removed)
	})

	t.Run("removed on heartbeat kill", func(t *testing.T) {
		proc := newFakeProcess(0)
		ws := &fakeWorkspace{}
		r := New(&fakeSpawner{proc: proc}, ws, testLogger())

		_, err := r.Run(context.Background(), Spec{
			Agent: "code_writer", Worktree: true, Branch: "feature/tos-1-schema",
			Timeout: 5 * time.Second, Heartbeat: 30 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.Equal(t, ws.created, ws.removed)
	})

	t.Run("removed on hard timeout", func(t *testing.T) {
		proc := newFakeProcess(0)
		ws := &fakeWorkspace{}
		r := New(&fakeSpawner{proc: proc}, ws, testLogger())

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					proc.emit("x")
				}
			}
		}()

		_, err := r.Run(context.Background(), Spec{
			Agent: "code_writer", Worktree: true, Branch: "feature/tos-1-schema",
			Timeout: 50 * time.Millisecond, Heartbeat: time.Second,
		})
		require.Error(t, err)
		assert.Equal(t, ws.created, ws.removed)
	})

	t.Run("kept when requested", func(t *testing.T) {
		proc := newFakeProcess(0)
		ws := &fakeWorkspace{}
		r := New(&fakeSpawner{proc: proc}, ws, testLogger())

		go func() {
			proc.emit(`{"result":"ok"}`)
			proc.finish()
		}()

		_, err := r.Run(context.Background(), Spec{
			Agent: "code_writer", Worktree: true, KeepWorktree: true, Branch: "feature/tos-1-schema",
			Timeout: 5 * time.Second, Heartbeat: time.Second,
		})
		require.NoError(t, err)
		require.Len(t, ws.created, 1)
		assert.Empty(t, ws.removed)
	})

	t.Run("creation failure aborts the run", func(t *testing.T) {
		ws := &fakeWorkspace{createErr: errors.New("disk full")}
		spawner := &fakeSpawner{proc: newFakeProcess(0)}
		r := New(spawner, ws, testLogger())

		_, err := r.Run(context.Background(), Spec{
			Agent: "code_writer", Worktree: true, Branch: "feature/tos-1-schema",
			Timeout: time.Second, Heartbeat: time.Second,
		})
		require.Error(t, err)
		assert.Empty(t, spawner.started, "subprocess must not spawn without a workspace")
	})
}

func TestRun_SpawnFailure(t *testing.T) {
	r := New(&fakeSpawner{err: errors.New("binary not found")}, nil, testLogger())
	_, err := r.Run(context.Background(), Spec{Agent: "architect"})
	require.Error(t, err)
}
