// Package queue provides named in-memory job queues with bounded
// worker pools. Jobs are processed in push order up to the
// concurrency cap; worker failures never stop the queue.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/event"
)

// Well-known queue names.
const (
	Architect    = "architect"
	CodeWriter   = "code_writer"
	Reviewer     = "reviewer"
	Orchestrator = "orchestrator"
)

// Worker processes one event. Returned errors are logged; they do
// not affect subsequent jobs.
type Worker func(ctx context.Context, ev event.Event) error

// Stats receives queue gauge updates.
type Stats interface {
	QueueDepth(name string, depth int)
	JobDone(name string, failed bool)
}

// Queue is an ordered job stream drained by a fixed pool of workers.
type Queue struct {
	name      string
	jobs      chan event.Event
	worker    Worker
	stats     Stats
	logger    zerolog.Logger
	wg        sync.WaitGroup
	pending   atomic.Int64
	destroyed atomic.Bool
	drainMu   sync.Mutex
	drainCh   chan struct{}
	cancel    context.CancelFunc
}

// Config holds queue construction parameters.
type Config struct {
	Name        string
	Concurrency int
	Buffer      int
}

// New creates a queue and starts its worker pool immediately.
func New(ctx context.Context, cfg Config, worker Worker, stats Stats, logger zerolog.Logger) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		name:   cfg.Name,
		jobs:   make(chan event.Event, cfg.Buffer),
		worker: worker,
		stats:  stats,
		logger: logger.With().Str("component", "queue").Str("queue", cfg.Name).Logger(),
		cancel: cancel,
	}

	for i := 0; i < cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.run(ctx, i)
	}

	q.logger.Info().Int("concurrency", cfg.Concurrency).Msg("queue started")
	return q
}

// Push places ev at the queue tail without blocking. Events pushed
// after Destroy, or when the buffer is full, are dropped with a log.
func (q *Queue) Push(ev event.Event) {
	if q.destroyed.Load() {
		q.logger.Warn().Str("event_id", ev.ID).Msg("push after destroy, dropping")
		return
	}
	select {
	case q.jobs <- ev:
		depth := int(q.pending.Add(1))
		if q.stats != nil {
			q.stats.QueueDepth(q.name, depth)
		}
	default:
		q.logger.Error().Str("event_id", ev.ID).Msg("queue full, dropping event")
	}
}

// Len returns the number of jobs queued or running.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}

// Drained returns a channel that is closed once every pushed job has
// finished. Used by tests and the shutdown path.
func (q *Queue) Drained() <-chan struct{} {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	ch := make(chan struct{})
	if q.pending.Load() == 0 {
		close(ch)
		return ch
	}
	q.drainCh = ch
	return ch
}

// Destroy halts further processing. It is idempotent; in-flight jobs
// run to completion but queued jobs beyond them are abandoned when
// the worker context is cancelled.
func (q *Queue) Destroy() {
	if q.destroyed.Swap(true) {
		return
	}
	q.cancel()
	q.wg.Wait()
	q.logger.Info().Msg("queue destroyed")
}

func (q *Queue) run(ctx context.Context, id int) {
	defer q.wg.Done()
	log := q.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.jobs:
			q.process(ctx, ev, log)
		}
	}
}

func (q *Queue) process(ctx context.Context, ev event.Event, log zerolog.Logger) {
	failed := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				failed = true
				log.Error().
					Str("event_id", ev.ID).
					Str("type", string(ev.Type)).
					Msg(fmt.Sprintf("worker panic: %v", r))
			}
		}()
		if err := q.worker(ctx, ev); err != nil {
			failed = true
			log.Error().Err(err).
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Msg("job failed")
		}
	}()

	depth := int(q.pending.Add(-1))
	if q.stats != nil {
		q.stats.QueueDepth(q.name, depth)
		q.stats.JobDone(q.name, failed)
	}
	if depth == 0 {
		q.drainMu.Lock()
		if q.drainCh != nil {
			close(q.drainCh)
			q.drainCh = nil
		}
		q.drainMu.Unlock()
	}
}
