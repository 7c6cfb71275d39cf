package event

import (
	"github.com/rs/zerolog"
)

// Handler declares interest in events. Matches must be a pure
// predicate; the handler body runs later on the target queue's
// worker, never at dispatch time.
type Handler interface {
	Matches(Event) bool
	Queue() string
}

// Pusher is the queue surface the dispatcher needs.
type Pusher interface {
	Push(Event)
}

// Recorder observes dispatch outcomes.
type Recorder interface {
	EventRouted(t string)
	EventDropped(t string)
}

// Dispatcher routes each event to the first matching handler's queue,
// in handler registration order.
type Dispatcher struct {
	handlers []Handler
	queues   map[string]Pusher
	recorder Recorder
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given named queues.
func NewDispatcher(queues map[string]Pusher, recorder Recorder, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queues:   queues,
		recorder: recorder,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register appends a handler. Registration order is the tie-break:
// the first handler whose Matches returns true receives the event.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch routes ev to at most one handler's queue. Events that
// match no handler are logged and dropped.
func (d *Dispatcher) Dispatch(ev Event) {
	for _, h := range d.handlers {
		if !h.Matches(ev) {
			continue
		}
		q, ok := d.queues[h.Queue()]
		if !ok {
			d.logger.Error().
				Str("queue", h.Queue()).
				Str("type", string(ev.Type)).
				Msg("handler targets unknown queue")
			return
		}
		d.logger.Debug().
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Str("queue", h.Queue()).
			Msg("event routed")
		q.Push(ev)
		if d.recorder != nil {
			d.recorder.EventRouted(string(ev.Type))
		}
		return
	}

	d.logger.Warn().
		Str("event_id", ev.ID).
		Str("type", string(ev.Type)).
		Str("source", ev.Source).
		Msg("no handler matched, dropping event")
	if d.recorder != nil {
		d.recorder.EventDropped(string(ev.Type))
	}
}

// HandlerFunc adapts a predicate and queue name into a Handler.
type HandlerFunc struct {
	Match  func(Event) bool
	Target string
}

func (h HandlerFunc) Matches(ev Event) bool { return h.Match(ev) }
func (h HandlerFunc) Queue() string         { return h.Target }
