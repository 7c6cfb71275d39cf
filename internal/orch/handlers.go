package orch

import (
	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/queue"
)

// RegisterHandlers declares the routing table. Each handler is a pure
// predicate plus a target queue; the dispatcher walks them in this
// order and the first match wins.
func RegisterHandlers(d *event.Dispatcher) {
	// Chat intake starts a design.
	d.Register(event.HandlerFunc{
		Target: queue.Architect,
		Match:  func(ev event.Event) bool { return ev.Type == event.TaskRequested },
	})

	// Reviewer feedback on a published design loops the architect.
	d.Register(event.HandlerFunc{
		Target: queue.Architect,
		Match:  func(ev event.Event) bool { return ev.Type == event.PageComment },
	})

	// Human PR feedback goes straight to the code writer.
	d.Register(event.HandlerFunc{
		Target: queue.CodeWriter,
		Match: func(ev event.Event) bool {
			return ev.Type == event.PRChangesRequested || ev.Type == event.PRComment
		},
	})

	// Everything that mutates pipeline state is serialised on the
	// orchestrator queue.
	d.Register(event.HandlerFunc{
		Target: queue.Orchestrator,
		Match: func(ev event.Event) bool {
			switch ev.Type {
			case event.PageApproved, event.StageCompleted,
				event.CIFailed, event.CIPassed,
				event.PRApproved, event.PRMerged,
				event.AgentCompleted:
				return true
			}
			return false
		},
	})
}
