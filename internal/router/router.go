// Package router fans out adapter-initiated DAP events to typed,
// per-event-name subscribers and, unconditionally, to the shared event
// bus as a normalized record. Events are delivered in the order they
// arrive on the socket.
package router

import (
	"encoding/json"

	"github.com/dbgbridge/dbgbridge/internal/bus"
	"github.com/dbgbridge/dbgbridge/internal/transport"
)

// Handler processes one event's raw body.
type Handler func(body json.RawMessage)

// Router dispatches transport.Envelope values of Kind == KindEvent.
type Router struct {
	bus      *bus.Bus
	handlers map[string][]Handler
	sessionID string
}

// New creates a Router that publishes every event it sees to b, tagged
// with sessionID.
func New(b *bus.Bus, sessionID string) *Router {
	return &Router{
		bus:       b,
		handlers:  make(map[string][]Handler),
		sessionID: sessionID,
	}
}

// On registers fn to run whenever an event named name arrives, in
// addition to (and before) the bus publish.
func (r *Router) On(name string, fn Handler) {
	r.handlers[name] = append(r.handlers[name], fn)
}

// Dispatch routes one event envelope. Non-event envelopes are ignored;
// callers are expected to have already handed KindResponse envelopes to
// the Correlator and to have dropped KindRequest envelopes (this system
// never receives adapter-initiated requests).
func (r *Router) Dispatch(env transport.Envelope) {
	if env.Kind != transport.KindEvent {
		return
	}

	for _, fn := range r.handlers[env.Event] {
		fn(env.Body)
	}

	kind := env.Event
	if _, known := r.handlers[env.Event]; !known {
		kind = "unknown:" + env.Event
	}

	var payload map[string]any
	_ = json.Unmarshal(env.Body, &payload)

	r.bus.Publish(bus.Event{
		Kind:      kind,
		SessionID: r.sessionID,
		Payload:   payload,
	})
}
