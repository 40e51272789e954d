package realtime

import (
	"time"

	"github.com/mbd888/wardflow/internal/workflow"
)

// Emitter forwards workflow session events to the hub's subscribers.
// It satisfies workflow.EventEmitter and never blocks the caller.
type Emitter struct {
	hub *Hub
}

// NewEmitter wraps a hub as a workflow event sink.
func NewEmitter(hub *Hub) *Emitter {
	return &Emitter{hub: hub}
}

var _ workflow.EventEmitter = (*Emitter)(nil)

// Emit publishes a workflow event to all matching WebSocket clients.
func (e *Emitter) Emit(event workflow.Event) {
	e.hub.Broadcast(&Event{
		Type:      event.Type,
		SessionID: event.SessionID,
		State:     event.State,
		Timestamp: time.Now(),
		Data:      event.Payload,
	})
}
