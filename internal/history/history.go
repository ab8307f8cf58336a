package history

import (
	"context"
	"time"

	"github.com/rs/xid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventRegister   EventType = "register"
	EventUnregister EventType = "unregister"
	EventStart      EventType = "start"  // start requested
	EventActive     EventType = "active" // daemon signalled readiness
	EventStop       EventType = "stop"   // stop requested
	EventTerm       EventType = "term"   // child reaped
	EventReset      EventType = "reset"  // terminal state acknowledged
	EventLogRotate  EventType = "logrotate"
	EventError      EventType = "error"
)

// Record is the daemon snapshot attached to an event.
type Record struct {
	Name    string `json:"name"`
	Command string `json:"command,omitempty"`
	PID     int    `json:"pid"`
	State   string `json:"state"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(t EventType, rec Record) Event {
	return Event{ID: xid.New().String(), Type: t, OccurredAt: time.Now().UTC(), Record: rec}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
