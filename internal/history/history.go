package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart                 EventType = "start"
	EventAdopt                 EventType = "adopt"
	EventStop                  EventType = "stop"
	EventLaunchFailed          EventType = "launch_failed"
	EventTerminationIncomplete EventType = "termination_incomplete"
)

// Event is one supervisor lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// NullableError maps an empty error string to NULL for SQL sinks.
func (e Event) NullableError() any {
	if e.Error == "" {
		return nil
	}
	return e.Error
}
