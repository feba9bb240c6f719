package manager

import (
	"time"

	"github.com/rs/zerolog"
)

// Event names published by the manager.
const (
	EventEnsureStart     = "ensure_start"
	EventEnsureReady     = "ensure_ready"
	EventEnsureError     = "ensure_error"
	EventUnloadStart     = "unload_start"
	EventUnloadDone      = "unload_done"
	EventSwitchDone      = "switch_done"
	EventSwitchError     = "switch_error"
	EventStopRequested   = "stop_requested"
	EventGenerationStart = "generation_start"
	EventGenerationDone  = "generation_done"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Time    time.Time
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes each event as a debug log line.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Debug().Str("event", e.Name)
	if e.ModelID != "" {
		ev = ev.Str("model", e.ModelID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}

// MultiPublisher fans an event out to every publisher in order.
type MultiPublisher []EventPublisher

func (mp MultiPublisher) Publish(e Event) {
	for _, p := range mp {
		if p != nil {
			p.Publish(e)
		}
	}
}
