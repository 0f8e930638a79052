package scheduler

import (
	"fmt"

	"github.com/dohr-michael/karton/internal/config"
	"github.com/dohr-michael/karton/internal/events"
)

// MatchEvent returns true if the event matches the given trigger.
// Events emitted by the scheduler itself are always rejected to prevent loops.
func MatchEvent(e events.Event, trigger *config.EventTrigger) bool {
	if trigger == nil {
		return false
	}

	// Reject scheduler-originated events to prevent infinite loops
	if e.Source == events.SourceScheduler {
		return false
	}

	// Event type must match
	if string(e.Type) != trigger.Event {
		return false
	}

	// All filter key/value pairs must match in the payload
	for key, expected := range trigger.Filter {
		val, ok := e.Payload[key]
		if !ok {
			return false
		}
		if s, ok := val.(string); ok {
			if s != expected {
				return false
			}
			continue
		}
		if fmt.Sprint(val) != expected {
			return false
		}
	}

	return true
}
