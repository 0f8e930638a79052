package gateway

import (
	"log/slog"

	"github.com/dohr-michael/karton/internal/events"
	"github.com/dohr-michael/karton/internal/logs"
)

// Bridge returns a log stream callback publishing every entry on bus.
func Bridge(bus *events.Bus) func(logs.Entry) {
	return func(e logs.Entry) {
		t, err := e.ParsedTask()
		if err != nil {
			slog.Debug("log entry with unreadable task", "error", err)
		}

		var taskID string
		var headers map[string]any
		if t != nil {
			taskID = t.UID
			headers = t.Headers
		}

		switch e.Type {
		case logs.TypeLog:
			bus.Publish(events.NewTypedEvent(events.SourceLogs, events.LogPayload{
				Level:    e.Level,
				Message:  e.Message,
				Identity: e.Identity,
				TaskID:   taskID,
				Attrs:    e.Attrs,
			}))
		default:
			if e.Status == "" {
				return
			}
			bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{
				TaskID:   taskID,
				Identity: e.Identity,
				Status:   string(e.Status),
				Headers:  headers,
			}))
		}
	}
}
