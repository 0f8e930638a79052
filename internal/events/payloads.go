package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// LogPayload is a record read from the log stream.
type LogPayload struct {
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Identity string         `json:"identity"`
	TaskID   string         `json:"task_id,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

func (LogPayload) EventType() EventType { return EventLog }

// TaskStatePayload reports a state declared by an identity.
type TaskStatePayload struct {
	TaskID   string         `json:"task_id"`
	Identity string         `json:"identity"`
	Status   string         `json:"status"`
	Headers  map[string]any `json:"headers,omitempty"`
}

func (TaskStatePayload) EventType() EventType { return EventTaskState }

// TaskSentPayload reports a task published outside of a consumer.
type TaskSentPayload struct {
	TaskID  string         `json:"task_id"`
	Headers map[string]any `json:"headers"`
}

func (TaskSentPayload) EventType() EventType { return EventTaskSent }

// ScheduleTriggerPayload reports a schedule entry firing.
type ScheduleTriggerPayload struct {
	Entry   string `json:"entry"`
	Trigger string `json:"trigger"`
	TaskID  string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

// NewTypedEvent creates an event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes the payload of e into T.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
