// Package ws serves the live task channel of the gateway. A client submits
// and inspects tasks and receives the events it watches.
package ws

import (
	"encoding/json"
	"slices"

	"github.com/dohr-michael/karton/internal/events"
)

// Message kinds.
const (
	KindRequest  = "req"
	KindResponse = "res"
	KindEvent    = "event"
)

// Request methods.
const (
	MethodSendTask = "send_task"
	MethodGetTask  = "get_task"
	MethodHistory  = "history"
	MethodWatch    = "watch"
)

// Message is the envelope of every frame. Requests carry Method and Params,
// responses carry OK with Result or Error, events carry Event.
type Message struct {
	Kind   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	OK     *bool           `json:"ok,omitempty"`
	Result any             `json:"payload,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  *events.Event   `json:"event,omitempty"`
}

func success(id string, result any) Message {
	ok := true
	return Message{Kind: KindResponse, ID: id, OK: &ok, Result: result}
}

func failure(id, msg string) Message {
	ok := false
	return Message{Kind: KindResponse, ID: id, OK: &ok, Error: msg}
}

func notify(e events.Event) Message {
	return Message{Kind: KindEvent, Event: &e}
}

// Filter selects the events pushed to a client. Empty Types accepts every
// event type; empty Tasks accepts events of any task, including events
// not tied to a task.
type Filter struct {
	Types []events.EventType `json:"types,omitempty"`
	Tasks []string           `json:"tasks,omitempty"`
}

// Match reports whether e passes the filter. The task of an event is the
// task_id field of its payload.
func (f Filter) Match(e events.Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if len(f.Tasks) == 0 {
		return true
	}
	id, _ := e.Payload["task_id"].(string)
	return id != "" && slices.Contains(f.Tasks, id)
}
