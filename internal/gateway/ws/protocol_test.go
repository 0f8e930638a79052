package ws

import (
	"encoding/json"
	"testing"

	"github.com/dohr-michael/karton/internal/events"
)

func TestFilterMatch(t *testing.T) {
	state := events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "t1", Status: "Finished"})
	log := events.NewTypedEvent(events.SourceLogs, events.LogPayload{Message: "hello"})

	tests := []struct {
		name   string
		filter Filter
		event  events.Event
		want   bool
	}{
		{"zero filter", Filter{}, log, true},
		{"type match", Filter{Types: []events.EventType{events.EventTaskState}}, state, true},
		{"type mismatch", Filter{Types: []events.EventType{events.EventTaskState}}, log, false},
		{"task match", Filter{Tasks: []string{"t0", "t1"}}, state, true},
		{"task mismatch", Filter{Tasks: []string{"t2"}}, state, false},
		{"event without task", Filter{Tasks: []string{"t1"}}, log, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.event); got != tt.want {
				t.Errorf("Match: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	data, err := json.Marshal(failure("req-6", "something went wrong"))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != KindResponse || raw["id"] != "req-6" || raw["ok"] != false {
		t.Errorf("got %s", data)
	}
	if _, ok := raw["payload"]; ok {
		t.Errorf("failure must not carry a payload: %s", data)
	}

	e := events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "t1", Status: "Started"})
	data, err = json.Marshal(notify(e))
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != KindEvent || got.Event == nil || got.Event.ID != e.ID {
		t.Errorf("got %+v", got)
	}
}
