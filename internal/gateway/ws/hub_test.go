package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dohr-michael/karton/internal/events"
)

type fakeTasks struct {
	sent []json.RawMessage
}

func (f *fakeTasks) SendTask(_ context.Context, params json.RawMessage) (string, error) {
	f.sent = append(f.sent, params)
	return "t1", nil
}

func (f *fakeTasks) GetTask(_ context.Context, uid string) (any, error) {
	if uid != "t1" {
		return nil, errors.New("task not found")
	}
	return map[string]string{"uid": uid}, nil
}

func newTestHub(t *testing.T, tasks TaskHandler) (*Hub, *events.Bus, *session) {
	t.Helper()
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)
	h := NewHub(bus, tasks)
	s := &session{outbox: make(chan Message, outboxSize)}
	h.add(s)
	return h, bus, s
}

func request(method, params string) Message {
	m := Message{Kind: KindRequest, ID: "1", Method: method}
	if params != "" {
		m.Params = json.RawMessage(params)
	}
	return m
}

func next(t *testing.T, s *session) Message {
	t.Helper()
	select {
	case m := <-s.outbox:
		return m
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestHandleTaskMethods(t *testing.T) {
	tasks := &fakeTasks{}
	h, _, s := newTestHub(t, tasks)
	ctx := context.Background()

	res := h.handle(ctx, s, request(MethodSendTask, `{"headers": {"type": "sample"}}`))
	if res.OK == nil || !*res.OK || res.ID != "1" {
		t.Fatalf("send_task: got %+v", res)
	}
	if got := res.Result.(map[string]string)["task_id"]; got != "t1" {
		t.Errorf("task_id: got %q, want t1", got)
	}
	if len(tasks.sent) != 1 {
		t.Errorf("sent: got %d, want 1", len(tasks.sent))
	}

	if res := h.handle(ctx, s, request(MethodGetTask, `{"uid": "t1"}`)); res.OK == nil || !*res.OK {
		t.Errorf("get_task: got %+v", res)
	}
	if res := h.handle(ctx, s, request(MethodGetTask, `{"uid": "ghost"}`)); res.OK == nil || *res.OK || res.Error == "" {
		t.Errorf("get_task missing: got %+v", res)
	}
	if res := h.handle(ctx, s, request(MethodGetTask, "")); res.Error != "invalid params" {
		t.Errorf("get_task without uid: got %+v", res)
	}
	if res := h.handle(ctx, s, request("reboot", "")); res.Error != "unknown method: reboot" {
		t.Errorf("unknown method: got %+v", res)
	}
}

func TestHandleWithoutTaskHandler(t *testing.T) {
	h, _, s := newTestHub(t, nil)

	for _, method := range []string{MethodSendTask, MethodGetTask} {
		res := h.handle(context.Background(), s, request(method, `{"uid": "t1"}`))
		if res.OK == nil || *res.OK {
			t.Errorf("%s: got %+v, want failure", method, res)
		}
	}
}

func TestWatchFiltersPushedEvents(t *testing.T) {
	h, bus, s := newTestHub(t, nil)

	res := h.handle(context.Background(), s, request(MethodWatch, `{"types": ["task.state"], "tasks": ["t1"]}`))
	if res.OK == nil || !*res.OK {
		t.Fatalf("watch: got %+v", res)
	}

	bus.Publish(events.NewTypedEvent(events.SourceLogs, events.LogPayload{Message: "noise", TaskID: "t1"}))
	bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "t2", Status: "Started"}))
	bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "t1", Status: "Finished"}))

	m := next(t, s)
	if m.Kind != KindEvent || m.Event == nil {
		t.Fatalf("got %+v, want an event", m)
	}
	p, ok := events.ExtractPayload[events.TaskStatePayload](*m.Event)
	if !ok || p.TaskID != "t1" || p.Status != "Finished" {
		t.Errorf("event: got %+v", p)
	}
	select {
	case m := <-s.outbox:
		t.Errorf("unexpected message %+v", m)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHistoryUsesWatchFilter(t *testing.T) {
	h, bus, s := newTestHub(t, nil)
	ctx := context.Background()

	bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "t1", Status: "Started"}))
	bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "t2", Status: "Started"}))

	h.handle(ctx, s, request(MethodWatch, `{"tasks": ["t2"]}`))
	res := h.handle(ctx, s, request(MethodHistory, `{"limit": 10}`))
	history, ok := res.Result.([]events.Event)
	if !ok || len(history) != 1 {
		t.Fatalf("history: got %+v", res.Result)
	}
	if p, _ := events.ExtractPayload[events.TaskStatePayload](history[0]); p.TaskID != "t2" {
		t.Errorf("task_id: got %q, want t2", p.TaskID)
	}
}
