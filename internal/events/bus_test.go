package events

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	got := make(chan Event, 4)
	bus.Subscribe(func(e Event) { got <- e }, EventLog)

	bus.Publish(NewTypedEvent(SourceLogs, TaskStatePayload{TaskID: "t1", Status: "Started"}))
	bus.Publish(NewTypedEvent(SourceLogs, LogPayload{Level: "INFO", Message: "hello"}))

	if e := receive(t, got); e.Type != EventLog {
		t.Errorf("type: got %s, want %s", e.Type, EventLog)
	}
	select {
	case e := <-got:
		t.Errorf("unexpected event %s", e.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	got := make(chan Event, 8)
	bus.Subscribe(func(e Event) { got <- e })

	for _, id := range []string{"a", "b", "c"} {
		bus.Publish(NewTypedEvent(SourceLogs, TaskStatePayload{TaskID: id, Status: "Started"}))
	}
	for _, want := range []string{"a", "b", "c"} {
		p, _ := ExtractPayload[TaskStatePayload](receive(t, got))
		if p.TaskID != want {
			t.Errorf("task_id: got %q, want %q", p.TaskID, want)
		}
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus(3)
	defer bus.Close()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		bus.Publish(NewTypedEvent(SourceLogs, TaskStatePayload{TaskID: id, Status: "Started"}))
	}

	history := bus.History(10)
	if len(history) != 3 {
		t.Fatalf("expected 3 events, got %d", len(history))
	}
	for i, want := range []string{"c", "d", "e"} {
		p, _ := ExtractPayload[TaskStatePayload](history[i])
		if p.TaskID != want {
			t.Errorf("history[%d]: got %q, want %q", i, p.TaskID, want)
		}
	}
	if got := bus.History(1); len(got) != 1 || got[0].ID != history[2].ID {
		t.Errorf("History(1): got %v", got)
	}
	if got := bus.History(0); got != nil {
		t.Errorf("History(0): got %v, want nil", got)
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		<-release
		mu.Lock()
		count++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		for range subscriberQueue * 3 {
			bus.Publish(NewTypedEvent(SourceLogs, LogPayload{Message: "x"}))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count > subscriberQueue+1 {
		t.Errorf("delivered %d events, want at most %d", count, subscriberQueue+1)
	}
}

func TestBusSubscriberPanicIsContained(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	got := make(chan Event, 2)
	bus.Subscribe(func(e Event) {
		if e.Type == EventLog {
			panic("bad subscriber")
		}
		got <- e
	})

	bus.Publish(NewTypedEvent(SourceLogs, LogPayload{Message: "boom"}))
	bus.Publish(NewTypedEvent(SourceLogs, TaskStatePayload{TaskID: "t1", Status: "Finished"}))

	if e := receive(t, got); e.Type != EventTaskState {
		t.Errorf("type: got %s, want %s", e.Type, EventTaskState)
	}
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus(4)

	got := make(chan Event, 4)
	unsubscribe := bus.Subscribe(func(e Event) { got <- e })
	unsubscribe()
	unsubscribe()

	bus.Publish(NewTypedEvent(SourceLogs, LogPayload{Message: "after unsubscribe"}))
	select {
	case <-got:
		t.Error("event delivered after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}

	late := bus.Subscribe(func(e Event) { got <- e })
	bus.Close()
	bus.Close()
	late()

	bus.Publish(NewTypedEvent(SourceLogs, LogPayload{Message: "after close"}))
	if n := len(bus.History(10)); n != 1 {
		t.Errorf("history after close: got %d events, want 1", n)
	}
	if stop := bus.Subscribe(func(Event) {}); stop == nil {
		t.Error("Subscribe after Close must return a callable function")
	}
}

func TestExtractPayloadChecksType(t *testing.T) {
	e := NewTypedEvent(SourceScheduler, ScheduleTriggerPayload{Entry: "nightly", TaskID: "t1"})

	if _, ok := ExtractPayload[LogPayload](e); ok {
		t.Error("expected mismatch for a different payload type")
	}
	p, ok := ExtractPayload[ScheduleTriggerPayload](e)
	if !ok || p.Entry != "nightly" || p.TaskID != "t1" {
		t.Errorf("got (%+v, %v)", p, ok)
	}
}
