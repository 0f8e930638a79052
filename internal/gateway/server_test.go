package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/events"
	"github.com/dohr-michael/karton/internal/gateway/ws"
	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/logs"
	"github.com/dohr-michael/karton/internal/task"
)

func newTestServer(t *testing.T) (*Server, broker.Broker) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	b := broker.NewMemory()
	producer := karton.NewProducer(karton.ProducerConfig{Identity: "karton.gateway", Broker: b})
	srv := NewServer(Options{
		Bus:    bus,
		Broker: b,
		Tasks:  NewTaskService(producer, bus),
		Host:   "localhost",
	})
	t.Cleanup(srv.hub.Close)
	return srv, b
}

func serve(srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestHandleEvents_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty array, got %d items", len(body))
	}
}

func TestHandleEvents_LimitParam(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := range 10 {
		srv.bus.Publish(events.NewTypedEvent(events.SourceLogs, events.LogPayload{Message: strconv.Itoa(i)}))
	}

	w := serve(srv, http.MethodGet, "/api/events?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}

	if w := serve(srv, http.MethodGet, "/api/events?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", w.Code)
	}
}

func TestSendAndGetTask(t *testing.T) {
	srv, b := newTestServer(t)
	ctx := context.Background()

	reg, _ := karton.Registration{Filters: task.Binds{{"type": "sample"}}, Persistent: true}.Encode()
	if _, _, err := karton.Register(ctx, b, "karton.classifier", reg); err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"headers": {"type": "sample"}, "payload": {"n": 1}, "priority": "high"}`)
	w := serve(srv, http.MethodPost, "/api/tasks", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var sent map[string]string
	if err := json.NewDecoder(w.Body).Decode(&sent); err != nil {
		t.Fatal(err)
	}
	uid := sent["task_id"]

	queued, _ := b.LRange(ctx, karton.QueueKey(task.PriorityHigh, "karton.classifier"), 0, -1)
	if len(queued) != 1 || queued[0] != uid {
		t.Errorf("queue: got %v, want [%s]", queued, uid)
	}

	w = serve(srv, http.MethodGet, "/api/tasks/"+uid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var view struct {
		Task   map[string]any    `json:"task"`
		States map[string]string `json:"states"`
	}
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Task["uid"] != uid {
		t.Errorf("uid: got %v, want %s", view.Task["uid"], uid)
	}

	history := srv.bus.History(1)
	if len(history) != 1 || history[0].Type != events.EventTaskSent {
		t.Errorf("expected task.sent event, got %+v", history)
	}
}

func TestSendTaskRejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{`{}`, `{"headers": {"type": "x"}, "priority": "urgent"}`, `not json`} {
		w := serve(srv, http.MethodPost, "/api/tasks", []byte(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", body, w.Code)
		}
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/tasks/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestHandleBindsAndMetrics(t *testing.T) {
	srv, b := newTestServer(t)
	ctx := context.Background()

	reg, _ := karton.Registration{Filters: task.Binds{{"type": "sample"}}, Info: "classifier"}.Encode()
	karton.Register(ctx, b, "karton.classifier", reg)
	b.HIncrBy(ctx, string(karton.MetricConsumed), "karton.classifier", 3)

	w := serve(srv, http.MethodGet, "/api/binds", nil)
	var binds []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&binds); err != nil {
		t.Fatal(err)
	}
	if len(binds) != 1 || binds[0]["identity"] != "karton.classifier" || binds[0]["status"] != "dead" {
		t.Errorf("binds: got %v", binds)
	}

	w = serve(srv, http.MethodGet, "/api/metrics", nil)
	var metrics map[string]map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&metrics); err != nil {
		t.Fatal(err)
	}
	if metrics["karton.metrics.consumed"]["karton.classifier"] != 3 {
		t.Errorf("metrics: got %v", metrics)
	}
}

func TestBridgePublishesEntries(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()

	tk := task.New(task.Headers{"type": "sample"})
	data, _ := task.Serialize(tk)

	publish := Bridge(bus)
	publish(logs.Entry{Type: logs.TypeLog, Level: "INFO", Message: "hello", Identity: "karton.x", Task: data})
	publish(logs.Entry{Type: karton.OperationType, Status: task.StateFinished, Identity: "karton.x", Task: data})

	history := bus.History(2)
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	logEvent, ok := events.ExtractPayload[events.LogPayload](history[0])
	if !ok || logEvent.TaskID != tk.UID || logEvent.Message != "hello" {
		t.Errorf("log event: got %+v", logEvent)
	}
	state, ok := events.ExtractPayload[events.TaskStatePayload](history[1])
	if !ok || state.Status != "Finished" || state.Headers["type"] != "sample" {
		t.Errorf("state event: got %+v", state)
	}
}

func dialWS(t *testing.T, ctx context.Context, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func call(t *testing.T, ctx context.Context, conn *websocket.Conn, method string, params any) ws.Message {
	t.Helper()
	// Events pushed before the response are skipped.
	raw, _ := json.Marshal(params)
	if err := wsjson.Write(ctx, conn, ws.Message{Kind: ws.KindRequest, ID: method, Method: method, Params: raw}); err != nil {
		t.Fatal(err)
	}
	var res ws.Message
	for {
		var m ws.Message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			t.Fatal(err)
		}
		if m.Kind == ws.KindResponse {
			res = m
			break
		}
	}
	if res.Kind != ws.KindResponse || res.ID != method || res.OK == nil || !*res.OK {
		t.Fatalf("%s: unexpected response %+v", method, res)
	}
	return res
}

func TestWebSocketGetTask(t *testing.T) {
	srv, b := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tk := task.New(task.Headers{"type": "sample"})
	data, _ := task.Serialize(tk)
	b.Set(ctx, karton.TaskKey(tk.UID), string(data))

	conn := dialWS(t, ctx, srv)
	res := call(t, ctx, conn, ws.MethodGetTask, map[string]string{"uid": tk.UID})

	payload, _ := json.Marshal(res.Result)
	if !strings.Contains(string(payload), tk.UID) {
		t.Errorf("payload should contain the task: %s", payload)
	}
}

func TestWebSocketWatchSubmittedTask(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv)
	res := call(t, ctx, conn, ws.MethodSendTask, map[string]any{"headers": map[string]any{"type": "sample"}})
	uid, _ := res.Result.(map[string]any)["task_id"].(string)
	if uid == "" {
		t.Fatalf("send_task: got %+v", res.Result)
	}

	call(t, ctx, conn, ws.MethodWatch, ws.Filter{Types: []events.EventType{events.EventTaskState}, Tasks: []string{uid}})

	srv.bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: "other", Status: "Started"}))
	srv.bus.Publish(events.NewTypedEvent(events.SourceLogs, events.TaskStatePayload{TaskID: uid, Status: "Finished"}))

	var m ws.Message
	if err := wsjson.Read(ctx, conn, &m); err != nil {
		t.Fatal(err)
	}
	if m.Kind != ws.KindEvent || m.Event == nil {
		t.Fatalf("got %+v, want an event", m)
	}
	state, ok := events.ExtractPayload[events.TaskStatePayload](*m.Event)
	if !ok || state.TaskID != uid || state.Status != "Finished" {
		t.Errorf("event: got %+v", state)
	}
}
