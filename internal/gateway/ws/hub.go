package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sourcegraph/conc"

	"github.com/dohr-michael/karton/internal/events"
)

// TaskHandler serves task requests received over the socket.
type TaskHandler interface {
	SendTask(ctx context.Context, params json.RawMessage) (string, error)
	GetTask(ctx context.Context, uid string) (any, error)
}

const (
	outboxSize   = 256
	historyLimit = 50
)

// Hub tracks client sessions and pushes bus events to the ones watching them.
type Hub struct {
	bus   *events.Bus
	tasks TaskHandler

	mu          sync.Mutex
	sessions    map[*session]struct{}
	unsubscribe func()
}

type session struct {
	conn   *websocket.Conn
	outbox chan Message

	mu     sync.Mutex
	filter Filter
}

// NewHub creates a hub fed by bus. tasks may be nil, in which case task
// methods are rejected.
func NewHub(bus *events.Bus, tasks TaskHandler) *Hub {
	h := &Hub{
		bus:      bus,
		tasks:    tasks,
		sessions: make(map[*session]struct{}),
	}
	h.unsubscribe = bus.Subscribe(h.push)
	return h
}

func (h *Hub) push(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		if s.wants(e) {
			s.queue(notify(e))
		}
	}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.sessions))
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
	slog.Info("ws client disconnected", "clients", len(h.sessions))
}

// ServeWS upgrades the request and serves the session until either side
// closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s := &session{conn: conn, outbox: make(chan Message, outboxSize)}
	h.add(s)
	defer h.remove(s)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		s.write(ctx)
	})
	wg.Go(func() {
		defer cancel()
		h.read(ctx, s)
	})
	wg.Wait()
}

func (h *Hub) read(ctx context.Context, s *session) {
	for {
		var m Message
		if err := wsjson.Read(ctx, s.conn, &m); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("ws read", "error", err)
			}
			return
		}
		if m.Kind != KindRequest {
			slog.Debug("ws unexpected message", "type", m.Kind)
			continue
		}
		if !s.queue(h.handle(ctx, s, m)) {
			slog.Warn("ws client too slow, response dropped", "id", m.ID, "method", m.Method)
		}
	}
}

func (s *session) write(ctx context.Context) {
	for {
		select {
		case m := <-s.outbox:
			if err := wsjson.Write(ctx, s.conn, m); err != nil {
				slog.Debug("ws write", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) queue(m Message) bool {
	select {
	case s.outbox <- m:
		return true
	default:
		return false
	}
}

func (s *session) wants(e events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Match(e)
}

func (s *session) watch(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (h *Hub) handle(ctx context.Context, s *session, m Message) Message {
	switch m.Method {
	case MethodSendTask:
		if h.tasks == nil {
			return failure(m.ID, "task submission not available")
		}
		uid, err := h.tasks.SendTask(ctx, m.Params)
		if err != nil {
			return failure(m.ID, err.Error())
		}
		return success(m.ID, map[string]string{"task_id": uid})

	case MethodGetTask:
		if h.tasks == nil {
			return failure(m.ID, "task lookup not available")
		}
		var params struct {
			UID string `json:"uid"`
		}
		if err := decodeParams(m.Params, &params); err != nil || params.UID == "" {
			return failure(m.ID, "invalid params")
		}
		view, err := h.tasks.GetTask(ctx, params.UID)
		if err != nil {
			return failure(m.ID, err.Error())
		}
		return success(m.ID, view)

	case MethodHistory:
		var params struct {
			Limit int `json:"limit"`
		}
		if err := decodeParams(m.Params, &params); err != nil {
			return failure(m.ID, "invalid params")
		}
		if params.Limit <= 0 {
			params.Limit = historyLimit
		}
		out := []events.Event{}
		for _, e := range h.bus.History(params.Limit) {
			if s.wants(e) {
				out = append(out, e)
			}
		}
		return success(m.ID, out)

	case MethodWatch:
		var f Filter
		if err := decodeParams(m.Params, &f); err != nil {
			return failure(m.ID, "invalid params")
		}
		s.watch(f)
		return success(m.ID, f)

	default:
		return failure(m.ID, "unknown method: "+m.Method)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Close stops event delivery and closes every client connection.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutdown")
	}
}
