package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/events"
	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/task"
)

// ErrInvalidRequest is returned for task submissions that cannot be sent.
var ErrInvalidRequest = errors.New("invalid task request")

// TaskService publishes and inspects tasks for the HTTP and WS APIs.
type TaskService struct {
	producer *karton.Producer
	bus      *events.Bus
}

// NewTaskService creates a task service sending through producer.
func NewTaskService(producer *karton.Producer, bus *events.Bus) *TaskService {
	return &TaskService{producer: producer, bus: bus}
}

// SendRequest describes a task to publish. Payload values are plain JSON;
// resources are not accepted over the API.
type SendRequest struct {
	Headers    task.Headers   `json:"headers"`
	Payload    map[string]any `json:"payload,omitempty"`
	Persistent map[string]any `json:"persistent,omitempty"`
	Priority   task.Priority  `json:"priority,omitempty"`
}

// TaskView is a task record with the state declared by each identity.
type TaskView struct {
	Task   *task.Task            `json:"task,omitempty"`
	States map[string]task.State `json:"states"`
}

// Send publishes a new root task and returns its UID.
func (s *TaskService) Send(ctx context.Context, req SendRequest) (string, error) {
	if len(req.Headers) == 0 {
		return "", fmt.Errorf("%w: headers are required", ErrInvalidRequest)
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	}

	opts := []task.Option{
		task.WithPayload(task.Payload(req.Payload)),
		task.WithPersistentPayload(task.Payload(req.Persistent)),
	}
	if req.Priority != "" {
		opts = append(opts, task.WithPriority(req.Priority))
	}
	t := task.New(req.Headers, opts...)

	// Sent from the API, never as the child of a request-scoped task.
	if err := s.producer.Send(context.WithoutCancel(ctx), t); err != nil {
		return "", err
	}

	if s.bus != nil {
		s.bus.Publish(events.NewTypedEvent(events.SourceGateway, events.TaskSentPayload{
			TaskID:  t.UID,
			Headers: t.Headers,
		}))
	}
	return t.UID, nil
}

// Get returns the record and states of a task. A task whose record expired
// but whose states remain is still reported.
func (s *TaskService) Get(ctx context.Context, uid string) (*TaskView, error) {
	b := s.producer.Broker()

	states, err := karton.States(ctx, b, uid)
	if err != nil {
		return nil, err
	}

	view := &TaskView{States: states}
	data, err := b.Get(ctx, karton.TaskKey(uid))
	switch {
	case errors.Is(err, broker.ErrNil):
		if len(states) == 0 {
			return nil, fmt.Errorf("%w: %s", karton.ErrTaskNotFound, uid)
		}
	case err != nil:
		return nil, fmt.Errorf("read task %s: %w", uid, err)
	default:
		t, err := task.Deserialize([]byte(data))
		if err != nil {
			return nil, err
		}
		view.Task = t
	}
	return view, nil
}

// SendTask implements ws.TaskHandler.
func (s *TaskService) SendTask(ctx context.Context, params json.RawMessage) (string, error) {
	var req SendRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.Send(ctx, req)
}

// GetTask implements ws.TaskHandler.
func (s *TaskService) GetTask(ctx context.Context, uid string) (any, error) {
	return s.Get(ctx, uid)
}
