package karton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/heartbeat"
	"github.com/dohr-michael/karton/internal/objectstore"
	"github.com/dohr-michael/karton/internal/task"
)

// DefaultPollTimeout bounds each blocking pop, and so how long shutdown and
// bind changes can go unnoticed.
const DefaultPollTimeout = 5 * time.Second

// transportBackoff is the pause after a failed pop.
const transportBackoff = time.Second

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Identity   string
	Info       string
	Binds      task.Binds
	Persistent bool
	Handler    Handler

	Broker broker.Broker
	Store  objectstore.Store
	Bucket string
	Router Router

	// PollTimeout defaults to DefaultPollTimeout.
	PollTimeout time.Duration
	// HeartbeatInterval enables the heartbeat writer when positive.
	HeartbeatInterval time.Duration
}

// Consumer claims tasks from the queues of its identity and runs its
// handler on them. It embeds a Producer so handlers can send child tasks.
type Consumer struct {
	*Producer

	binds        task.Binds
	handler      Handler
	hooks        *Hooks
	registration string
	pollTimeout  time.Duration
	heartbeat    *heartbeat.Writer
}

// NewConsumer validates cfg and creates a consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Identity == "" {
		return nil, fmt.Errorf("consumer identity is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("consumer %s: handler is required", cfg.Identity)
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("consumer %s: broker is required", cfg.Identity)
	}

	reg, err := Registration{
		Filters:    cfg.Binds,
		Info:       cfg.Info,
		Persistent: cfg.Persistent,
		Version:    Version,
	}.Encode()
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		Producer: NewProducer(ProducerConfig{
			Identity: cfg.Identity,
			Broker:   cfg.Broker,
			Store:    cfg.Store,
			Bucket:   cfg.Bucket,
			Router:   cfg.Router,
		}),
		binds:        cfg.Binds,
		handler:      cfg.Handler,
		hooks:        &Hooks{},
		registration: reg,
		pollTimeout:  cfg.PollTimeout,
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = DefaultPollTimeout
	}
	if cfg.HeartbeatInterval > 0 {
		c.heartbeat = heartbeat.NewWriter(cfg.Broker, cfg.Identity, cfg.HeartbeatInterval)
	}
	return c, nil
}

// Hooks returns the hook registry run around every task.
func (c *Consumer) Hooks() *Hooks {
	return c.hooks
}

// Registration returns the encoded registration of this consumer.
func (c *Consumer) Registration() string {
	return c.registration
}

// Loop registers the consumer's binds and processes tasks until ctx is
// cancelled (returns nil) or another instance replaces the binds (returns
// ErrBindsChanged). A task being processed when ctx is cancelled is
// finished first.
func (c *Consumer) Loop(ctx context.Context) error {
	log := slog.With("identity", c.identity)

	old, existed, err := Register(ctx, c.broker, c.identity, c.registration)
	if err != nil {
		return err
	}
	switch {
	case !existed:
		log.Info("service binds created")
	case old != c.registration:
		log.Info("binds changed, old service instances should exit soon")
	}
	for _, b := range c.binds {
		log.Info("binding on", "filter", b)
	}

	if c.heartbeat != nil {
		c.heartbeat.Start()
		defer c.heartbeat.Stop()
	}

	queues := ConsumerQueues(c.identity)
	for {
		if ctx.Err() != nil {
			log.Info("shutting down")
			return nil
		}

		live, err := CurrentRegistration(ctx, c.broker, c.identity)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("read binds", "error", err)
				sleep(ctx, transportBackoff)
			}
			continue
		}
		if live != c.registration {
			log.Info("binds changed, shutting down")
			return ErrBindsChanged
		}

		// A claimed id must reach Process, so the pop is not tied to ctx.
		queue, uid, err := c.broker.BlockingPop(context.WithoutCancel(ctx), queues, c.pollTimeout)
		switch {
		case errors.Is(err, broker.ErrNil):
			continue
		case err != nil:
			log.Error("pop task", "error", err)
			sleep(ctx, transportBackoff)
			continue
		}

		c.Process(context.WithoutCancel(ctx), queue, uid)
	}
}

// Process runs one claimed task id through fetch, bind check, hooks and
// handler, and returns the handler error. queue is where uid was popped
// from; a transient read failure pushes uid back onto it.
func (c *Consumer) Process(ctx context.Context, queue, uid string) error {
	log := slog.With("identity", c.identity, "task_id", uid)

	t, err := c.fetch(ctx, queue, uid)
	if err != nil {
		return err
	}
	ctx = task.WithCurrent(ctx, t)

	if _, ok := c.binds.Match(t); !ok {
		log.InfoContext(ctx, "task rejected because binds are no longer valid", "headers", t.Headers)
		c.declare(ctx, t, task.StateFinished)
		return nil
	}

	c.declare(ctx, t, task.StateStarted)
	log.InfoContext(ctx, "received new task")

	for _, f := range c.hooks.RunPre(ctx, t) {
		log.ErrorContext(ctx, "pre-hook failed", "hook", f.Name, "error", f.Err)
	}

	handlerErr := runHandler(ctx, c.handler, t)

	for _, f := range c.hooks.RunPost(ctx, t, handlerErr) {
		log.ErrorContext(ctx, "post-hook failed", "hook", f.Name, "error", f.Err)
	}

	c.incr(ctx, MetricConsumed)
	if handlerErr != nil {
		c.incr(ctx, MetricErrored)
		log.ErrorContext(ctx, "failed to process task", "error", handlerErr)
	} else {
		log.InfoContext(ctx, "task done")
	}

	if !t.IsAsynchronous() {
		c.declare(ctx, t, task.StateFinished)
	}
	return handlerErr
}

func (c *Consumer) fetch(ctx context.Context, queue, uid string) (*task.Task, error) {
	data, err := c.broker.Get(ctx, TaskKey(uid))
	if errors.Is(err, broker.ErrNil) {
		slog.WarnContext(ctx, "task record not found, dropping", "identity", c.identity, "task_id", uid)
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, uid)
	}
	if err != nil {
		slog.ErrorContext(ctx, "read task record, requeueing", "identity", c.identity, "task_id", uid, "error", err)
		if perr := c.broker.RPush(ctx, queue, uid); perr != nil {
			slog.ErrorContext(ctx, "requeue task", "task_id", uid, "queue", queue, "error", perr)
		}
		return nil, fmt.Errorf("read task %s: %w", uid, err)
	}

	t, err := task.Deserialize([]byte(data))
	if err != nil {
		return nil, deadLetter(ctx, c.broker, uid, c.identity, err)
	}
	return t, nil
}

func (c *Consumer) declare(ctx context.Context, t *task.Task, state task.State) {
	if err := DeclareState(ctx, c.broker, t, state, c.identity); err != nil {
		slog.ErrorContext(ctx, "declare task state", "task_id", t.UID, "state", state, "error", err)
	}
}

func (c *Consumer) incr(ctx context.Context, m Metric) {
	if _, err := c.broker.HIncrBy(ctx, string(m), c.identity, 1); err != nil {
		slog.WarnContext(ctx, "increment metric", "metric", m, "error", err)
	}
}
