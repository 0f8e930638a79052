package karton

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/objectstore"
	"github.com/dohr-michael/karton/internal/task"
)

// DefaultBucket receives resources that were not assigned one.
const DefaultBucket = "karton"

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Identity string
	Broker   broker.Broker
	Store    objectstore.Store
	// Bucket defaults to DefaultBucket.
	Bucket string
	// Router defaults to a BindRouter on Broker.
	Router Router
	// UploadConcurrency bounds parallel resource uploads; defaults to 4.
	UploadConcurrency int
}

// Producer publishes tasks.
type Producer struct {
	identity    string
	broker      broker.Broker
	store       objectstore.Store
	bucket      string
	router      Router
	concurrency int
}

// NewProducer creates a producer.
func NewProducer(cfg ProducerConfig) *Producer {
	p := &Producer{
		identity:    cfg.Identity,
		broker:      cfg.Broker,
		store:       cfg.Store,
		bucket:      cfg.Bucket,
		router:      cfg.Router,
		concurrency: cfg.UploadConcurrency,
	}
	if p.bucket == "" {
		p.bucket = DefaultBucket
	}
	if p.router == nil {
		p.router = NewBindRouter(cfg.Broker, 0)
	}
	if p.concurrency <= 0 {
		p.concurrency = 4
	}
	return p
}

// Identity returns the identity stamped as origin on sent tasks.
func (p *Producer) Identity() string {
	return p.identity
}

// Broker returns the broker tasks are published to.
func (p *Producer) Broker() broker.Broker {
	return p.broker
}

// Store returns the object store resources are uploaded to.
func (p *Producer) Store() objectstore.Store {
	return p.store
}

// Send publishes t. When ctx carries a current task, t becomes its child:
// it inherits the root, the persistent payload and the priority. The record
// is written before the id is pushed to any queue; nothing is retried.
// Tasks not built with task.New get a UID and the default priority.
func (p *Producer) Send(ctx context.Context, t *task.Task) error {
	if t.UID == "" {
		t.UID = task.GenerateUID()
	}
	if parent := task.Current(ctx); parent != nil {
		t.SetParent(parent)
		t.MergePersistentPayload(parent)
		t.Priority = parent.Priority
	}
	if err := t.Normalize(); err != nil {
		return fmt.Errorf("send task: %w", err)
	}
	t.Headers[task.HeaderOrigin] = p.identity
	t.LastUpdate = time.Now()

	var locals []*task.LocalResource
	for _, entry := range t.IterateResources() {
		if lr, ok := entry.Resource.(*task.LocalResource); ok {
			if lr.Bucket() == "" {
				lr.SetBucket(p.bucket)
			}
			locals = append(locals, lr)
		}
	}

	data, err := task.Serialize(t)
	if err != nil {
		return err
	}
	if err := p.broker.Set(ctx, TaskKey(t.UID), string(data)); err != nil {
		return fmt.Errorf("write task %s: %w", t.UID, err)
	}

	if err := p.upload(ctx, locals); err != nil {
		if derr := p.broker.Del(context.WithoutCancel(ctx), TaskKey(t.UID)); derr != nil {
			slog.WarnContext(ctx, "remove unpublished task record", "task_id", t.UID, "error", derr)
		}
		return err
	}

	destinations, err := p.router.Route(ctx, t)
	if err != nil {
		return fmt.Errorf("route task %s: %w", t.UID, err)
	}
	if len(destinations) == 0 {
		if err := p.broker.RPush(ctx, KeyTasks, t.UID); err != nil {
			return fmt.Errorf("push task %s: %w", t.UID, err)
		}
		slog.DebugContext(ctx, "task pushed to unrouted queue", "task_id", t.UID)
	} else if err := enqueue(ctx, p.broker, t.UID, t.Priority, destinations); err != nil {
		return err
	}

	if _, err := p.broker.HIncrBy(ctx, string(MetricProduced), p.identity, 1); err != nil {
		slog.WarnContext(ctx, "increment produced metric", "error", err)
	}
	slog.DebugContext(ctx, "task sent", "task_id", t.UID, "destinations", destinations)
	return nil
}

func (p *Producer) upload(ctx context.Context, resources []*task.LocalResource) error {
	if len(resources) == 0 {
		return nil
	}
	if p.store == nil {
		return fmt.Errorf("upload resources: no object store configured")
	}

	wp := pool.New().WithContext(ctx).WithMaxGoroutines(p.concurrency).WithCancelOnError()
	for _, r := range resources {
		wp.Go(func(ctx context.Context) error {
			return r.Upload(ctx, p.store)
		})
	}
	return wp.Wait()
}

// ContinueOption configures ContinueAsynchronous.
type ContinueOption func(*continueOptions)

type continueOptions struct {
	finish bool
}

// WithoutFinish leaves the task open when the continuation ends.
func WithoutFinish() ContinueOption {
	return func(o *continueOptions) { o.finish = false }
}

// ContinueAsynchronous runs fn with t as the current task, typically to
// complete an asynchronous task from outside its handler. When fn returns,
// fails or panics, t is declared Finished under the producer identity
// unless WithoutFinish is given. A panic is propagated after that.
func (p *Producer) ContinueAsynchronous(ctx context.Context, t *task.Task, fn func(ctx context.Context) error, opts ...ContinueOption) error {
	o := continueOptions{finish: true}
	for _, opt := range opts {
		opt(&o)
	}

	defer func() {
		r := recover()
		if o.finish {
			if err := DeclareState(context.WithoutCancel(ctx), p.broker, t, task.StateFinished, p.identity); err != nil {
				slog.ErrorContext(ctx, "declare task finished", "task_id", t.UID, "error", err)
			}
		}
		if r != nil {
			panic(r)
		}
	}()

	return fn(task.WithCurrent(ctx, t))
}
