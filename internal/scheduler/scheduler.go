package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/karton/internal/config"
	"github.com/dohr-michael/karton/internal/events"
	"github.com/dohr-michael/karton/internal/task"
)

// Sender publishes tasks. *karton.Producer satisfies it.
type Sender interface {
	Send(ctx context.Context, t *task.Task) error
}

// Config holds dependencies for the scheduler.
type Config struct {
	Sender  Sender
	Bus     *events.Bus // nil-safe: event triggers and trigger events are disabled without a bus
	Entries []config.ScheduleEntry
	State   *StateStore // nil-safe: run state is kept in memory only
}

// Scheduler sends tasks built from task files on cron, interval and event triggers.
type Scheduler struct {
	sender Sender
	bus    *events.Bus
	state  *StateStore

	mu       sync.Mutex
	entries  map[string]*Entry
	restored sync.Once

	// now is replaced in tests.
	now func() time.Time
}

// New validates the configured entries and creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("scheduler requires a sender")
	}
	s := &Scheduler{
		sender:  cfg.Sender,
		bus:     cfg.Bus,
		state:   cfg.State,
		entries: make(map[string]*Entry, len(cfg.Entries)),
		now:     time.Now,
	}
	for _, ce := range cfg.Entries {
		if _, dup := s.entries[ce.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule entry %s", ce.Name)
		}
		e, err := NewEntry(ce)
		if err != nil {
			return nil, err
		}
		s.entries[e.Name] = e
	}
	return s, nil
}

// Run restores persisted run state, then fires entries until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.restored.Do(func() { s.restore(ctx) })

	slog.Info("scheduler started", "entries", len(s.entries))
	defer slog.Info("scheduler stopped")

	if s.bus != nil {
		unsubscribe := s.bus.Subscribe(func(e events.Event) {
			s.handleEvent(ctx, e)
		})
		defer unsubscribe()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, time.Minute, s.checkCron)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, time.Second, s.checkIntervals)
	}()
	wg.Wait()
	return nil
}

// Entries returns a snapshot of all entries sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Trigger fires an entry immediately, ignoring cooldown and disabled state.
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	s.restored.Do(func() { s.restore(ctx) })

	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		s.markRun(e, s.now())
	}
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("schedule entry not found: %s", name)
	}
	return s.fire(ctx, e, "manual")
}

func (s *Scheduler) restore(ctx context.Context) {
	if s.state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		st, err := s.state.Get(ctx, e.Name)
		if err != nil {
			slog.Warn("scheduler: failed to load run state", "entry", e.Name, "error", err)
			continue
		}
		e.RunCount = st.RunCount
		e.LastRun = st.LastRunAt
		if e.MaxRuns > 0 && e.RunCount >= e.MaxRuns {
			e.Enabled = false
		}
	}
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, check func(context.Context, time.Time)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			check(ctx, now)
		}
	}
}

func (s *Scheduler) checkCron(ctx context.Context, now time.Time) {
	s.fireDue(ctx, "cron", func(e *Entry) bool {
		return e.Cron != nil && e.Cron.Matches(now) && now.Sub(e.LastRun) >= e.Cooldown
	}, now)
}

func (s *Scheduler) checkIntervals(ctx context.Context, now time.Time) {
	s.fireDue(ctx, "interval", func(e *Entry) bool {
		return e.Interval > 0 && now.Sub(e.LastRun) >= e.Interval
	}, now)
}

func (s *Scheduler) handleEvent(ctx context.Context, ev events.Event) {
	now := s.now()
	s.fireDue(ctx, "event:"+string(ev.Type), func(e *Entry) bool {
		return MatchEvent(ev, e.OnEvent) && now.Sub(e.LastRun) >= e.Cooldown
	}, now)
}

// fireDue selects due entries under the lock and sends their tasks after
// releasing it, so a slow broker never blocks the event bus.
func (s *Scheduler) fireDue(ctx context.Context, trigger string, due func(*Entry) bool, now time.Time) {
	s.mu.Lock()
	var fired []*Entry
	for _, e := range s.entries {
		if !e.Enabled || !due(e) {
			continue
		}
		s.markRun(e, now)
		fired = append(fired, e)
	}
	s.mu.Unlock()

	for _, e := range fired {
		s.fire(ctx, e, trigger)
	}
}

// markRun records a run and disables the entry at max runs. Caller must hold s.mu.
func (s *Scheduler) markRun(e *Entry, now time.Time) {
	e.LastRun = now
	e.RunCount++
	if e.MaxRuns > 0 && e.RunCount >= e.MaxRuns {
		e.Enabled = false
		slog.Info("scheduler: entry reached max runs, disabled", "entry", e.Name, "runs", e.RunCount)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, trigger string) (string, error) {
	s.persist(ctx, e)

	t, err := e.file.Build()
	if err == nil {
		err = s.sender.Send(ctx, t)
	}

	payload := events.ScheduleTriggerPayload{Entry: e.Name, Trigger: trigger}
	if err != nil {
		payload.Error = err.Error()
		slog.Error("scheduler: send task", "entry", e.Name, "trigger", trigger, "error", err)
	} else {
		payload.TaskID = t.UID
		slog.Info("scheduler: triggered", "entry", e.Name, "trigger", trigger, "task_id", t.UID)
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, payload))
	}

	if err != nil {
		return "", fmt.Errorf("trigger %s: %w", e.Name, err)
	}
	return t.UID, nil
}

func (s *Scheduler) persist(ctx context.Context, e *Entry) {
	if s.state == nil {
		return
	}
	s.mu.Lock()
	st := RunState{RunCount: e.RunCount, LastRunAt: e.LastRun, Disabled: !e.Enabled}
	s.mu.Unlock()
	if err := s.state.Put(ctx, e.Name, st); err != nil {
		slog.Warn("scheduler: failed to persist run state", "entry", e.Name, "error", err)
	}
}
