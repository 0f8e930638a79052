package scheduler

import (
	"fmt"
	"time"

	"github.com/dohr-michael/karton/internal/config"
	"github.com/dohr-michael/karton/internal/task"
)

// DefaultCooldown is the minimum interval between two triggers of the same entry.
const DefaultCooldown = 60 * time.Second

// minInterval bounds how often an interval entry may fire.
const minInterval = 5 * time.Second

// Entry is a schedule entry with its runtime state.
type Entry struct {
	Name     string
	Cron     *CronExpr
	Interval time.Duration
	OnEvent  *config.EventTrigger
	Cooldown time.Duration
	MaxRuns  int
	RunCount int
	Enabled  bool
	LastRun  time.Time

	file *task.File
}

// NewEntry validates a configured entry and loads its task file.
func NewEntry(ce config.ScheduleEntry) (*Entry, error) {
	if ce.Name == "" {
		return nil, fmt.Errorf("schedule entry without name")
	}
	if ce.Cron == "" && ce.Interval == 0 && ce.OnEvent == nil {
		return nil, fmt.Errorf("schedule entry %s: cron, interval or on_event is required", ce.Name)
	}
	if ce.Interval > 0 && ce.Interval.Duration() < minInterval {
		return nil, fmt.Errorf("schedule entry %s: interval must be at least %s", ce.Name, minInterval)
	}
	if ce.TaskFile == "" {
		return nil, fmt.Errorf("schedule entry %s: task_file is required", ce.Name)
	}

	file, err := task.LoadFile(ce.TaskFile)
	if err != nil {
		return nil, fmt.Errorf("schedule entry %s: %w", ce.Name, err)
	}

	e := &Entry{
		Name:     ce.Name,
		Interval: ce.Interval.Duration(),
		OnEvent:  ce.OnEvent,
		Cooldown: ce.Cooldown.Duration(),
		MaxRuns:  ce.MaxRuns,
		Enabled:  !ce.Disabled,
		file:     file,
	}
	if ce.Cron != "" {
		expr, err := ParseCron(ce.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %s: %w", ce.Name, err)
		}
		e.Cron = expr
	}
	if e.Cooldown == 0 {
		e.Cooldown = DefaultCooldown
	}
	return e, nil
}
