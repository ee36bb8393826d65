package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionCachePrune ScheduledAction = "cache_prune"
)

const taskTimeout = 5 * time.Minute

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Action   ScheduledAction
	OneShot  bool
}

// TaskStatus reports the last outcome of a task.
type TaskStatus struct {
	Name    string    `json:"name"`
	Action  string    `json:"action"`
	Next    time.Time `json:"next,omitzero"`
	LastRun time.Time `json:"last_run,omitzero"`
	LastErr string    `json:"last_error,omitempty"`
	Runs    int       `json:"runs"`
}

type taskEntry struct {
	id     cron.EntryID
	status TaskStatus
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]func(ctx context.Context) error
	tasks   map[string]*taskEntry
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		tasks:   make(map[string]*taskEntry),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("scheduler: task %q already exists", task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	entry := &taskEntry{status: TaskStatus{Name: task.Name, Action: string(task.Action)}}
	entry.id = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(task, entry, fn)
	}))
	s.tasks[task.Name] = entry

	s.logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

func (s *Scheduler) run(task ScheduledTask, entry *taskEntry, fn func(ctx context.Context) error) {
	// Read context under lock
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	err := fn(taskCtx)
	if err != nil {
		s.logger.Warn("scheduled task failed",
			"task", task.Name,
			"error", err,
			"duration", time.Since(start))
	} else {
		s.logger.Info("scheduled task completed",
			"task", task.Name,
			"duration", time.Since(start))
	}

	s.mu.Lock()
	entry.status.LastRun = start
	entry.status.Runs++
	entry.status.LastErr = ""
	if err != nil {
		entry.status.LastErr = err.Error()
	}
	if task.OneShot {
		s.cron.Remove(entry.id)
		delete(s.tasks, task.Name)
	}
	s.mu.Unlock()
}

// Status returns a snapshot of every task, sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, e := range s.tasks {
		st := e.status
		if ce := s.cron.Entry(e.id); ce.ID != 0 {
			st.Next = ce.Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	// Running jobs take the lock to record their status.
	<-s.cron.Stop().Done()
	return nil
}

// Pruner drops expired entries from a cache.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// PruneAction adapts a Pruner to a scheduled action.
func PruneAction(p Pruner, logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := p.Prune(ctx)
		if err != nil {
			return fmt.Errorf("cache prune: %w", err)
		}
		if n > 0 {
			logger.Debug("cache pruned", "removed", n)
		}
		return nil
	}
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	// Try cron expression first.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	// Fall back to duration.
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
