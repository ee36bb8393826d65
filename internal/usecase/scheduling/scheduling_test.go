package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingPruner struct {
	calls   atomic.Int32
	removed int
	err     error
}

func (p *countingPruner) Prune(context.Context) (int, error) {
	p.calls.Add(1)
	return p.removed, p.err
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerPruneFires(t *testing.T) {
	p := &countingPruner{removed: 3}

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePrune, PruneAction(p, newTestLogger()))
	if err := s.AddTask(ScheduledTask{
		Name: "cache-prune", Schedule: "50ms", Action: ActionCachePrune,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := p.calls.Load(); c < 1 {
		t.Errorf("prune fired %d times, expected at least 1", c)
	}

	status := s.Status()
	if len(status) != 1 {
		t.Fatalf("Status: got %d tasks, want 1", len(status))
	}
	if status[0].Runs < 1 || status[0].LastRun.IsZero() || status[0].LastErr != "" {
		t.Errorf("unexpected status %+v", status[0])
	}
}

func TestSchedulerPruneErrorRecorded(t *testing.T) {
	p := &countingPruner{err: fmt.Errorf("database is locked")}

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePrune, PruneAction(p, newTestLogger()))
	s.AddTask(ScheduledTask{Name: "failing", Schedule: "50ms", Action: ActionCachePrune})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status := s.Status()
	if len(status) != 1 || status[0].LastErr != "cache prune: database is locked" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{
		Name: "unknown", Schedule: "100ms", Action: "does_not_exist",
	})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSchedulerDuplicateTask(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePrune, func(context.Context) error { return nil })

	if err := s.AddTask(ScheduledTask{Name: "prune", Schedule: "1h", Action: ActionCachePrune}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(ScheduledTask{Name: "prune", Schedule: "1h", Action: ActionCachePrune}); err == nil {
		t.Error("expected error for duplicate task name")
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePrune, func(context.Context) error { return nil })

	if err := s.AddTask(ScheduledTask{Name: "bad", Schedule: "whenever", Action: ActionCachePrune}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestSchedulerContextCancellation(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePrune, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{
		Name: "ctx-task", Schedule: "50ms", Action: ActionCachePrune,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop()

	countAfterCancel := count.Load()
	time.Sleep(100 * time.Millisecond)

	if count.Load() != countAfterCancel {
		t.Error("task continued after context cancellation")
	}
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionCachePrune, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{Name: "once", Schedule: "30ms", Action: ActionCachePrune, OneShot: true})

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot task fired %d times, want 1", c)
	}
	if len(s.Status()) != 0 {
		t.Error("one-shot task should be removed after running")
	}
}

func TestSchedulerDoubleStop(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Start(context.Background())

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(newTestLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop without start: %v", err)
	}
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"*/5 * * * *", "@every 30m", "@hourly", "30m", "100ms"}
	for _, spec := range valid {
		sched, err := parseSchedule(spec)
		if err != nil {
			t.Errorf("parseSchedule(%q): %v", spec, err)
			continue
		}
		if sched == nil {
			t.Errorf("parseSchedule(%q): nil schedule", spec)
		}
	}

	invalid := []string{"", "-5m", "0s", "every day"}
	for _, spec := range invalid {
		if _, err := parseSchedule(spec); err == nil {
			t.Errorf("parseSchedule(%q): expected error", spec)
		}
	}
}

func TestConstantDelay(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &constantDelay{delay: 250 * time.Millisecond}
	if got := d.Next(base); !got.Equal(base.Add(250 * time.Millisecond)) {
		t.Errorf("Next = %v", got)
	}
}
