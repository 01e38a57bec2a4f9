package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-contact-sync/core"
)

// Scheduler enqueues the refresh sweep and the sync-all sweep on their cron
// schedules. Each sweep message is singleton-keyed by its task name.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer core.JobEnqueuer
	observer core.Observer
	entries  map[string]cron.EntryID
}

func NewScheduler(cfg core.Config, enqueuer core.JobEnqueuer, observer core.Observer) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, errors.New("jobs: job enqueuer is required")
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{observer: observer})),
		),
		enqueuer: enqueuer,
		observer: observer,
		entries:  map[string]cron.EntryID{},
	}
	schedules := []struct {
		task     string
		schedule string
	}{
		{core.TaskTokenRefreshSweep, cfg.Jobs.TokenRefresh.Schedule},
		{core.TaskConnectionScheduler, cfg.Jobs.Scheduler.Schedule},
	}
	for _, entry := range schedules {
		if err := s.add(entry.task, entry.schedule); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(task string, schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}
	id, err := s.cron.AddFunc(schedule, func() {
		s.Trigger(context.Background(), task)
	})
	if err != nil {
		return fmt.Errorf("jobs: invalid schedule %q for %s: %w", schedule, task, err)
	}
	s.entries[task] = id
	return nil
}

// Trigger enqueues one sweep immediately.
func (s *Scheduler) Trigger(ctx context.Context, task string) {
	err := s.enqueuer.Enqueue(ctx, core.NewTaskMessage(task, nil, task))
	if err != nil {
		s.observer.Error(ctx, "scheduled enqueue failed", map[string]any{"task": task, "error": err.Error()})
		return
	}
	s.observer.Debug(ctx, "scheduled task enqueued", map[string]any{"task": task})
}

// Next reports the next fire time for task, zero when unscheduled or before
// Start.
func (s *Scheduler) Next(task string) time.Time {
	id, ok := s.entries[task]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Scheduled() []string {
	out := make([]string, 0, len(s.entries))
	for _, task := range []string{core.TaskTokenRefreshSweep, core.TaskConnectionScheduler} {
		if _, ok := s.entries[task]; ok {
			out = append(out, task)
		}
	}
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns a context done once running triggers
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

type cronLogger struct {
	observer core.Observer
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.observer.Debug(context.Background(), "cron: "+msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := pairs(keysAndValues)
	if err != nil {
		fields["error"] = err.Error()
	}
	l.observer.Error(context.Background(), "cron: "+msg, fields)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
