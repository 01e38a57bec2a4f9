package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-contact-sync/core"
)

// SweepReport summarizes one sweep. Failed counts connections whose enqueue
// failed; those never abort the sweep.
type SweepReport struct {
	Task       string
	Considered int
	Enqueued   int
	Failed     int
}

type SweepConnectionSource interface {
	ListActive(ctx context.Context) ([]core.Connection, error)
	ListExpiringBefore(ctx context.Context, before time.Time) ([]core.Connection, error)
}

type Sweeper struct {
	connections SweepConnectionSource
	enqueuer    core.JobEnqueuer
	window      time.Duration
	observer    core.Observer
	now         func() time.Time
}

type SweeperOption func(*Sweeper)

func WithSweepWindow(window time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if window > 0 {
			s.window = window
		}
	}
}

func WithSweeperObserver(observer core.Observer) SweeperOption {
	return func(s *Sweeper) {
		s.observer = observer
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSweeper(connections SweepConnectionSource, enqueuer core.JobEnqueuer, opts ...SweeperOption) (*Sweeper, error) {
	if connections == nil {
		return nil, errors.New("jobs: connection source is required")
	}
	if enqueuer == nil {
		return nil, errors.New("jobs: job enqueuer is required")
	}
	s := &Sweeper{
		connections: connections,
		enqueuer:    enqueuer,
		window:      core.DefaultRefreshSweepWindow,
		observer:    core.NewObserver("contact_sync", nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// EnqueueExpiringRefreshes queues a token-refresh task for every active
// connection whose access token expires within the sweep window.
func (s *Sweeper) EnqueueExpiringRefreshes(ctx context.Context) (report SweepReport, err error) {
	startedAt := s.now()
	report.Task = core.TaskTokenRefreshSweep
	defer func() {
		s.observe(ctx, startedAt, "refresh_sweep", report, err)
	}()

	connections, err := s.connections.ListExpiringBefore(ctx, startedAt.Add(s.window))
	if err != nil {
		return report, err
	}
	s.enqueueAll(ctx, core.TaskTokenRefresh, connections, &report)
	return report, nil
}

// EnqueueActiveSyncs queues a connection-sync task for every active
// connection.
func (s *Sweeper) EnqueueActiveSyncs(ctx context.Context) (report SweepReport, err error) {
	startedAt := s.now()
	report.Task = core.TaskConnectionScheduler
	defer func() {
		s.observe(ctx, startedAt, "sync_sweep", report, err)
	}()

	connections, err := s.connections.ListActive(ctx)
	if err != nil {
		return report, err
	}
	s.enqueueAll(ctx, core.TaskConnectionSync, connections, &report)
	return report, nil
}

func (s *Sweeper) enqueueAll(ctx context.Context, task string, connections []core.Connection, report *SweepReport) {
	for _, connection := range connections {
		if !connection.IsActive() {
			continue
		}
		report.Considered++
		if err := s.enqueuer.Enqueue(ctx, core.NewConnectionTaskMessage(task, connection.ID)); err != nil {
			report.Failed++
			s.observer.Warn(ctx, "sweep enqueue failed", map[string]any{
				"task":          task,
				"connection_id": connection.ID,
				"provider_id":   connection.ProviderID,
				"error":         err.Error(),
			})
			continue
		}
		report.Enqueued++
	}
}

func (s *Sweeper) observe(ctx context.Context, startedAt time.Time, operation string, report SweepReport, err error) {
	s.observer.Observe(ctx, startedAt, operation, err, map[string]any{
		"task":       report.Task,
		"considered": report.Considered,
		"enqueued":   report.Enqueued,
		"failed":     report.Failed,
	})
}
