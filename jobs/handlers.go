package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-contact-sync/core"
)

// TaskHandler executes one queued task message.
type TaskHandler interface {
	Handle(ctx context.Context, msg *core.JobExecutionMessage) error
}

type TaskHandlerFunc func(ctx context.Context, msg *core.JobExecutionMessage) error

func (f TaskHandlerFunc) Handle(ctx context.Context, msg *core.JobExecutionMessage) error {
	return f(ctx, msg)
}

type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, connectionID string) (core.SyncResult, error)
}

type TokenRefresher interface {
	RefreshConnection(ctx context.Context, connectionID string) error
}

// Handlers routes task messages to the component owning each task type.
type Handlers struct {
	syncer    ConnectionSyncer
	refresher TokenRefresher
	sweeper   *Sweeper
}

func NewHandlers(syncer ConnectionSyncer, refresher TokenRefresher, sweeper *Sweeper) (*Handlers, error) {
	if syncer == nil {
		return nil, errors.New("jobs: connection syncer is required")
	}
	if refresher == nil {
		return nil, errors.New("jobs: token refresher is required")
	}
	if sweeper == nil {
		return nil, errors.New("jobs: sweeper is required")
	}
	return &Handlers{syncer: syncer, refresher: refresher, sweeper: sweeper}, nil
}

func (h *Handlers) Handle(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return core.NewBadInputError("jobs: task message is required")
	}
	switch task := strings.TrimSpace(msg.JobID); task {
	case core.TaskConnectionSync:
		connectionID, err := core.ConnectionIDParam(msg)
		if err != nil {
			return err
		}
		_, err = h.syncer.SyncConnection(ctx, connectionID)
		return err
	case core.TaskTokenRefresh:
		connectionID, err := core.ConnectionIDParam(msg)
		if err != nil {
			return err
		}
		err = h.refresher.RefreshConnection(ctx, connectionID)
		if errors.Is(err, core.ErrNotFound) {
			// connection was removed after the sweep queued it
			return nil
		}
		return err
	case core.TaskTokenRefreshSweep:
		_, err := h.sweeper.EnqueueExpiringRefreshes(ctx)
		return err
	case core.TaskConnectionScheduler:
		_, err := h.sweeper.EnqueueActiveSyncs(ctx)
		return err
	default:
		return core.NewBadInputError(fmt.Sprintf("jobs: unknown task %q", task))
	}
}

// Tasks lists every task type Handlers accepts.
func Tasks() []string {
	return []string{
		core.TaskConnectionSync,
		core.TaskTokenRefresh,
		core.TaskTokenRefreshSweep,
		core.TaskConnectionScheduler,
	}
}
