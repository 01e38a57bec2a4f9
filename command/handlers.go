package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-contact-sync/core"
)

// LifecycleService is the connection lifecycle surface the commands drive.
type LifecycleService interface {
	CompleteOAuth(ctx context.Context, req core.CompleteOAuthRequest) (core.ConnectionSummary, error)
	Disconnect(ctx context.Context, connectionID string, userID string) error
	RefreshConnection(ctx context.Context, connectionID string) error
	RequestSync(ctx context.Context, connectionID string, userID string) error
}

type SyncService interface {
	SyncConnection(ctx context.Context, connectionID string) (core.SyncResult, error)
}

type CompleteOAuthCommand struct {
	service LifecycleService
}

func NewCompleteOAuthCommand(service LifecycleService) *CompleteOAuthCommand {
	return &CompleteOAuthCommand{service: service}
}

func (c *CompleteOAuthCommand) Execute(ctx context.Context, msg CompleteOAuthMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.CompleteOAuth(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service LifecycleService
}

func NewDisconnectCommand(service LifecycleService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.Disconnect(ctx, msg.ConnectionID, msg.UserID)
}

type RefreshConnectionCommand struct {
	service LifecycleService
}

func NewRefreshConnectionCommand(service LifecycleService) *RefreshConnectionCommand {
	return &RefreshConnectionCommand{service: service}
}

func (c *RefreshConnectionCommand) Execute(ctx context.Context, msg RefreshConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.RefreshConnection(ctx, msg.ConnectionID)
}

type RequestSyncCommand struct {
	service LifecycleService
}

func NewRequestSyncCommand(service LifecycleService) *RequestSyncCommand {
	return &RequestSyncCommand{service: service}
}

func (c *RequestSyncCommand) Execute(ctx context.Context, msg RequestSyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.RequestSync(ctx, msg.ConnectionID, msg.UserID)
}

type SyncConnectionCommand struct {
	service SyncService
}

func NewSyncConnectionCommand(service SyncService) *SyncConnectionCommand {
	return &SyncConnectionCommand{service: service}
}

func (c *SyncConnectionCommand) Execute(ctx context.Context, msg SyncConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncConnection(ctx, msg.ConnectionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var (
	_ gocmd.Commander[CompleteOAuthMessage]     = (*CompleteOAuthCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]        = (*DisconnectCommand)(nil)
	_ gocmd.Commander[RefreshConnectionMessage] = (*RefreshConnectionCommand)(nil)
	_ gocmd.Commander[RequestSyncMessage]       = (*RequestSyncCommand)(nil)
	_ gocmd.Commander[SyncConnectionMessage]    = (*SyncConnectionCommand)(nil)
)
