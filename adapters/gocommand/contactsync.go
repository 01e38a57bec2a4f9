package gocommand

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-contact-sync/command"
	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/query"
)

// Services are the backends the contact-sync commands and queries delegate to.
type Services struct {
	Lifecycle   command.LifecycleService
	Sync        command.SyncService
	Connections query.ConnectionReader
	Contacts    core.ContactReader
}

// RegisterContactSync subscribes every contact-sync command and query on the bus.
// Sync and Contacts are optional; their handlers are skipped when nil.
func RegisterContactSync(bus *Bus, services Services, runnerOpts ...runner.Option) error {
	if services.Lifecycle == nil || services.Connections == nil {
		return fmt.Errorf("gocommand: lifecycle and connection services are required")
	}
	registrations := []func() error{
		func() error {
			return RegisterCommand(bus, command.NewCompleteOAuthCommand(services.Lifecycle), runnerOpts...)
		},
		func() error { return RegisterCommand(bus, command.NewDisconnectCommand(services.Lifecycle), runnerOpts...) },
		func() error {
			return RegisterCommand(bus, command.NewRefreshConnectionCommand(services.Lifecycle), runnerOpts...)
		},
		func() error { return RegisterCommand(bus, command.NewRequestSyncCommand(services.Lifecycle), runnerOpts...) },
		func() error { return RegisterQuery(bus, query.NewAuthURLQuery(services.Connections), runnerOpts...) },
		func() error { return RegisterQuery(bus, query.NewListConnectionsQuery(services.Connections), runnerOpts...) },
	}
	if services.Sync != nil {
		registrations = append(registrations, func() error {
			return RegisterCommand(bus, command.NewSyncConnectionCommand(services.Sync), runnerOpts...)
		})
	}
	if services.Contacts != nil {
		registrations = append(registrations,
			func() error { return RegisterQuery(bus, query.NewListGoldenRecordsQuery(services.Contacts), runnerOpts...) },
			func() error { return RegisterQuery(bus, query.NewGetGoldenRecordQuery(services.Contacts), runnerOpts...) },
		)
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			bus.Close()
			return err
		}
	}
	return nil
}

// CompleteOAuth dispatches the command and returns the summary the handler stored.
func CompleteOAuth(ctx context.Context, req core.CompleteOAuthRequest) (core.ConnectionSummary, error) {
	collector := gocmd.NewResult[core.ConnectionSummary]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := Dispatch(ctx, command.CompleteOAuthMessage{Request: req}); err != nil {
		return core.ConnectionSummary{}, err
	}
	summary, _ := collector.Load()
	return summary, nil
}

// SyncConnection dispatches an in-process sync and returns its result.
func SyncConnection(ctx context.Context, connectionID string) (core.SyncResult, error) {
	collector := gocmd.NewResult[core.SyncResult]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := Dispatch(ctx, command.SyncConnectionMessage{ConnectionID: connectionID}); err != nil {
		return core.SyncResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}
