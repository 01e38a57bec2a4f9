package contactsync

import (
	"fmt"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-contact-sync/adapters/gocommand"
	"github.com/goliatone/go-contact-sync/command"
	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/query"
)

// ConnectionService is the lifecycle surface the facade's commands and
// connection queries run against. *core.Service satisfies it.
type ConnectionService interface {
	command.LifecycleService
	query.ConnectionReader
}

type Commands struct {
	CompleteOAuth     *command.CompleteOAuthCommand
	Disconnect        *command.DisconnectCommand
	RefreshConnection *command.RefreshConnectionCommand
	RequestSync       *command.RequestSyncCommand
	SyncConnection    *command.SyncConnectionCommand
}

type Queries struct {
	AuthURL           *query.AuthURLQuery
	ListConnections   *query.ListConnectionsQuery
	ListGoldenRecords *query.ListGoldenRecordsQuery
	GetGoldenRecord   *query.GetGoldenRecordQuery
}

type Facade struct {
	service  ConnectionService
	sync     command.SyncService
	contacts core.ContactReader
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	sync     command.SyncService
	contacts core.ContactReader
}

// WithSyncService enables the in-process SyncConnection command.
func WithSyncService(service command.SyncService) FacadeOption {
	return func(options *facadeOptions) {
		options.sync = service
	}
}

// WithContactReader enables the golden-record queries.
func WithContactReader(reader core.ContactReader) FacadeOption {
	return func(options *facadeOptions) {
		options.contacts = reader
	}
}

func NewFacade(service ConnectionService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("contactsync: connection service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service, sync: cfg.sync, contacts: cfg.contacts}
	facade.commands = Commands{
		CompleteOAuth:     command.NewCompleteOAuthCommand(service),
		Disconnect:        command.NewDisconnectCommand(service),
		RefreshConnection: command.NewRefreshConnectionCommand(service),
		RequestSync:       command.NewRequestSyncCommand(service),
	}
	if cfg.sync != nil {
		facade.commands.SyncConnection = command.NewSyncConnectionCommand(cfg.sync)
	}
	facade.queries = Queries{
		AuthURL:         query.NewAuthURLQuery(service),
		ListConnections: query.NewListConnectionsQuery(service),
	}
	if cfg.contacts != nil {
		facade.queries.ListGoldenRecords = query.NewListGoldenRecordsQuery(cfg.contacts)
		facade.queries.GetGoldenRecord = query.NewGetGoldenRecordQuery(cfg.contacts)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() ConnectionService {
	if f == nil {
		return nil
	}
	return f.service
}

// RegisterHandlers subscribes the facade's commands and queries on a
// go-command bus. A nil registry gets a fresh one.
func RegisterHandlers(registry *gocmd.Registry, facade *Facade, runnerOpts ...runner.Option) (*gocommand.Bus, error) {
	if facade == nil {
		return nil, fmt.Errorf("contactsync: facade is required")
	}
	bus := gocommand.NewBus(registry)
	if err := gocommand.RegisterContactSync(bus, gocommand.Services{
		Lifecycle:   facade.service,
		Sync:        facade.sync,
		Connections: facade.service,
		Contacts:    facade.contacts,
	}, runnerOpts...); err != nil {
		return nil, err
	}
	if err := bus.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}
