package command

import (
	"github.com/goliatone/go-contact-sync/core"
)

const (
	TypeCompleteOAuth     = "contact_sync.command.oauth.complete"
	TypeDisconnect        = "contact_sync.command.connection.disconnect"
	TypeRefreshConnection = "contact_sync.command.connection.refresh"
	TypeRequestSync       = "contact_sync.command.sync.request"
	TypeSyncConnection    = "contact_sync.command.sync.run"
)

type CompleteOAuthMessage struct {
	Request core.CompleteOAuthRequest
}

func (CompleteOAuthMessage) Type() string { return TypeCompleteOAuth }

func (m CompleteOAuthMessage) Validate() error {
	return requireFields(
		"provider_id", m.Request.ProviderID,
		"user_id", m.Request.UserID,
		"code", m.Request.Code,
	)
}

type DisconnectMessage struct {
	ConnectionID string
	UserID       string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return requireFields("connection_id", m.ConnectionID, "user_id", m.UserID)
}

// RefreshConnectionMessage forces a token refresh regardless of expiry.
type RefreshConnectionMessage struct {
	ConnectionID string
}

func (RefreshConnectionMessage) Type() string { return TypeRefreshConnection }

func (m RefreshConnectionMessage) Validate() error {
	return requireFields("connection_id", m.ConnectionID)
}

// RequestSyncMessage queues a sync for a connection the user owns.
type RequestSyncMessage struct {
	ConnectionID string
	UserID       string
}

func (RequestSyncMessage) Type() string { return TypeRequestSync }

func (m RequestSyncMessage) Validate() error {
	return requireFields("connection_id", m.ConnectionID, "user_id", m.UserID)
}

// SyncConnectionMessage runs a sync in the caller's process.
type SyncConnectionMessage struct {
	ConnectionID string
}

func (SyncConnectionMessage) Type() string { return TypeSyncConnection }

func (m SyncConnectionMessage) Validate() error {
	return requireFields("connection_id", m.ConnectionID)
}
