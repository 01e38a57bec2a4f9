package query

const (
	TypeAuthURL           = "contact_sync.query.oauth.auth_url"
	TypeListConnections   = "contact_sync.query.connection.list"
	TypeListGoldenRecords = "contact_sync.query.golden_record.list"
	TypeGetGoldenRecord   = "contact_sync.query.golden_record.get"
)

type AuthURLMessage struct {
	ProviderID string
	UserID     string
}

func (AuthURLMessage) Type() string { return TypeAuthURL }

func (m AuthURLMessage) Validate() error {
	return requireFields("provider_id", m.ProviderID, "user_id", m.UserID)
}

type ListConnectionsMessage struct {
	UserID string
}

func (ListConnectionsMessage) Type() string { return TypeListConnections }

func (m ListConnectionsMessage) Validate() error {
	return requireFields("user_id", m.UserID)
}

type ListGoldenRecordsMessage struct {
	UserID string
}

func (ListGoldenRecordsMessage) Type() string { return TypeListGoldenRecords }

func (m ListGoldenRecordsMessage) Validate() error {
	return requireFields("user_id", m.UserID)
}

type GetGoldenRecordMessage struct {
	UserID         string
	GoldenRecordID string
}

func (GetGoldenRecordMessage) Type() string { return TypeGetGoldenRecord }

func (m GetGoldenRecordMessage) Validate() error {
	return requireFields("user_id", m.UserID, "golden_record_id", m.GoldenRecordID)
}
