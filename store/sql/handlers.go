package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// idHandlers builds repository handlers for a model keyed by a string UUID
// column named id. idField returns nil for a nil record.
func idHandlers[T any](newRecord func() T, idField func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			if id := idField(record); id != nil {
				return parseUUID(*id)
			}
			return uuid.Nil
		},
		SetID: func(record T, id uuid.UUID) {
			if field := idField(record); field != nil {
				*field = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			if id := idField(record); id != nil {
				return strings.TrimSpace(*id)
			}
			return ""
		},
	}
}

func connectionHandlers() repository.ModelHandlers[*connectionRecord] {
	return idHandlers(
		func() *connectionRecord { return &connectionRecord{} },
		func(record *connectionRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func goldenRecordHandlers() repository.ModelHandlers[*goldenRecordRecord] {
	return idHandlers(
		func() *goldenRecordRecord { return &goldenRecordRecord{} },
		func(record *goldenRecordRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
