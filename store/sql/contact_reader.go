package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-contact-sync/core"
)

// ContactReader serves the read side: golden records and the source rows
// linked to them through the identity map.
type ContactReader struct {
	db     bun.IDB
	golden repository.Repository[*goldenRecordRecord]
}

func NewContactReader(db *bun.DB) *ContactReader {
	if db == nil {
		return &ContactReader{}
	}
	return &ContactReader{
		db:     db,
		golden: repository.NewRepository[*goldenRecordRecord](db, goldenRecordHandlers()),
	}
}

func (r *ContactReader) ListGoldenRecords(ctx context.Context, userID string) ([]core.GoldenRecord, error) {
	if r == nil || r.golden == nil {
		return nil, fmt.Errorf("sqlstore: contact reader is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, core.NewValidationError("user_id", "user id is required")
	}
	records, _, err := r.golden.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("last_name ASC"),
		repository.OrderBy("first_name ASC"),
		repository.OrderBy("email ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.GoldenRecord, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// GetGoldenRecordDetail returns NotFound when the record belongs to another
// user, so ownership is never revealed.
func (r *ContactReader) GetGoldenRecordDetail(ctx context.Context, userID string, id string) (core.GoldenRecordDetail, error) {
	if r == nil || r.db == nil {
		return core.GoldenRecordDetail{}, fmt.Errorf("sqlstore: contact reader is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.GoldenRecordDetail{}, core.NewValidationError("user_id", "user id is required")
	}
	record, err := getGoldenRecord(ctx, r.db, userID, id)
	if err != nil {
		return core.GoldenRecordDetail{}, err
	}

	contacts := []sourceContactRecord{}
	err = r.db.NewSelect().
		Model(&contacts).
		Join("JOIN identity_map AS im ON im.connection_id = sc.connection_id AND im.provider_contact_id = sc.provider_contact_id AND im.provider_id = sc.provider_id").
		Where("im.golden_record_id = ?", record.ID).
		Where("im.user_id = ?", userID).
		OrderExpr("sc.provider_id ASC, sc.provider_contact_id ASC").
		Scan(ctx)
	if err != nil {
		return core.GoldenRecordDetail{}, err
	}

	interactions := []sourceInteractionRecord{}
	err = r.db.NewSelect().
		Model(&interactions).
		Join("JOIN identity_map AS im ON im.connection_id = si.connection_id AND im.provider_contact_id = si.provider_contact_id AND im.provider_id = si.provider_id").
		Where("im.golden_record_id = ?", record.ID).
		Where("im.user_id = ?", userID).
		OrderExpr("si.source_updated_at DESC, si.interaction_id ASC").
		Scan(ctx)
	if err != nil {
		return core.GoldenRecordDetail{}, err
	}

	detail := core.GoldenRecordDetail{
		Record:       record,
		Sources:      make([]core.SourceContact, 0, len(contacts)),
		Interactions: make([]core.SourceInteraction, 0, len(interactions)),
	}
	for i := range contacts {
		detail.Sources = append(detail.Sources, contacts[i].toDomain())
	}
	for i := range interactions {
		detail.Interactions = append(detail.Interactions, interactions[i].toDomain())
	}
	return detail, nil
}
