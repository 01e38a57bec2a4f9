package query

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-contact-sync/core"
)

type ConnectionReader interface {
	AuthURL(ctx context.Context, providerID string, userID string) (string, error)
	ListConnections(ctx context.Context, userID string) ([]core.ConnectionSummary, error)
}

type AuthURLQuery struct {
	reader ConnectionReader
}

func NewAuthURLQuery(reader ConnectionReader) *AuthURLQuery {
	return &AuthURLQuery{reader: reader}
}

func (q *AuthURLQuery) Query(ctx context.Context, msg AuthURLMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: connection reader is required")
	}
	return q.reader.AuthURL(ctx, strings.TrimSpace(msg.ProviderID), strings.TrimSpace(msg.UserID))
}

type ListConnectionsQuery struct {
	reader ConnectionReader
}

func NewListConnectionsQuery(reader ConnectionReader) *ListConnectionsQuery {
	return &ListConnectionsQuery{reader: reader}
}

func (q *ListConnectionsQuery) Query(ctx context.Context, msg ListConnectionsMessage) ([]core.ConnectionSummary, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	return q.reader.ListConnections(ctx, strings.TrimSpace(msg.UserID))
}

type ListGoldenRecordsQuery struct {
	reader core.ContactReader
}

func NewListGoldenRecordsQuery(reader core.ContactReader) *ListGoldenRecordsQuery {
	return &ListGoldenRecordsQuery{reader: reader}
}

func (q *ListGoldenRecordsQuery) Query(ctx context.Context, msg ListGoldenRecordsMessage) ([]core.GoldenRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: contact reader is required")
	}
	return q.reader.ListGoldenRecords(ctx, strings.TrimSpace(msg.UserID))
}

type GetGoldenRecordQuery struct {
	reader core.ContactReader
}

func NewGetGoldenRecordQuery(reader core.ContactReader) *GetGoldenRecordQuery {
	return &GetGoldenRecordQuery{reader: reader}
}

func (q *GetGoldenRecordQuery) Query(ctx context.Context, msg GetGoldenRecordMessage) (core.GoldenRecordDetail, error) {
	if q == nil || q.reader == nil {
		return core.GoldenRecordDetail{}, queryDependencyError("query: contact reader is required")
	}
	return q.reader.GetGoldenRecordDetail(ctx, strings.TrimSpace(msg.UserID), strings.TrimSpace(msg.GoldenRecordID))
}

var (
	_ gocmd.Querier[AuthURLMessage, string]                           = (*AuthURLQuery)(nil)
	_ gocmd.Querier[ListConnectionsMessage, []core.ConnectionSummary] = (*ListConnectionsQuery)(nil)
	_ gocmd.Querier[ListGoldenRecordsMessage, []core.GoldenRecord]    = (*ListGoldenRecordsQuery)(nil)
	_ gocmd.Querier[GetGoldenRecordMessage, core.GoldenRecordDetail]  = (*GetGoldenRecordQuery)(nil)
)
