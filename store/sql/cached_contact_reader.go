package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-contact-sync/core"
)

const goldenRecordsCacheKeyPrefix = "contact-sync::golden_records::v1"

// CachedContactReader caches the per-user golden-record list. Detail reads
// pass through. Sync invalidates a user's entry once it has written.
type CachedContactReader struct {
	base  core.ContactReader
	cache repositorycache.CacheService
}

func NewCachedContactReader(base core.ContactReader, cacheService repositorycache.CacheService) (*CachedContactReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base contact reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: contact cache service is required")
	}
	return &CachedContactReader{base: base, cache: cacheService}, nil
}

// GoldenRecordsCacheKey returns contact-sync::golden_records::v1::<user_id>
// with the user id URL-path escaped.
func GoldenRecordsCacheKey(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", core.NewValidationError("user_id", "user id is required")
	}
	return goldenRecordsCacheKeyPrefix + "::" + url.PathEscape(userID), nil
}

func (r *CachedContactReader) ListGoldenRecords(ctx context.Context, userID string) ([]core.GoldenRecord, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached contact reader is not configured")
	}
	key, err := GoldenRecordsCacheKey(userID)
	if err != nil {
		return nil, err
	}
	records, err := repositorycache.GetOrFetch(ctx, r.cache, key, func(ctx context.Context) ([]core.GoldenRecord, error) {
		return r.base.ListGoldenRecords(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.GoldenRecord(nil), records...), nil
}

func (r *CachedContactReader) GetGoldenRecordDetail(ctx context.Context, userID string, id string) (core.GoldenRecordDetail, error) {
	if r == nil || r.base == nil {
		return core.GoldenRecordDetail{}, fmt.Errorf("sqlstore: cached contact reader is not configured")
	}
	return r.base.GetGoldenRecordDetail(ctx, userID, id)
}

func (r *CachedContactReader) InvalidateUser(ctx context.Context, userID string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	key, err := GoldenRecordsCacheKey(userID)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, key)
}
