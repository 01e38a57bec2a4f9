package redisstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-contact-sync/core"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ConnectionLocker serializes token refreshes for one connection across
// processes.
type ConnectionLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewConnectionLocker(client redis.UniversalClient, keyPrefix string) *ConnectionLocker {
	return &ConnectionLocker{client: client, prefix: prefixOrDefault(keyPrefix)}
}

func (l *ConnectionLocker) Acquire(ctx context.Context, connectionID string, ttl time.Duration) (func(), error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, core.NewValidationError("connection_id", "connection id is required")
	}
	if ttl <= 0 {
		ttl = core.DefaultRefreshLockTTL
	}
	key := l.key(connectionID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrRefreshLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = compareAndDelete.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

func (l *ConnectionLocker) key(connectionID string) string {
	return l.prefix + ":lock:" + connectionID
}

var _ core.ConnectionLocker = (*ConnectionLocker)(nil)
