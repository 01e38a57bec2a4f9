package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryConnectionLocker is a process-local ConnectionLocker. Held locks
// expire after their ttl so a crashed holder cannot block refreshes forever.
type MemoryConnectionLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLock
	clock func() time.Time
	seq   uint64
}

type memoryLock struct {
	token     uint64
	expiresAt time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{held: map[string]memoryLock{}, clock: time.Now}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, connectionID string, ttl time.Duration) (func(), error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, NewValidationError("connection_id", "connection id is required")
	}
	if ttl <= 0 {
		ttl = DefaultRefreshLockTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if current, ok := l.held[connectionID]; ok && now.Before(current.expiresAt) {
		return nil, ErrRefreshLocked
	}
	l.seq++
	token := l.seq
	l.held[connectionID] = memoryLock{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if current, ok := l.held[connectionID]; ok && current.token == token {
				delete(l.held, connectionID)
			}
		})
	}, nil
}
