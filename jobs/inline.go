package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/goliatone/go-contact-sync/core"
)

// InlineQueue runs every enqueued task immediately on the caller's goroutine.
// It never retries. An enqueue whose singleton key is currently running is
// dropped.
type InlineQueue struct {
	mu       sync.Mutex
	handler  TaskHandler
	running  map[string]struct{}
	observer core.Observer
}

func NewInlineQueue(handler TaskHandler, observer core.Observer) *InlineQueue {
	return &InlineQueue{
		handler:  handler,
		running:  map[string]struct{}{},
		observer: observer,
	}
}

// SetHandler binds the handler after construction. Handlers usually depend
// on a queue, so the two are built in two steps.
func (q *InlineQueue) SetHandler(handler TaskHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

func (q *InlineQueue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return errors.New("jobs: task message is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	q.mu.Lock()
	handler := q.handler
	if handler == nil {
		q.mu.Unlock()
		return errors.New("jobs: inline queue has no handler")
	}
	if key != "" {
		if _, held := q.running[key]; held {
			q.mu.Unlock()
			q.observer.Debug(ctx, "task dropped, singleton key held", map[string]any{
				"task": msg.JobID,
				"key":  key,
			})
			return nil
		}
		q.running[key] = struct{}{}
	}
	q.mu.Unlock()

	defer func() {
		if key == "" {
			return
		}
		q.mu.Lock()
		delete(q.running, key)
		q.mu.Unlock()
	}()
	return handler.Handle(ctx, msg)
}
