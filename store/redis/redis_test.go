package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-contact-sync/core"
)

func newTestClient(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := os.Getenv("CONTACT_SYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONTACT_SYNC_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Options{Addr: addr})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	prefix := "contact-sync-test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
		_ = client.Close()
	})
	return client, prefix
}

func TestNewClient_RequiresAddr(t *testing.T) {
	if _, err := NewClient(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestConnectionLocker_ExclusiveUntilUnlocked(t *testing.T) {
	client, prefix := newTestClient(t)
	locker := NewConnectionLocker(client, prefix)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "c1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "c1", time.Minute); !errors.Is(err, core.ErrRefreshLocked) {
		t.Fatalf("expected refresh locked, got %v", err)
	}
	other, err := locker.Acquire(ctx, "c2", time.Minute)
	if err != nil {
		t.Fatalf("expected independent lock for c2, got %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := locker.Acquire(ctx, "c1", time.Minute)
	if err != nil {
		t.Fatalf("expected lock free after unlock, got %v", err)
	}
	again()
}

func TestConnectionLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	client, prefix := newTestClient(t)
	locker := NewConnectionLocker(client, prefix)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "c1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	current, err := locker.Acquire(ctx, "c1", time.Minute)
	if err != nil {
		t.Fatalf("expected expired lock to be free, got %v", err)
	}
	defer current()

	stale()
	if _, err := locker.Acquire(ctx, "c1", time.Minute); !errors.Is(err, core.ErrRefreshLocked) {
		t.Fatalf("expected stale unlock to leave the new holder, got %v", err)
	}
}

func TestTaskQueue_SingletonKeyDropsDuplicatesUntilAck(t *testing.T) {
	client, prefix := newTestClient(t)
	queue := NewTaskQueue(client, prefix, WithBlockTimeout(100*time.Millisecond))
	ctx := context.Background()

	msg := core.NewConnectionTaskMessage(core.TaskConnectionSync, "c1")
	if err := queue.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.Enqueue(ctx, msg); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	ready, _, err := queue.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if ready != 1 {
		t.Fatalf("expected duplicate to be dropped, got %d ready", ready)
	}

	delivery, err := queue.Dequeue(ctx)
	if err != nil || delivery == nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got, _ := core.ConnectionIDParam(delivery.Message()); got != "c1" {
		t.Fatalf("expected c1 payload, got %q", got)
	}
	if err := queue.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue while running: %v", err)
	}
	if ready, _, _ := queue.Pending(ctx); ready != 0 {
		t.Fatalf("expected enqueue to drop while key is held")
	}

	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := queue.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if ready, _, _ := queue.Pending(ctx); ready != 1 {
		t.Fatalf("expected key released after ack")
	}
}

func TestTaskQueue_RequeueDelaysAndCountsAttempts(t *testing.T) {
	client, prefix := newTestClient(t)
	queue := NewTaskQueue(client, prefix, WithBlockTimeout(100*time.Millisecond))
	ctx := context.Background()

	if err := queue.Enqueue(ctx, core.NewConnectionTaskMessage(core.TaskTokenRefresh, "c1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	first, err := queue.Dequeue(ctx)
	if err != nil || first == nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := first.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: 200 * time.Millisecond}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if next, err := queue.Dequeue(ctx); err != nil || next != nil {
		t.Fatalf("expected nothing ready before delay, got %v %v", next, err)
	}

	time.Sleep(250 * time.Millisecond)
	second, err := queue.Dequeue(ctx)
	if err != nil || second == nil {
		t.Fatalf("expected retry after delay: %v", err)
	}
	if attempt := second.(core.JobAttemptReporter).Attempt(); attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", attempt)
	}
	if err := second.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "gave up"}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	dead, err := queue.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].JobID != core.TaskTokenRefresh {
		t.Fatalf("expected one dead-lettered refresh, got %v", dead)
	}
}

func TestTaskQueue_UnackedDeliveryIsRedeliveredAfterLease(t *testing.T) {
	client, prefix := newTestClient(t)
	queue := NewTaskQueue(client, prefix,
		WithBlockTimeout(100*time.Millisecond),
		WithLeaseTimeout(150*time.Millisecond),
	)
	ctx := context.Background()

	msg := core.NewConnectionTaskMessage(core.TaskConnectionSync, "c1")
	if err := queue.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	abandoned, err := queue.Dequeue(ctx)
	if err != nil || abandoned == nil {
		t.Fatalf("dequeue: %v", err)
	}
	if inFlight, err := queue.InFlight(ctx); err != nil || inFlight != 1 {
		t.Fatalf("expected one in-flight task, got %d err=%v", inFlight, err)
	}
	if next, err := queue.Dequeue(ctx); err != nil || next != nil {
		t.Fatalf("expected nothing while the lease is live, got %v %v", next, err)
	}

	time.Sleep(200 * time.Millisecond)
	redelivered, err := queue.Dequeue(ctx)
	if err != nil || redelivered == nil {
		t.Fatalf("expected redelivery after lease expiry: %v", err)
	}
	if got, _ := core.ConnectionIDParam(redelivered.Message()); got != "c1" {
		t.Fatalf("expected c1 payload, got %q", got)
	}
	if attempt := redelivered.(core.JobAttemptReporter).Attempt(); attempt != 2 {
		t.Fatalf("expected redelivery to count as attempt 2, got %d", attempt)
	}
	if err := queue.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue while redelivered: %v", err)
	}
	if ready, _, _ := queue.Pending(ctx); ready != 0 {
		t.Fatalf("expected singleton key to stay held across redelivery")
	}

	if err := redelivered.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if inFlight, _ := queue.InFlight(ctx); inFlight != 0 {
		t.Fatalf("expected ack to clear the processing list, got %d", inFlight)
	}
	if reclaimed, err := queue.ReclaimExpired(ctx); err != nil || reclaimed != 0 {
		t.Fatalf("expected nothing left to reclaim, got %d err=%v", reclaimed, err)
	}
}
