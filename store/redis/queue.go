package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-contact-sync/core"
)

const (
	defaultSingletonTTL = time.Hour
	defaultBlockTimeout = 2 * time.Second
	defaultLeaseTimeout = 45 * time.Minute
	promoteBatch        = 100
)

// promoteDue moves delayed messages whose score is due onto the ready list.
var promoteDue = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, item in ipairs(due) do
	redis.call("ZREM", KEYS[1], item)
	redis.call("LPUSH", KEYS[2], item)
end
return #due
`)

// reclaimExpired leases any in-flight message that lost its lease between
// BLMOVE and ZADD, then moves messages whose lease ran out back onto the
// ready list with the attempt counter bumped.
var reclaimExpired = redis.NewScript(`
local inflight = redis.call("LRANGE", KEYS[1], 0, -1)
for _, item in ipairs(inflight) do
	if not redis.call("ZSCORE", KEYS[2], item) then
		redis.call("ZADD", KEYS[2], ARGV[2], item)
	end
end
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, ARGV[3])
for _, item in ipairs(expired) do
	redis.call("ZREM", KEYS[2], item)
	redis.call("LREM", KEYS[1], 1, item)
	local ok, env = pcall(cjson.decode, item)
	if ok and type(env) == "table" then
		env["attempt"] = (tonumber(env["attempt"]) or 1) + 1
		env["reason"] = "lease expired"
		redis.call("LPUSH", KEYS[3], cjson.encode(env))
	else
		redis.call("LPUSH", KEYS[4], item)
	end
end
return #expired
`)

type envelope struct {
	ID             string         `json:"id"`
	JobID          string         `json:"job_id"`
	ScriptPath     string         `json:"script_path"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	DedupPolicy    string         `json:"dedup_policy,omitempty"`
	Attempt        int            `json:"attempt"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	Reason         string         `json:"reason,omitempty"`
}

func (e envelope) message() *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          e.JobID,
		ScriptPath:     e.ScriptPath,
		Parameters:     e.Parameters,
		IdempotencyKey: e.IdempotencyKey,
		DedupPolicy:    e.DedupPolicy,
	}
}

// TaskQueue is a Redis task queue: a ready list, a delayed sorted set scored
// by due time in unix millis, and a dead-letter list. Dequeued messages sit
// on a processing list with a lease until they are acked or nacked; a
// message whose lease expires is handed out again, so delivery is
// at-least-once. A message carrying an idempotency key holds that key until
// it is acked, dead-lettered, or the key expires; enqueues while the key is
// held are dropped.
type TaskQueue struct {
	client       redis.UniversalClient
	prefix       string
	singletonTTL time.Duration
	blockTimeout time.Duration
	leaseTimeout time.Duration
	now          func() time.Time
}

type QueueOption func(*TaskQueue)

func WithSingletonTTL(ttl time.Duration) QueueOption {
	return func(q *TaskQueue) {
		if ttl > 0 {
			q.singletonTTL = ttl
		}
	}
}

func WithBlockTimeout(timeout time.Duration) QueueOption {
	return func(q *TaskQueue) {
		if timeout > 0 {
			q.blockTimeout = timeout
		}
	}
}

// WithLeaseTimeout bounds how long a dequeued message may stay unacked before
// it is redelivered. It must exceed the longest task expiry.
func WithLeaseTimeout(timeout time.Duration) QueueOption {
	return func(q *TaskQueue) {
		if timeout > 0 {
			q.leaseTimeout = timeout
		}
	}
}

func NewTaskQueue(client redis.UniversalClient, keyPrefix string, opts ...QueueOption) *TaskQueue {
	q := &TaskQueue{
		client:       client,
		prefix:       prefixOrDefault(keyPrefix),
		singletonTTL: defaultSingletonTTL,
		blockTimeout: defaultBlockTimeout,
		leaseTimeout: defaultLeaseTimeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *TaskQueue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return errors.New("redisstore: task message is required")
	}
	env := envelope{
		ID:             uuid.NewString(),
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     msg.Parameters,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(msg.DedupPolicy),
		Attempt:        1,
		EnqueuedAt:     q.now(),
	}
	if env.JobID == "" {
		return core.NewValidationError("job_id", "task type is required")
	}
	if env.IdempotencyKey != "" {
		held, err := q.client.SetNX(ctx, q.singletonKey(env.IdempotencyKey), env.ID, q.singletonTTL).Result()
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		q.release(ctx, env)
		return err
	}
	return nil
}

// Dequeue reclaims expired leases and promotes due delayed messages, then
// blocks up to the block timeout for a ready one. It returns nil, nil when
// nothing arrived.
func (q *TaskQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if _, err := q.ReclaimExpired(ctx); err != nil {
		return nil, err
	}
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	if err := promoteDue.Run(ctx, q.client, []string{q.delayedKey(), q.readyKey()}, now, promoteBatch).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: promote delayed: %w", err)
	}
	payload, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", q.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := q.client.ZAdd(ctx, q.leaseKey(), redis.Z{Score: float64(q.leaseDeadline()), Member: payload}).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: lease task: %w", err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		// unreadable payloads go straight to the dead-letter list
		_, _ = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey(), 1, payload)
			pipe.ZRem(ctx, q.leaseKey(), payload)
			pipe.LPush(ctx, q.deadKey(), payload)
			return nil
		})
		return nil, fmt.Errorf("redisstore: decode task: %w", err)
	}
	if env.IdempotencyKey != "" {
		_ = q.client.Expire(ctx, q.singletonKey(env.IdempotencyKey), q.singletonTTL).Err()
	}
	return &delivery{queue: q, env: env, raw: payload}, nil
}

// ReclaimExpired puts messages whose lease ran out back on the ready list.
// Dequeue calls it on every poll; the sweep command calls it too so a queue
// without live workers still recovers.
func (q *TaskQueue) ReclaimExpired(ctx context.Context) (int, error) {
	now := q.now()
	reclaimed, err := reclaimExpired.Run(ctx, q.client,
		[]string{q.processingKey(), q.leaseKey(), q.readyKey(), q.deadKey()},
		now.UnixMilli(), q.leaseDeadline(), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redisstore: reclaim leases: %w", err)
	}
	return reclaimed, nil
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (q *TaskQueue) DeadLetters(ctx context.Context, limit int64) ([]*core.JobExecutionMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := q.client.LRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*core.JobExecutionMessage, 0, len(raw))
	for _, item := range raw {
		var env envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			continue
		}
		out = append(out, env.message())
	}
	return out, nil
}

// Pending reports how many messages are ready and how many are delayed.
func (q *TaskQueue) Pending(ctx context.Context) (ready int64, delayed int64, err error) {
	if ready, err = q.client.LLen(ctx, q.readyKey()).Result(); err != nil {
		return 0, 0, err
	}
	if delayed, err = q.client.ZCard(ctx, q.delayedKey()).Result(); err != nil {
		return 0, 0, err
	}
	return ready, delayed, nil
}

// InFlight reports how many dequeued messages are still unacked.
func (q *TaskQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processingKey()).Result()
}

func (q *TaskQueue) leaseDeadline() int64 {
	return q.now().Add(q.leaseTimeout).UnixMilli()
}

func (q *TaskQueue) release(ctx context.Context, env envelope) {
	if env.IdempotencyKey == "" {
		return
	}
	_ = compareAndDelete.Run(context.WithoutCancel(ctx), q.client, []string{q.singletonKey(env.IdempotencyKey)}, env.ID).Err()
}

func (q *TaskQueue) readyKey() string   { return q.prefix + ":queue:ready" }
func (q *TaskQueue) delayedKey() string { return q.prefix + ":queue:delayed" }
func (q *TaskQueue) deadKey() string    { return q.prefix + ":queue:dead" }

func (q *TaskQueue) processingKey() string { return q.prefix + ":queue:processing" }
func (q *TaskQueue) leaseKey() string      { return q.prefix + ":queue:leases" }

func (q *TaskQueue) singletonKey(key string) string {
	return q.prefix + ":queue:singleton:" + key
}

type delivery struct {
	queue *TaskQueue
	env   envelope
	raw   string
}

func (d *delivery) Message() *core.JobExecutionMessage {
	return d.env.message()
}

func (d *delivery) Attempt() int {
	return d.env.Attempt
}

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.settle(ctx, nil); err != nil {
		return err
	}
	d.queue.release(ctx, d.env)
	return nil
}

// settle drops the message from the processing list and its lease, running
// then in the same transaction.
func (d *delivery) settle(ctx context.Context, then func(pipe redis.Pipeliner)) error {
	q := d.queue
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, d.raw)
		pipe.ZRem(ctx, q.leaseKey(), d.raw)
		if then != nil {
			then(pipe)
		}
		return nil
	})
	return err
}

// Nack requeues with a delay, dead-letters, or drops the message. The
// singleton key stays held while a retry is pending.
func (d *delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	q := d.queue
	switch {
	case opts.DeadLetter:
		env := d.env
		env.Reason = strings.TrimSpace(opts.Reason)
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := d.settle(ctx, func(pipe redis.Pipeliner) {
			pipe.LPush(ctx, q.deadKey(), payload)
		}); err != nil {
			return err
		}
		q.release(ctx, d.env)
		return nil
	case opts.Requeue:
		env := d.env
		env.Attempt++
		env.Reason = strings.TrimSpace(opts.Reason)
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		due := q.now().Add(opts.Delay).UnixMilli()
		if err := d.settle(ctx, func(pipe redis.Pipeliner) {
			pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due), Member: string(payload)})
		}); err != nil {
			return err
		}
		if env.IdempotencyKey != "" {
			_ = q.client.Expire(ctx, q.singletonKey(env.IdempotencyKey), q.singletonTTL+opts.Delay).Err()
		}
		return nil
	default:
		if err := d.settle(ctx, nil); err != nil {
			return err
		}
		q.release(ctx, d.env)
		return nil
	}
}

var (
	_ core.JobEnqueuer        = (*TaskQueue)(nil)
	_ core.JobDequeuer        = (*TaskQueue)(nil)
	_ core.JobDelivery        = (*delivery)(nil)
	_ core.JobAttemptReporter = (*delivery)(nil)
)
