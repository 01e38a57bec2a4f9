package jobs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-contact-sync/core"
)

const (
	defaultWorkers      = 4
	defaultPollInterval = time.Second
)

// PolicyResolver returns the retry policy for a task type. core.Config
// satisfies it.
type PolicyResolver interface {
	TaskPolicy(task string) core.TaskPolicy
}

// Runner pulls deliveries from a queue and executes them with a fixed pool
// of workers. A Dequeue returning a nil delivery and nil error means the
// queue is idle.
type Runner struct {
	dequeuer     core.JobDequeuer
	handler      TaskHandler
	policies     PolicyResolver
	workers      int
	pollInterval time.Duration
	hook         core.JobWorkerHook
	observer     core.Observer
	now          func() time.Time
}

type RunnerOption func(*Runner)

func WithWorkers(workers int) RunnerOption {
	return func(r *Runner) {
		if workers > 0 {
			r.workers = workers
		}
	}
}

func WithPollInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

func WithWorkerHook(hook core.JobWorkerHook) RunnerOption {
	return func(r *Runner) {
		r.hook = hook
	}
}

func WithRunnerObserver(observer core.Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = observer
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(dequeuer core.JobDequeuer, handler TaskHandler, policies PolicyResolver, opts ...RunnerOption) (*Runner, error) {
	if dequeuer == nil {
		return nil, errors.New("jobs: job dequeuer is required")
	}
	if handler == nil {
		return nil, errors.New("jobs: task handler is required")
	}
	if policies == nil {
		policies = core.DefaultConfig()
	}
	r := &Runner{
		dequeuer:     dequeuer,
		handler:      handler,
		policies:     policies,
		workers:      defaultWorkers,
		pollInterval: defaultPollInterval,
		observer:     core.NewObserver("contact_sync", nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run blocks until ctx is cancelled. Task failures never stop the pool.
func (r *Runner) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		group.Go(func() error {
			return r.work(ctx)
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) work(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := r.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.observer.Warn(ctx, "dequeue failed", map[string]any{"error": err.Error()})
			if !r.sleep(ctx) {
				return nil
			}
			continue
		}
		if delivery == nil {
			if !r.sleep(ctx) {
				return nil
			}
			continue
		}
		r.Process(ctx, delivery)
	}
}

// Process runs one delivery and settles it: ack on success, delayed requeue
// for retryable failures under the retry limit, dead letter otherwise.
func (r *Runner) Process(ctx context.Context, delivery core.JobDelivery) {
	msg := delivery.Message()
	if msg == nil {
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
		return
	}
	policy := r.policies.TaskPolicy(msg.JobID)
	attempt := 1
	if reporter, ok := delivery.(core.JobAttemptReporter); ok && reporter.Attempt() > 0 {
		attempt = reporter.Attempt()
	}

	startedAt := r.now()
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	r.onStart(ctx, event)

	runCtx := ctx
	if policy.Expire > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, policy.Expire)
		defer cancel()
	}
	err := r.handler.Handle(runCtx, msg)
	event.Duration = r.now().Sub(startedAt)
	event.Err = err

	fields := map[string]any{"task": msg.JobID, "attempt": attempt}
	if connectionID, ok := msg.Parameters[core.TaskParamConnectionID]; ok {
		fields["connection_id"] = connectionID
	}

	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			r.observer.Warn(ctx, "task ack failed", mergeFields(fields, "error", ackErr.Error()))
		}
		r.onSuccess(ctx, event)
		r.observer.Observe(ctx, startedAt, "task", nil, fields)
		return
	}

	opts := core.JobNackOptions{Reason: err.Error()}
	switch {
	case !core.IsRetryable(err):
		opts.DeadLetter = true
	case attempt < policy.MaxAttempts():
		opts.Requeue = true
		opts.Delay = policy.DelayFor(attempt)
		if hint, ok := core.RetryAfter(err); ok && hint > opts.Delay {
			opts.Delay = hint
		}
	default:
		opts.DeadLetter = true
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		r.observer.Warn(ctx, "task nack failed", mergeFields(fields, "error", nackErr.Error()))
	}
	fields["requeue"] = opts.Requeue
	fields["dead_letter"] = opts.DeadLetter
	if opts.Requeue {
		event.Delay = opts.Delay
		r.onRetry(ctx, event)
	} else {
		r.onFailure(ctx, event)
	}
	r.observer.Observe(ctx, startedAt, "task", err, fields)
}

func (r *Runner) sleep(ctx context.Context) bool {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnStart(ctx, event)
	}
}

func (r *Runner) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnSuccess(ctx, event)
	}
}

func (r *Runner) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnFailure(ctx, event)
	}
}

func (r *Runner) onRetry(ctx context.Context, event core.JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnRetry(ctx, event)
	}
}

func mergeFields(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
