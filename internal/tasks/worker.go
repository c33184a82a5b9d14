package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the outcome of one task attempt.
type State string

const (
	StateSuccess State = "SUCCESS"
	StateRetry   State = "RETRY"
	StateFailure State = "FAILURE"
)

// Result describes what the worker did with a message.
type Result struct {
	State State
	Err   error
	// Next is the rescheduled message when State is StateRetry.
	Next *Message
}

// Worker consumes messages from a broker and runs the registered tasks.
type Worker struct {
	registry    *Registry
	broker      Broker
	logger      *zap.Logger
	queues      []string
	concurrency int
	now         func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueues limits the worker to the given queues. By default it consumes every
// queue that has a registered task.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) { w.queues = queues }
}

// WithConcurrency sets the number of consumers per queue.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func NewWorker(registry *Registry, broker Broker, logger *zap.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		registry:    registry,
		broker:      broker,
		logger:      logger,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if len(w.queues) == 0 {
		w.queues = registry.Queues()
	}
	return w
}

// Run consumes until ctx is cancelled or the broker is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.Strings("queues", w.queues),
		zap.Int("concurrency", w.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range w.queues {
		for i := 0; i < w.concurrency; i++ {
			queue := queue
			g.Go(func() error {
				return w.consume(gctx, queue)
			})
		}
	}

	err := g.Wait()
	w.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBrokerClosed) {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context, queue string) error {
	for {
		msg, err := w.broker.Consume(ctx, queue)
		if err != nil {
			return err
		}
		w.Process(ctx, msg)
	}
}

// Process runs one attempt of msg and applies the task's retry policy.
func (w *Worker) Process(ctx context.Context, msg Message) Result {
	log := w.logger.With(
		zap.String("task", msg.Task),
		zap.String("task_id", msg.ID),
		zap.Int("retries", msg.Retries),
	)

	t, ok := w.registry.Lookup(msg.Task)
	if !ok {
		err := fmt.Errorf("task %q not registered", msg.Task)
		log.Error("received unregistered task")
		tasksTotal.WithLabelValues(msg.Task, string(StateFailure)).Inc()
		return Result{State: StateFailure, Err: err}
	}

	start := w.now()
	err := w.run(ctx, t, msg)
	taskDuration.WithLabelValues(t.Name).Observe(w.now().Sub(start).Seconds())

	res := w.classify(ctx, t, msg, err)
	tasksTotal.WithLabelValues(t.Name, string(res.State)).Inc()

	switch res.State {
	case StateSuccess:
		log.Debug("task succeeded")
	case StateRetry:
		log.Warn("task scheduled for retry",
			zap.Error(res.Err),
			zap.Time("eta", res.Next.ETA),
		)
	case StateFailure:
		log.Error("task failed", zap.Error(res.Err))
	}
	return res
}

func (w *Worker) run(ctx context.Context, t Task, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	return t.Handler(ctx, msg.Payload)
}

func (w *Worker) classify(ctx context.Context, t Task, msg Message, err error) Result {
	if err == nil {
		return Result{State: StateSuccess}
	}

	var re *RetryError
	if !errors.As(err, &re) {
		return Result{State: StateFailure, Err: err}
	}
	if msg.Retries >= t.MaxRetries {
		return Result{
			State: StateFailure,
			Err:   fmt.Errorf("max retries (%d) exceeded: %w", t.MaxRetries, re.Err),
		}
	}

	delay := re.Countdown
	if delay <= 0 {
		delay = t.DefaultRetryDelay
	}
	next := msg
	next.Retries++
	next.ETA = w.now().Add(delay)
	// The attempt already ran; a shutting-down worker must still hand it back.
	if perr := w.broker.Publish(context.WithoutCancel(ctx), next); perr != nil {
		return Result{
			State: StateFailure,
			Err:   fmt.Errorf("reschedule: %w (after %v)", perr, re.Err),
		}
	}
	return Result{State: StateRetry, Err: re.Err, Next: &next}
}
