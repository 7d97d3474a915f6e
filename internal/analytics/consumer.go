package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/queue"
	"github.com/celerix-dev/invasions/pkg/schema"
)

// State is the consumer's position in its loop.
type State int32

const (
	// StateIdle waits on the queue.
	StateIdle State = iota
	// StateProcessing decodes and persists one event.
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// EventStore persists decoded events. Inserting an id twice is a no-op.
type EventStore interface {
	InsertEvent(ctx context.Context, ev schema.AnalyticsEvent) (inserted bool, err error)
}

// Consumer pops one event at a time and writes it to the store. Queue errors
// put it to sleep for the backoff interval; processing failures go to the
// failure policy. Neither stops the loop.
type Consumer struct {
	queue          queue.Queue
	store          EventStore
	policy         FailurePolicy
	popTimeout     time.Duration
	backoff        time.Duration
	persistTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	state atomic.Int32
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

func WithPopTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.popTimeout = d
		}
	}
}

func WithBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

func WithPolicy(p FailurePolicy) ConsumerOption {
	return func(c *Consumer) {
		if p != nil {
			c.policy = p
		}
	}
}

func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

func NewConsumer(q queue.Queue, st EventStore, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:          q,
		store:          st,
		popTimeout:     5 * time.Second,
		backoff:        5 * time.Second,
		persistTimeout: 10 * time.Second,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "consumer", "queue", q.Name())
	if c.policy == nil {
		c.policy = DropPolicy{Logger: c.logger, Metrics: c.metrics}
	}
	return c
}

// State reports whether the consumer is waiting or handling an event.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetConsumerState(float64(s))
}

// Run loops until ctx is cancelled or the queue is closed. It returns nil
// on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "policy", c.policy.Name(), "pop_timeout", c.popTimeout, "backoff", c.backoff)
	defer c.logger.Info("consumer stopped")

	c.setState(StateIdle)
	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, ok, err := c.queue.Dequeue(ctx, c.popTimeout)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, queue.ErrClosed):
			return err
		case err != nil:
			c.metrics.RecordBackoff()
			c.logger.Warn("queue wait failed, backing off", "error", err, "backoff", c.backoff)
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		case !ok:
			continue
		}

		c.process(ctx, payload)
	}
}

// process handles one popped event. The event is already off the queue, so
// persistence runs to completion even if ctx is cancelled meanwhile.
func (c *Consumer) process(ctx context.Context, payload []byte) {
	c.setState(StateProcessing)
	defer c.setState(StateIdle)

	ev, err := Decode(payload, c.now())
	if err != nil {
		c.metrics.RecordConsume(metrics.OutcomeFailed)
		c.policy.Handle(ctx, payload, err)
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
	defer cancel()

	inserted, err := c.store.InsertEvent(persistCtx, ev)
	if err != nil {
		c.metrics.RecordConsume(metrics.OutcomeFailed)
		c.policy.Handle(ctx, payload, err)
		return
	}
	if !inserted {
		c.metrics.RecordConsume(metrics.OutcomeDuplicate)
		c.logger.Debug("duplicate analytics event ignored", "id", ev.ID, "type", ev.Type)
		return
	}
	c.metrics.RecordConsume(metrics.OutcomePersisted)
	c.logger.Debug("analytics event persisted", "id", ev.ID, "type", ev.Type)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
