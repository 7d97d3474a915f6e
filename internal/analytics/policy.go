package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/queue"
)

// FailurePolicy decides what happens to an event the consumer could not
// decode or persist. The event has already left the queue.
type FailurePolicy interface {
	Name() string
	Handle(ctx context.Context, payload []byte, cause error)
}

// DropPolicy logs the failure and discards the event.
type DropPolicy struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (DropPolicy) Name() string { return "drop" }

func (p DropPolicy) Handle(_ context.Context, payload []byte, cause error) {
	p.Metrics.RecordConsume(metrics.OutcomeDropped)
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("analytics event dropped", "error", cause, "payload", truncate(payload, 256))
}

// DeadLetterPolicy pushes the raw payload onto a second queue for later
// inspection or replay. If that push fails the event is dropped.
type DeadLetterPolicy struct {
	Queue   queue.Queue
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (DeadLetterPolicy) Name() string { return "dead_letter" }

func (p DeadLetterPolicy) Handle(ctx context.Context, payload []byte, cause error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := p.Queue.Enqueue(pushCtx, payload); err != nil {
		logger.Error("dead letter push failed", "dead_letter", p.Queue.Name(), "error", err)
		DropPolicy{Logger: logger, Metrics: p.Metrics}.Handle(ctx, payload, cause)
		return
	}
	p.Metrics.RecordConsume(metrics.OutcomeDeadLettered)
	logger.Warn("analytics event dead-lettered", "dead_letter", p.Queue.Name(), "error", cause)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
