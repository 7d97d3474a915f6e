package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/queue"
	"github.com/celerix-dev/invasions/pkg/schema"
)

// Dispatcher publishes events without ever blocking or failing the caller.
// Events go to a bounded buffer that a background goroutine drains into the
// queue. When the buffer is full the event is dropped.
type Dispatcher struct {
	queue       queue.Queue
	buf         chan []byte
	pushTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buf = make(chan []byte, n)
		}
	}
}

func WithPushTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.pushTimeout = t
		}
	}
}

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher starts the drain goroutine. Call Close to stop it.
func NewDispatcher(q queue.Queue, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:       q,
		buf:         make(chan []byte, 1024),
		pushTimeout: 2 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher", "queue", q.Name())

	go d.drain()
	return d
}

// Publish stamps and serializes the event, then hands it off. It returns
// immediately whether or not a consumer is running.
func (d *Dispatcher) Publish(eventType schema.EventType, data map[string]any) {
	payload, err := Encode(NewEvent(eventType, data, d.now()))
	if err != nil {
		d.fail("encode", eventType, err)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.RecordPublish(metrics.OutcomeDropped)
		d.logger.Warn("analytics event dropped after close", "type", eventType)
		return
	}
	select {
	case d.buf <- payload:
	default:
		d.metrics.RecordPublish(metrics.OutcomeDropped)
		d.logger.Warn("analytics buffer full, event dropped", "type", eventType)
	}
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for payload := range d.buf {
		d.push(payload)
	}
}

func (d *Dispatcher) push(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout)
	defer cancel()

	if err := d.queue.Enqueue(ctx, payload); err != nil {
		d.fail("enqueue", "", err)
		return
	}
	d.metrics.RecordPublish(metrics.OutcomeQueued)
}

func (d *Dispatcher) fail(stage string, eventType schema.EventType, err error) {
	d.metrics.RecordPublish(metrics.OutcomeFailed)
	attrs := []any{"stage", stage, "error", err}
	if eventType != "" {
		attrs = append(attrs, "type", eventType)
	}
	d.logger.Error("failed to publish analytics event", attrs...)
}

// Close stops accepting events and waits until the buffer has been pushed or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.buf)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
