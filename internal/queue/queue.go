// Package queue implements the named FIFO list that carries analytics events
// from the API to the worker. Producers push to the head and the consumer
// blocks on the tail, so items leave in insertion order. A pop removes the
// item; there is no acknowledgement.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celerix-dev/invasions/internal/engine"
)

// ErrClosed is returned by Dequeue once the backing store has shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a blocking FIFO of opaque payloads.
type Queue interface {
	Name() string
	Enqueue(ctx context.Context, payload []byte) error
	// Dequeue waits up to timeout for an item. It returns ok == false and a
	// nil error when the wait elapsed with the list empty.
	Dequeue(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
	Ping(ctx context.Context) error
}

// MemoryQueue runs on the in-process engine lists.
type MemoryQueue struct {
	name  string
	lists engine.Lists
}

func NewMemoryQueue(lists engine.Lists, name string) *MemoryQueue {
	return &MemoryQueue{name: name, lists: lists}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := q.lists.LPush(q.name, payload); err != nil {
		return fmt.Errorf("lpush %s: %w", q.name, err)
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	payload, ok, err := q.lists.BRPop(ctx, q.name, timeout)
	if errors.Is(err, engine.ErrClosed) {
		return nil, false, ErrClosed
	}
	if err != nil {
		return nil, false, fmt.Errorf("brpop %s: %w", q.name, err)
	}
	return payload, ok, nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports the number of waiting items.
func (q *MemoryQueue) Len() int {
	return q.lists.Len(q.name)
}
