// Package engine implements the in-process key-value and list engine that backs
// the memory cache and queue drivers.
package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when a key is absent or its entry has expired.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidTTL is returned when SetEx is called with a non-positive TTL.
	ErrInvalidTTL = errors.New("ttl must be positive")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("engine closed")
)

// KV is the expiring key-value half of the engine.
type KV interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)
	// SetEx stores value under key for ttl.
	SetEx(key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Lists is the FIFO list half of the engine.
type Lists interface {
	// LPush prepends value to the named list and returns the new length.
	LPush(list string, value []byte) (int, error)
	// BRPop removes and returns the tail of the named list, waiting up to
	// timeout for an element. ok is false when the wait timed out.
	BRPop(ctx context.Context, list string, timeout time.Duration) (value []byte, ok bool, err error)
	// Len returns the number of elements in the named list.
	Len(list string) int
}
