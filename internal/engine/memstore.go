package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// listSaver writes list snapshots. Persistence is the real one.
type listSaver interface {
	SaveLists(version uint64, lists map[string][][]byte) error
}

// DefaultSaveDelay is how long list changes are batched before a snapshot.
const DefaultSaveDelay = 100 * time.Millisecond

// MemStore is a thread-safe in-process engine holding expiring keys and FIFO lists.
// Lists are optionally snapshotted to disk through a Persistence.
type MemStore struct {
	mu     sync.Mutex
	values map[string]entry
	// lists are stored head-first: LPush prepends, BRPop takes the last element.
	lists map[string][][]byte
	// wake is closed and replaced on every push so blocked poppers re-check.
	wake   chan struct{}
	closed bool

	persister listSaver
	version   uint64
	saveDelay time.Duration
	// dirty holds at most one pending save request for the saver goroutine.
	dirty  chan struct{}
	stop   chan struct{}
	saving sync.WaitGroup
	logger *slog.Logger

	now func() time.Time
}

// Option customizes a MemStore.
type Option func(*MemStore)

// WithLogger sets where snapshot failures are reported.
func WithLogger(l *slog.Logger) Option {
	return func(m *MemStore) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSaveDelay overrides DefaultSaveDelay.
func WithSaveDelay(d time.Duration) Option {
	return func(m *MemStore) {
		if d > 0 {
			m.saveDelay = d
		}
	}
}

// NewMemStore initializes a store.
// It accepts existing list data (from Persistence.LoadLists) and a persister, both optional.
func NewMemStore(initialLists map[string][][]byte, p *Persistence, opts ...Option) *MemStore {
	if p == nil {
		return newMemStore(initialLists, nil, opts...)
	}
	return newMemStore(initialLists, p, opts...)
}

func newMemStore(initialLists map[string][][]byte, saver listSaver, opts ...Option) *MemStore {
	if initialLists == nil {
		initialLists = make(map[string][][]byte)
	}
	m := &MemStore{
		values:    make(map[string]entry),
		lists:     initialLists,
		wake:      make(chan struct{}),
		persister: saver,
		saveDelay: DefaultSaveDelay,
		dirty:     make(chan struct{}, 1),
		stop:      make(chan struct{}),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.persister != nil {
		m.saving.Add(1)
		go m.saveLoop()
	}
	return m
}

// Close wakes every blocked popper, stops accepting writes and flushes the
// list snapshot.
func (m *MemStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.wake)
	close(m.stop)
	m.mu.Unlock()

	m.saving.Wait()
	if m.persister == nil {
		return nil
	}
	return m.save()
}

// saveLoop writes one snapshot per batch of list changes. Changes arriving
// while a snapshot is pending are folded into it.
func (m *MemStore) saveLoop() {
	defer m.saving.Done()
	timer := time.NewTimer(m.saveDelay)
	timer.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-m.dirty:
		}

		timer.Reset(m.saveDelay)
		select {
		case <-m.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := m.save(); err != nil {
			m.logger.Error("snapshot lists", "error", err)
		}
	}
}

func (m *MemStore) save() error {
	m.mu.Lock()
	m.version++
	version, snapshot := m.version, m.copyLists()
	m.mu.Unlock()
	return m.persister.SaveLists(version, snapshot)
}

// --- KV ---

func (m *MemStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if e.expired(m.now()) {
		delete(m.values, key)
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemStore) SetEx(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = entry{value: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// TTL returns the remaining lifetime of key, or ErrKeyNotFound.
func (m *MemStore) TTL(key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	now := m.now()
	if !ok || e.expired(now) {
		return 0, ErrKeyNotFound
	}
	return e.expiresAt.Sub(now), nil
}

// Keys returns the live keys in lexical order.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0, len(m.values))
	for k, e := range m.values {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.values {
		if e.expired(now) {
			delete(m.values, k)
			removed++
		}
	}
	return removed
}

// --- Lists ---

func (m *MemStore) LPush(list string, value []byte) (int, error) {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	m.lists[list] = append([][]byte{stored}, m.lists[list]...)
	n := len(m.lists[list])

	close(m.wake)
	m.wake = make(chan struct{})
	m.persistLocked()
	m.mu.Unlock()

	return n, nil
}

func (m *MemStore) BRPop(ctx context.Context, list string, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if items := m.lists[list]; len(items) > 0 {
			last := items[len(items)-1]
			if len(items) == 1 {
				delete(m.lists, list)
			} else {
				m.lists[list] = items[:len(items)-1]
			}
			m.persistLocked()
			m.mu.Unlock()
			return last, true, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false, ErrClosed
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (m *MemStore) Len(list string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[list])
}

// persistLocked marks the lists dirty for the saver goroutine.
// It MUST be called while holding m.mu.
func (m *MemStore) persistLocked() {
	if m.persister == nil {
		return
	}
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// copyLists creates a deep copy of the list data.
// It MUST be called while holding m.mu.
func (m *MemStore) copyLists() map[string][][]byte {
	out := make(map[string][][]byte, len(m.lists))
	for name, items := range m.lists {
		cp := make([][]byte, len(items))
		copy(cp, items)
		out[name] = cp
	}
	return out
}
