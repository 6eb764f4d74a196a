package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FlushCallback is invoked synchronously, inside the rotation critical
// section, with the MemTable that just became immutable. Implementations
// must not block for long (a typical implementation hands the table off to
// a background flush worker channel).
type FlushCallback func(*MemTable)

// MemTableSet is a consistent snapshot of every MemTable a Manager is
// holding at one instant: the active table plus every immutable, each
// Ref'd on the caller's behalf. Close must be called exactly once to
// release those references.
type MemTableSet struct {
	Snapshot SequenceNumber
	Tables   []*MemTable // newest (active) first
}

// Close releases every reference this set holds.
func (s *MemTableSet) Close() {
	for _, t := range s.Tables {
		t.Unref()
	}
	s.Tables = nil
}

// MemTableManager owns the active/immutable MemTable rotation and the
// engine-wide sequence counter. All mutable state is protected by a single
// readers-writer lock: readers (Get) take a shared lock, writers (Put,
// Delete, ForceRotation, RemoveFlushedMemTable) take an exclusive lock.
type MemTableManager struct {
	mu         sync.RWMutex
	active     *MemTable
	immutables []*MemTable // oldest first

	options MemTableOptions

	currentSequence  atomic.Uint64
	totalMemoryUsage atomic.Uint64
	immutableCount   atomic.Uint64

	flushCallback FlushCallback

	// flushMu/flushSignal implement the manager's "a flush happened"
	// broadcast without the timeout limitation of sync.Cond: every
	// RemoveFlushedMemTable closes the current channel and replaces it,
	// waking every WaitForFlush call blocked on a receive.
	flushMu     sync.Mutex
	flushSignal chan struct{}

	logger  *zap.Logger
	metrics *Metrics
}

// ManagerOption configures optional collaborators on a MemTableManager.
type ManagerOption func(*MemTableManager)

// WithManagerLogger overrides the manager's logger (default: a no-op logger).
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *MemTableManager) { m.logger = logger }
}

// WithManagerMetrics overrides the manager's metrics collector (default: an
// unregistered no-op collector).
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *MemTableManager) { m.metrics = metrics }
}

// NewMemTableManager creates a manager with a fresh, Ref'd active MemTable.
func NewMemTableManager(options MemTableOptions, opts ...ManagerOption) *MemTableManager {
	m := &MemTableManager{
		options:     options,
		flushSignal: make(chan struct{}),
		logger:      zap.NewNop(),
		metrics:     NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.active = NewMemTable(options)
	return m
}

// AllocateSequence atomically hands out the next sequence number. The first
// call returns 0.
func (m *MemTableManager) AllocateSequence() SequenceNumber {
	return m.currentSequence.Add(1) - 1
}

// CurrentSequence returns the most recently allocated sequence number plus
// one; it is a safe "read everything so far" snapshot value only when no
// concurrent writer is in flight, matching Get's use of it as a default.
func (m *MemTableManager) CurrentSequence() SequenceNumber {
	return m.currentSequence.Load()
}

// Put allocates a sequence number and writes key=value into the active
// table, rotating first if the active table is already over its size
// threshold. Callers are responsible for durability ordering: append to
// the WAL before calling Put so a crash between the two never loses an
// acknowledged write while leaving a WAL record with no memtable entry.
func (m *MemTableManager) Put(key, value []byte) SequenceNumber {
	return m.write(TypeValue, key, value)
}

// Delete allocates a sequence number and writes a tombstone for key.
func (m *MemTableManager) Delete(key []byte) SequenceNumber {
	return m.write(TypeDeletion, key, nil)
}

func (m *MemTableManager) write(typ ValueType, key, value []byte) SequenceNumber {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active.ShouldFlush() {
		m.rotateLocked()
	}

	seq := m.AllocateSequence()
	switch typ {
	case TypeValue:
		m.active.Put(seq, key, value)
	case TypeDeletion:
		m.active.Delete(seq, key)
		m.metrics.Deletes.Inc()
	}
	m.totalMemoryUsage.Add(uint64(len(key) + len(value) + 32))
	m.metrics.Writes.Inc()
	m.metrics.MemtableSize.Set(float64(m.active.ApproximateMemoryUsage()))
	return seq
}

// Get looks up key as of the current sequence: active table first, then
// each immutable from newest to oldest.
func (m *MemTableManager) Get(key []byte) LookupResult {
	return m.GetAtSnapshot(key, m.CurrentSequence())
}

// GetAtSnapshot looks up key as of snapshot, checking the active table then
// immutables newest-to-oldest, returning the first non-NotFound result.
func (m *MemTableManager) GetAtSnapshot(key []byte, snapshot SequenceNumber) LookupResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.metrics.Reads.Inc()
	if r := m.active.Get(key, snapshot); r.Kind != ResultNotFound {
		return r
	}
	for i := len(m.immutables) - 1; i >= 0; i-- {
		if r := m.immutables[i].Get(key, snapshot); r.Kind != ResultNotFound {
			return r
		}
	}
	return NotFoundResult()
}

// ForceRotation rotates the active MemTable into the immutables queue even
// if it hasn't reached its size threshold, installing a fresh active table.
func (m *MemTableManager) ForceRotation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked()
}

// rotateLocked must be called with mu held for writing. It moves the
// current active table (unchanged ref count: the immutables queue simply
// takes over ownership of the Ref the manager already held) into the
// immutables queue, installs a new active table, and invokes the flush
// callback synchronously so the caller's flush pipeline sees the table
// before any other writer can observe the new active table.
func (m *MemTableManager) rotateLocked() {
	imm := m.active
	m.immutables = append(m.immutables, imm)
	m.immutableCount.Add(1)
	m.totalMemoryUsage.Add(imm.ApproximateMemoryUsage())

	m.active = NewMemTable(m.options)

	m.logger.Debug("memtable rotated",
		zap.Uint64("min_sequence", imm.MinSequence()),
		zap.Uint64("max_sequence", imm.MaxSequence()),
		zap.Uint64("entries", imm.EntryCount()),
	)
	if m.flushCallback != nil {
		m.flushCallback(imm)
	}
}

// SetFlushCallback installs the callback invoked on every rotation. It is
// stored under the exclusive lock so it cannot race with an in-progress
// rotation.
func (m *MemTableManager) SetFlushCallback(cb FlushCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCallback = cb
}

// RemoveFlushedMemTable pops the oldest immutable MemTable (the one a flush
// worker has just finished writing to an SSTable) off the queue, drops the
// manager's reference to it, and wakes any WaitForFlush callers.
func (m *MemTableManager) RemoveFlushedMemTable() {
	m.mu.Lock()
	if len(m.immutables) == 0 {
		m.mu.Unlock()
		return
	}
	oldest := m.immutables[0]
	m.immutables = m.immutables[1:]
	m.immutableCount.Add(^uint64(0)) // -1
	m.totalMemoryUsage.Add(^(oldest.ApproximateMemoryUsage() - 1))
	m.mu.Unlock()

	oldest.Unref()
	m.signalFlush()
}

func (m *MemTableManager) signalFlush() {
	m.flushMu.Lock()
	close(m.flushSignal)
	m.flushSignal = make(chan struct{})
	m.flushMu.Unlock()
}

func (m *MemTableManager) currentFlushSignal() chan struct{} {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	return m.flushSignal
}

// GetOldestImmutable returns the oldest immutable MemTable, Ref'd on the
// caller's behalf, or nil if there is none. Typically polled by a flush
// worker that then calls RemoveFlushedMemTable once it has durably written
// the table to an SSTable.
func (m *MemTableManager) GetOldestImmutable() *MemTable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.immutables) == 0 {
		return nil
	}
	oldest := m.immutables[0]
	oldest.Ref()
	return oldest
}

// ImmutableCount returns the number of immutable MemTables awaiting flush.
func (m *MemTableManager) ImmutableCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.immutables)
}

// WaitForFlush blocks until the number of pending immutables drops below
// maxImmutables or timeout elapses, returning false on timeout. It is the
// backpressure mechanism a writer uses to avoid unbounded immutable-queue
// growth when flushing falls behind.
func (m *MemTableManager) WaitForFlush(maxImmutables int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.RLock()
		n := len(m.immutables)
		m.mu.RUnlock()
		if n < maxImmutables {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-m.currentFlushSignal():
		case <-time.After(remaining):
			return false
		}
	}
}

// GetCurrentMemTables returns a consistent, Ref'd snapshot of every
// MemTable the manager currently holds (active first, then immutables
// newest-to-oldest), along with the sequence number in effect at the
// instant of the snapshot. The caller must call Close on the result.
func (m *MemTableManager) GetCurrentMemTables() *MemTableSet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]*MemTable, 0, len(m.immutables)+1)
	m.active.Ref()
	tables = append(tables, m.active)
	for i := len(m.immutables) - 1; i >= 0; i-- {
		m.immutables[i].Ref()
		tables = append(tables, m.immutables[i])
	}
	return &MemTableSet{Snapshot: m.currentSequence.Load(), Tables: tables}
}
