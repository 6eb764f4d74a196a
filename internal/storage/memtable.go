package storage

import (
	"bytes"
	"sync/atomic"
)

// MemTableOptions configures a MemTable's flush threshold and skip-list
// tuning. The zero value is not valid; use DefaultMemTableOptions.
type MemTableOptions struct {
	// MaxSize is the approximate memory usage, in bytes, at which
	// ShouldFlush starts returning true.
	MaxSize int64
	// MaxHeight bounds the skip list's tower height.
	MaxHeight int
	// BranchingFactor controls how quickly node height decays (1/n chance
	// of promotion per level).
	BranchingFactor int
}

// DefaultMemTableOptions returns the reference tuning: 4 MiB flush
// threshold, height 12, branching factor 4.
func DefaultMemTableOptions() MemTableOptions {
	return MemTableOptions{
		MaxSize:         4 * 1024 * 1024,
		MaxHeight:       defaultMaxHeight,
		BranchingFactor: defaultBranchingFactor,
	}
}

// MemTableStats snapshots a MemTable's bookkeeping counters.
type MemTableStats struct {
	EntryCount      uint64
	MemoryUsage     uint64
	TotalKeyBytes   uint64
	TotalValueBytes uint64
	WriteCount      uint64
	ReadCount       uint64
	MinSequence     SequenceNumber
	MaxSequence     SequenceNumber
}

type memtableEntry struct {
	ikey  InternalKey
	value []byte
}

func memtableEntryCompare(a, b memtableEntry) int {
	return a.ikey.Compare(b.ikey)
}

// MemTable is a multi-version, in-memory sorted buffer of writes, keyed by
// (user_key, sequence descending, type). It is reference-counted: callers
// obtain it Ref'd (from MemTableManager) and must Unref when done; the last
// Unref drops the backing arena and skip list for garbage collection.
//
// A MemTable accepts writes only while it is the active table; once
// MemTableManager rotates it into the immutables queue it is logically
// frozen (callers simply stop calling Put/Delete on it — enforced by
// convention, matching the single-writer discipline the skip list assumes).
type MemTable struct {
	arena *Arena
	table *SkipList[memtableEntry]

	options MemTableOptions

	refs atomic.Int32

	entryCount        atomic.Uint64
	approxMemoryUsage atomic.Uint64
	totalKeyBytes     atomic.Uint64
	totalValueBytes   atomic.Uint64
	writeCount        atomic.Uint64
	readCount         atomic.Uint64
	minSequence       atomic.Uint64
	maxSequence       atomic.Uint64
}

// NewMemTable creates a MemTable with a single reference already held.
func NewMemTable(options MemTableOptions) *MemTable {
	mt := &MemTable{
		arena:   NewArena(),
		options: options,
	}
	mt.table = NewSkipList[memtableEntry](memtableEntryCompare, options.MaxHeight, options.BranchingFactor)
	mt.minSequence.Store(MaxSequenceNumber)
	mt.refs.Store(1)
	return mt
}

// Ref increments the reference count.
func (m *MemTable) Ref() { m.refs.Add(1) }

// Unref decrements the reference count. The caller must not use the
// MemTable again after a call that drops the count to zero.
func (m *MemTable) Unref() {
	if m.refs.Add(-1) == 0 {
		m.arena = nil
		m.table = nil
	}
}

// Put inserts a live value at seq for key. seq must be strictly greater
// than every sequence previously written to this table.
func (m *MemTable) Put(seq SequenceNumber, key, value []byte) {
	m.add(seq, TypeValue, key, value)
}

// Delete inserts a tombstone at seq for key.
func (m *MemTable) Delete(seq SequenceNumber, key []byte) {
	m.add(seq, TypeDeletion, key, nil)
}

func (m *MemTable) add(seq SequenceNumber, typ ValueType, key, value []byte) {
	buf := m.arena.Allocate(len(key) + len(value))
	n := copy(buf, key)
	copy(buf[n:], value)

	entry := memtableEntry{
		ikey:  InternalKey{UserKey: buf[:n:n], Sequence: seq, Type: typ},
		value: buf[n:],
	}
	m.table.Insert(entry)

	size := uint64(len(key) + len(value) + entryOverhead)
	m.approxMemoryUsage.Add(size)
	m.totalKeyBytes.Add(uint64(len(key)))
	m.totalValueBytes.Add(uint64(len(value)))
	m.entryCount.Add(1)
	m.writeCount.Add(1)
	m.updateSequenceBounds(seq)
}

func (m *MemTable) updateSequenceBounds(seq SequenceNumber) {
	for {
		min := m.minSequence.Load()
		if seq >= min || m.minSequence.CompareAndSwap(min, seq) {
			break
		}
	}
	for {
		max := m.maxSequence.Load()
		if seq <= max || m.maxSequence.CompareAndSwap(max, seq) {
			break
		}
	}
}

// Get looks up key as of snapshot: the newest version with sequence <=
// snapshot. Pass MaxSequenceNumber to see every write made so far.
func (m *MemTable) Get(key []byte, snapshot SequenceNumber) LookupResult {
	m.readCount.Add(1)
	lookup := memtableEntry{ikey: InternalKey{UserKey: key, Sequence: snapshot, Type: TypeValue}}
	it := m.table.NewIterator()
	it.Seek(lookup)
	if !it.Valid() {
		return NotFoundResult()
	}
	found := it.Key()
	if !bytes.Equal(found.ikey.UserKey, key) {
		return NotFoundResult()
	}
	if found.ikey.Type == TypeDeletion {
		return DeletedResult()
	}
	return FoundResult(found.value)
}

// ApproximateMemoryUsage returns the running estimate of bytes retained by
// this table's entries (used by ShouldFlush and the Manager's aggregate
// usage counter).
func (m *MemTable) ApproximateMemoryUsage() uint64 { return m.approxMemoryUsage.Load() }

// ShouldFlush reports whether the table has grown past its configured
// MaxSize and is a candidate for rotation.
func (m *MemTable) ShouldFlush() bool {
	return m.ApproximateMemoryUsage() >= uint64(m.options.MaxSize)
}

// EntryCount returns the number of entries written, including tombstones.
func (m *MemTable) EntryCount() uint64 { return m.entryCount.Load() }

// MinSequence returns the smallest sequence number written, or
// MaxSequenceNumber if the table is empty.
func (m *MemTable) MinSequence() SequenceNumber { return m.minSequence.Load() }

// MaxSequence returns the largest sequence number written, or 0 if empty.
func (m *MemTable) MaxSequence() SequenceNumber { return m.maxSequence.Load() }

// Stats snapshots the table's counters.
func (m *MemTable) Stats() MemTableStats {
	return MemTableStats{
		EntryCount:      m.entryCount.Load(),
		MemoryUsage:     m.approxMemoryUsage.Load(),
		TotalKeyBytes:   m.totalKeyBytes.Load(),
		TotalValueBytes: m.totalValueBytes.Load(),
		WriteCount:      m.writeCount.Load(),
		ReadCount:       m.readCount.Load(),
		MinSequence:     m.minSequence.Load(),
		MaxSequence:     m.maxSequence.Load(),
	}
}

// MemTableIterator walks a MemTable's entries in internal-key order: user
// key ascending, then sequence descending.
type MemTableIterator struct {
	it *SkipListIterator[memtableEntry]
}

// NewIterator returns a new iterator over the table, initially invalid.
func (m *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{it: m.table.NewIterator()}
}

func (it *MemTableIterator) Valid() bool     { return it.it.Valid() }
func (it *MemTableIterator) Next()           { it.it.Next() }
func (it *MemTableIterator) Prev()           { it.it.Prev() }
func (it *MemTableIterator) SeekToFirst()    { it.it.SeekToFirst() }
func (it *MemTableIterator) SeekToLast()     { it.it.SeekToLast() }
func (it *MemTableIterator) UserKey() []byte { return it.it.Key().ikey.UserKey }
func (it *MemTableIterator) Sequence() SequenceNumber { return it.it.Key().ikey.Sequence }
func (it *MemTableIterator) Type() ValueType  { return it.it.Key().ikey.Type }
func (it *MemTableIterator) Value() []byte    { return it.it.Key().value }
func (it *MemTableIterator) InternalKey() InternalKey { return it.it.Key().ikey }

// Seek positions the iterator at the first entry >= (key, snapshot).
func (it *MemTableIterator) Seek(key []byte, snapshot SequenceNumber) {
	it.it.Seek(memtableEntry{ikey: InternalKey{UserKey: key, Sequence: snapshot, Type: TypeValue}})
}
