// Package storage implements the write-path core of a log-structured merge
// (LSM) tree key-value engine.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                     LSM write path                              │
//	├─────────────────────────────────────────────────────────────────┤
//	│  Write Path:  Client → WALManager → MemTableManager → MemTable   │
//	│  Rotation:    active MemTable → immutables queue → flush hook    │
//	│  Flush:       (external) FlushMemTable → L0 file                 │
//	├─────────────────────────────────────────────────────────────────┤
//	│  Read Path:   MemTableManager.Get → active, then immutables      │
//	│               newest-to-oldest (disk levels are out of scope)    │
//	└─────────────────────────────────────────────────────────────────┘
//
// Key components:
//   - Arena: bump-pointer byte allocator backing MemTable entry storage.
//   - SkipList: generic ordered container with wait-free reads.
//   - MemTable: multi-version sorted buffer keyed by (user key, sequence).
//   - MemTableManager: active/immutable rotation and the sequence counter.
//   - WALWriter/WALReader/WALManager: crash-consistent durability log.
//   - BloomFilterBuilder/Reader: probabilistic membership filter.
//   - BlockBuilder/SSTableWriter: immutable sorted on-disk table format.
//
// SSTable reading, compaction, manifest/version bookkeeping, the public
// database facade, and snapshot/iterator composition over memory and disk
// are out of scope for this package; they are external collaborators
// referenced only through the narrow interfaces above (FlushCallback,
// GetOldestImmutable, RemoveFlushedMemTable, MarkFlushed).
package storage
