package storage

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// SSTableOptions configures block size, restart interval, checksum
// verification, and bloom filter usage for an SSTableWriter.
type SSTableOptions struct {
	BlockSize       int
	RestartInterval int
	VerifyChecksums bool
	UseBloomFilter  bool
	BloomPolicy     BloomFilterPolicy
}

// DefaultSSTableOptions returns the reference tuning: 4 KiB blocks, restart
// interval 16, checksum verification on, bloom filter on with the default
// 10-bits-per-key policy.
func DefaultSSTableOptions() SSTableOptions {
	return SSTableOptions{
		BlockSize:       kDefaultBlockSize,
		RestartInterval: kDefaultRestartInterval,
		VerifyChecksums: true,
		UseBloomFilter:  true,
		BloomPolicy:     DefaultBloomFilterPolicy(),
	}
}

// SSTableWriteStats summarizes a completed SSTable file.
type SSTableWriteStats struct {
	DataSize      uint64
	IndexSize     uint64
	BloomSize     uint64
	NumEntries    uint64
	NumDataBlocks uint64
	RawKeySize    uint64
	RawValueSize  uint64
	MinSequence   SequenceNumber
	MaxSequence   SequenceNumber
}

// SSTableWriter writes a single immutable sorted table file: a sequence of
// data blocks, an index block mapping each data block's last internal key
// to its BlockHandle, an optional bloom filter block, and a fixed-size
// footer. Keys must be added to Add in strictly increasing internal-key
// order; this is the single-writer, append-only discipline the format
// assumes.
type SSTableWriter struct {
	path    string
	options SSTableOptions

	file   *os.File
	offset uint64
	closed bool

	dataBlock    *BlockBuilder
	indexBuilder *IndexBlockBuilder
	bloomBuilder *BloomFilterBuilder

	numEntries    uint64
	firstInternal []byte
	lastInternal  []byte
	lastKey       InternalKey
	stats         SSTableWriteStats

	logger  *zap.Logger
	metrics *Metrics
}

// NewSSTableWriter returns a writer for path; call Open before Add.
func NewSSTableWriter(path string, options SSTableOptions, logger *zap.Logger, metrics *Metrics) *SSTableWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &SSTableWriter{
		path:         path,
		options:      options,
		dataBlock:    NewBlockBuilder(options.RestartInterval),
		indexBuilder: NewIndexBlockBuilder(),
		bloomBuilder: NewBloomFilterBuilder(options.BloomPolicy),
		stats:        SSTableWriteStats{MinSequence: MaxSequenceNumber},
		logger:       logger,
		metrics:      metrics,
	}
}

// Open creates (truncating) the file at path.
func (w *SSTableWriter) Open() error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errIO("sstable_writer.open", err)
	}
	w.file = f
	return nil
}

// encodeInternalKey appends an 8-byte little-endian trailer of
// (sequence<<8 | type) to userKey, matching the on-disk internal key
// layout the index and data blocks are both keyed by.
func encodeInternalKey(userKey []byte, seq SequenceNumber, typ ValueType) []byte {
	packed := (seq << 8) | uint64(typ)
	out := make([]byte, 0, len(userKey)+8)
	out = append(out, userKey...)
	out = PutFixed64(out, packed)
	return out
}

// decodeInternalKey splits an encoded internal key back into its user key
// and the trailing (sequence, type) pair.
func decodeInternalKey(ik []byte) (userKey []byte, seq SequenceNumber, typ ValueType) {
	n := len(ik) - 8
	packed := DecodeFixed64(ik[n:])
	return ik[:n], packed >> 8, ValueType(packed & 0xff)
}

// Add appends one (user key, value) pair at the given sequence and type.
// Internal keys must arrive in the same order MemTable's iterator produces
// them: user key ascending, then sequence descending — the order
// InternalKey.Compare defines, not the byte order of their on-disk
// encoding (a higher sequence encodes to a numerically larger fixed64
// trailer, so two versions of the same key visited newest-first would
// otherwise look "out of order" under a raw byte comparison).
func (w *SSTableWriter) Add(userKey, value []byte, seq SequenceNumber, typ ValueType) error {
	internal := encodeInternalKey(userKey, seq, typ)
	current := InternalKey{UserKey: userKey, Sequence: seq, Type: typ}
	if w.numEntries > 0 && current.Compare(w.lastKey) <= 0 {
		return errInvalidArgument("sstable_writer.add", "keys added out of order")
	}
	w.lastKey = current
	if w.firstInternal == nil {
		w.firstInternal = append([]byte(nil), internal...)
	}
	if seq < w.stats.MinSequence {
		w.stats.MinSequence = seq
	}
	w.lastInternal = append(w.lastInternal[:0:0], internal...)
	if seq > w.stats.MaxSequence || w.numEntries == 0 {
		w.stats.MaxSequence = seq
	}

	w.dataBlock.Add(internal, value)
	w.numEntries++
	if w.options.UseBloomFilter {
		w.bloomBuilder.AddKey(userKey)
	}
	w.stats.RawKeySize += uint64(len(userKey))
	w.stats.RawValueSize += uint64(len(value))

	if w.dataBlock.CurrentSizeEstimate() >= w.options.BlockSize {
		return w.flushDataBlock()
	}
	return nil
}

func (w *SSTableWriter) flushDataBlock() error {
	if w.dataBlock.Empty() {
		return nil
	}
	withTrailer := AddTrailer(w.dataBlock.Finish(), BlockTypeData)
	handle := BlockHandle{Offset: w.offset, Size: uint64(len(withTrailer))}
	if err := w.writeRaw(withTrailer); err != nil {
		return err
	}
	w.indexBuilder.AddEntry(w.dataBlock.LastKey(), handle)
	w.stats.DataSize += uint64(len(withTrailer))
	w.stats.NumDataBlocks++
	w.dataBlock.Reset()
	return nil
}

func (w *SSTableWriter) writeRaw(data []byte) error {
	n, err := w.file.Write(data)
	if err != nil {
		return errIO("sstable_writer.write", err)
	}
	w.offset += uint64(n)
	return nil
}

// Finish flushes any pending data block, writes the index block, the bloom
// filter block (if enabled), and the footer, then fsyncs and closes the
// file. stats, if non-nil, is populated with the completed file's summary.
func (w *SSTableWriter) Finish(stats *SSTableWriteStats) error {
	start := time.Now()
	if err := w.flushDataBlock(); err != nil {
		return err
	}

	indexHandle, err := w.writeIndexBlock()
	if err != nil {
		return err
	}

	bloomHandle, err := w.writeBloomFilter()
	if err != nil {
		return err
	}

	w.stats.NumEntries = w.numEntries
	if err := w.writeFooter(indexHandle, bloomHandle); err != nil {
		return err
	}

	if err := w.file.Sync(); err != nil {
		return errIO("sstable_writer.finish", err)
	}
	if err := w.file.Close(); err != nil {
		return errIO("sstable_writer.finish", err)
	}
	w.closed = true

	w.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if stats != nil {
		*stats = w.stats
	}
	return nil
}

func (w *SSTableWriter) writeIndexBlock() (BlockHandle, error) {
	withTrailer := AddTrailer(w.indexBuilder.Finish(), BlockTypeIndex)
	handle := BlockHandle{Offset: w.offset, Size: uint64(len(withTrailer))}
	if err := w.writeRaw(withTrailer); err != nil {
		return BlockHandle{}, err
	}
	w.stats.IndexSize = uint64(len(withTrailer))
	return handle, nil
}

func (w *SSTableWriter) writeBloomFilter() (BlockHandle, error) {
	if !w.options.UseBloomFilter || w.bloomBuilder.NumKeys() == 0 {
		return BlockHandle{}, nil
	}
	data := w.bloomBuilder.Finish()
	handle := BlockHandle{Offset: w.offset, Size: uint64(len(data))}
	// The bloom block is raw bytes with no trailer: it is not an indexed
	// or prefix-compressed block, just a fixed-format bit array.
	if err := w.writeRaw(data); err != nil {
		return BlockHandle{}, err
	}
	w.stats.BloomSize = uint64(len(data))
	return handle, nil
}

func (w *SSTableWriter) writeFooter(indexHandle, bloomHandle BlockHandle) error {
	var minKey, maxKey []byte
	if w.firstInternal != nil {
		minKey, _, _ = decodeInternalKey(w.firstInternal)
	}
	if w.lastInternal != nil {
		maxKey, _, _ = decodeInternalKey(w.lastInternal)
	}
	footer := Footer{
		IndexHandle: indexHandle,
		BloomHandle: bloomHandle,
		NumEntries:  w.numEntries,
		MinSequence: w.stats.MinSequence,
		MaxSequence: w.stats.MaxSequence,
		MinKey:      minKey,
		MaxKey:      maxKey,
	}
	return w.writeRaw(footer.Encode())
}

// Abandon closes and deletes the partially-written file. It is safe to call
// after Finish has already succeeded (a no-op in that case).
func (w *SSTableWriter) Abandon() {
	if w.closed {
		return
	}
	w.closed = true
	if w.file != nil {
		w.file.Close()
	}
	os.Remove(w.path)
}

// FlushMemTable is a convenience wrapper that writes every entry of mt, in
// its natural internal-key order, out to a new SSTable file at path.
func FlushMemTable(path string, mt *MemTable, options SSTableOptions, logger *zap.Logger, metrics *Metrics) (*SSTableWriteStats, error) {
	w := NewSSTableWriter(path, options, logger, metrics)
	if err := w.Open(); err != nil {
		return nil, err
	}

	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		ik := it.InternalKey()
		if err := w.Add(ik.UserKey, it.Value(), ik.Sequence, ik.Type); err != nil {
			w.Abandon()
			return nil, err
		}
	}

	var stats SSTableWriteStats
	if err := w.Finish(&stats); err != nil {
		w.Abandon()
		return nil, err
	}
	return &stats, nil
}
