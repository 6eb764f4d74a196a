package storage

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SyncPolicy controls when a WALWriter issues an fsync.
type SyncPolicy int

const (
	// SyncPerWrite fsyncs after every Append.
	SyncPerWrite SyncPolicy = iota
	// SyncBatched fsyncs once SyncBatchSize bytes have been written since
	// the last sync.
	SyncBatched
	// SyncPeriodic leaves fsyncs to a background goroutine, which syncs
	// when an Append signals it and otherwise every SyncInterval.
	SyncPeriodic
	// NoSync issues no fsync after an Append; durability is left to the OS
	// page cache flush policy, except that an explicit Sync or Close still
	// fsyncs.
	NoSync
)

// WALOptions configures a WALWriter's rotation and sync behavior.
type WALOptions struct {
	SyncPolicy    SyncPolicy
	SyncBatchSize int64
	SyncInterval  time.Duration
	MaxFileSize   int64
}

// DefaultWALOptions returns the reference tuning: sync on every write,
// 1 MiB sync-batch size, 100ms periodic interval, 64 MiB segment size.
func DefaultWALOptions() WALOptions {
	return WALOptions{
		SyncPolicy:    SyncPerWrite,
		SyncBatchSize: 1 << 20,
		SyncInterval:  100 * time.Millisecond,
		MaxFileSize:   64 << 20,
	}
}

// WALWriter appends records to a single WAL segment file. All mutable
// state is protected by mu except fileSize, which is read lock-free by
// ShouldRotate so a WALManager can check rotation eligibility without
// contending with an in-flight Append.
type WALWriter struct {
	path    string
	options WALOptions

	mu             sync.Mutex
	file           *os.File
	bytesSinceSync int64
	closed         bool
	syncRequested  bool

	fileSize atomic.Uint64

	syncCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup

	logger  *zap.Logger
	metrics *Metrics
}

// NewWALWriter returns a writer for path; call Open before Append.
func NewWALWriter(path string, options WALOptions, logger *zap.Logger, metrics *Metrics) *WALWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &WALWriter{path: path, options: options, logger: logger, metrics: metrics}
}

// Open creates or appends to the segment file at path and, for
// SyncPeriodic, starts the background sync goroutine.
func (w *WALWriter) Open() error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errIO("wal_writer.open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errIO("wal_writer.open", err)
	}

	w.mu.Lock()
	w.file = f
	w.fileSize.Store(uint64(info.Size()))
	w.mu.Unlock()

	if w.options.SyncPolicy == SyncPeriodic {
		w.startSyncThread()
	}
	return nil
}

func (w *WALWriter) startSyncThread() {
	w.doneCh = make(chan struct{})
	w.syncCh = make(chan struct{}, 1)
	w.wg.Add(1)
	go w.syncLoop()
}

func (w *WALWriter) syncLoop() {
	defer w.wg.Done()
	interval := w.options.SyncInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.doneCh:
			return
		case <-ticker.C:
		case <-w.syncCh:
		}
		w.mu.Lock()
		if w.bytesSinceSync > 0 {
			w.syncLocked()
		}
		w.syncRequested = false
		w.mu.Unlock()
	}
}

// Append writes one logical WAL entry as a single physical record.
func (w *WALWriter) Append(entry WALEntry) error {
	return w.appendRecord(EncodeWALEntry(entry))
}

// AppendPut is a convenience wrapper over Append for a Put entry.
func (w *WALWriter) AppendPut(seq SequenceNumber, key, value []byte) error {
	return w.Append(WALEntry{Type: WALPut, Sequence: seq, Key: key, Value: value})
}

// AppendDelete is a convenience wrapper over Append for a Delete entry.
func (w *WALWriter) AppendDelete(seq SequenceNumber, key []byte) error {
	return w.Append(WALEntry{Type: WALDelete, Sequence: seq, Key: key})
}

// appendRecord frames payload as [crc32(4)][length(2 LE)][type(1)][payload]
// and issues it as a single write, then applies the configured sync policy.
func (w *WALWriter) appendRecord(payload []byte) error {
	if len(payload) > 0xFFFF {
		return errInvalidArgument("wal_writer.append", "payload too large: %d bytes", len(payload))
	}

	var length [2]byte
	binary.LittleEndian.PutUint16(length[:], uint16(len(payload)))
	crc := computeRecordCRC(length, recordFull, payload)

	record := make([]byte, 0, recordHeaderSize+len(payload))
	record = PutFixed32(record, crc)
	record = append(record, length[:]...)
	record = append(record, byte(recordFull))
	record = append(record, payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.file == nil {
		return errIO("wal_writer.append", os.ErrClosed)
	}
	n, err := w.file.Write(record)
	if err != nil {
		return errIO("wal_writer.append", err)
	}
	w.fileSize.Add(uint64(n))
	w.bytesSinceSync += int64(n)
	return w.handleSyncLocked()
}

func (w *WALWriter) handleSyncLocked() error {
	switch w.options.SyncPolicy {
	case SyncPerWrite:
		return w.syncLocked()
	case SyncBatched:
		if w.bytesSinceSync >= w.options.SyncBatchSize {
			return w.syncLocked()
		}
	case SyncPeriodic:
		w.syncRequested = true
		select {
		case w.syncCh <- struct{}{}:
		default:
		}
	case NoSync:
	}
	return nil
}

func (w *WALWriter) syncLocked() error {
	if w.file == nil || w.bytesSinceSync == 0 {
		return nil
	}
	start := time.Now()
	err := w.file.Sync()
	w.metrics.WALSyncDuration.Observe(time.Since(start).Seconds())
	w.bytesSinceSync = 0
	if err != nil {
		return errIO("wal_writer.sync", err)
	}
	return nil
}

// Sync fsyncs any bytes written since the last sync, regardless of the
// configured policy; it does nothing when there are none.
func (w *WALWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// ShouldRotate reports whether the segment has reached MaxFileSize. Safe to
// call without holding any lock other caller serializes Append against.
func (w *WALWriter) ShouldRotate() bool {
	return int64(w.fileSize.Load()) >= w.options.MaxFileSize
}

// FileSize returns the current segment size in bytes.
func (w *WALWriter) FileSize() int64 { return int64(w.fileSize.Load()) }

// Path returns the segment file path.
func (w *WALWriter) Path() string { return w.path }

// Close is idempotent: it stops the periodic sync goroutine (if any),
// issues a final sync, and closes the file.
func (w *WALWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.doneCh != nil {
		close(w.doneCh)
		w.wg.Wait()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	syncErr := w.syncLocked()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return syncErr
	}
	if closeErr != nil {
		return errIO("wal_writer.close", closeErr)
	}
	return nil
}
