package storage

import (
	"encoding/binary"
	"io"
	"os"
)

// WALReader reads physical records, and the logical entries framed inside
// them, back out of a single WAL segment file.
//
// The reference implementation memory-maps the segment; this port reads
// the whole file into memory up front instead, which spec.md's design
// notes explicitly allow as a substitute on platforms/runtimes where mmap
// is inconvenient, and which keeps this package free of platform-specific
// syscalls.
type WALReader struct {
	path string
	data []byte
	pos  int
}

// NewWALReader returns a reader for path; call Open before ReadRecord.
func NewWALReader(path string) *WALReader {
	return &WALReader{path: path}
}

// Open reads the segment file into memory.
func (r *WALReader) Open() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return errIO("wal_reader.open", err)
	}
	r.data = data
	r.pos = 0
	return nil
}

// Size returns the total size of the segment in bytes.
func (r *WALReader) Size() int { return len(r.data) }

// Reset rewinds the reader to the start of the segment.
func (r *WALReader) Reset() { r.pos = 0 }

// ReadRecord reads and verifies the next physical record, returning its
// payload. It returns io.EOF when the segment is exhausted, or a
// KindCorruption *Error if the record is truncated, fails its checksum, or
// carries an unsupported record type — the torn-write signature a crash in
// the middle of an Append leaves behind.
func (r *WALReader) ReadRecord() ([]byte, error) {
	if r.pos >= len(r.data) {
		return nil, io.EOF
	}
	if r.pos+recordHeaderSize > len(r.data) {
		return nil, errCorruption("wal_reader.read", "truncated record header at offset %d", r.pos)
	}
	header := r.data[r.pos : r.pos+recordHeaderSize]
	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint16(header[4:6])
	typ := recordType(header[6])

	payloadStart := r.pos + recordHeaderSize
	payloadEnd := payloadStart + int(length)
	if payloadEnd > len(r.data) {
		return nil, errCorruption("wal_reader.read", "truncated record payload at offset %d", r.pos)
	}
	payload := r.data[payloadStart:payloadEnd]

	var lengthBytes [2]byte
	copy(lengthBytes[:], header[4:6])
	computed := computeRecordCRC(lengthBytes, typ, payload)
	if computed != storedCRC {
		return nil, errCorruption("wal_reader.read", "CRC mismatch in WAL record at offset %d", r.pos)
	}
	if typ != recordFull {
		return nil, errCorruption("wal_reader.read", "unsupported record type %d at offset %d", typ, r.pos)
	}

	r.pos = payloadEnd
	return payload, nil
}

// ReadEntry reads one physical record and decodes it as a WALEntry.
func (r *WALReader) ReadEntry() (WALEntry, error) {
	payload, err := r.ReadRecord()
	if err != nil {
		return WALEntry{}, err
	}
	entry, ok := DecodeWALEntry(payload)
	if !ok {
		return WALEntry{}, errCorruption("wal_reader.read", "malformed WAL entry payload")
	}
	return entry, nil
}

// ForEach calls fn with every entry in order until fn returns false, the
// segment is exhausted (io.EOF, swallowed), or ReadEntry returns a
// non-EOF error (propagated to the caller).
func (r *WALReader) ForEach(fn func(WALEntry) bool) error {
	for {
		entry, err := r.ReadEntry()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(entry) {
			return nil
		}
	}
}
