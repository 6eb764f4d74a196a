package storage

// recordHeaderSize is the fixed 7-byte header every WAL record carries:
// a 4-byte CRC32, a 2-byte little-endian length, and a 1-byte record type.
const recordHeaderSize = 7

// recordType identifies the framing of a physical WAL record. Only
// recordFull is produced by this writer (records are never split across
// segment boundaries), but the field is on the wire so a future writer that
// does split large records stays compatible.
type recordType byte

const (
	recordFull recordType = 1
)

// WALEntryType distinguishes a Put from a Delete in the logical WAL entry
// payload, independent of the physical record framing above it.
type WALEntryType byte

const (
	WALPut    WALEntryType = 1
	WALDelete WALEntryType = 2
)

// WALEntry is the logical unit appended to the WAL: one Put or Delete, with
// the sequence number it was assigned.
type WALEntry struct {
	Type     WALEntryType
	Sequence SequenceNumber
	Key      []byte
	Value    []byte
}

// EncodeWALEntry serializes e as: type(1) | sequence(fixed64 LE) |
// length-prefixed key | length-prefixed value.
func EncodeWALEntry(e WALEntry) []byte {
	buf := make([]byte, 0, 1+8+VarintLength(uint64(len(e.Key)))+len(e.Key)+VarintLength(uint64(len(e.Value)))+len(e.Value))
	buf = append(buf, byte(e.Type))
	buf = PutFixed64(buf, e.Sequence)
	buf = PutLengthPrefixed(buf, e.Key)
	buf = PutLengthPrefixed(buf, e.Value)
	return buf
}

// DecodeWALEntry parses the format EncodeWALEntry produces.
func DecodeWALEntry(buf []byte) (WALEntry, bool) {
	if len(buf) < 1+8 {
		return WALEntry{}, false
	}
	typ := WALEntryType(buf[0])
	if typ != WALPut && typ != WALDelete {
		return WALEntry{}, false
	}
	seq := DecodeFixed64(buf[1:9])
	rest := buf[9:]

	key, rest, ok := GetLengthPrefixed(rest)
	if !ok {
		return WALEntry{}, false
	}
	value, rest, ok := GetLengthPrefixed(rest)
	if !ok || len(rest) != 0 {
		return WALEntry{}, false
	}
	return WALEntry{Type: typ, Sequence: seq, Key: key, Value: value}, true
}

// computeRecordCRC computes the CRC32 stored in a physical record's header.
// It covers the type byte and payload first (a one-shot CRC32Compute), then
// folds in the 2-byte length field via the acc^0xFFFFFFFF incremental
// convention — the exact order the writer and reader must agree on for a
// record to round-trip.
func computeRecordCRC(length [2]byte, typ recordType, payload []byte) uint32 {
	typeAndPayload := make([]byte, 1+len(payload))
	typeAndPayload[0] = byte(typ)
	copy(typeAndPayload[1:], payload)

	crc := CRC32Compute(typeAndPayload)
	crc = CRC32Update(crc^0xFFFFFFFF, length[:]) ^ 0xFFFFFFFF
	return crc
}
