package storage

import "bytes"

const (
	kBlockTrailerSize      = 5
	kFooterSize            = 64
	kDefaultBlockSize      = 4096
	kDefaultRestartInterval = 16
	kSSTableMagic          = uint64(0x53535461626C6531) // "SSTable1"
)

// BlockType tags the trailer of a physical block.
type BlockType byte

const (
	BlockTypeData  BlockType = 0x00
	BlockTypeIndex BlockType = 0x01
)

// BlockHandle locates a block within an SSTable file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// MaxEncodedHandleLength is the largest number of bytes Encode can produce
// (two maximally-sized varint64s).
const MaxEncodedHandleLength = 20

// Encode appends the handle as two varint64s: offset then size.
func (h BlockHandle) Encode(buf []byte) []byte {
	buf = PutVarint64(buf, h.Offset)
	buf = PutVarint64(buf, h.Size)
	return buf
}

// DecodeBlockHandle reads a handle from the front of buf.
func DecodeBlockHandle(buf []byte) (BlockHandle, []byte, bool) {
	offset, n1, ok := GetVarint64(buf)
	if !ok {
		return BlockHandle{}, buf, false
	}
	buf = buf[n1:]
	size, n2, ok := GetVarint64(buf)
	if !ok {
		return BlockHandle{}, buf, false
	}
	return BlockHandle{Offset: offset, Size: size}, buf[n2:], true
}

// Footer is the fixed-size trailer every SSTable file ends with.
type Footer struct {
	IndexHandle BlockHandle
	BloomHandle BlockHandle
	NumEntries  uint64
	MinSequence SequenceNumber
	MaxSequence SequenceNumber
	MinKey      []byte
	MaxKey      []byte
}

// Encode serializes the footer to exactly kFooterSize bytes: length-prefixed
// index handle, length-prefixed bloom handle, three fixed64s, length-
// prefixed min/max keys, zero padding, then the magic number in the last 8
// bytes.
func (f Footer) Encode() []byte {
	var body []byte
	body = PutLengthPrefixed(body, f.IndexHandle.Encode(nil))
	body = PutLengthPrefixed(body, f.BloomHandle.Encode(nil))
	body = PutFixed64(body, f.NumEntries)
	body = PutFixed64(body, f.MinSequence)
	body = PutFixed64(body, f.MaxSequence)
	body = PutLengthPrefixed(body, f.MinKey)
	body = PutLengthPrefixed(body, f.MaxKey)

	if len(body) > kFooterSize-8 {
		// Nothing in this package bounds key sizes before Finish; a body
		// longer than this is cut short here, losing the tail of the
		// length-prefixed key fields.
		body = body[:kFooterSize-8]
	}
	out := make([]byte, kFooterSize)
	copy(out, body)
	copy(out[kFooterSize-8:], encodeFixed64(kSSTableMagic))
	return out
}

func encodeFixed64(v uint64) []byte {
	var tmp [8]byte
	return PutFixed64(tmp[:0], v)
}

// DecodeFooter parses exactly kFooterSize bytes produced by Encode,
// validating the magic number first.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != kFooterSize {
		return Footer{}, errCorruption("footer.decode", "wrong footer size: %d", len(buf))
	}
	magic := DecodeFixed64(buf[kFooterSize-8:])
	if magic != kSSTableMagic {
		return Footer{}, errCorruption("footer.decode", "bad magic number: %#x", magic)
	}

	rest := buf
	indexHandleBytes, rest, ok := GetLengthPrefixed(rest)
	if !ok {
		return Footer{}, errCorruption("footer.decode", "truncated index handle")
	}
	indexHandle, _, ok := DecodeBlockHandle(indexHandleBytes)
	if !ok {
		return Footer{}, errCorruption("footer.decode", "malformed index handle")
	}

	bloomHandleBytes, rest, ok := GetLengthPrefixed(rest)
	if !ok {
		return Footer{}, errCorruption("footer.decode", "truncated bloom handle")
	}
	bloomHandle, _, ok := DecodeBlockHandle(bloomHandleBytes)
	if !ok {
		return Footer{}, errCorruption("footer.decode", "malformed bloom handle")
	}

	if len(rest) < 24 {
		return Footer{}, errCorruption("footer.decode", "truncated sequence fields")
	}
	numEntries := DecodeFixed64(rest[0:8])
	minSeq := DecodeFixed64(rest[8:16])
	maxSeq := DecodeFixed64(rest[16:24])
	rest = rest[24:]

	minKey, rest, ok := GetLengthPrefixed(rest)
	if !ok {
		return Footer{}, errCorruption("footer.decode", "truncated min key")
	}
	maxKey, _, ok := GetLengthPrefixed(rest)
	if !ok {
		return Footer{}, errCorruption("footer.decode", "truncated max key")
	}

	return Footer{
		IndexHandle: indexHandle,
		BloomHandle: bloomHandle,
		NumEntries:  numEntries,
		MinSequence: minSeq,
		MaxSequence: maxSeq,
		MinKey:      append([]byte(nil), minKey...),
		MaxKey:      append([]byte(nil), maxKey...),
	}, nil
}

// BlockBuilder accumulates sorted key/value pairs into a data or index
// block using shared-prefix compression: every restartInterval-th entry is
// a "restart point" stored with no shared prefix, so a reader can binary
// search restarts and then linearly decode forward from one.
type BlockBuilder struct {
	restartInterval int
	buffer          []byte
	restarts        []uint32
	lastKey         []byte
	counter         int
	finished        bool
}

// NewBlockBuilder returns a builder with the given restart interval.
func NewBlockBuilder(restartInterval int) *BlockBuilder {
	if restartInterval <= 0 {
		restartInterval = kDefaultRestartInterval
	}
	return &BlockBuilder{restartInterval: restartInterval, restarts: []uint32{0}}
}

// Add appends a key/value pair. Keys must be added in strictly increasing
// order.
func (b *BlockBuilder) Add(key, value []byte) {
	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLen(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buffer)))
		b.counter = 0
	}
	nonShared := len(key) - shared

	b.buffer = PutVarint32(b.buffer, uint32(shared))
	b.buffer = PutVarint32(b.buffer, uint32(nonShared))
	b.buffer = PutVarint32(b.buffer, uint32(len(value)))
	b.buffer = append(b.buffer, key[shared:]...)
	b.buffer = append(b.buffer, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Finish appends the restart-point array and its count, and returns the
// completed block contents (not including the trailer).
func (b *BlockBuilder) Finish() []byte {
	for _, r := range b.restarts {
		b.buffer = PutFixed32(b.buffer, r)
	}
	b.buffer = PutFixed32(b.buffer, uint32(len(b.restarts)))
	b.finished = true
	return b.buffer
}

// CurrentSizeEstimate returns the block's size if Finish were called now.
func (b *BlockBuilder) CurrentSizeEstimate() int {
	return len(b.buffer) + len(b.restarts)*4 + 4
}

// Empty reports whether no entries have been added.
func (b *BlockBuilder) Empty() bool { return len(b.buffer) == 0 }

// LastKey returns the most recently added key.
func (b *BlockBuilder) LastKey() []byte { return b.lastKey }

// Reset clears the builder for reuse.
func (b *BlockBuilder) Reset() {
	b.buffer = nil
	b.restarts = []uint32{0}
	b.lastKey = nil
	b.counter = 0
	b.finished = false
}

// IndexBlockBuilder wraps a BlockBuilder with restart interval 1: every
// entry is its own restart point, since the index is small and random
// access into it shouldn't require decoding shared prefixes.
type IndexBlockBuilder struct {
	inner *BlockBuilder
}

// NewIndexBlockBuilder returns an empty index block builder.
func NewIndexBlockBuilder() *IndexBlockBuilder {
	return &IndexBlockBuilder{inner: NewBlockBuilder(1)}
}

// AddEntry records that lastKey (the greatest key in a just-flushed data
// block) maps to handle.
func (b *IndexBlockBuilder) AddEntry(lastKey []byte, handle BlockHandle) {
	b.inner.Add(lastKey, handle.Encode(nil))
}

// EntryCount returns the number of index entries added.
func (b *IndexBlockBuilder) EntryCount() int {
	if b.inner.Empty() {
		return 0
	}
	return len(b.inner.restarts)
}

// Finish returns the completed index block contents.
func (b *IndexBlockBuilder) Finish() []byte { return b.inner.Finish() }

// CurrentSizeEstimate mirrors BlockBuilder.CurrentSizeEstimate.
func (b *IndexBlockBuilder) CurrentSizeEstimate() int { return b.inner.CurrentSizeEstimate() }

// Reset clears the builder for reuse.
func (b *IndexBlockBuilder) Reset() { b.inner.Reset() }

// AddTrailer appends a 5-byte trailer to contents: a 1-byte block type
// followed by a 4-byte CRC32 computed over contents+type (not including the
// CRC bytes themselves).
func AddTrailer(contents []byte, typ BlockType) []byte {
	out := make([]byte, 0, len(contents)+kBlockTrailerSize)
	out = append(out, contents...)
	out = append(out, byte(typ))
	crc := CRC32Compute(out)
	out = PutFixed32(out, crc)
	return out
}

// VerifyTrailer checks a block-with-trailer's type and CRC, returning the
// bare contents (without type byte or CRC) on success.
func VerifyTrailer(blockWithTrailer []byte, expected BlockType) ([]byte, error) {
	if len(blockWithTrailer) < kBlockTrailerSize {
		return nil, errCorruption("block.verify", "block too short for trailer: %d bytes", len(blockWithTrailer))
	}
	contentsAndType := blockWithTrailer[:len(blockWithTrailer)-4]
	storedCRC := DecodeFixed32(blockWithTrailer[len(blockWithTrailer)-4:])

	typ := BlockType(contentsAndType[len(contentsAndType)-1])
	if typ != expected {
		return nil, errCorruption("block.verify", "unexpected block type %d, want %d", typ, expected)
	}
	if computed := CRC32Compute(contentsAndType); computed != storedCRC {
		return nil, errCorruption("block.verify", "CRC mismatch in block trailer")
	}
	return bytes.Clone(contentsAndType[:len(contentsAndType)-1]), nil
}
