package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// PutVarint32 appends v to buf as an unsigned LEB128 varint and returns the
// extended slice.
func PutVarint32(buf []byte, v uint32) []byte { return binary.AppendUvarint(buf, uint64(v)) }

// PutVarint64 appends v to buf as an unsigned LEB128 varint.
func PutVarint64(buf []byte, v uint64) []byte { return binary.AppendUvarint(buf, v) }

// GetVarint32 decodes a varint from the front of buf, returning the value,
// the number of bytes consumed, and whether decoding succeeded.
func GetVarint32(buf []byte) (uint32, int, bool) {
	v, n, ok := GetVarint64(buf)
	return uint32(v), n, ok
}

// GetVarint64 decodes a varint from the front of buf.
func GetVarint64(buf []byte) (uint64, int, bool) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, false
	}
	return v, n, true
}

// VarintLength returns the number of bytes PutVarint64 would use to encode v.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// PutFixed32 appends v to buf as 4 little-endian bytes.
func PutFixed32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// PutFixed64 appends v to buf as 8 little-endian bytes.
func PutFixed64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// DecodeFixed32 reads a 4-byte little-endian uint32 from the front of buf.
func DecodeFixed32(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }

// DecodeFixed64 reads an 8-byte little-endian uint64 from the front of buf.
func DecodeFixed64(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }

// PutLengthPrefixed appends a varint32 length followed by b's bytes.
func PutLengthPrefixed(buf []byte, b []byte) []byte {
	buf = PutVarint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// GetLengthPrefixed decodes a varint32-length-prefixed byte string from the
// front of buf, returning the value, the rest of buf, and success.
func GetLengthPrefixed(buf []byte) (value []byte, rest []byte, ok bool) {
	length, n, ok := GetVarint32(buf)
	if !ok || n+int(length) > len(buf) {
		return nil, buf, false
	}
	return buf[n : n+int(length)], buf[n+int(length):], true
}

// crc32RawUpdate applies the raw (un-inverted) table-driven CRC32 update
// used to compose partial checksums; it deliberately skips the leading and
// trailing ^0xFFFFFFFF that crc32.ChecksumIEEE applies internally, since
// callers need to chain Update calls across non-contiguous byte ranges.
func crc32RawUpdate(crc uint32, p []byte) uint32 {
	tab := crc32.IEEETable
	for _, b := range p {
		crc = tab[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}

// CRC32Compute returns the standard (finalized) CRC32-IEEE checksum of p.
func CRC32Compute(p []byte) uint32 {
	return crc32RawUpdate(0xFFFFFFFF, p) ^ 0xFFFFFFFF
}

// CRC32Update folds p into an existing checksum. acc must already be
// un-finalized (XORed with 0xFFFFFFFF) by the caller; the result is the new
// un-finalized accumulator, which the caller XORs with 0xFFFFFFFF again
// once the chain of Update calls is complete. This split lets a checksum be
// computed over a one-shot region and then extended with a second region
// (or vice versa) and still equal the checksum of the concatenation.
func CRC32Update(acc uint32, p []byte) uint32 {
	return crc32RawUpdate(acc, p)
}
