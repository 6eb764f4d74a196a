package storage

import (
	"encoding/binary"
	"math"
)

// murmurHash64 is a MurmurHash64A-style hash: 8-byte little-endian block
// mixing plus a tail switch-fallthrough for the remaining 1-7 bytes.
func murmurHash64(data []byte, seed uint64) uint64 {
	const m = 0xc6a4a7935bd1e995
	const r = 47

	h := seed ^ (uint64(len(data)) * m)

	nblocks := len(data) / 8
	for i := 0; i < nblocks; i++ {
		k := binary.LittleEndian.Uint64(data[i*8:])
		k *= m
		k ^= k >> r
		k *= m
		h ^= k
		h *= m
	}

	tail := data[nblocks*8:]
	var k uint64
	switch len(tail) {
	case 7:
		k ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint64(tail[0])
		k *= m
		h ^= k
	}

	h ^= h >> r
	h *= m
	h ^= h >> r
	return h
}

// hash128 derives two independent-enough hashes from data: h1 is seeded
// with 0, h2 is seeded with h1. Every probe bit position is then a linear
// combination of just these two values (Kirsch-Mitzenmacher), avoiding k
// separate hash computations per key.
func hash128(data []byte) (h1, h2 uint64) {
	h1 = murmurHash64(data, 0)
	h2 = murmurHash64(data, h1)
	return h1, h2
}

const ln2 = 0.69314718056

// BloomFilterPolicy controls the size/false-positive-rate tradeoff of
// filters this package builds.
type BloomFilterPolicy struct {
	BitsPerKey int
}

// DefaultBloomFilterPolicy returns the reference tuning: 10 bits per key,
// which yields roughly a 1% false positive rate.
func DefaultBloomFilterPolicy() BloomFilterPolicy {
	return BloomFilterPolicy{BitsPerKey: 10}
}

// OptimalNumHashes returns round(bits_per_key * ln2), clamped to [1, 30].
func (p BloomFilterPolicy) OptimalNumHashes() int {
	k := int(float64(p.BitsPerKey) * ln2)
	if k < 1 {
		return 1
	}
	if k > 30 {
		return 30
	}
	return k
}

// EstimatedFPR returns the theoretical false-positive rate of a filter
// built under this policy, assuming an ideally-sized filter.
func (p BloomFilterPolicy) EstimatedFPR() float64 {
	k := float64(p.OptimalNumHashes())
	return math.Pow(1-math.Exp(-k/float64(p.BitsPerKey)), k)
}

// BloomFilterBuilder accumulates keys and produces the raw filter bytes.
type BloomFilterBuilder struct {
	policy BloomFilterPolicy
	hashes [][2]uint64
}

// NewBloomFilterBuilder returns a builder for the given policy.
func NewBloomFilterBuilder(policy BloomFilterPolicy) *BloomFilterBuilder {
	return &BloomFilterBuilder{policy: policy}
}

// AddKey records a key to be included in the next Finish.
func (b *BloomFilterBuilder) AddKey(key []byte) {
	h1, h2 := hash128(key)
	b.hashes = append(b.hashes, [2]uint64{h1, h2})
}

// NumKeys returns the number of keys added since construction or Reset.
func (b *BloomFilterBuilder) NumKeys() int { return len(b.hashes) }

// Reset clears the builder for reuse.
func (b *BloomFilterBuilder) Reset() { b.hashes = nil }

// Finish returns the raw filter bytes: numBits/8 bytes of bit array,
// followed by one trailer byte holding the hash count k. An empty filter
// (no keys added) is just that one trailer byte.
func (b *BloomFilterBuilder) Finish() []byte {
	if len(b.hashes) == 0 {
		return b.createFilter(0)
	}
	bits := len(b.hashes) * b.policy.BitsPerKey
	bits = ((bits + 7) / 8) * 8
	if bits < 64 {
		bits = 64
	}
	return b.createFilter(bits)
}

func (b *BloomFilterBuilder) createFilter(numBits int) []byte {
	numBytes := numBits / 8
	numHashes := b.policy.OptimalNumHashes()
	data := make([]byte, numBytes+1)
	for _, hs := range b.hashes {
		h1, h2 := hs[0], hs[1]
		for i := 0; i < numHashes; i++ {
			bitPos := (h1 + uint64(i)*h2) % uint64(numBits)
			data[bitPos/8] |= 1 << (bitPos % 8)
		}
	}
	data[numBytes] = byte(numHashes)
	return data
}

// BloomFilterReader answers membership queries against filter bytes
// produced by BloomFilterBuilder.Finish.
type BloomFilterReader struct {
	data      []byte
	numBits   int
	numHashes int
}

// NewBloomFilterReader parses filter data, validating the trailing hash
// count.
func NewBloomFilterReader(data []byte) (*BloomFilterReader, error) {
	r := &BloomFilterReader{}
	if err := r.Init(data); err != nil {
		return nil, err
	}
	return r, nil
}

// Init (re)parses filter data into r.
func (r *BloomFilterReader) Init(data []byte) error {
	if len(data) < 1 {
		return errCorruption("bloom_filter.init", "filter data too short: %d bytes", len(data))
	}
	numHashes := int(data[len(data)-1])
	if numHashes == 0 || numHashes > 30 {
		return errCorruption("bloom_filter.init", "invalid hash count %d", numHashes)
	}
	r.data = data[:len(data)-1]
	r.numBits = len(r.data) * 8
	r.numHashes = numHashes
	return nil
}

// MayContain reports whether key might be present. A false result is a
// definitive proof of absence; a true result may be a false positive. An
// empty filter (numBits == 0) always returns true.
func (r *BloomFilterReader) MayContain(key []byte) bool {
	if r.numBits == 0 {
		return true
	}
	h1, h2 := hash128(key)
	for i := 0; i < r.numHashes; i++ {
		bitPos := (h1 + uint64(i)*h2) % uint64(r.numBits)
		if r.data[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
	}
	return true
}

// NumBits returns the size of the bit array.
func (r *BloomFilterReader) NumBits() int { return r.numBits }

// NumHashes returns the number of probe hashes the filter uses.
func (r *BloomFilterReader) NumHashes() int { return r.numHashes }

// MemoryUsage returns the size, in bytes, of the filter's backing bit array.
func (r *BloomFilterReader) MemoryUsage() int { return len(r.data) }

// BloomFilter bundles the raw bytes of a filter with a reader over them,
// returned by Build for callers that want to both persist the bytes and
// query the filter immediately.
type BloomFilter struct {
	Data   []byte
	Reader *BloomFilterReader
}

// Build constructs a filter over keys under policy.
func Build(keys [][]byte, policy BloomFilterPolicy) (*BloomFilter, error) {
	b := NewBloomFilterBuilder(policy)
	for _, k := range keys {
		b.AddKey(k)
	}
	data := b.Finish()
	reader, err := NewBloomFilterReader(data)
	if err != nil {
		return nil, err
	}
	return &BloomFilter{Data: data, Reader: reader}, nil
}

// BitsForFPR returns the number of bits needed to hold numKeys keys at a
// target false-positive rate, using the standard Bloom filter capacity
// formula -n*ln(p)/(ln2)^2.
func BitsForFPR(numKeys int, targetFPR float64) float64 {
	return -float64(numKeys) * math.Log(targetFPR) / (ln2 * ln2)
}

// ExpectedFPR returns the false-positive rate expected for a filter sized
// numBits over numKeys keys using numHashes probes per key.
func ExpectedFPR(numKeys, numBits, numHashes int) float64 {
	if numBits == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-float64(numHashes)*float64(numKeys)/float64(numBits)), float64(numHashes))
}

// OptimalNumHashesForSize returns the hash count that minimizes false
// positives for a filter with numBits bits over numKeys keys (ln2 *
// bits/key).
func OptimalNumHashesForSize(numKeys, numBits int) int {
	if numKeys == 0 {
		return 1
	}
	k := int(math.Round(ln2 * float64(numBits) / float64(numKeys)))
	if k < 1 {
		return 1
	}
	if k > 30 {
		return 30
	}
	return k
}
