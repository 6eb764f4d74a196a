package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	policy := DefaultBloomFilterPolicy()
	var keys [][]byte
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}
	filter, err := Build(keys, policy)
	require.NoError(t, err)

	for _, k := range keys {
		require.True(t, filter.Reader.MayContain(k))
	}
}

func TestBloomFilterFalsePositiveRateIsBounded(t *testing.T) {
	policy := DefaultBloomFilterPolicy()
	var keys [][]byte
	for i := 0; i < 10000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("present-%d", i)))
	}
	filter, err := Build(keys, policy)
	require.NoError(t, err)

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		absent := []byte(fmt.Sprintf("absent-%d", i))
		if filter.Reader.MayContain(absent) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	require.Less(t, rate, 0.02)
}

func TestBloomFilterEmptyAlwaysMayContain(t *testing.T) {
	filter, err := Build(nil, DefaultBloomFilterPolicy())
	require.NoError(t, err)
	require.True(t, filter.Reader.MayContain([]byte("anything")))
}

func TestBloomFilterOptimalNumHashesTruncates(t *testing.T) {
	// 10 * ln2 = 6.93, must truncate to 6, not round to 7.
	p := BloomFilterPolicy{BitsPerKey: 10}
	require.Equal(t, 6, p.OptimalNumHashes())
}

func TestBloomFilterOptimalNumHashesClampsRange(t *testing.T) {
	require.Equal(t, 1, BloomFilterPolicy{BitsPerKey: 0}.OptimalNumHashes())
	require.Equal(t, 30, BloomFilterPolicy{BitsPerKey: 1000}.OptimalNumHashes())
}

func TestBloomFilterReaderRejectsTooShortData(t *testing.T) {
	_, err := NewBloomFilterReader(nil)
	require.Error(t, err)
}

func TestBloomFilterReaderRejectsInvalidHashCount(t *testing.T) {
	_, err := NewBloomFilterReader([]byte{0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestMurmurHash64IsDeterministic(t *testing.T) {
	data := []byte("deterministic input")
	require.Equal(t, murmurHash64(data, 0), murmurHash64(data, 0))
	require.NotEqual(t, murmurHash64(data, 0), murmurHash64(data, 1))
}

func TestHash128DerivesSecondFromFirst(t *testing.T) {
	h1, h2 := hash128([]byte("key"))
	require.Equal(t, murmurHash64([]byte("key"), 0), h1)
	require.Equal(t, murmurHash64([]byte("key"), h1), h2)
}
