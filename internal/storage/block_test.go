package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockHandleEncodeDecodeRoundTrip(t *testing.T) {
	h := BlockHandle{Offset: 1234, Size: 5678}
	buf := h.Encode(nil)
	decoded, rest, ok := DecodeBlockHandle(buf)
	require.True(t, ok)
	require.Empty(t, rest)
	require.Equal(t, h, decoded)
}

func TestFooterEncodeDecodeRoundTrip(t *testing.T) {
	f := Footer{
		IndexHandle: BlockHandle{Offset: 100, Size: 200},
		BloomHandle: BlockHandle{Offset: 300, Size: 50},
		NumEntries:  42,
		MinSequence: 1,
		MaxSequence: 99,
		MinKey:      []byte("aaa"),
		MaxKey:      []byte("zzz"),
	}
	encoded := f.Encode()
	require.Len(t, encoded, kFooterSize)

	decoded, err := DecodeFooter(encoded)
	require.NoError(t, err)
	require.Equal(t, f.IndexHandle, decoded.IndexHandle)
	require.Equal(t, f.BloomHandle, decoded.BloomHandle)
	require.Equal(t, f.NumEntries, decoded.NumEntries)
	require.Equal(t, f.MinSequence, decoded.MinSequence)
	require.Equal(t, f.MaxSequence, decoded.MaxSequence)
	require.Equal(t, f.MinKey, decoded.MinKey)
	require.Equal(t, f.MaxKey, decoded.MaxKey)
}

func TestDecodeFooterRejectsWrongSize(t *testing.T) {
	_, err := DecodeFooter(make([]byte, kFooterSize-1))
	require.True(t, IsCorruption(err))
}

func TestDecodeFooterRejectsBadMagic(t *testing.T) {
	f := Footer{}
	encoded := f.Encode()
	encoded[kFooterSize-1] ^= 0xFF
	_, err := DecodeFooter(encoded)
	require.True(t, IsCorruption(err))
}

func TestBlockBuilderSharedPrefixCompression(t *testing.T) {
	b := NewBlockBuilder(16)
	b.Add([]byte("apple1"), []byte("v1"))
	b.Add([]byte("apple2"), []byte("v2"))
	b.Add([]byte("apple3"), []byte("v3"))
	require.False(t, b.Empty())
	require.Equal(t, "apple3", string(b.LastKey()))
}

func TestBlockBuilderRestartInterval(t *testing.T) {
	b := NewBlockBuilder(2)
	for i := 0; i < 5; i++ {
		b.Add([]byte{byte('a' + i)}, []byte("v"))
	}
	b.Finish()
	// 5 entries, restart every 2 -> restarts at 0, 2, 4 = 3 restart points.
	require.Equal(t, 3, len(b.restarts))
}

func TestBlockBuilderResetClearsState(t *testing.T) {
	b := NewBlockBuilder(16)
	b.Add([]byte("k"), []byte("v"))
	b.Reset()
	require.True(t, b.Empty())
	require.Nil(t, b.LastKey())
}

func TestSharedPrefixLen(t *testing.T) {
	require.Equal(t, 3, sharedPrefixLen([]byte("apple"), []byte("append")))
	require.Equal(t, 0, sharedPrefixLen([]byte("abc"), []byte("xyz")))
	require.Equal(t, 0, sharedPrefixLen(nil, []byte("abc")))
}

func TestIndexBlockBuilderEntries(t *testing.T) {
	b := NewIndexBlockBuilder()
	b.AddEntry([]byte("key1"), BlockHandle{Offset: 0, Size: 100})
	b.AddEntry([]byte("key2"), BlockHandle{Offset: 100, Size: 50})
	require.Equal(t, 2, b.EntryCount())
	require.NotEmpty(t, b.Finish())
}

func TestAddTrailerAndVerifyTrailerRoundTrip(t *testing.T) {
	contents := []byte("block contents")
	withTrailer := AddTrailer(contents, BlockTypeData)
	require.Len(t, withTrailer, len(contents)+kBlockTrailerSize)

	got, err := VerifyTrailer(withTrailer, BlockTypeData)
	require.NoError(t, err)
	require.Equal(t, contents, got)
}

func TestVerifyTrailerDetectsCorruption(t *testing.T) {
	contents := []byte("block contents")
	withTrailer := AddTrailer(contents, BlockTypeData)
	withTrailer[0] ^= 0xFF

	_, err := VerifyTrailer(withTrailer, BlockTypeData)
	require.True(t, IsCorruption(err))
}

func TestVerifyTrailerDetectsWrongType(t *testing.T) {
	contents := []byte("block contents")
	withTrailer := AddTrailer(contents, BlockTypeData)

	_, err := VerifyTrailer(withTrailer, BlockTypeIndex)
	require.True(t, IsCorruption(err))
}
