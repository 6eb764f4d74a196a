package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestWALWriter(t *testing.T, policy SyncPolicy) *WALWriter {
	t.Helper()
	options := DefaultWALOptions()
	options.SyncPolicy = policy
	path := filepath.Join(t.TempDir(), "log.000001")
	w := NewWALWriter(path, options, nil, nil)
	require.NoError(t, w.Open())
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWALWriterAppendAndReadBack(t *testing.T) {
	w := newTestWALWriter(t, SyncPerWrite)
	require.NoError(t, w.AppendPut(1, []byte("k1"), []byte("v1")))
	require.NoError(t, w.AppendDelete(2, []byte("k2")))
	path := w.Path()
	require.NoError(t, w.Close())

	r := NewWALReader(path)
	require.NoError(t, r.Open())

	e1, err := r.ReadEntry()
	require.NoError(t, err)
	require.Equal(t, WALPut, e1.Type)
	require.Equal(t, "k1", string(e1.Key))
	require.Equal(t, "v1", string(e1.Value))

	e2, err := r.ReadEntry()
	require.NoError(t, err)
	require.Equal(t, WALDelete, e2.Type)
	require.Equal(t, "k2", string(e2.Key))
}

func TestWALWriterFileSizeGrows(t *testing.T) {
	w := newTestWALWriter(t, SyncPerWrite)
	before := w.FileSize()
	require.NoError(t, w.AppendPut(1, []byte("k"), []byte("v")))
	require.Greater(t, w.FileSize(), before)
}

func TestWALWriterShouldRotate(t *testing.T) {
	options := DefaultWALOptions()
	options.MaxFileSize = 8
	path := filepath.Join(t.TempDir(), "log.000001")
	w := NewWALWriter(path, options, nil, nil)
	require.NoError(t, w.Open())
	defer w.Close()

	require.False(t, w.ShouldRotate())
	require.NoError(t, w.AppendPut(1, []byte("0123456789"), []byte("0123456789")))
	require.True(t, w.ShouldRotate())
}

func TestWALWriterRejectsOversizedPayload(t *testing.T) {
	w := newTestWALWriter(t, SyncPerWrite)
	huge := make([]byte, 0x10000)
	err := w.AppendPut(1, huge, nil)
	require.Error(t, err)
}

func TestWALWriterCloseIsIdempotent(t *testing.T) {
	w := newTestWALWriter(t, SyncPerWrite)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWALWriterBatchedSyncPolicy(t *testing.T) {
	w := newTestWALWriter(t, SyncBatched)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.AppendPut(SequenceNumber(i), []byte("k"), []byte("v")))
	}
	require.NoError(t, w.Sync())
}

func TestWALWriterNoSyncPolicy(t *testing.T) {
	w := newTestWALWriter(t, NoSync)
	require.NoError(t, w.AppendPut(1, []byte("k"), []byte("v")))
}
