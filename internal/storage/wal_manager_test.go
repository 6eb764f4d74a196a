package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWALManagerOpenCreatesFirstSegment(t *testing.T) {
	dir := t.TempDir()
	m := NewWALManager(dir, DefaultWALOptions())
	require.NoError(t, m.Open())
	defer m.Close()

	require.Equal(t, uint64(1), m.CurrentLogNumber())
	_, err := os.Stat(filepath.Join(dir, "wal", "log.000001"))
	require.NoError(t, err)
}

func TestWALManagerReopenAlwaysIncrementsLogNumber(t *testing.T) {
	dir := t.TempDir()
	m1 := NewWALManager(dir, DefaultWALOptions())
	require.NoError(t, m1.Open())
	require.NoError(t, m1.Close())
	require.Equal(t, uint64(1), m1.CurrentLogNumber())

	m2 := NewWALManager(dir, DefaultWALOptions())
	require.NoError(t, m2.Open())
	defer m2.Close()
	require.Equal(t, uint64(2), m2.CurrentLogNumber())
}

func TestWALManagerRotateCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	m := NewWALManager(dir, DefaultWALOptions())
	require.NoError(t, m.Open())
	defer m.Close()

	require.NoError(t, m.Rotate())
	require.Equal(t, uint64(2), m.CurrentLogNumber())
	_, err := os.Stat(filepath.Join(dir, "wal", "log.000002"))
	require.NoError(t, err)
}

func TestWALManagerAppendRotatesWhenSegmentFull(t *testing.T) {
	dir := t.TempDir()
	options := DefaultWALOptions()
	options.MaxFileSize = 8
	m := NewWALManager(dir, options)
	require.NoError(t, m.Open())
	defer m.Close()

	require.NoError(t, m.AppendPut(1, []byte("0123456789"), []byte("0123456789")))
	require.NoError(t, m.AppendPut(2, []byte("k"), []byte("v")))
	require.Equal(t, uint64(2), m.CurrentLogNumber())
}

func TestWALManagerRecoverReplaysAllSegments(t *testing.T) {
	dir := t.TempDir()
	options := DefaultWALOptions()
	options.MaxFileSize = 1 << 20
	m := NewWALManager(dir, options)
	require.NoError(t, m.Open())

	require.NoError(t, m.AppendPut(0, []byte("a"), []byte("1")))
	require.NoError(t, m.Rotate())
	require.NoError(t, m.AppendPut(1, []byte("b"), []byte("2")))
	require.NoError(t, m.AppendDelete(2, []byte("a")))
	require.NoError(t, m.Close())

	mt := NewMemTable(DefaultMemTableOptions())
	var stats RecoveryStats
	require.NoError(t, m.Recover(mt, &stats))

	require.Equal(t, uint64(3), stats.RecordsRead)
	require.Equal(t, uint64(2), stats.PutsRecovered)
	require.Equal(t, uint64(1), stats.DeletesRecovered)
	require.True(t, mt.Get([]byte("b"), MaxSequenceNumber).IsFound())
	require.True(t, mt.Get([]byte("a"), MaxSequenceNumber).IsDeleted())
	require.Equal(t, SequenceNumber(2), stats.MaxSequence)
}

func TestWALManagerGetLogNumbersReturnsSortedSegments(t *testing.T) {
	dir := t.TempDir()
	m := NewWALManager(dir, DefaultWALOptions())
	require.NoError(t, m.Open())
	require.NoError(t, m.Rotate())
	require.NoError(t, m.Rotate())
	defer m.Close()

	numbers, err := m.GetLogNumbers()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, numbers)
}

func TestWALManagerMarkFlushedRemovesOldSegments(t *testing.T) {
	dir := t.TempDir()
	m := NewWALManager(dir, DefaultWALOptions())
	require.NoError(t, m.Open())
	require.NoError(t, m.Rotate())
	require.NoError(t, m.Rotate())
	defer m.Close()

	require.NoError(t, m.MarkFlushed(3))

	_, err1 := os.Stat(filepath.Join(dir, "wal", "log.000001"))
	require.True(t, os.IsNotExist(err1))
	_, err2 := os.Stat(filepath.Join(dir, "wal", "log.000002"))
	require.True(t, os.IsNotExist(err2))
	_, err3 := os.Stat(filepath.Join(dir, "wal", "log.000003"))
	require.NoError(t, err3)
}
