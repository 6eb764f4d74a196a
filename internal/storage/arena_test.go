package storage

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocateExactSize(t *testing.T) {
	a := NewArena()
	buf := a.Allocate(10)
	require.Len(t, buf, 10)
}

func TestArenaAllocateDoesNotOverlap(t *testing.T) {
	a := NewArena()
	first := a.Allocate(8)
	second := a.Allocate(8)
	copy(first, "aaaaaaaa")
	copy(second, "bbbbbbbb")
	require.Equal(t, "aaaaaaaa", string(first))
	require.Equal(t, "bbbbbbbb", string(second))
}

func TestArenaLargeAllocationGetsOwnBlock(t *testing.T) {
	a := NewArena()
	before := a.MemoryUsage()
	big := a.Allocate(arenaBlockSize + 1)
	require.Len(t, big, arenaBlockSize+1)
	require.Greater(t, a.MemoryUsage(), before)
}

func TestArenaMemoryUsageGrowsMonotonically(t *testing.T) {
	a := NewArena()
	var last uint64
	for i := 0; i < 2000; i++ {
		a.Allocate(37)
		usage := a.MemoryUsage()
		require.GreaterOrEqual(t, usage, last)
		last = usage
	}
}

func TestArenaAllocateAlignedReturnsAlignedAddresses(t *testing.T) {
	a := NewArena()
	// Unaligned byte first, to force AllocateAligned to pad the cursor.
	a.Allocate(1)

	for _, align := range []int{8, 16, 32} {
		buf := a.AllocateAligned(24, align)
		require.Len(t, buf, 24)
		addr := uintptr(unsafe.Pointer(&buf[0]))
		require.Zero(t, addr%uintptr(align))
	}
}

func TestArenaAllocateAlignedDoesNotOverlap(t *testing.T) {
	a := NewArena()
	a.Allocate(3)
	first := a.AllocateAligned(8, 8)
	second := a.AllocateAligned(8, 8)
	copy(first, "aaaaaaaa")
	copy(second, "bbbbbbbb")
	require.Equal(t, "aaaaaaaa", string(first))
	require.Equal(t, "bbbbbbbb", string(second))
}

func TestArenaAllocateAlignedLargeRequestGetsOwnAlignedBlock(t *testing.T) {
	a := NewArena()
	buf := a.AllocateAligned(arenaBlockSize+1, 16)
	require.Len(t, buf, arenaBlockSize+1)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	require.Zero(t, addr%16)
}

func TestArenaReset(t *testing.T) {
	a := NewArena()
	for i := 0; i < 100; i++ {
		a.Allocate(64)
	}
	require.Greater(t, a.MemoryUsage(), uint64(0))
	a.Reset()
	require.Equal(t, arenaBlockSize, int(a.MemoryUsage()))
	buf := a.Allocate(arenaBlockSize)
	require.Len(t, buf, arenaBlockSize)
}
