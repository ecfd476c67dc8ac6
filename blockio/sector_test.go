package blockio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/exfat/blockio"
	exfattesting "github.com/dargueta/exfat/testing"
)

func newCache(t *testing.T, sectors int) *blockio.Cache {
	dev := exfattesting.NewMemDevice(make([]byte, 512*sectors))
	return blockio.NewCache(dev)
}

func TestReadReturnsZeroedSector(t *testing.T) {
	cache := newCache(t, 4)
	sector, err := cache.Read(0)
	require.NoError(t, err)
	assert.Len(t, sector, 512)
	assert.Equal(t, make([]byte, 512), sector)
}

func TestWriteThenReadSameSectorObservesWrite(t *testing.T) {
	cache := newCache(t, 4)
	require.NoError(t, cache.Write(1, 10, []byte("hello")))

	sector, err := cache.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), sector[10:15])
}

func TestWriteDifferentSectorFlushesDirtyBuffer(t *testing.T) {
	cache := newCache(t, 4)
	require.NoError(t, cache.Write(0, 0, []byte("AAAA")))
	require.NoError(t, cache.Write(1, 0, []byte("BBBB")))

	// Force eviction of sector 1 back to sector 0 and confirm the earlier
	// write to sector 0 actually reached the device.
	sector, err := cache.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), sector[0:4])
}

func TestWritePastSectorEndFails(t *testing.T) {
	cache := newCache(t, 1)
	err := cache.Write(0, 510, []byte("abc"))
	assert.Error(t, err)
}

func TestSetSectorSizeShiftChangesSectorSize(t *testing.T) {
	cache := newCache(t, 8)
	require.NoError(t, cache.SetSectorSizeShift(12)) // 4096-byte sectors
	assert.Equal(t, 4096, cache.SectorSize())
	assert.Equal(t, 8, cache.BlocksPerSector())
}

func TestFlushSyncsDevice(t *testing.T) {
	cache := newCache(t, 2)
	require.NoError(t, cache.Write(0, 0, []byte("x")))
	assert.NoError(t, cache.Flush())
}
