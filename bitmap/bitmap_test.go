package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/exfat/bitmap"
	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/bootsector"
	"github.com/dargueta/exfat/fatwalk"
	exfattesting "github.com/dargueta/exfat/testing"
)

// newFixture builds a cache with a dedicated bitmap region (sector 0) and a
// FAT region (sectors 1..2) big enough for numClusters clusters, plus a
// bare-minimum BootSector carrying percent_inuse = 0.
func newFixture(t *testing.T, numClusters uint32) (*bitmap.Bitmap, *fatwalk.Walker) {
	totalSectors := 4
	dev := exfattesting.NewMemDevice(make([]byte, 512*totalSectors))
	cache := blockio.NewCache(dev)

	fat := fatwalk.New(cache, 1, 2)

	bs := &bootsector.BootSector{}
	bm, err := bitmap.Load(cache, bs, fat, 0, int((numClusters+7)/8), numClusters)
	require.NoError(t, err)
	return bm, fat
}

func TestLoadStartsWithNothingAllocated(t *testing.T) {
	bm, _ := newFixture(t, 64)
	assert.Equal(t, uint32(0), bm.NumInUse())
	for c := fatwalk.ClusterID(2); c < 2+64; c++ {
		assert.False(t, bm.IsAllocated(c), "cluster %d should start free", c)
	}
}

func TestAllocateMarksClusterInUse(t *testing.T) {
	bm, _ := newFixture(t, 64)
	c, err := bm.Allocate(nil)
	require.NoError(t, err)
	assert.True(t, bm.IsAllocated(c))
	assert.Equal(t, uint32(1), bm.NumInUse())
}

func TestAllocateNeverReturnsSameClusterTwice(t *testing.T) {
	bm, _ := newFixture(t, 64)
	seen := make(map[fatwalk.ClusterID]bool)
	for i := 0; i < 64; i++ {
		c, err := bm.Allocate(nil)
		require.NoError(t, err)
		assert.False(t, seen[c], "cluster %d allocated twice", c)
		seen[c] = true
	}
	assert.Len(t, seen, 64)
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	bm, _ := newFixture(t, 8)
	for i := 0; i < 8; i++ {
		_, err := bm.Allocate(nil)
		require.NoError(t, err)
	}
	_, err := bm.Allocate(nil)
	assert.Error(t, err)
}

func TestAllocateNofragPrefersAdjacentCluster(t *testing.T) {
	bm, _ := newFixture(t, 64)
	first, err := bm.Allocate(nil)
	require.NoError(t, err)

	second, err := bm.Allocate(&first)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestAllocateNofragFailsWhenAdjacentTaken(t *testing.T) {
	bm, _ := newFixture(t, 64)
	first, err := bm.Allocate(nil)
	require.NoError(t, err)
	_, err = bm.Allocate(&first)
	require.NoError(t, err)

	// first+1 is now taken, so requesting contiguous extension of first again
	// must fail with a fragmentation error instead of silently picking
	// another cluster.
	_, err = bm.Allocate(&first)
	assert.Error(t, err)
}

func TestReleaseSingleClusterFreesIt(t *testing.T) {
	bm, _ := newFixture(t, 64)
	c, err := bm.Allocate(nil)
	require.NoError(t, err)

	require.NoError(t, bm.Release(c, false))
	assert.False(t, bm.IsAllocated(c))
	assert.Equal(t, uint32(0), bm.NumInUse())
}

func TestReleaseChainWalksFAT(t *testing.T) {
	bm, fat := newFixture(t, 64)
	a, err := bm.Allocate(nil)
	require.NoError(t, err)
	b, err := bm.Allocate(nil)
	require.NoError(t, err)
	require.NoError(t, fat.SetNext(a, b))
	require.NoError(t, fat.SetLast(b))

	require.NoError(t, bm.Release(a, true))
	assert.False(t, bm.IsAllocated(a))
	assert.False(t, bm.IsAllocated(b))
	assert.Equal(t, uint32(0), bm.NumInUse())
}

func TestAllocateRunPrefersContiguousRun(t *testing.T) {
	bm, _ := newFixture(t, 64)
	run, err := bm.AllocateRun(4, true)
	require.NoError(t, err)
	require.Len(t, run, 4)
	for i := 1; i < len(run); i++ {
		assert.Equal(t, run[i-1]+1, run[i])
	}
}

func TestPercentInUseTracksAllocation(t *testing.T) {
	bm, _ := newFixture(t, 100)
	for i := 0; i < 50; i++ {
		_, err := bm.Allocate(nil)
		require.NoError(t, err)
	}
	assert.Equal(t, uint8(50), bm.PercentInUse())
}
