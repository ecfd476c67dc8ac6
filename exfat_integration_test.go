package exfat_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/exfat"
	"github.com/dargueta/exfat/bootsector"
	exfattesting "github.com/dargueta/exfat/testing"
)

// buildMinimalVolume hand-assembles the smallest on-disk image New() can
// mount: a 33-sector, 512-byte-sector, one-sector-per-cluster, 20-cluster
// volume whose root directory holds only the mandatory AllocationBitmap and
// UpcaseTable entries. Clusters 2 (root), 3 (bitmap), 4 (upcase table) are
// pre-allocated; clusters 5..21 are free for Create/Write to use.
func buildMinimalVolume() []byte {
	const (
		sectorSize  = 512
		totalSects  = 33
		fatSector   = 12
		heapSector  = 13
		numClusters = 20
	)
	img := make([]byte, totalSects*sectorSize)
	sector := func(i int) []byte { return img[i*sectorSize : (i+1)*sectorSize] }

	bs0 := sector(0)
	copy(bs0[0:3], []byte{0xEB, 0x76, 0x90})
	copy(bs0[3:11], []byte("EXFAT   "))
	binary.LittleEndian.PutUint64(bs0[72:80], uint64(totalSects))  // VolumeLength
	binary.LittleEndian.PutUint32(bs0[80:84], fatSector)           // FatOffset
	binary.LittleEndian.PutUint32(bs0[84:88], 1)                   // FatLength
	binary.LittleEndian.PutUint32(bs0[88:92], heapSector)          // ClusterHeapOffset
	binary.LittleEndian.PutUint32(bs0[92:96], numClusters)         // ClusterCount
	binary.LittleEndian.PutUint32(bs0[96:100], 2)                  // FirstClusterOfRootDir
	binary.LittleEndian.PutUint32(bs0[100:104], 0x12345678)        // VolumeSerialNumber
	bs0[108] = 9                                                   // BytesPerSectorShift
	bs0[109] = 0                                                   // SectorsPerClusterShift
	bs0[110] = 1                                                   // NumberOfFats
	bs0[112] = 15                                                  // PercentInUse (3/20 clusters)
	binary.LittleEndian.PutUint16(bs0[510:512], 0xAA55)            // BootSignature

	var sum uint32
	filtered := make([]byte, 0, sectorSize)
	for i, b := range bs0 {
		if i == 106 || i == 107 || i == 112 {
			continue
		}
		filtered = append(filtered, b)
	}
	sum = bootsector.Checksum32(sum, filtered)
	for i := 1; i <= 10; i++ {
		sum = bootsector.Checksum32(sum, sector(i))
	}
	binary.LittleEndian.PutUint32(sector(11)[0:4], sum)

	fat := sector(fatSector)
	binary.LittleEndian.PutUint32(fat[2*4:3*4], 0xFFFFFFFF) // cluster 2 (root dir): EOC
	binary.LittleEndian.PutUint32(fat[3*4:4*4], 0xFFFFFFFF) // cluster 3 (bitmap): EOC
	binary.LittleEndian.PutUint32(fat[4*4:5*4], 0xFFFFFFFF) // cluster 4 (upcase table): EOC

	bitmapCluster := sector(heapSector + 1) // cluster 3
	bitmapCluster[0] = 0x07                 // clusters 2,3,4 in use

	upcaseTable := make([]byte, 256)
	for i := 0; i < 128; i++ {
		binary.LittleEndian.PutUint16(upcaseTable[i*2:], uint16(i))
	}
	copy(sector(heapSector+2), upcaseTable) // cluster 4
	upcaseChecksum := bootsector.Checksum32(0, upcaseTable)

	root := sector(heapSector) // cluster 2
	// AllocationBitmap entry
	root[0] = 0x81
	binary.LittleEndian.PutUint32(root[20:24], 3)   // FirstCluster
	binary.LittleEndian.PutUint64(root[24:32], 512) // DataLength
	// UpcaseTable entry
	ut := root[32:64]
	ut[0] = 0x82
	binary.LittleEndian.PutUint32(ut[4:8], upcaseChecksum)
	binary.LittleEndian.PutUint32(ut[20:24], 4)   // FirstCluster
	binary.LittleEndian.PutUint64(ut[24:32], 256) // DataLength
	// rest of the cluster (entry 2 onward) stays the 0x00 end-of-directory
	// sentinel.

	return img
}

func mountFixture(t *testing.T) *exfat.ExFAT {
	dev := exfattesting.NewMemDevice(buildMinimalVolume())
	vol, err := exfat.New(dev, exfat.DefaultMountOptions())
	require.NoError(t, err)
	return vol
}

func TestMountReadsBootSectorAndValidates(t *testing.T) {
	vol := mountFixture(t)
	assert.Equal(t, uint32(0x12345678), vol.SerialNumber())
	assert.NoError(t, vol.Validate())
	label, has := vol.VolumeLabel()
	assert.False(t, has)
	assert.Empty(t, label)
}

func TestCreateWriteCloseFindReadDelete(t *testing.T) {
	vol := mountFixture(t)
	ctx := context.Background()
	root := vol.Root()

	entry, err := root.Create(ctx, "HELLO.TXT", false)
	require.NoError(t, err)
	require.NotNil(t, entry)

	handle, err := root.Open(ctx, entry)
	require.NoError(t, err)
	require.NotNil(t, handle.File)

	payload := []byte("hello world")
	require.NoError(t, handle.File.WriteAll(ctx, payload))
	assert.Equal(t, uint64(len(payload)), handle.File.Size())
	require.NoError(t, handle.File.Close(ctx))

	found, err := root.Find(ctx, "HELLO.TXT")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, uint64(len(payload)), found.Set.StreamExtension.ValidDataLength)
	assert.GreaterOrEqual(t, found.Set.StreamExtension.DataLength, uint64(len(payload)))

	reopened, err := root.Open(ctx, found)
	require.NoError(t, err)
	require.NotNil(t, reopened.File)

	buf := make([]byte, len(payload))
	n, err := reopened.File.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
	require.NoError(t, reopened.File.Close(ctx))

	require.NoError(t, root.Delete(ctx, found))

	gone, err := root.Find(ctx, "HELLO.TXT")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestFindMissingNameReturnsNil(t *testing.T) {
	vol := mountFixture(t)
	entry, err := vol.Root().Find(context.Background(), "NOPE.TXT")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	vol := mountFixture(t)
	ctx := context.Background()
	root := vol.Root()

	_, err := root.Create(ctx, "DUP.TXT", false)
	require.NoError(t, err)

	_, err = root.Create(ctx, "DUP.TXT", false)
	assert.Error(t, err)
}

func TestWriteSpanningMultipleClustersAndTruncate(t *testing.T) {
	vol := mountFixture(t)
	ctx := context.Background()
	root := vol.Root()

	entry, err := root.Create(ctx, "BIG.BIN", false)
	require.NoError(t, err)
	handle, err := root.Open(ctx, entry)
	require.NoError(t, err)

	// One cluster is 512 bytes; write enough to span three clusters.
	payload := make([]byte, 512*3-100)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, handle.File.WriteAll(ctx, payload))
	require.NoError(t, handle.File.Close(ctx))

	found, err := root.Find(ctx, "BIG.BIN")
	require.NoError(t, err)
	reopened, err := root.Open(ctx, found)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	total := 0
	for total < len(readBack) {
		n, rerr := reopened.File.Read(ctx, readBack[total:])
		require.NoError(t, rerr)
		total += n
	}
	assert.Equal(t, payload, readBack)

	require.NoError(t, reopened.File.Truncate(ctx, 512))
	assert.Equal(t, uint64(512), reopened.File.Size())
	require.NoError(t, reopened.File.Close(ctx))
}
