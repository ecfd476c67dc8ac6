package bootsector_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/bootsector"
	exfattesting "github.com/dargueta/exfat/testing"
)

// buildMinimalImage returns a 12-sector, 512-byte-per-sector image with a
// valid boot sector (sector 0) and a matching boot-region checksum computed
// over sectors 0..10 and stored once at the start of sector 11, following
// the boot-region checksum's own recurrence.
func buildMinimalImage(t *testing.T) []byte {
	img := make([]byte, 512*12)

	sector0 := img[0:512]
	copy(sector0[0:3], []byte{0xEB, 0x76, 0x90})
	copy(sector0[3:11], []byte("EXFAT   "))
	binary.LittleEndian.PutUint32(sector0[80:84], 2048)   // FatOffset
	binary.LittleEndian.PutUint32(sector0[84:88], 8)      // FatLength
	binary.LittleEndian.PutUint32(sector0[88:92], 4096)   // ClusterHeapOffset
	binary.LittleEndian.PutUint32(sector0[92:96], 1000)   // ClusterCount
	binary.LittleEndian.PutUint32(sector0[96:100], 5)     // FirstClusterOfRootDir
	binary.LittleEndian.PutUint32(sector0[100:104], 0xCAFEBABE) // VolumeSerialNumber
	sector0[108] = 9 // BytesPerSectorShift (512-byte sectors)
	sector0[109] = 3 // SectorsPerClusterShift (8 sectors/cluster)
	sector0[110] = 1 // NumberOfFats

	var sum uint32
	for i := 0; i <= 10; i++ {
		sector := img[i*512 : (i+1)*512]
		if i == 0 {
			sum = checksumSkipping(sum, sector, 106, 107, 112)
		} else {
			sum = checksum32(sum, sector)
		}
	}
	binary.LittleEndian.PutUint32(img[11*512:11*512+4], sum)
	return img
}

func checksum32(sum uint32, data []byte) uint32 {
	for _, b := range data {
		bit := uint32(0)
		if sum&1 != 0 {
			bit = 1 << 31
		}
		sum = bit + (sum >> 1) + uint32(b)
	}
	return sum
}

func checksumSkipping(sum uint32, data []byte, skip ...int) uint32 {
	skipSet := make(map[int]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	for i, b := range data {
		if skipSet[i] {
			continue
		}
		bit := uint32(0)
		if sum&1 != 0 {
			bit = 1 << 31
		}
		sum = bit + (sum >> 1) + uint32(b)
	}
	return sum
}

func TestReadParsesDerivedFields(t *testing.T) {
	img := buildMinimalImage(t)
	cache := blockio.NewCache(exfattesting.NewMemDevice(img))

	bs, err := bootsector.Read(cache)
	require.NoError(t, err)

	assert.Equal(t, 512, bs.SectorSize)
	assert.Equal(t, 8, bs.SectorsPerCluster)
	assert.Equal(t, 512*8, bs.ClusterSize)
	assert.Equal(t, blockio.SectorID(2048), bs.FatOffsetSector)
	assert.Equal(t, blockio.SectorID(4096), bs.HeapOffsetSector)
	assert.Equal(t, uint32(5), bs.RootDirectoryCluster)
	assert.Equal(t, uint32(0xCAFEBABE), bs.SerialNumber)
}

func TestReadRejectsBadSignature(t *testing.T) {
	img := buildMinimalImage(t)
	img[0] = 0x00 // corrupt jump-boot signature
	cache := blockio.NewCache(exfattesting.NewMemDevice(img))

	_, err := bootsector.Read(cache)
	assert.Error(t, err)
}

func TestReadRejectsMultipleFATs(t *testing.T) {
	img := buildMinimalImage(t)
	img[110] = 2 // NumberOfFats
	cache := blockio.NewCache(exfattesting.NewMemDevice(img))

	_, err := bootsector.Read(cache)
	assert.Error(t, err)
}

func TestValidateChecksumAcceptsWellFormedImage(t *testing.T) {
	img := buildMinimalImage(t)
	cache := blockio.NewCache(exfattesting.NewMemDevice(img))
	assert.NoError(t, bootsector.ValidateChecksum(cache))
}

func TestValidateChecksumRejectsCorruption(t *testing.T) {
	img := buildMinimalImage(t)
	img[200] ^= 0xFF // corrupt a byte inside the checksummed region
	cache := blockio.NewCache(exfattesting.NewMemDevice(img))
	assert.Error(t, bootsector.ValidateChecksum(cache))
}

func TestSetDirtyRoundTrips(t *testing.T) {
	img := buildMinimalImage(t)
	cache := blockio.NewCache(exfattesting.NewMemDevice(img))
	bs, err := bootsector.Read(cache)
	require.NoError(t, err)

	assert.False(t, bs.IsDirty())
	require.NoError(t, bs.SetDirty(cache, true))
	assert.True(t, bs.IsDirty())
	require.NoError(t, bs.SetDirty(cache, false))
	assert.False(t, bs.IsDirty())
}
