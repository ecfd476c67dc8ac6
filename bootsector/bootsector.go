// Package bootsector decodes the exFAT boot sector's BIOS parameter block,
// validates the 11-sector boot-region checksum, and exposes the
// volume_flags/percent_inuse fields that change at runtime. The struct
// layout and the pattern of decoding it with a single reflective call is
// grounded in dsoprea-go-exfat's BootSectorHeader and its parseN helper;
// unlike dsoprea-go-exfat, which never implemented readMainBootChecksum, this
// package implements the checksum validation this module requires, and adds
// the derived-field struct (FATBootSector-shaped, after
// drivers/fat/common.go's RawXxx-plus-derived-fields pattern from
// dargueta-disko) that the rest of this module consumes.
package bootsector

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"

	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/errors"
)

var (
	jumpBootSignature = [3]byte{0xEB, 0x76, 0x90}
	fileSystemName    = [8]byte{'E', 'X', 'F', 'A', 'T', ' ', ' ', ' '}
)

// RawBootSector is the on-disk layout of the fields this driver consumes.
// All multi-byte fields are little-endian; restruct decodes them
// in declaration order with no padding.
type RawBootSector struct {
	JumpBoot                  [3]byte
	FileSystemName            [8]byte
	MustBeZero                [53]byte
	PartitionOffset           uint64
	VolumeLength              uint64
	FatOffset                 uint32
	FatLength                 uint32
	ClusterHeapOffset         uint32
	ClusterCount              uint32
	FirstClusterOfRootDir     uint32
	VolumeSerialNumber        uint32
	FileSystemRevision        uint16
	VolumeFlags               uint16
	BytesPerSectorShift       uint8
	SectorsPerClusterShift    uint8
	NumberOfFats              uint8
	DriveSelect               uint8
	PercentInUse              uint8
	Reserved                  [7]byte
	BootCode                  [390]byte
	BootSignature             uint16
}

// VolumeFlags bit layout.
const (
	FlagActiveFat    uint16 = 1 << 0
	FlagVolumeDirty  uint16 = 1 << 1
	FlagMediaFailure uint16 = 1 << 2
)

// BootSector is the parsed, immutable-after-mount representation plus the
// handful of derived quantities the rest of the module needs.
type BootSector struct {
	Raw RawBootSector

	SectorSizeShift          uint8
	SectorsPerClusterShift   uint8
	SectorSize               int
	SectorsPerCluster         int
	ClusterSize               int
	HeapOffsetSector          blockio.SectorID
	FatOffsetSector           blockio.SectorID
	FatLengthSectors          uint32
	RootDirectoryCluster      uint32
	SerialNumber              uint32
}

// Read parses sector 0 via cache, validating the jump-boot signature and
// filesystem name.
func Read(cache *blockio.Cache) (*BootSector, error) {
	sector, err := cache.Read(blockio.BootSector)
	if err != nil {
		return nil, err
	}

	var raw RawBootSector
	if err := restruct.Unpack(sector, binary.LittleEndian, &raw); err != nil {
		return nil, errors.IO(err)
	}

	if raw.JumpBoot != jumpBootSignature || raw.FileSystemName != fileSystemName {
		return nil, errors.ErrNotExFAT
	}
	if raw.NumberOfFats > 1 {
		return nil, errors.ErrTexFATNotSupported
	}

	bs := &BootSector{
		Raw:                    raw,
		SectorSizeShift:        raw.BytesPerSectorShift,
		SectorsPerClusterShift: raw.SectorsPerClusterShift,
		SectorSize:             1 << raw.BytesPerSectorShift,
		SectorsPerCluster:      1 << raw.SectorsPerClusterShift,
		HeapOffsetSector:       blockio.SectorID(raw.ClusterHeapOffset),
		FatOffsetSector:        blockio.SectorID(raw.FatOffset),
		FatLengthSectors:       raw.FatLength,
		RootDirectoryCluster:   raw.FirstClusterOfRootDir,
		SerialNumber:           raw.VolumeSerialNumber,
	}
	bs.ClusterSize = bs.SectorSize * bs.SectorsPerCluster
	return bs, nil
}

// IsDirty reports volume_flags bit 1.
func (bs *BootSector) IsDirty() bool {
	return bs.Raw.VolumeFlags&FlagVolumeDirty != 0
}

// SetDirty writes volume_flags bit 1 both in memory and through the sector
// cache.
func (bs *BootSector) SetDirty(cache *blockio.Cache, dirty bool) error {
	if dirty {
		bs.Raw.VolumeFlags |= FlagVolumeDirty
	} else {
		bs.Raw.VolumeFlags &^= FlagVolumeDirty
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], bs.Raw.VolumeFlags)
	return cache.Write(blockio.BootSector, 106, buf[:])
}

// SetPercentInUse writes the percent_inuse byte both in memory and through
// the sector cache.
func (bs *BootSector) SetPercentInUse(cache *blockio.Cache, percent uint8) error {
	if percent == bs.Raw.PercentInUse {
		return nil
	}
	bs.Raw.PercentInUse = percent
	return cache.Write(blockio.BootSector, 112, []byte{percent})
}

// checksum32 is the 32-bit rotating sum used for both the boot
// checksum and the upcase-table checksum.
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

// ValidateChecksum recomputes the 32-bit boot-region checksum over sectors
// 0..=10, skipping sector 0's volume_flags and percent_inuse bytes, and
// compares it against the replicated value in sector 11.
func ValidateChecksum(cache *blockio.Cache) error {
	var sum uint32
	for i := blockio.SectorID(0); i <= 10; i++ {
		sector, err := cache.Read(i)
		if err != nil {
			return err
		}
		if i == 0 {
			sum = checksumSkipping(sum, sector, 106, 107, 112)
		} else {
			sum = checksum32(sum, sector)
		}
	}

	sector11, err := cache.Read(11)
	if err != nil {
		return err
	}
	stored := binary.LittleEndian.Uint32(sector11[:4])
	if stored != sum {
		return errors.ErrBootChecksum
	}
	return nil
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

// Checksum32 exposes the 32-bit rotating-sum recurrence for reuse by the
// upcase table's checksum validation,
// which uses the identical algorithm over a different byte range.
func Checksum32(sum uint32, data []byte) uint32 {
	return checksum32(sum, data)
}
