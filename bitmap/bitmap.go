// Package bitmap implements the allocation bitmap engine: a
// bit-packed free/in-use map over the cluster heap, mirrored in memory with
// github.com/boljen/go-bitmap the way dargueta-disko's
// drivers/common/allocatormap.go mirrors its block allocator's state, but
// following its own allocate/release algorithm (candidate-then-scan
// with the lsb(~bits) trick, FAT-chain release, percent_inuse
// reconciliation) rather than a first-fit linear scan.
package bitmap

import (
	"github.com/boljen/go-bitmap"

	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/bootsector"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/fatwalk"
)

// Bitmap owns the in-memory mirror of the on-disk allocation bitmap plus
// the derived cursor/num_inuse state.
type Bitmap struct {
	cache *blockio.Cache
	bs    *bootsector.BootSector
	fat   *fatwalk.Walker

	base        blockio.SectorID // first sector of the bitmap region
	sizeBytes   int
	numClusters uint32

	bits        bitmap.Bitmap
	cursor      fatwalk.ClusterID
	numInuse    uint32
	percentInuse uint8
}

// Load reads the entire bitmap region from disk into memory and initializes
// num_inuse conservatively from percent_inuse, a lazy-initialization policy
// that trades exactness for an O(1) mount; UpdateUsage corrects it later.
func Load(cache *blockio.Cache, bs *bootsector.BootSector, fat *fatwalk.Walker, base blockio.SectorID, sizeBytes int, numClusters uint32) (*Bitmap, error) {
	raw := make([]byte, sizeBytes)
	sectorSize := cache.SectorSize()
	numSectors := (sizeBytes + sectorSize - 1) / sectorSize
	for i := 0; i < numSectors; i++ {
		sector, err := cache.Read(base.Add(int64(i)))
		if err != nil {
			return nil, err
		}
		start := i * sectorSize
		end := start + sectorSize
		if end > sizeBytes {
			end = sizeBytes
		}
		copy(raw[start:end], sector[:end-start])
	}

	b := &Bitmap{
		cache:        cache,
		bs:           bs,
		fat:          fat,
		base:         base,
		sizeBytes:    sizeBytes,
		numClusters:  numClusters,
		bits:         bitmap.Bitmap(raw),
		percentInuse: bs.Raw.PercentInUse,
		cursor:       fatwalk.FirstCluster,
	}
	if numClusters > 0 {
		b.numInuse = uint32(b.percentInuse) * numClusters / 100
	}
	return b, nil
}

// UpdateUsage walks the entire bitmap summing one-bits to compute exact
// usage, correcting the lazy initial estimate made at Load time.
func (b *Bitmap) UpdateUsage() {
	var n uint32
	for i := uint32(0); i < b.numClusters; i++ {
		if b.bits.Get(int(i)) {
			n++
		}
	}
	b.numInuse = n
}

func (b *Bitmap) isAvailable(c fatwalk.ClusterID) bool {
	idx := int(c - fatwalk.FirstCluster)
	if idx < 0 || idx >= int(b.numClusters) {
		return false
	}
	return !b.bits.Get(idx)
}

func (b *Bitmap) setBit(c fatwalk.ClusterID, value bool) error {
	idx := int(c - fatwalk.FirstCluster)
	b.bits.Set(idx, value)
	byteIndex := idx / 8
	sectorSize := b.cache.SectorSize()
	sectorOffset := byteIndex / sectorSize
	withinSector := byteIndex % sectorSize
	return b.cache.Write(b.base.Add(int64(sectorOffset)), withinSector, []byte{b.bits[byteIndex]})
}

// lsbOfComplement isolates the lowest zero bit of bits as a single set bit:
// the lowest set bit of ~bits is (~bits) & (bits + 1).
func lsbOfComplement(bits byte) byte {
	inv := ^bits
	return inv & (bits + 1)
}

func bitPosition(mask byte) int {
	for i := 0; i < 8; i++ {
		if mask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// Allocate finds and marks in-use one free cluster. When nofrag is non-nil,
// the caller wants cluster nofrag+1 specifically (contiguous extension) and
// a different cluster is a Fragment failure rather than a fallback.
func (b *Bitmap) Allocate(nofrag *fatwalk.ClusterID) (fatwalk.ClusterID, error) {
	if b.percentInuse == 100 {
		return 0, errors.ErrNoMoreCluster
	}

	candidate := b.cursor
	if nofrag != nil {
		candidate = *nofrag
	}
	next := candidate + 1
	if b.isAvailable(next) {
		return b.commitAllocation(next)
	}
	if nofrag != nil {
		return 0, errors.ErrFragment
	}

	numBytes := (int(b.numClusters) + 7) / 8
	startByte := int(b.cursor-fatwalk.FirstCluster) / 8
	for i := 0; i < numBytes; i++ {
		byteIndex := (startByte + i) % numBytes
		raw := b.bits[byteIndex]
		if raw == 0xFF {
			continue
		}
		bitIdx := bitPosition(lsbOfComplement(raw))
		clusterIdx := byteIndex*8 + bitIdx
		if clusterIdx >= int(b.numClusters) {
			continue
		}
		return b.commitAllocation(fatwalk.ClusterID(clusterIdx) + fatwalk.FirstCluster)
	}
	return 0, errors.ErrNoMoreCluster
}

func (b *Bitmap) commitAllocation(c fatwalk.ClusterID) (fatwalk.ClusterID, error) {
	if err := b.setBit(c, true); err != nil {
		return 0, err
	}
	b.numInuse++

	idx := int(c - fatwalk.FirstCluster)
	if idx/8 < len(b.bits) && b.bits[idx/8] == 0xFF {
		b.cursor = fatwalk.ClusterID((idx/8+1)*8) + fatwalk.FirstCluster
	}

	percent := uint8(100 * uint64(b.numInuse) / uint64(b.numClusters))
	if percent > 100 {
		percent = 100
	}
	if percent != b.percentInuse {
		b.percentInuse = percent
		if err := b.bs.SetPercentInUse(b.cache, percent); err != nil {
			return 0, err
		}
	}
	return c, nil
}

// AllocateRun reserves count clusters by calling Allocate once per cluster
// and returns them in allocation order. With dontFragment set, every
// cluster after the first must directly follow the previous one; when it
// cannot, the error is returned together with the clusters allocated so
// far. Without dontFragment each cluster is allocated independently, so the
// result is not necessarily contiguous.
func (b *Bitmap) AllocateRun(count int, dontFragment bool) ([]fatwalk.ClusterID, error) {
	if count <= 0 {
		return nil, nil
	}
	result := make([]fatwalk.ClusterID, 0, count)
	var last *fatwalk.ClusterID
	for i := 0; i < count; i++ {
		var nofrag *fatwalk.ClusterID
		if dontFragment && last != nil {
			nofrag = last
		}
		c, err := b.Allocate(nofrag)
		if err != nil {
			return result, err
		}
		result = append(result, c)
		cc := c
		last = &cc
	}
	return result, nil
}

// Release clears a single cluster's bit (chain=false) or walks the FAT
// chain starting at start clearing each visited cluster's bit (chain=true).
func (b *Bitmap) Release(start fatwalk.ClusterID, chain bool) error {
	if !chain {
		if err := b.setBit(start, false); err != nil {
			return err
		}
		if b.numInuse > 0 {
			b.numInuse--
		}
		return b.syncPercentInuse()
	}

	err := b.fat.WalkChain(start, func(c fatwalk.ClusterID) error {
		if releaseErr := b.setBit(c, false); releaseErr != nil {
			return releaseErr
		}
		if b.numInuse > 0 {
			b.numInuse--
		}
		return nil
	})
	if err != nil {
		return err
	}
	return b.syncPercentInuse()
}

func (b *Bitmap) syncPercentInuse() error {
	percent := uint8(100 * uint64(b.numInuse) / uint64(b.numClusters))
	if percent == b.percentInuse {
		return b.cache.Flush()
	}
	b.percentInuse = percent
	if err := b.bs.SetPercentInUse(b.cache, percent); err != nil {
		return err
	}
	return b.cache.Flush()
}

// NumInUse returns the current allocated-cluster count.
func (b *Bitmap) NumInUse() uint32 { return b.numInuse }

// PercentInUse returns the current reconciled percent_inuse value.
func (b *Bitmap) PercentInUse() uint8 { return b.percentInuse }

// IsAllocated reports whether cluster c's bit is set.
func (b *Bitmap) IsAllocated(c fatwalk.ClusterID) bool {
	return !b.isAvailable(c)
}
