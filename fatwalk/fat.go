// Package fatwalk maps cluster ids to FAT sector/offset and decodes FAT
// chain entries. The chain-walking shape (advance one cluster at a time,
// distinguishing a terminal entry from a bad one from a live next-pointer)
// is grounded in dargueta-disko's drivers/fat/driverbase.go
// listClusters loop; the entry encoding itself (Next/Last/BadCluster over a
// plain uint32) follows dsoprea-go-exfat's MappedCluster/Fat types, the
// pack's only exFAT-specific FAT reader.
package fatwalk

import (
	"encoding/binary"
	"log"

	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/errors"
)

// ClusterID is the 32-bit cluster identifier. Valid range is
// 2..=0xFFFFFFF6; the offset of a cluster within the heap is ClusterID-2.
type ClusterID uint32

const (
	FirstCluster ClusterID = 2
	LastValid    ClusterID = 0xFFFFFFF6
	BadClusterID ClusterID = 0xFFFFFFF7
	EndOfChain   ClusterID = 0xFFFFFFFF
)

// EntryKind distinguishes the three shapes a decoded FAT entry can take.
type EntryKind int

const (
	KindNext EntryKind = iota
	KindLast
	KindBad
	KindMalformed
)

// Entry is a decoded FAT table entry.
type Entry struct {
	Kind EntryKind
	Next ClusterID // valid only when Kind == KindNext
}

// Walker maps cluster ids onto FAT sectors and decodes entries.
type Walker struct {
	cache           *blockio.Cache
	fatOffsetSector blockio.SectorID
	fatLengthSector uint32
	sectorSize      int
}

// New builds a Walker over the FAT described by fatOffsetSector/fatLength
// (in sectors), the volume's "FAT info".
func New(cache *blockio.Cache, fatOffsetSector blockio.SectorID, fatLengthSectors uint32) *Walker {
	return &Walker{
		cache:           cache,
		fatOffsetSector: fatOffsetSector,
		fatLengthSector: fatLengthSectors,
		sectorSize:      cache.SectorSize(),
	}
}

// entriesPerSector is sector_size / 4, the number of 4-byte FAT entries a
// sector holds.
func (w *Walker) entriesPerSector() int {
	return w.sectorSize / 4
}

// FATSectorID returns the sector containing cluster c's entry, or ok=false
// if c lies past the FAT.
func (w *Walker) FATSectorID(c ClusterID) (id blockio.SectorID, ok bool) {
	entryIndex := uint32(c)
	sectorDelta := entryIndex / uint32(w.entriesPerSector())
	if sectorDelta >= w.fatLengthSector {
		return 0, false
	}
	return w.fatOffsetSector.Add(int64(sectorDelta)), true
}

// Offset returns the byte offset of cluster c's entry within its sector.
func (w *Walker) Offset(c ClusterID) int {
	entryIndex := uint32(c)
	return int(entryIndex%uint32(w.entriesPerSector())) * 4
}

// NextClusterID decodes the FAT entry for cluster c, reading its sector
// through the cache.
func (w *Walker) NextClusterID(c ClusterID) (Entry, error) {
	sectorID, ok := w.FATSectorID(c)
	if !ok {
		return Entry{}, errors.ErrFATChain.WithMessage("cluster past end of FAT")
	}
	sector, err := w.cache.Read(sectorID)
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(sector, w.Offset(c)), nil
}

func decodeEntry(sectorBytes []byte, offset int) Entry {
	raw := ClusterID(binary.LittleEndian.Uint32(sectorBytes[offset : offset+4]))
	switch {
	case raw == EndOfChain:
		return Entry{Kind: KindLast}
	case raw == BadClusterID:
		return Entry{Kind: KindBad}
	case raw >= FirstCluster && raw <= LastValid:
		return Entry{Kind: KindNext, Next: raw}
	default:
		return Entry{Kind: KindMalformed}
	}
}

// SetNext writes FAT[c] = next as a single little-endian 4-byte write.
// Cluster ids 0 and 1 are reserved and must never be written.
func (w *Walker) SetNext(c ClusterID, next ClusterID) error {
	if c < FirstCluster {
		return errors.ErrFATChain.WithMessage("refusing to write reserved FAT entry 0 or 1")
	}
	sectorID, ok := w.FATSectorID(c)
	if !ok {
		return errors.ErrFATChain.WithMessage("cluster past end of FAT")
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(next))
	return w.cache.Write(sectorID, w.Offset(c), buf[:])
}

// SetLast writes FAT[c] = Last, marking c as the tail of its chain.
func (w *Walker) SetLast(c ClusterID) error {
	return w.SetNext(c, EndOfChain)
}

// WalkChain invokes visit(c) for every cluster in the chain starting at
// start, in order, stopping after the entry decoded as Last. It stops
// early (without error) on a BadCluster entry, the "log and treat as
// end-of-chain" policy release() follows, since continuing to
// walk through a bad link would misinterpret garbage as a cluster id.
// Malformed (out-of-range, non-reserved) entries end the walk with
// errors.ErrFATChain.
func (w *Walker) WalkChain(start ClusterID, visit func(ClusterID) error) error {
	c := start
	for {
		if err := visit(c); err != nil {
			return err
		}
		entry, err := w.NextClusterID(c)
		if err != nil {
			return err
		}
		switch entry.Kind {
		case KindLast:
			return nil
		case KindBad:
			log.Printf("exfat: cluster %d in chain starting at %d is marked bad; stopping chain walk", c, start)
			return nil
		case KindMalformed:
			return errors.ErrFATChain
		default:
			c = entry.Next
		}
	}
}
