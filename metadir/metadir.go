// Package metadir implements the per-open file meta-directory:
// the runtime owner of one entry set's metadata, its next()-sector
// iterator, cluster allocation, and sync-back to disk. The structure, a
// small owner type wrapping shared io/context handles plus exclusively
// owned cursor state, with next()/allocate()/sync() methods mirroring a
// FAT chain walk, is grounded in dargueta-disko's
// drivers/fat/driverbase.go (its getClusterInChain/readClusterOfDirent
// pair plays the same role next() does) generalized from
// FAT12/16/32's single chain-walk mode to exFAT's contiguous-or-chained
// duality.
package metadir

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/fatwalk"
	"github.com/dargueta/exfat/timestamp"
	"github.com/dargueta/exfat/volctx"
)

// MetaFileDirectory owns the runtime Metadata for one open file or
// directory entry set.
type MetaFileDirectory struct {
	vol        *volctx.Context
	geometry   fatwalk.Geometry
	sectorSize int

	entryID     volctx.EntryID
	locations   []volctx.EntryID // physical slot of every entry in the set, primary first
	isSynthetic bool             // true only for the root's synthetic entry

	Set         *direntry.Set
	sectorIndex fatwalk.SectorIndex
	dirty       bool
}

// New constructs a MetaFileDirectory over an already-decoded entry set,
// anchored at its first data cluster ("sector_index (current
// cursor anchor)"). locations holds the physical slot of every entry the
// set occupies, primary first, as found by the directory walker that
// decoded it; Sync uses it to write back across whatever sectors the set's
// entries actually live in, including a set that straddles a sector
// boundary.
func New(vol *volctx.Context, geometry fatwalk.Geometry, sectorSize int, locations []volctx.EntryID, set *direntry.Set, isSynthetic bool) *MetaFileDirectory {
	var entryID volctx.EntryID
	if len(locations) > 0 {
		entryID = locations[0]
	}
	return &MetaFileDirectory{
		vol:         vol,
		geometry:    geometry,
		sectorSize:  sectorSize,
		entryID:     entryID,
		locations:   locations,
		isSynthetic: isSynthetic,
		Set:         set,
		sectorIndex: fatwalk.SectorIndex{Cluster: fatwalk.ClusterID(set.StreamExtension.FirstCluster), SectorInCluster: 0},
	}
}

// Vol exposes the shared Context so the directory/file packages can run
// their own WithIO/WithBoth sections over the same gates and caches this
// meta-directory uses.
func (m *MetaFileDirectory) Vol() *volctx.Context { return m.vol }

// Geometry exposes the cluster-heap geometry used to resolve sector
// indexes to absolute sectors.
func (m *MetaFileDirectory) Geometry() fatwalk.Geometry { return m.geometry }

// SectorSize returns the volume's logical sector size in bytes.
func (m *MetaFileDirectory) SectorSize() int { return m.sectorSize }

// ResetToFirst rewinds the cursor anchor back to the entry's first data
// sector.
func (m *MetaFileDirectory) ResetToFirst() {
	m.sectorIndex = m.FirstSectorIndex()
}

// SetSectorIndex repoints the cursor anchor directly, used by the file
// cursor's write() when it lands on a freshly allocated cluster.
func (m *MetaFileDirectory) SetSectorIndex(idx fatwalk.SectorIndex) {
	m.sectorIndex = idx
}

// Length returns valid_data_length.
func (m *MetaFileDirectory) Length() uint64 { return m.Set.StreamExtension.ValidDataLength }

// Capacity returns data_length.
func (m *MetaFileDirectory) Capacity() uint64 { return m.Set.StreamExtension.DataLength }

// SetLength updates valid_data_length and marks the set dirty.
func (m *MetaFileDirectory) SetLength(n uint64) {
	m.Set.StreamExtension.ValidDataLength = n
	m.dirty = true
}

// SectorIndex returns the meta-directory's current cursor anchor.
func (m *MetaFileDirectory) SectorIndex() fatwalk.SectorIndex { return m.sectorIndex }

// FirstSectorIndex returns the entry's first data sector, the anchor a
// File cursor rewinds to on backward seeks.
func (m *MetaFileDirectory) FirstSectorIndex() fatwalk.SectorIndex {
	return fatwalk.SectorIndex{Cluster: fatwalk.ClusterID(m.Set.StreamExtension.FirstCluster)}
}

// Next advances sectorIndex by one sector, crossing a cluster boundary
// via the FAT chain when needed.
func (m *MetaFileDirectory) Next(ctx context.Context) (fatwalk.SectorIndex, error) {
	cur := m.sectorIndex
	if !cur.AtClusterBoundary(m.geometry.SectorsPerCluster) {
		m.sectorIndex = cur.Next()
		return m.sectorIndex, nil
	}

	se := m.Set.StreamExtension
	if se.GeneralSecondaryFlags.Contiguous() {
		numClusters := ceilDiv(se.DataLength, uint64(m.clusterSize()))
		firstCluster := fatwalk.ClusterID(se.FirstCluster)
		if cur.Cluster+1 < firstCluster+fatwalk.ClusterID(numClusters) {
			next := fatwalk.SectorIndex{Cluster: cur.Cluster + 1, SectorInCluster: 0}
			m.sectorIndex = next
			return next, nil
		}
		return fatwalk.SectorIndex{}, errors.ErrEOF
	}

	var entry fatwalk.Entry
	err := m.vol.WithBoth(ctx, func() error {
		e, ferr := m.vol.Fat.NextClusterID(cur.Cluster)
		entry = e
		return ferr
	})
	if err != nil {
		return fatwalk.SectorIndex{}, err
	}
	switch entry.Kind {
	case fatwalk.KindNext:
		next := fatwalk.SectorIndex{Cluster: entry.Next, SectorInCluster: 0}
		m.sectorIndex = next
		return next, nil
	case fatwalk.KindLast:
		return fatwalk.SectorIndex{}, errors.ErrEOF
	default:
		return fatwalk.SectorIndex{}, errors.ErrFATChain
	}
}

func (m *MetaFileDirectory) clusterSize() uint64 {
	return uint64(m.geometry.SectorsPerCluster) * uint64(m.sectorSize)
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Allocate extends the entry set by one cluster.
func (m *MetaFileDirectory) Allocate(ctx context.Context, last fatwalk.ClusterID, dontFragment bool) (fatwalk.ClusterID, error) {
	se := &m.Set.StreamExtension
	if !se.GeneralSecondaryFlags.AllocationPossible() {
		return 0, errors.ErrNotPossible
	}

	var newCluster fatwalk.ClusterID
	var allocErr error
	err := m.vol.WithBoth(ctx, func() error {
		var nofrag *fatwalk.ClusterID
		if dontFragment && last != 0 {
			l := last
			nofrag = &l
		}
		c, err := m.vol.Bitmap.Allocate(nofrag)
		newCluster = c
		allocErr = err
		return err
	})
	if err != nil {
		return 0, allocErr
	}

	if last == 0 {
		se.FirstCluster = uint32(newCluster)
		se.GeneralSecondaryFlags = se.GeneralSecondaryFlags.WithContiguous(true)
	} else if last+1 != newCluster || se.GeneralSecondaryFlags.FatChain() {
		if se.GeneralSecondaryFlags.Contiguous() {
			if err := m.materializeContiguousChain(ctx, se); err != nil {
				return 0, err
			}
			se.GeneralSecondaryFlags = se.GeneralSecondaryFlags.WithContiguous(false)
		}
		if err := m.vol.WithBoth(ctx, func() error {
			if err := m.vol.Fat.SetNext(last, newCluster); err != nil {
				return err
			}
			return m.vol.Fat.SetLast(newCluster)
		}); err != nil {
			return 0, err
		}
	}

	se.DataLength += uint64(m.clusterSize())
	if m.Set.FileDirectory.FileAttributes.IsDirectory() {
		se.ValidDataLength = se.DataLength
	}
	m.recomputeChecksum()
	m.dirty = true
	return newCluster, nil
}

// materializeContiguousChain lays down explicit FAT entries for a
// previously contiguous file's existing cluster range before the new
// cluster is linked in.
func (m *MetaFileDirectory) materializeContiguousChain(ctx context.Context, se *direntry.RawStreamExtension) error {
	first := fatwalk.ClusterID(se.FirstCluster)
	numClusters := ceilDiv(se.DataLength, uint64(m.clusterSize()))
	if numClusters <= 1 {
		return nil
	}
	return m.vol.WithBoth(ctx, func() error {
		for i := uint64(0); i < numClusters-1; i++ {
			c := first + fatwalk.ClusterID(i)
			if err := m.vol.Fat.SetNext(c, c+1); err != nil {
				return err
			}
		}
		return m.vol.Fat.SetLast(first + fatwalk.ClusterID(numClusters) - 1)
	})
}

// Touch updates timestamps and marks the entry set dirty so that Sync
// re-encodes it with a fresh checksum (touch()). Set
// updateModified/updateAccessed to pick which timestamps change.
func (m *MetaFileDirectory) Touch(now time.Time, updateModified, updateAccessed bool) {
	packed := timestamp.Pack(now)
	if updateModified {
		m.Set.FileDirectory.LastModifiedTimestamp = uint32(packed)
		m.Set.FileDirectory.ModifiedTimeIncrement10ms = timestamp.Increment10ms(now)
	}
	if updateAccessed {
		m.Set.FileDirectory.LastAccessedTimestamp = uint32(packed)
	}
	m.recomputeChecksum()
	m.dirty = true
}

func (m *MetaFileDirectory) recomputeChecksum() {
	// The checksum depends on the fully encoded byte layout including the
	// name entries, so actual recomputation happens in Sync, which
	// re-encodes the whole set; this just marks dirty so that step isn't
	// skipped.
	m.dirty = true
}

// Sync re-encodes the entry set (recomputing its checksum over the fresh
// bytes) and writes every entry to its physical slot, which may span a
// sector boundary. A no-op
// for the root's synthetic metadata and when nothing has changed.
func (m *MetaFileDirectory) Sync(ctx context.Context) error {
	if m.isSynthetic || !m.dirty {
		return nil
	}
	encoded, err := direntry.EncodeSet(m.Set.FileDirectory, m.Set.StreamExtension, m.Set.Name)
	if err != nil {
		return err
	}
	if len(encoded)/direntry.EntrySize != len(m.locations) {
		return errors.ErrMetadata.WithMessage("entry set size changed since it was opened")
	}
	m.Set.FileDirectory.SetChecksum = binary.LittleEndian.Uint16(encoded[2:4])

	err = m.vol.WithIO(ctx, func() error {
		for i, loc := range m.locations {
			entry := encoded[i*direntry.EntrySize : (i+1)*direntry.EntrySize]
			if err := m.vol.Cache.Write(loc.Sector, loc.Index*direntry.EntrySize, entry); err != nil {
				return err
			}
		}
		return m.vol.Cache.Flush()
	})
	if err != nil {
		return err
	}
	m.dirty = false
	return nil
}

// ReleaseTail shrinks the entry's allocation down to keepClusters clusters,
// releasing whatever used to follow, for both the contiguous and
// FAT-chained layouts. keepClusters == 0 releases everything.
func (m *MetaFileDirectory) ReleaseTail(ctx context.Context, keepClusters uint64) error {
	se := &m.Set.StreamExtension
	capacityClusters := ceilDiv(se.DataLength, uint64(m.clusterSize()))
	if keepClusters >= capacityClusters {
		return nil
	}

	first := fatwalk.ClusterID(se.FirstCluster)
	chained := se.GeneralSecondaryFlags.FatChain()

	if keepClusters == 0 {
		if first != 0 {
			err := m.vol.WithBoth(ctx, func() error {
				if chained {
					return m.vol.Bitmap.Release(first, true)
				}
				for c := first; c < first+fatwalk.ClusterID(capacityClusters); c++ {
					if err := m.vol.Bitmap.Release(c, false); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		se.FirstCluster = 0
		se.DataLength = 0
		se.ValidDataLength = 0
		se.GeneralSecondaryFlags = se.GeneralSecondaryFlags.WithContiguous(true)
		m.recomputeChecksum()
		m.dirty = true
		return nil
	}

	if !chained {
		err := m.vol.WithBoth(ctx, func() error {
			for c := first + fatwalk.ClusterID(keepClusters); c < first+fatwalk.ClusterID(capacityClusters); c++ {
				if err := m.vol.Bitmap.Release(c, false); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		err := m.vol.WithBoth(ctx, func() error {
			cur := first
			for i := uint64(1); i < keepClusters; i++ {
				entry, err := m.vol.Fat.NextClusterID(cur)
				if err != nil {
					return err
				}
				if entry.Kind != fatwalk.KindNext {
					return errors.ErrFATChain
				}
				cur = entry.Next
			}
			entry, err := m.vol.Fat.NextClusterID(cur)
			if err != nil {
				return err
			}
			if err := m.vol.Fat.SetLast(cur); err != nil {
				return err
			}
			if entry.Kind == fatwalk.KindNext {
				return m.vol.Bitmap.Release(entry.Next, true)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	se.DataLength = keepClusters * uint64(m.clusterSize())
	if se.ValidDataLength > se.DataLength {
		se.ValidDataLength = se.DataLength
	}
	m.recomputeChecksum()
	m.dirty = true
	return nil
}

// Dirty reports whether in-memory metadata differs from what's on disk.
func (m *MetaFileDirectory) Dirty() bool { return m.dirty }

// ClearDirty marks the in-memory metadata as matching what's on disk.
func (m *MetaFileDirectory) ClearDirty() { m.dirty = false }

// EntryID returns the identifier used by the open-entry set.
func (m *MetaFileDirectory) EntryID() volctx.EntryID { return m.entryID }

// IsSynthetic reports whether this is the root's synthetic metadata, which
// suppresses sync-back.
func (m *MetaFileDirectory) IsSynthetic() bool { return m.isSynthetic }

// Close syncs any dirty metadata, then removes this entry from the
// open-entry set.
func (m *MetaFileDirectory) Close(ctx context.Context) error {
	if m.isSynthetic {
		return nil
	}
	if err := m.Sync(ctx); err != nil {
		return err
	}
	return m.vol.CloseEntry(ctx, m.entryID)
}

// EncodeTimestampField writes v into buf as a little-endian 32-bit
// timestamp word.
func EncodeTimestampField(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}
