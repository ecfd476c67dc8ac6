// Package root implements the root-directory bootstrap:
// locating the allocation bitmap and upcase table entries in the root
// directory's first sector, building the shared Context, and exposing the
// root itself as a synthetic directory handle whose entry_index is invalid
// so metadata sync-back is always skipped. The bootstrap sequence mirrors
// original_source/src/cluster_heap/root.rs's RootDirectory::new: scan up to
// 16 entries, stopping at the first entry that isn't one of
// AllocationBitmap/UpcaseTable/VolumeLabel, then fail fast if either
// mandatory entry never showed up.
package root

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"

	"github.com/dargueta/exfat/bitmap"
	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/bootsector"
	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/directory"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/fatwalk"
	"github.com/dargueta/exfat/metadir"
	"github.com/dargueta/exfat/utf16le"
	"github.com/dargueta/exfat/volctx"
)

// Root is the mounted root directory: the bootstrap artifacts (allocation
// bitmap geometry consumed into the shared Context, upcase table, optional
// volume label) plus the root's own Directory handle.
type Root struct {
	dir    *directory.Directory
	upcase *direntry.UpcaseTable

	volumeLabel    string
	hasVolumeLabel bool

	cache              *blockio.Cache
	upcaseFirstSector  blockio.SectorID
	upcaseDataLength   uint64
	upcaseTableChecksum uint32
}

// New reads the root directory's first sector, locates the mandatory
// AllocationBitmap and UpcaseTable entries and the optional VolumeLabel
// entry, builds the shared volctx.Context, and wraps the root itself as a
// synthetic Directory.
func New(cache *blockio.Cache, bs *bootsector.BootSector, fat *fatwalk.Walker, geometry fatwalk.Geometry, blocking, dontFragment bool) (*Root, error) {
	rootIdx := fatwalk.SectorIndex{Cluster: fatwalk.ClusterID(bs.RootDirectoryCluster)}
	sector, err := cache.Read(geometry.Resolve(rootIdx))
	if err != nil {
		return nil, err
	}

	var bitmapEntry *direntry.RawAllocationBitmap
	var upcaseEntry *direntry.RawUpcaseTable
	var labelEntry *direntry.RawVolumeLabel

	const maxRootBootstrapEntries = 16
	for i := 0; i < maxRootBootstrapEntries; i++ {
		start := i * direntry.EntrySize
		end := start + direntry.EntrySize
		if end > len(sector) {
			break
		}
		raw := sector[start:end]
		switch direntry.EntryType(raw[0]) {
		case direntry.TypeAllocationBitmap:
			var e direntry.RawAllocationBitmap
			if err := restruct.Unpack(raw, binary.LittleEndian, &e); err != nil {
				return nil, errors.ErrMetadata.WrapError(err)
			}
			bitmapEntry = &e
		case direntry.TypeUpcaseTable:
			var e direntry.RawUpcaseTable
			if err := restruct.Unpack(raw, binary.LittleEndian, &e); err != nil {
				return nil, errors.ErrMetadata.WrapError(err)
			}
			upcaseEntry = &e
		case direntry.TypeVolumeLabel:
			var e direntry.RawVolumeLabel
			if err := restruct.Unpack(raw, binary.LittleEndian, &e); err != nil {
				return nil, errors.ErrMetadata.WrapError(err)
			}
			labelEntry = &e
		default:
			i = maxRootBootstrapEntries
		}
	}

	if bitmapEntry == nil {
		return nil, errors.ErrAllocationBitmapMissing
	}
	if upcaseEntry == nil {
		return nil, errors.ErrUpcaseTableMissing
	}

	bitmapBase := geometry.Resolve(fatwalk.SectorIndex{Cluster: fatwalk.ClusterID(bitmapEntry.FirstCluster)})
	bm, err := bitmap.Load(cache, bs, fat, bitmapBase, int(bitmapEntry.DataLength), bs.Raw.ClusterCount)
	if err != nil {
		return nil, err
	}

	vol := volctx.New(cache, bm, fat, blocking)

	upcaseFirstSector := geometry.Resolve(fatwalk.SectorIndex{Cluster: fatwalk.ClusterID(upcaseEntry.FirstCluster)})
	upcaseSector, err := cache.Read(upcaseFirstSector)
	if err != nil {
		return nil, err
	}
	tableBytes := make([]byte, 256)
	n := copy(tableBytes, upcaseSector)
	_ = n
	upcaseTable := direntry.NewUpcaseTable(tableBytes)

	label, hasLabel := decodeVolumeLabel(labelEntry)

	rootSet := &direntry.Set{
		FileDirectory: direntry.RawFileDirectory{
			FileAttributes: direntry.AttrDirectory,
		},
		StreamExtension: direntry.RawStreamExtension{
			FirstCluster: bs.RootDirectoryCluster,
		},
	}
	rootSet.StreamExtension.GeneralSecondaryFlags = rootSet.StreamExtension.GeneralSecondaryFlags.
		WithAllocationPossible(true).
		WithContiguous(false)

	meta := metadir.New(vol, geometry, cache.SectorSize(), nil, rootSet, true)
	dir := directory.New(meta, upcaseTable, dontFragment)

	return &Root{
		dir:                 dir,
		upcase:              upcaseTable,
		volumeLabel:         label,
		hasVolumeLabel:      hasLabel,
		cache:               cache,
		upcaseFirstSector:   upcaseFirstSector,
		upcaseDataLength:    upcaseEntry.DataLength,
		upcaseTableChecksum: upcaseEntry.TableChecksum,
	}, nil
}

func decodeVolumeLabel(e *direntry.RawVolumeLabel) (string, bool) {
	if e == nil || e.CharacterCount == 0 {
		return "", false
	}
	count := int(e.CharacterCount)
	if count > len(e.VolumeLabel) {
		count = len(e.VolumeLabel)
	}
	units := make([]byte, count*2)
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint16(units[i*2:], e.VolumeLabel[i])
	}
	buf := make([]byte, count*4)
	written, err := utf16le.ToUTF8(buf, units)
	if err != nil {
		return "", false
	}
	return string(buf[:written]), true
}

// Directory returns the root's own Directory handle.
func (r *Root) Directory() *directory.Directory { return r.dir }

// Bitmap returns the shared allocation bitmap, for callers reporting
// volume-wide usage statistics outside the directory tree.
func (r *Root) Bitmap() *bitmap.Bitmap { return r.dir.Vol().Bitmap }

// VolumeLabel returns the decoded label and whether one was present, per
// the "no volume label present" case.
func (r *Root) VolumeLabel() (string, bool) { return r.volumeLabel, r.hasVolumeLabel }

// ValidateUpcaseTableChecksum streams every sector of the upcase-table
// region through the 32-bit data checksum recurrence and compares it
// against the stored value.
func (r *Root) ValidateUpcaseTableChecksum() error {
	sectorSize := r.cache.SectorSize()
	numSectors := int(r.upcaseDataLength) / sectorSize
	var sum uint32
	for i := 0; i < numSectors; i++ {
		sector, err := r.cache.Read(r.upcaseFirstSector.Add(int64(i)))
		if err != nil {
			return err
		}
		sum = bootsector.Checksum32(sum, sector)
	}
	remain := int(r.upcaseDataLength) - numSectors*sectorSize
	if remain > 0 {
		sector, err := r.cache.Read(r.upcaseFirstSector.Add(int64(numSectors)))
		if err != nil {
			return err
		}
		sum = bootsector.Checksum32(sum, sector[:remain])
	}
	if sum != r.upcaseTableChecksum {
		return errors.ErrUpcaseTableChecksum
	}
	return nil
}
