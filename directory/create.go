package directory

import (
	"context"
	"time"

	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/fatwalk"
	"github.com/dargueta/exfat/timestamp"
	"github.com/dargueta/exfat/utf16le"
	"github.com/dargueta/exfat/volctx"
)

// locateInsertionPoint scans the whole directory for the best place to put
// a new needed-entry set: the smallest sufficient run of free or deleted
// slots, first-encountered on a tie. If nothing in the existing content is big
// enough, it grows the directory one cluster at a time, via the live
// iterator sitting at the tail, the same way
// original_source/src/cluster_heap/directory/mod.rs's create() calls
// meta.next()/meta.allocate() on hitting its own "out of capacity" EOF,
// until needed+1 contiguous slots are available (the extra one stays zero
// as the relocated end-of-directory marker; newly allocated cluster bytes
// are zero-filled, so nothing further needs to be written there).
func (d *Directory) locateInsertionPoint(ctx context.Context, needed int) ([]volctx.EntryID, error) {
	d.meta.ResetToFirst()
	it, err := newEntryIter(ctx, d.meta)
	if err != nil {
		return nil, err
	}

	var candidate []volctx.EntryID
	var best []volctx.EntryID
	bestLen := 0

	for {
		entry, id, eod, err := it.next(ctx)
		if err != nil {
			return nil, err
		}

		if !eod {
			et := direntry.EntryType(entry[0])
			if et.IsInUse() {
				if len(candidate) >= needed && (best == nil || len(candidate) < bestLen) {
					best = append([]volctx.EntryID(nil), candidate[:needed]...)
					bestLen = len(candidate)
				}
				candidate = nil
				if !et.IsFileDirectory() {
					continue
				}

				secondaryCount := int(entry[1])
				for i := 0; i < secondaryCount; i++ {
					_, _, eod2, err := it.next(ctx)
					if err != nil {
						return nil, err
					}
					if eod2 {
						return nil, errors.ErrMetadata.WithMessage("entry set truncated by end-of-directory")
					}
				}
				continue
			}
			candidate = append(candidate, id)
			continue
		}

		// Reached the end-of-directory sentinel. A free run entirely
		// before it can be used without disturbing the sentinel itself.
		if len(candidate) >= needed && (best == nil || len(candidate) < bestLen) {
			best = append([]volctx.EntryID(nil), candidate[:needed]...)
			bestLen = len(candidate)
		}
		if best != nil {
			return best, nil
		}

		// Not enough room anywhere: grow from the tail. The sentinel slot
		// itself joins the usable run; one slot beyond the new entries
		// must remain free as the new terminator.
		run := append(append([]volctx.EntryID(nil), candidate...), id)
		for len(run) < needed+1 {
			_, nid, _, err := it.next(ctx)
			if err == errors.ErrEOF {
				newCluster, aerr := d.meta.Allocate(ctx, it.currentCluster(), d.dontFragment)
				if aerr != nil {
					return nil, aerr
				}
				geometry := d.meta.Geometry()
				zero := make([]byte, d.meta.SectorSize())
				zerr := d.meta.Vol().WithIO(ctx, func() error {
					for s := uint32(0); s < geometry.SectorsPerCluster; s++ {
						sector := geometry.Resolve(fatwalk.SectorIndex{Cluster: newCluster, SectorInCluster: s})
						if werr := d.meta.Vol().Cache.Write(sector, 0, zero); werr != nil {
							return werr
						}
					}
					return nil
				})
				if zerr != nil {
					return nil, zerr
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			run = append(run, nid)
		}
		return run[:needed], nil
	}
}

// Create adds a new file entry set named name to the directory. Directory creation is out of scope, names
// longer than 255 UTF-16 code units are rejected, and an existing entry
// with the same case-insensitive name is rejected as AlreadyExists.
func (d *Directory) Create(ctx context.Context, name string, isDirectory bool) (*Entry, error) {
	if isDirectory {
		return nil, errors.ErrCreateDirectoryNotSupported
	}
	if utf16le.CountUnits(name) > 255 {
		return nil, errors.ErrNameTooLong
	}
	if existing, err := d.Find(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errors.ErrAlreadyExists
	}

	fd := direntry.RawFileDirectory{
		EntryType:      direntry.TypeFileDirectory,
		FileAttributes: direntry.AttrArchive,
	}
	now := time.Now()
	packed := timestamp.Pack(now)
	fd.CreateTimestamp = uint32(packed)
	fd.LastModifiedTimestamp = uint32(packed)
	fd.LastAccessedTimestamp = uint32(packed)
	fd.CreateTimeIncrement10ms = timestamp.Increment10ms(now)
	fd.ModifiedTimeIncrement10ms = fd.CreateTimeIncrement10ms
	_, offsetSec := now.Zone()
	fd.CreateUTCOffset = uint8(timestamp.EncodeUTCOffset(int8(offsetSec / (15 * 60))))
	fd.ModifiedUTCOffset = fd.CreateUTCOffset
	fd.AccessedUTCOffset = fd.CreateUTCOffset

	se := direntry.RawStreamExtension{
		EntryType: direntry.TypeStreamExtension,
	}
	se.GeneralSecondaryFlags = se.GeneralSecondaryFlags.WithAllocationPossible(true)

	encoded, err := direntry.EncodeSet(fd, se, name)
	if err != nil {
		return nil, err
	}
	needed := len(encoded) / direntry.EntrySize

	locations, err := d.locateInsertionPoint(ctx, needed)
	if err != nil {
		return nil, err
	}

	err = d.meta.Vol().WithIO(ctx, func() error {
		for i, loc := range locations {
			chunk := encoded[i*direntry.EntrySize : (i+1)*direntry.EntrySize]
			if err := d.meta.Vol().Cache.Write(loc.Sector, loc.Index*direntry.EntrySize, chunk); err != nil {
				return err
			}
		}
		return d.meta.Vol().Cache.Flush()
	})
	if err != nil {
		return nil, err
	}

	set, err := direntry.DecodeSet(encoded)
	if err != nil {
		return nil, err
	}
	return &Entry{Set: set, Locations: locations}, nil
}
