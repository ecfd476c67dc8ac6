// Package directory implements the directory walker: entry-by-
// entry iteration across sector and cluster boundaries, name lookup, and
// the create/delete entry-set algorithms. The sector-crossing iterator
// shape is grounded in original_source/src/cluster_heap/directory/entry_iter.rs's
// EntryIter (read one entry at a time, re-reading the next sector through
// the meta-directory's next() once the in-sector index runs out); the
// create/delete algorithms follow original_source/src/cluster_heap/directory/mod.rs's
// lookup_free/create/delete, translated into an error-return
// idiom instead of Result<_, Error> combinators.
package directory

import (
	"context"

	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/fatwalk"
	"github.com/dargueta/exfat/metadir"
	"github.com/dargueta/exfat/volctx"
)

// entryIter walks one meta-directory's content 32 bytes at a time,
// transparently crossing sector and cluster boundaries via meta.Next().
type entryIter struct {
	meta   *metadir.MetaFileDirectory
	vol    *volctx.Context
	sector []byte
	idx    fatwalk.SectorIndex
	pos    int
}

// newEntryIter anchors a fresh iterator at meta's current sector. Callers
// that want to scan from the beginning must call meta.ResetToFirst() first.
func newEntryIter(ctx context.Context, meta *metadir.MetaFileDirectory) (*entryIter, error) {
	idx := meta.SectorIndex()
	sector, err := readSector(ctx, meta, idx)
	if err != nil {
		return nil, err
	}
	return &entryIter{meta: meta, vol: meta.Vol(), sector: sector, idx: idx, pos: 0}, nil
}

func readSector(ctx context.Context, meta *metadir.MetaFileDirectory, idx fatwalk.SectorIndex) ([]byte, error) {
	vol := meta.Vol()
	geometry := meta.Geometry()
	var out []byte
	err := vol.WithIO(ctx, func() error {
		sector, err := vol.Cache.Read(geometry.Resolve(idx))
		if err != nil {
			return err
		}
		out = append([]byte(nil), sector...)
		return nil
	})
	return out, err
}

// entriesPerSector is the fixed fan-out of 32-byte slots per sector.
func (it *entryIter) entriesPerSector() int {
	return it.meta.SectorSize() / direntry.EntrySize
}

// currentCluster returns the cluster the iterator is presently reading,
// used by Create to know which cluster to extend when the directory's
// tail runs out of room.
func (it *entryIter) currentCluster() fatwalk.ClusterID {
	return it.idx.Cluster
}

// next returns the next entry's raw 32 bytes and physical location. eod is
// true when the entry is the 0x00 end-of-directory sentinel; the entry
// bytes are still returned in that case (all zero) but iteration should
// stop.
func (it *entryIter) next(ctx context.Context) (entry []byte, id volctx.EntryID, eod bool, err error) {
	if it.pos >= it.entriesPerSector() {
		nextIdx, nerr := it.meta.Next(ctx)
		if nerr != nil {
			return nil, volctx.EntryID{}, false, nerr
		}
		sector, rerr := readSector(ctx, it.meta, nextIdx)
		if rerr != nil {
			return nil, volctx.EntryID{}, false, rerr
		}
		it.idx = nextIdx
		it.sector = sector
		it.pos = 0
	}

	start := it.pos * direntry.EntrySize
	entry = it.sector[start : start+direntry.EntrySize]
	id = volctx.EntryID{Sector: it.meta.Geometry().Resolve(it.idx), Index: it.pos}
	it.pos++

	et := direntry.EntryType(entry[0])
	return entry, id, et.IsEndOfDirectory(), nil
}
