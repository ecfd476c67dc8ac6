// Package file implements the file cursor: seek, read, write
// with lazy cluster allocation, truncate, and metadata sync, riding on top
// of a metadir.MetaFileDirectory the way original_source/src/cluster_heap/file.rs's
// File<IO> rides on top of its ClusterEntry, a thin offset-tracking wrapper
// whose read/write loops stream sector-by-sector through the same next()
// the directory walker uses to cross cluster boundaries.
package file

import (
	"context"
	"time"

	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/fatwalk"
	"github.com/dargueta/exfat/metadir"
	"github.com/dargueta/exfat/volctx"
)

// Cursor is an open handle on one file's data.
type Cursor struct {
	meta         *metadir.MetaFileDirectory
	dontFragment bool

	size   uint64 // valid_data_length, grows as data is written
	cursor uint64 // byte offset from start
	dirty  bool
}

// New wraps an already-open meta-directory as a file Cursor, positioned at
// the start of the file.
func New(meta *metadir.MetaFileDirectory, dontFragment bool) *Cursor {
	return &Cursor{meta: meta, dontFragment: dontFragment, size: meta.Length()}
}

func (c *Cursor) vol() *volctx.Context { return c.meta.Vol() }

// Size returns the current valid_data_length.
func (c *Cursor) Size() uint64 { return c.size }

// Position returns the current byte offset from the start of the file.
func (c *Cursor) Position() uint64 { return c.cursor }

// Read fills buf with up to len(buf) bytes starting at the cursor,
// streaming sector-by-sector and crossing cluster boundaries via the
// meta-directory's next(). Returns ErrEOF if the cursor is
// already at size.
func (c *Cursor) Read(ctx context.Context, buf []byte) (int, error) {
	if c.cursor == c.size {
		return 0, errors.ErrEOF
	}

	toRead := len(buf)
	remaining := c.size - c.cursor
	if uint64(toRead) > remaining {
		toRead = int(remaining)
	}

	sectorSize := c.meta.SectorSize()
	geometry := c.meta.Geometry()
	total := 0
	for total < toRead {
		idx := c.meta.SectorIndex()
		sectorID := geometry.Resolve(idx)
		within := int(c.cursor % uint64(sectorSize))
		avail := sectorSize - within
		n := toRead - total
		if n > avail {
			n = avail
		}

		var sector []byte
		err := c.vol().WithIO(ctx, func() error {
			s, rerr := c.vol().Cache.Read(sectorID)
			sector = s
			return rerr
		})
		if err != nil {
			return total, err
		}
		copy(buf[total:total+n], sector[within:within+n])
		c.cursor += uint64(n)
		total += n

		if within+n == sectorSize && c.cursor < c.meta.Capacity() {
			if _, err := c.meta.Next(ctx); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Write writes bytes starting at the cursor, allocating a new cluster via
// the meta-directory once the current one is exhausted.
// It writes at most one sector's worth per call; WriteAll loops until
// everything is written.
func (c *Cursor) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.dirty = true

	sectorSize := c.meta.SectorSize()
	geometry := c.meta.Geometry()
	within := int(c.cursor % uint64(sectorSize))
	sectorRemain := sectorSize - within
	capacity := c.meta.Capacity()

	var n int
	if c.cursor < capacity {
		n = len(p)
		if n > sectorRemain {
			n = sectorRemain
		}
		idx := c.meta.SectorIndex()
		sectorID := geometry.Resolve(idx)
		if err := c.vol().WithIO(ctx, func() error {
			return c.vol().Cache.Write(sectorID, within, p[:n])
		}); err != nil {
			return 0, err
		}
		c.cursor += uint64(n)
		if within+n == sectorSize && c.cursor < capacity {
			if _, err := c.meta.Next(ctx); err != nil {
				return n, err
			}
		}
	} else {
		last := c.meta.SectorIndex().Cluster
		if capacity == 0 {
			last = fatwalk.ClusterID(0)
		}
		newCluster, err := c.meta.Allocate(ctx, last, c.dontFragment)
		if err != nil {
			return 0, err
		}
		newIdx := fatwalk.SectorIndex{Cluster: newCluster, SectorInCluster: 0}
		c.meta.SetSectorIndex(newIdx)

		n = len(p)
		if n > sectorSize {
			n = sectorSize
		}
		sectorID := geometry.Resolve(newIdx)
		if err := c.vol().WithIO(ctx, func() error {
			return c.vol().Cache.Write(sectorID, 0, p[:n])
		}); err != nil {
			return 0, err
		}
		c.cursor += uint64(n)
		if n == sectorSize && c.cursor < c.meta.Capacity() {
			if _, err := c.meta.Next(ctx); err != nil {
				return n, err
			}
		}
	}

	if c.cursor > c.size {
		c.size = c.cursor
		c.meta.SetLength(c.size)
	}
	return n, nil
}

// WriteAll loops Write until all of p has been written.
func (c *Cursor) WriteAll(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n, err := c.Write(ctx, p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Seek repositions the cursor to an absolute byte offset.
// Moving forward re-walks sector_index forward by the number of sector
// boundaries crossed; moving backward rewinds to the file's first sector
// and re-walks forward from there, since the FAT chain has no reverse link.
func (c *Cursor) Seek(ctx context.Context, pos int64) error {
	if pos < 0 || uint64(pos) > c.size {
		return errors.ErrSeekPosition
	}
	sectorSize := uint64(c.meta.SectorSize())
	target := uint64(pos)
	// A position equal to a cluster-aligned capacity stays on the last
	// allocated sector rather than one past it.
	sectorOf := func(p uint64) uint64 {
		if p > 0 && p == c.meta.Capacity() {
			p--
		}
		return p / sectorSize
	}

	if target >= c.cursor {
		steps := sectorOf(target) - sectorOf(c.cursor)
		for i := uint64(0); i < steps; i++ {
			if _, err := c.meta.Next(ctx); err != nil {
				return err
			}
		}
	} else {
		c.meta.ResetToFirst()
		steps := sectorOf(target)
		for i := uint64(0); i < steps; i++ {
			if _, err := c.meta.Next(ctx); err != nil {
				return err
			}
		}
	}
	c.cursor = target
	return nil
}

// Truncate shrinks the file to newSize, which must not exceed the current
// size. Clusters beyond the new size are always released rather than left
// as slack capacity.
func (c *Cursor) Truncate(ctx context.Context, newSize uint64) error {
	if newSize > c.size {
		return errors.ErrSize
	}
	c.size = newSize
	c.meta.SetLength(newSize)

	clusterSize := uint64(c.meta.Geometry().SectorsPerCluster) * uint64(c.meta.SectorSize())
	keepClusters := (newSize + clusterSize - 1) / clusterSize
	if err := c.meta.ReleaseTail(ctx, keepClusters); err != nil {
		return err
	}

	if c.cursor > newSize {
		return c.Seek(ctx, int64(newSize))
	}
	return nil
}

// SyncData flushes any buffered write to the device; it does not write
// back the entry set's metadata (see
// SyncAll).
func (c *Cursor) SyncData(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	if err := c.vol().WithIO(ctx, func() error { return c.vol().Cache.Flush() }); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// SyncAll flushes buffered data then syncs the owning metadata back to disk.
func (c *Cursor) SyncAll(ctx context.Context) error {
	if err := c.SyncData(ctx); err != nil {
		return err
	}
	return c.meta.Sync(ctx)
}

// Flush is an alias for SyncAll.
func (c *Cursor) Flush(ctx context.Context) error { return c.SyncAll(ctx) }

// Close flushes the cursor and releases its open-entry slot.
func (c *Cursor) Close(ctx context.Context) error {
	if err := c.SyncAll(ctx); err != nil {
		return err
	}
	return c.meta.Close(ctx)
}

// Touch updates the owning entry's timestamps, exposed here since callers
// reach it through the open file handle.
func (c *Cursor) Touch(now time.Time, updateModified, updateAccessed bool) {
	c.meta.Touch(now, updateModified, updateAccessed)
}
