package directory

import (
	"context"

	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/metadir"
)

// Delete removes entry from the directory: it first
// opens the target to enforce the open-entry exclusivity invariant and, for
// a directory, to check it's empty; then clears the in-use bit of every
// entry in the set and releases its cluster chain.
func (d *Directory) Delete(ctx context.Context, entry *Entry) error {
	vol := d.meta.Vol()
	primary := entry.primaryID()

	if err := vol.TryOpen(ctx, primary); err != nil {
		return err
	}
	closeOpen := func() { _ = vol.CloseEntry(ctx, primary) }

	if entry.Set.FileDirectory.FileAttributes.IsDirectory() {
		child := metadir.New(vol, d.meta.Geometry(), d.meta.SectorSize(), entry.Locations, entry.Set, false)
		childDir := New(child, d.upcase, d.dontFragment)
		first, err := childDir.Walk(ctx, func(e *Entry) bool { return e.Set.InUse() })
		if err != nil {
			closeOpen()
			return err
		}
		if first != nil {
			closeOpen()
			return errors.ErrDirectoryNotEmpty
		}
	}

	err := vol.WithIO(ctx, func() error {
		for i, loc := range entry.Locations {
			var raw byte
			switch i {
			case 0:
				raw = byte(direntry.EntryType(entry.Set.FileDirectory.EntryType).Deleted())
			case 1:
				raw = byte(direntry.EntryType(entry.Set.StreamExtension.EntryType).Deleted())
			default:
				raw = byte(direntry.TypeFilenameDel)
			}
			if err := vol.Cache.Write(loc.Sector, loc.Index*direntry.EntrySize, []byte{raw}); err != nil {
				return err
			}
		}
		return vol.Cache.Flush()
	})
	if err != nil {
		closeOpen()
		return err
	}

	if entry.Set.StreamExtension.FirstCluster != 0 {
		release := metadir.New(vol, d.meta.Geometry(), d.meta.SectorSize(), entry.Locations, entry.Set, false)
		if err := release.ReleaseTail(ctx, 0); err != nil {
			closeOpen()
			return err
		}
	}

	if err := vol.WithIO(ctx, func() error { return vol.Cache.Flush() }); err != nil {
		closeOpen()
		return err
	}

	closeOpen()
	return nil
}
