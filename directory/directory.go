package directory

import (
	"context"

	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/file"
	"github.com/dargueta/exfat/metadir"
	"github.com/dargueta/exfat/utf16le"
	"github.com/dargueta/exfat/volctx"
)

// Entry is one decoded directory entry set plus the physical location of
// every entry it occupies, in logical order (primary first). Locations is
// what a subsequent Open needs to build the entry's own MetaFileDirectory
// and what Delete needs to clear each entry's in-use bit.
type Entry struct {
	Set       *direntry.Set
	Locations []volctx.EntryID
}

func (e *Entry) primaryID() volctx.EntryID { return e.Locations[0] }

// FileOrDirectory is the result of Open: exactly one of File or Directory
// is set, chosen by the opened entry's Directory attribute bit.
type FileOrDirectory struct {
	File      *file.Cursor
	Directory *Directory
}

// Directory is an open handle on one directory's content: the FileDirectory
// entry set it itself lives in (via meta), plus the upcase table shared by
// every handle under the same mount for case-insensitive name comparison.
type Directory struct {
	meta         *metadir.MetaFileDirectory
	upcase       *direntry.UpcaseTable
	dontFragment bool
}

// New wraps an already-open meta-directory as a Directory handle.
func New(meta *metadir.MetaFileDirectory, upcase *direntry.UpcaseTable, dontFragment bool) *Directory {
	return &Directory{meta: meta, upcase: upcase, dontFragment: dontFragment}
}

// Vol returns the shared volume context this directory was opened under.
func (d *Directory) Vol() *volctx.Context { return d.meta.Vol() }

// Walk decodes every entry set in the directory in order, including deleted
// ones, calling visit on each; it stops and returns the entry visit accepted
// (by returning true), or stops at the end-of-directory sentinel having
// visited everything and returns (nil, nil) if nothing matched. Callers that
// only want live entries filter on Entry.Set.InUse() in their own visit, the
// way Find does.
func (d *Directory) Walk(ctx context.Context, visit func(*Entry) bool) (*Entry, error) {
	d.meta.ResetToFirst()
	it, err := newEntryIter(ctx, d.meta)
	if err != nil {
		return nil, err
	}

	for {
		primary, id, eod, err := it.next(ctx)
		if err != nil {
			return nil, err
		}
		if eod {
			return nil, nil
		}

		et := direntry.EntryType(primary[0])
		if !et.IsFileDirectory() {
			continue
		}

		secondaryCount := int(primary[1])
		all := make([]byte, 0, (secondaryCount+1)*direntry.EntrySize)
		all = append(all, primary...)
		locations := []volctx.EntryID{id}
		for i := 0; i < secondaryCount; i++ {
			entry, eid, eod2, err := it.next(ctx)
			if err != nil {
				return nil, err
			}
			if eod2 {
				return nil, errors.ErrMetadata.WithMessage("entry set truncated by end-of-directory")
			}
			all = append(all, entry...)
			locations = append(locations, eid)
		}

		set, err := direntry.DecodeSet(all)
		if err != nil {
			return nil, err
		}

		entry := &Entry{Set: set, Locations: locations}
		if visit(entry) {
			return entry, nil
		}
	}
}

// Find looks up name case-insensitively: it pre-filters on name length and
// hash, then verifies with the upcase table.
func (d *Directory) Find(ctx context.Context, name string) (*Entry, error) {
	upperName := d.upcase.String(name)
	nameLen := utf16le.CountUnits(name)
	wantHash := direntry.NameHash(upperName)

	return d.Walk(ctx, func(e *Entry) bool {
		if !e.Set.InUse() {
			return false
		}
		if int(e.Set.StreamExtension.NameLength) != nameLen {
			return false
		}
		if e.Set.StreamExtension.NameHash != wantHash {
			return false
		}
		return d.upcase.String(e.Set.Name) == upperName
	})
}

// Open builds a handle over entry, enforcing the at-most-one-open-handle
// invariant, and returns a File or a Directory depending on the entry's
// Directory attribute bit.
func (d *Directory) Open(ctx context.Context, entry *Entry) (*FileOrDirectory, error) {
	if err := d.meta.Vol().TryOpen(ctx, entry.primaryID()); err != nil {
		return nil, err
	}

	meta := metadir.New(d.meta.Vol(), d.meta.Geometry(), d.meta.SectorSize(), entry.Locations, entry.Set, false)

	if entry.Set.FileDirectory.FileAttributes.IsDirectory() {
		return &FileOrDirectory{Directory: New(meta, d.upcase, d.dontFragment)}, nil
	}
	return &FileOrDirectory{File: file.New(meta, d.dontFragment)}, nil
}

// Close syncs any dirty metadata for the directory's own entry set back to
// disk and releases its open-entry slot.
func (d *Directory) Close(ctx context.Context) error {
	if err := d.meta.Sync(ctx); err != nil {
		return err
	}
	return d.meta.Close(ctx)
}
