// Package volctx implements the shared mount-wide Context: the allocation
// bitmap and the open-entry set, plus the two mutual-exclusion gates that
// protect them and the block I/O handle. It is the Go rendition of the
// original Rust source's context.rs: a single struct that the root
// directory and every handle derived from it hold a shared reference to.
package volctx

import (
	"context"

	"github.com/dargueta/exfat/bitmap"
	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/fatwalk"
)

// EntryID identifies one on-disk directory entry set by the sector and
// within-sector index of its primary FileDirectory entry.
type EntryID struct {
	Sector blockio.SectorID
	Index  int
}

// openEntrySet is the set of EntryIDs that currently have a live handle.
type openEntrySet struct {
	open map[EntryID]struct{}
}

func newOpenEntrySet() *openEntrySet {
	return &openEntrySet{open: make(map[EntryID]struct{})}
}

func (s *openEntrySet) tryInsert(id EntryID) bool {
	if _, present := s.open[id]; present {
		return false
	}
	s.open[id] = struct{}{}
	return true
}

func (s *openEntrySet) remove(id EntryID) {
	delete(s.open, id)
}

// Context bundles the two shared resources every open handle needs: the
// block I/O handle and the (bitmap, open-entry set) pair, each behind its
// own gate. Callers acquire gates in the fixed order context -> io via
// WithContext/WithIO/WithBoth; every other field on a handle is exclusively
// owned and needs no locking.
type Context struct {
	Cache  *blockio.Cache
	Bitmap *bitmap.Bitmap
	Fat    *fatwalk.Walker

	ioGate  blockio.Gate
	ctxGate blockio.Gate
	open    *openEntrySet
}

// New builds a Context. blocking selects the gate flavor: true for the
// synchronous build, false for the cooperative one.
func New(cache *blockio.Cache, bm *bitmap.Bitmap, fat *fatwalk.Walker, blocking bool) *Context {
	newGate := blockio.NewCooperativeGate
	if blocking {
		newGate = blockio.NewBlockingGate
	}
	return &Context{
		Cache:   cache,
		Bitmap:  bm,
		Fat:     fat,
		ioGate:  newGate(),
		ctxGate: newGate(),
		open:    newOpenEntrySet(),
	}
}

// WithIO runs fn while holding only the I/O gate.
func (c *Context) WithIO(ctx context.Context, fn func() error) error {
	if err := c.ioGate.Lock(ctx); err != nil {
		return err
	}
	defer c.ioGate.Unlock()
	return fn()
}

// WithContext runs fn while holding only the context gate (bitmap +
// open-entry set).
func (c *Context) WithContext(ctx context.Context, fn func() error) error {
	if err := c.ctxGate.Lock(ctx); err != nil {
		return err
	}
	defer c.ctxGate.Unlock()
	return fn()
}

// WithBoth acquires the context gate then the I/O gate, in that fixed
// order, runs fn, and releases both. Use this for operations (like
// allocate, which touches the bitmap and then writes the FAT/bitmap
// sectors) that need both resources for one logical step.
func (c *Context) WithBoth(ctx context.Context, fn func() error) error {
	return c.WithContext(ctx, func() error {
		return c.WithIO(ctx, fn)
	})
}

// TryOpen atomically checks-and-inserts id into the open-entry set,
// failing with ErrAlreadyOpen if a live handle already exists for this
// entry.
func (c *Context) TryOpen(ctx context.Context, id EntryID) error {
	return c.WithContext(ctx, func() error {
		if !c.open.tryInsert(id) {
			return errors.ErrAlreadyOpen
		}
		return nil
	})
}

// CloseEntry removes id from the open-entry set.
func (c *Context) CloseEntry(ctx context.Context, id EntryID) error {
	return c.WithContext(ctx, func() error {
		c.open.remove(id)
		return nil
	})
}
