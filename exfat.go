// Package exfat mounts an exFAT volume over any block device satisfying
// blockio.Device and exposes its root directory, following the mount
// sequence below. This is the module's small root package, a thin public
// surface over the tree of implementation packages, the way
// github.com/dargueta/disko's own root package is a thin surface over its
// drivers/ and file_systems/ trees.
package exfat

import (
	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/exfat/bitmap"
	"github.com/dargueta/exfat/blockio"
	"github.com/dargueta/exfat/bootsector"
	"github.com/dargueta/exfat/directory"
	"github.com/dargueta/exfat/fatwalk"
	"github.com/dargueta/exfat/root"
)

// MountOptions is the mount-time configuration surface, a plain struct
// passed by value the way disko.MountFlags is.
type MountOptions struct {
	// Blocking selects the gate flavor: true for the synchronous build
	// (a plain sync.Mutex), false for the cooperative one (an async-aware
	// channel gate).
	Blocking bool
	// DontFragment makes every allocation that would otherwise fragment a
	// file fail with errors.ErrFragment instead of falling back to a
	// non-contiguous cluster.
	DontFragment bool
}

// DefaultMountOptions returns the blocking, fragmentation-tolerant default.
func DefaultMountOptions() MountOptions {
	return MountOptions{Blocking: true, DontFragment: false}
}

// ExFAT is a mounted volume: the cached block I/O handle, the parsed boot
// sector, the FAT walker, and the bootstrapped root directory.
type ExFAT struct {
	cache      *blockio.Cache
	bootSector *bootsector.BootSector
	fat        *fatwalk.Walker
	geometry   fatwalk.Geometry
	root       *root.Root
	opts       MountOptions
}

// New mounts device as an exFAT volume:
//  1. read sector 0;
//  2. verify the jump-boot bytes and filesystem name;
//  3. reject number_of_fats > 1 (TexFAT);
//  4. configure the I/O sector size;
//  5. cache fat_info/fs_info/root_cluster/serial_number and bootstrap the
//     root directory (allocation bitmap, upcase table, volume label).
func New(device blockio.Device, opts MountOptions) (*ExFAT, error) {
	cache := blockio.NewCache(device)

	bs, err := bootsector.Read(cache)
	if err != nil {
		return nil, err
	}
	if err := cache.SetSectorSizeShift(bs.SectorSizeShift); err != nil {
		return nil, err
	}

	fatWalker := fatwalk.New(cache, bs.FatOffsetSector, bs.FatLengthSectors)
	geometry := fatwalk.Geometry{
		HeapOffsetSector:  bs.HeapOffsetSector,
		SectorsPerCluster: uint32(bs.SectorsPerCluster),
	}

	rootDir, err := root.New(cache, bs, fatWalker, geometry, opts.Blocking, opts.DontFragment)
	if err != nil {
		return nil, err
	}

	return &ExFAT{
		cache:      cache,
		bootSector: bs,
		fat:        fatWalker,
		geometry:   geometry,
		root:       rootDir,
		opts:       opts,
	}, nil
}

// Root returns the root directory's Directory handle, the entry point for
// Walk/Find/Create/Delete/Open.
func (e *ExFAT) Root() *directory.Directory { return e.root.Directory() }

// VolumeLabel returns the root directory's optional volume label.
func (e *ExFAT) VolumeLabel() (string, bool) { return e.root.VolumeLabel() }

// SerialNumber returns the volume's serial number from the boot sector.
func (e *ExFAT) SerialNumber() uint32 { return e.bootSector.SerialNumber }

// ValidateChecksum recomputes and compares the 11-sector boot-region
// checksum.
func (e *ExFAT) ValidateChecksum() error {
	return bootsector.ValidateChecksum(e.cache)
}

// Validate runs every independent on-disk consistency check this module
// knows about (the boot-region checksum and the upcase-table checksum) and
// aggregates any failures with go-multierror rather than stopping at the
// first one.
func (e *ExFAT) Validate() error {
	var result *multierror.Error
	if err := e.ValidateChecksum(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.root.ValidateUpcaseTableChecksum(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// IsDirty reports volume_flags bit 1.
func (e *ExFAT) IsDirty() bool { return e.bootSector.IsDirty() }

// SetDirty writes volume_flags bit 1.
func (e *ExFAT) SetDirty(dirty bool) error {
	return e.bootSector.SetDirty(e.cache, dirty)
}

// Flush forces any buffered sector writes to the device.
func (e *ExFAT) Flush() error { return e.cache.Flush() }

// NumInUseClusters and PercentInUse expose the allocation bitmap's
// reconciled usage counters, useful for
// these for reporting and test assertions, and for callers building
// their own `df`-style reporting on top of this core.
func (e *ExFAT) NumInUseClusters() uint32 { return e.bitmap().NumInUse() }
func (e *ExFAT) PercentInUse() uint8      { return e.bitmap().PercentInUse() }

func (e *ExFAT) bitmap() *bitmap.Bitmap {
	// The bitmap lives on the shared Context owned by the root's Directory;
	// exposed here as a read-only accessor rather than threading it through
	// every layer, since only diagnostics need it at this level.
	return e.root.Bitmap()
}
