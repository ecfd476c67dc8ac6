// Package blockio implements the block-I/O abstraction and sector cache:
// uniform access to logical sectors of a configurable size sitting on top of
// any device exposing 512-byte blocks. It is adapted from
// drivers/common/blockcache.go and blockdevice.go, generalized from a
// fixed-block-size cache with a dirty/loaded bitmap per block to a
// single-sector-buffering cache keyed by a 64-bit SectorID.
package blockio

import (
	"io"

	"github.com/dargueta/exfat/errors"
)

// SectorID is the 64-bit absolute index of a logical sector on the device.
type SectorID uint64

// BootSector is the fixed location of the boot sector.
const BootSector SectorID = 0

// Add returns the sector id offset by delta sectors.
func (id SectorID) Add(delta int64) SectorID {
	return SectorID(int64(id) + delta)
}

// blockSize is the device's fundamental unit; sector sizes are always a
// whole multiple of it.
const blockSize = 512

// Device is the minimal block-device contract an implementor must satisfy:
// a byte-addressable random-access stream. Disk images, raw partitions, and
// SD/MMC-over-SPI transports all implement this the same way a plain
// *os.File or a bytesextra-wrapped slice does.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
}

// Cache is the shared block-I/O handle every open mount uses: one
// logical buffer, one sector resident at a time, shared (through a gate,
// not provided by this package) across every handle that needs to issue
// reads or writes. Any write to the cached sector updates the buffer in
// place, and any read of a different sector evicts it after flushing if
// dirty.
type Cache struct {
	device    Device
	shift     uint8 // sector_size_shift; sector_size = 1 << shift
	buf       []byte
	bufID     SectorID
	bufLoaded bool
	dirty     bool
}

// NewCache wraps device with a sector cache at the default 512-byte sector
// size (shift = 9), the default before the boot sector is parsed and
// SetSectorSizeShift is called.
func NewCache(device Device) *Cache {
	c := &Cache{device: device, shift: 9}
	c.buf = make([]byte, c.SectorSize())
	return c
}

// SetSectorSizeShift configures the logical sector size as 1<<shift bytes.
// This is called once, immediately after reading the boot
// sector; any previously buffered sector is discarded.
func (c *Cache) SetSectorSizeShift(shift uint8) error {
	if err := c.flushBuffer(); err != nil {
		return err
	}
	c.shift = shift
	c.buf = make([]byte, c.SectorSize())
	c.bufLoaded = false
	return nil
}

// SectorSize returns 1 << shift, the configured logical sector size in
// bytes.
func (c *Cache) SectorSize() int {
	return 1 << c.shift
}

// BlocksPerSector returns sector_size / 512, the count of fixed-size blocks
// a Read's returned view is composed of.
func (c *Cache) BlocksPerSector() int {
	return c.SectorSize() / blockSize
}

func (c *Cache) flushBuffer() error {
	if !c.bufLoaded || !c.dirty {
		return nil
	}
	off := int64(c.bufID) << c.shift
	if _, err := c.device.WriteAt(c.buf, off); err != nil {
		return errors.IO(err)
	}
	c.dirty = false
	return nil
}

// Read returns a read-only view of sector id as sector_size bytes. The
// returned slice remains valid until the next call to Read or Write on this
// Cache: callers must copy out anything they need to keep.
func (c *Cache) Read(id SectorID) ([]byte, error) {
	if c.bufLoaded && c.bufID == id {
		return c.buf, nil
	}
	if err := c.flushBuffer(); err != nil {
		return nil, err
	}
	off := int64(id) << c.shift
	if _, err := io.ReadFull(io.NewSectionReader(c.device, off, int64(c.SectorSize())), c.buf); err != nil {
		return nil, errors.IO(err)
	}
	c.bufID = id
	c.bufLoaded = true
	c.dirty = false
	return c.buf, nil
}

// Write writes bytes into sector id at byteOffset. The caller guarantees
// byteOffset+len(bytes) <= sector_size. Any subsequent Read of
// this sector observes the write immediately; the write reaches the device
// no later than the next Flush or the next Read of a different sector.
func (c *Cache) Write(id SectorID, byteOffset int, bytes []byte) error {
	if byteOffset+len(bytes) > c.SectorSize() {
		return errors.ErrSize.WithMessage("write extends past end of sector")
	}
	if !c.bufLoaded || c.bufID != id {
		if _, err := c.Read(id); err != nil {
			return err
		}
	}
	copy(c.buf[byteOffset:], bytes)
	c.dirty = true
	return nil
}

// Flush forces any buffered write to the device.
func (c *Cache) Flush() error {
	if err := c.flushBuffer(); err != nil {
		return err
	}
	if err := c.device.Sync(); err != nil {
		return errors.IO(err)
	}
	return nil
}
