// Package testing collects the shared test fixtures used by every package's
// own _test.go files: an in-memory block device and a random-data image
// helper, the way dargueta-disko's own top-level testing package does.
package testing

import (
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// MemDevice is an in-memory stand-in for a block device: a fixed-size byte
// slice wrapped in bytesextra's seekable stream, adapted to ReadAt/WriteAt/
// Sync the way blockio.Device requires. Every call takes the lock, so a
// single MemDevice can stand in for a multi-sector disk accessed
// concurrently by the two mutual-exclusion gates under test.
type MemDevice struct {
	mu  sync.Mutex
	rws io.ReadWriteSeeker
}

// NewMemDevice wraps backingData (not copied) as a block device.
func NewMemDevice(backingData []byte) *MemDevice {
	return &MemDevice{rws: bytesextra.NewReadWriteSeeker(backingData)}
}

// NewRandomImage returns bytesPerSector*totalSectors random bytes, failing
// the test immediately if the random source errors.
func NewRandomImage(t *testing.T, bytesPerSector, totalSectors int) []byte {
	buf := make([]byte, bytesPerSector*totalSectors)
	_, err := rand.Read(buf)
	require.NoErrorf(t, err, "failed to fill %d bytes of random image data", len(buf))
	return buf
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(d.rws, p)
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return d.rws.Write(p)
}

// Sync is a no-op: there is nothing downstream of the in-memory buffer to
// flush to.
func (d *MemDevice) Sync() error { return nil }
