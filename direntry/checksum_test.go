package direntry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dargueta/exfat/direntry"
	"github.com/dargueta/exfat/utf16le"
)

func TestSetChecksumSkipsOwnField(t *testing.T) {
	entry := make([]byte, direntry.EntrySize)
	entry[2], entry[3] = 0xAB, 0xCD

	without := direntry.SetChecksum(entry)

	entry[2], entry[3] = 0x12, 0x34
	withDifferentChecksumBytes := direntry.SetChecksum(entry)

	assert.Equal(t, without, withDifferentChecksumBytes)
}

func TestSetChecksumChangesWithContent(t *testing.T) {
	a := make([]byte, direntry.EntrySize)
	b := make([]byte, direntry.EntrySize)
	b[10] = 0xFF

	assert.NotEqual(t, direntry.SetChecksum(a), direntry.SetChecksum(b))
}

func TestNameHashIsCaseInsensitiveViaUpper(t *testing.T) {
	lower := direntry.NameHash(utf16le.Upper("readme.txt"))
	upper := direntry.NameHash(utf16le.Upper("README.TXT"))
	assert.Equal(t, lower, upper)
}

func TestNameHashDiffersForDifferentNames(t *testing.T) {
	assert.NotEqual(t, direntry.NameHash("A.TXT"), direntry.NameHash("B.TXT"))
}
