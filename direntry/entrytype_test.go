package direntry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dargueta/exfat/direntry"
)

func TestEntryTypeInUseAndTypeCode(t *testing.T) {
	assert.True(t, direntry.TypeFileDirectory.IsInUse())
	assert.False(t, direntry.TypeFileDirectoryDel.IsInUse())
	assert.Equal(t, direntry.TypeFileDirectory.TypeCode(), direntry.TypeFileDirectoryDel.TypeCode())
}

func TestEntryTypeDeletedClearsInUseBit(t *testing.T) {
	deleted := direntry.TypeFileDirectory.Deleted()
	assert.False(t, deleted.IsInUse())
	assert.Equal(t, direntry.TypeFileDirectoryDel, deleted)
}

func TestFileAttributesAccessors(t *testing.T) {
	a := direntry.AttrDirectory | direntry.AttrReadOnly
	assert.True(t, a.IsDirectory())
	assert.True(t, a.IsReadOnly())
	assert.False(t, a.IsHidden())
	assert.False(t, a.IsSystem())
	assert.False(t, a.IsArchive())
}

func TestGeneralSecondaryFlagsContiguousAndFatChainAreOpposite(t *testing.T) {
	var f direntry.GeneralSecondaryFlags
	f = f.WithContiguous(true)
	assert.True(t, f.Contiguous())
	assert.False(t, f.FatChain())

	f = f.WithContiguous(false)
	assert.False(t, f.Contiguous())
	assert.True(t, f.FatChain())
}

func TestGeneralSecondaryFlagsAllocationPossible(t *testing.T) {
	var f direntry.GeneralSecondaryFlags
	assert.False(t, f.AllocationPossible())
	f = f.WithAllocationPossible(true)
	assert.True(t, f.AllocationPossible())
	f = f.WithAllocationPossible(false)
	assert.False(t, f.AllocationPossible())
}
