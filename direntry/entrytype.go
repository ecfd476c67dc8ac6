// Package direntry implements the directory entry-set codec: decoding and
// encoding the 32-byte primary/secondary entries that make up a file's
// metadata, the set checksum, and the upcased-name hash. The
// entry-type bit decomposition and per-type struct layout are grounded in
// dsoprea-go-exfat's navigator_entry_types.go, the pack's only exFAT
// directory-entry decoder; encoding (which dsoprea-go-exfat never implements)
// and the create/delete entry-set algorithms are built directly from it,
// assembled with github.com/noxer/bytewriter the way dargueta-disko
// assembles dirent bytes before a single write call.
package direntry

// EntryType is the raw first byte of a directory entry: bit 7 marks
// in-use, the low 7 bits are the type code.
type EntryType uint8

const (
	TypeEndOfDirectory     EntryType = 0x00
	TypeAllocationBitmap    EntryType = 0x81
	TypeUpcaseTable         EntryType = 0x82
	TypeVolumeLabel         EntryType = 0x83
	TypeFileDirectory       EntryType = 0x85
	TypeFileDirectoryDel    EntryType = 0x05
	TypeVolumeGUID          EntryType = 0xA0
	TypeTexFATPadding       EntryType = 0xA1
	TypeStreamExtension     EntryType = 0xC0
	TypeStreamExtensionDel  EntryType = 0x40
	TypeFilename            EntryType = 0xC1
	TypeFilenameDel         EntryType = 0x41
	TypeVendorExtension     EntryType = 0xE0
	TypeVendorAllocation    EntryType = 0xE1
)

// IsEndOfDirectory reports whether this is the 0x00 sentinel terminating a
// directory.
func (t EntryType) IsEndOfDirectory() bool { return t == TypeEndOfDirectory }

// IsInUse reports bit 7 of the entry type.
func (t EntryType) IsInUse() bool { return t&0x80 != 0 }

// TypeCode returns the low 7 bits, which identify the entry's role
// independent of its in-use state.
func (t EntryType) TypeCode() uint8 { return uint8(t) & 0x7F }

// IsFileDirectory reports whether the low 7 bits match FileDirectory,
// in-use or deleted.
func (t EntryType) IsFileDirectory() bool { return t.TypeCode() == uint8(TypeFileDirectoryDel) }

// IsStreamExtension reports whether the low 7 bits match StreamExtension.
func (t EntryType) IsStreamExtension() bool { return t.TypeCode() == uint8(TypeStreamExtensionDel) }

// IsFilename reports whether the low 7 bits match Filename.
func (t EntryType) IsFilename() bool { return t.TypeCode() == uint8(TypeFilenameDel) }

// Deleted returns t with bit 7 cleared, the "mark deleted" operation
// applied to every entry of a set when the set is removed.
func (t EntryType) Deleted() EntryType { return t &^ 0x80 }

// FileAttributes is the 16-bit attribute field of a FileDirectory entry.
type FileAttributes uint16

const (
	AttrReadOnly  FileAttributes = 1 << 0
	AttrHidden    FileAttributes = 1 << 1
	AttrSystem    FileAttributes = 1 << 2
	AttrDirectory FileAttributes = 1 << 4
	AttrArchive   FileAttributes = 1 << 5
)

func (a FileAttributes) IsReadOnly() bool  { return a&AttrReadOnly != 0 }
func (a FileAttributes) IsHidden() bool    { return a&AttrHidden != 0 }
func (a FileAttributes) IsSystem() bool    { return a&AttrSystem != 0 }
func (a FileAttributes) IsDirectory() bool { return a&AttrDirectory != 0 }
func (a FileAttributes) IsArchive() bool   { return a&AttrArchive != 0 }

// GeneralSecondaryFlags is the StreamExtension flags byte.
type GeneralSecondaryFlags uint8

const (
	flagAllocationPossible GeneralSecondaryFlags = 1 << 0
	flagNoFatChain         GeneralSecondaryFlags = 1 << 1
)

// AllocationPossible reports bit 0: whether the entry may be extended with
// more clusters.
func (f GeneralSecondaryFlags) AllocationPossible() bool {
	return f&flagAllocationPossible != 0
}

// Contiguous reports bit 1 set: the data occupies a contiguous cluster run
// and the FAT is not consulted. This is the "fat_chain == 0" case
// ("fat_chain = 0, bit 1 set, means contiguous").
func (f GeneralSecondaryFlags) Contiguous() bool {
	return f&flagNoFatChain != 0
}

// FatChain reports the fat_chain boolean directly: true means the
// chain must be walked via the FAT (bit 1 clear), false means contiguous.
func (f GeneralSecondaryFlags) FatChain() bool {
	return !f.Contiguous()
}

// WithAllocationPossible returns f with bit 0 set or cleared.
func (f GeneralSecondaryFlags) WithAllocationPossible(v bool) GeneralSecondaryFlags {
	if v {
		return f | flagAllocationPossible
	}
	return f &^ flagAllocationPossible
}

// WithContiguous returns f with bit 1 (fat_chain == 0) set or cleared.
func (f GeneralSecondaryFlags) WithContiguous(v bool) GeneralSecondaryFlags {
	if v {
		return f | flagNoFatChain
	}
	return f &^ flagNoFatChain
}
