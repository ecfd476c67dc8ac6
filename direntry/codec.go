package direntry

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
	"github.com/noxer/bytewriter"

	"github.com/dargueta/exfat/errors"
	"github.com/dargueta/exfat/utf16le"
)

// Set is the decoded runtime representation of one directory entry set
//: a FileDirectory primary, its mandatory
// StreamExtension, and the reconstructed UTF-8 name.
type Set struct {
	FileDirectory   RawFileDirectory
	StreamExtension RawStreamExtension
	Name            string

	// NumEntries is secondaryCount+1, the total entries the set occupies.
	NumEntries int
}

// InUse reports whether the primary entry's in-use bit is set.
func (s *Set) InUse() bool { return s.FileDirectory.EntryType.IsInUse() }

// DecodeSet decodes one entry set from entries, a slice of concatenated
// 32-byte directory entries beginning at the primary FileDirectory entry.
// entries must contain at least secondary_count+1 entries' worth of bytes;
// callers (the directory walker) are responsible for supplying entries
// across cluster/sector boundaries via the meta-directory's next().
func DecodeSet(entries []byte) (*Set, error) {
	if len(entries) < EntrySize {
		return nil, errors.ErrMetadata.WithMessage("truncated entry set")
	}

	var fd RawFileDirectory
	if err := restruct.Unpack(entries[:EntrySize], binary.LittleEndian, &fd); err != nil {
		return nil, errors.ErrMetadata.WrapError(err)
	}

	if fd.SecondaryCount < 2 {
		return nil, errors.ErrMetadata.WithMessage("secondary_count < 2")
	}
	total := int(fd.SecondaryCount) + 1
	if len(entries) < total*EntrySize {
		return nil, errors.ErrMetadata.WithMessage("entry set crosses unavailable region")
	}

	var se RawStreamExtension
	if err := restruct.Unpack(entries[EntrySize:2*EntrySize], binary.LittleEndian, &se); err != nil {
		return nil, errors.ErrMetadata.WrapError(err)
	}

	numFilenameEntries := (int(se.NameLength)*2 + 29) / 30 // ceil(name_length*2/30)
	if numFilenameEntries > int(fd.SecondaryCount)-1 {
		return nil, errors.ErrMetadata.WithMessage("not enough filename entries for name_length")
	}

	nameUnits := make([]byte, 0, numFilenameEntries*30)
	for i := 0; i < numFilenameEntries; i++ {
		start := (2 + i) * EntrySize
		var fn RawFilename
		if err := restruct.Unpack(entries[start:start+EntrySize], binary.LittleEndian, &fn); err != nil {
			return nil, errors.ErrMetadata.WrapError(err)
		}
		for _, unit := range fn.Name {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], unit)
			nameUnits = append(nameUnits, b[:]...)
		}
	}
	nameUnits = nameUnits[:int(se.NameLength)*2]

	nameBuf := make([]byte, len(nameUnits)*2)
	n, err := utf16le.ToUTF8(nameBuf, nameUnits)
	if err != nil {
		return nil, errors.ErrMetadata.WrapError(err)
	}

	return &Set{
		FileDirectory:   fd,
		StreamExtension: se,
		Name:            string(nameBuf[:n]),
		NumEntries:      total,
	}, nil
}

// EncodeSet builds the on-disk bytes for a new entry set representing
// name, with a fresh StreamExtension and FileDirectory whose SetChecksum is
// computed ("Set-checksum must be computed before the first
// write"). The returned slice is always a multiple of EntrySize.
func EncodeSet(fd RawFileDirectory, se RawStreamExtension, name string) ([]byte, error) {
	nameUnits16 := utf16le.CountUnits(name)
	if nameUnits16 > 255 {
		return nil, errors.ErrNameTooLong
	}
	numFilenameEntries := (nameUnits16*2 + 29) / 30
	if numFilenameEntries < 1 {
		numFilenameEntries = 1
	}

	fd.SecondaryCount = uint8(1 + numFilenameEntries)
	se.NameLength = uint8(nameUnits16)
	se.NameHash = NameHash(utf16le.Upper(name))

	total := int(fd.SecondaryCount) + 1
	out := make([]byte, total*EntrySize)
	buf := bytewriter.New(out)

	fdBytes, err := restruct.Pack(binary.LittleEndian, &fd)
	if err != nil {
		return nil, errors.ErrMetadata.WrapError(err)
	}
	buf.Write(fdBytes)

	seBytes, err := restruct.Pack(binary.LittleEndian, &se)
	if err != nil {
		return nil, errors.ErrMetadata.WrapError(err)
	}
	buf.Write(seBytes)

	nameUTF16 := make([]byte, nameUnits16*2)
	if _, err := utf16le.FromUTF8(nameUTF16, []byte(name)); err != nil {
		return nil, errors.ErrMetadata.WrapError(err)
	}

	for i := 0; i < numFilenameEntries; i++ {
		fn := RawFilename{EntryType: TypeFilename}
		for j := 0; j < 15; j++ {
			srcIdx := (i*15 + j) * 2
			if srcIdx+1 < len(nameUTF16) {
				fn.Name[j] = binary.LittleEndian.Uint16(nameUTF16[srcIdx:])
			}
		}
		fnBytes, err := restruct.Pack(binary.LittleEndian, &fn)
		if err != nil {
			return nil, errors.ErrMetadata.WrapError(err)
		}
		buf.Write(fnBytes)
	}

	// bytewriter wrote sequentially in place into out; nothing further to flush.
	checksum := SetChecksum(out)
	binary.LittleEndian.PutUint16(out[2:4], checksum)
	return out, nil
}
