package direntry

import "github.com/dargueta/exfat/utf16le"

// checksum16 implements the 16-bit recurrence used for both the set
// checksum and the upcased-name hash:
//
//	sum = (sum & 1 ? 0x8000 : 0) + (sum >> 1) + byte
func checksum16(sum uint16, b byte) uint16 {
	bit := uint16(0)
	if sum&1 != 0 {
		bit = 0x8000
	}
	return bit + (sum >> 1) + uint16(b)
}

// SetChecksum computes the 16-bit set checksum over every byte of every
// entry in entrySetBytes (which must be secondaryCount+1 concatenated
// 32-byte entries, primary first), skipping bytes 2 and 3 of the primary
// entry, the checksum field itself.
func SetChecksum(entrySetBytes []byte) uint16 {
	var sum uint16
	for i, b := range entrySetBytes {
		if i == 2 || i == 3 {
			continue
		}
		sum = checksum16(sum, b)
	}
	return sum
}

// NameHash computes the 16-bit name hash over the UTF-16LE encoding of the
// uppercased name, splitting each encoded rune's 16-bit units into high and
// low halves (each BMP code unit therefore
// contributes its low byte then its high byte; surrogate pairs contribute
// four bytes total).
func NameHash(upperName string) uint16 {
	buf := make([]byte, utf16le.CountUnits(upperName)*2)
	n, _ := utf16le.FromUTF8(buf, []byte(upperName))
	var sum uint16
	for _, b := range buf[:n] {
		sum = checksum16(sum, b)
	}
	return sum
}
