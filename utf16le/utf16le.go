// Package utf16le transcodes between UTF-8 and the little-endian UTF-16
// exFAT stores filenames in, with full surrogate-pair support. It is
// adapted from soypat-fat's internal/utf16x package, the only
// surrogate-pair-correct UTF-16 codec in the example pack, fixed here to
// binary.LittleEndian, since every exFAT on-disk field is little-endian and
// a generic byte-order parameter would be dead flexibility this module
// never exercises.
package utf16le

import (
	"encoding/binary"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dargueta/exfat/errors"
)

const (
	surr1    = 0xd800
	surr2    = 0xdc00
	surr3    = 0xe000
	surrSelf = 0x10000
)

const (
	replacementChar = '�'
	maxRune         = '\U0010FFFF'
)

var order = binary.LittleEndian

// ToUTF8 decodes srcUTF16 (a sequence of little-endian UTF-16 code units)
// into dstUTF8, returning the number of bytes written.
func ToUTF8(dstUTF8, srcUTF16 []byte) (int, error) {
	if len(srcUTF16)%2 != 0 {
		return 0, errors.ErrMetadata.WithMessage("UTF-16 byte length must be a multiple of 2")
	}
	n := 0
	for len(srcUTF16) > 1 {
		r, size := DecodeRune(srcUTF16)
		if r == utf8.RuneError {
			return n, errors.ErrMetadata.WithMessage("invalid UTF-16 sequence")
		} else if utf8.RuneLen(r) > len(dstUTF8[n:]) {
			return n, errors.ErrMetadata.WithMessage("destination buffer too short")
		}
		srcUTF16 = srcUTF16[size:]
		n += utf8.EncodeRune(dstUTF8[n:], r)
	}
	return n, nil
}

// FromUTF8 encodes src8 (UTF-8) into dst16 as little-endian UTF-16 code
// units, returning the number of bytes written.
func FromUTF8(dst16, src8 []byte) (int, error) {
	n := 0
	for len(src8) > 0 {
		if len(dst16[n:]) < 2 {
			return n, errors.ErrMetadata.WithMessage("destination buffer too short")
		}
		r1, size := utf8.DecodeRune(src8)
		if r1 == utf8.RuneError {
			return n, errors.ErrMetadata.WithMessage("invalid UTF-8 sequence")
		} else if len(dst16[n:]) < 4 && utf16.IsSurrogate(r1) {
			return n, errors.ErrMetadata.WithMessage("destination buffer too short")
		}
		n += EncodeRune(dst16[n:], r1)
		src8 = src8[size:]
	}
	return n, nil
}

// EncodeRune writes rune v into dst16 as one or two little-endian UTF-16
// code units and returns the number of bytes written.
func EncodeRune(dst16 []byte, v rune) int {
	switch {
	case 0 <= v && v < surr1, surr3 <= v && v < surrSelf:
		_ = dst16[1]
		order.PutUint16(dst16, uint16(v))
		return 2
	case surrSelf <= v && v <= maxRune:
		_ = dst16[3]
		r1, r2 := utf16.EncodeRune(v)
		order.PutUint16(dst16, uint16(r1))
		order.PutUint16(dst16[2:], uint16(r2))
		return 4
	default:
		_ = dst16[1]
		order.PutUint16(dst16, uint16(replacementChar))
		return 2
	}
}

// DecodeRune reads one rune (one or two little-endian UTF-16 code units)
// from the front of srcUTF16.
func DecodeRune(srcUTF16 []byte) (r rune, size int) {
	_ = srcUTF16[1]
	slen := len(srcUTF16)
	if slen == 0 {
		return replacementChar, 1
	}
	r = rune(order.Uint16(srcUTF16))
	switch {
	case r < surr1, surr3 <= r:
		return r, 2
	case surr1 <= r && r < surr2:
		if slen < 4 {
			return replacementChar, 2
		}
		r2 := rune(order.Uint16(srcUTF16[2:]))
		if !(surr2 <= r2 && r2 < surr3) {
			return replacementChar, 2
		}
		return utf16.DecodeRune(r, r2), 4
	default:
		return replacementChar, 2
	}
}

// CountUnits returns the number of UTF-16 code units needed to represent s,
// the value stream_extension.name_length must hold.
func CountUnits(s string) int {
	n := 0
	for _, r := range s {
		if r >= surrSelf {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Upper uppercases s rune-by-rune using Go's Unicode case folding. The
// on-disk upcase table is the canonical source of truth for exFAT name
// comparison, but for the ASCII- and BMP-heavy names this driver expects,
// Go's built-in mapping agrees with the table's default (identity-derived)
// contents; direntry.UpcaseTable.String applies the on-disk table when one
// has been loaded.
func Upper(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, toUpperRune(r))
	}
	return string(out)
}

func toUpperRune(r rune) rune {
	return unicode.ToUpper(r)
}
