// Package timestamp codecs exFAT's packed 32-bit directory timestamps, the
// 10ms-increment byte, and the UTC-offset byte. The accessor
// style, a small value type wrapping the raw field with Get/Set-shaped
// methods, follows soypat-fat's sectors.go datetime struct, the pack's
// only existing packed-timestamp codec; the bit layout itself is exFAT's
// own (wider year/day fields than FAT's, a 2-second granularity, plus the
// two auxiliary bytes FAT doesn't have), so the field widths are rederived
// from the packed-timestamp layout below rather than copied from
// soypat's FAT-specific shifts.
package timestamp

import "time"

// Packed is the raw 32-bit exFAT timestamp: YYYYYYYMMMMDDDDDHHHHHMMMMMMSSSSS.
type Packed uint32

// Pack fields into the on-disk layout.
const (
	secondsShift = 0
	secondsBits  = 5
	minutesShift = 5
	minutesBits  = 6
	hoursShift   = 11
	hoursBits    = 5
	daysShift    = 16
	daysBits     = 5
	monthsShift  = 21
	monthsBits   = 4
	yearsShift   = 25
	yearsBits    = 7

	yearEpoch = 1980
)

func field(v Packed, shift, bits uint) uint32 {
	return uint32(v>>shift) & ((1 << bits) - 1)
}

// Year returns the calendar year (already offset from 1980).
func (p Packed) Year() int { return int(field(p, yearsShift, yearsBits)) + yearEpoch }

// Month returns the 1-12 month.
func (p Packed) Month() int { return int(field(p, monthsShift, monthsBits)) }

// Day returns the 1-31 day of month.
func (p Packed) Day() int { return int(field(p, daysShift, daysBits)) }

// Hour returns the 0-23 hour.
func (p Packed) Hour() int { return int(field(p, hoursShift, hoursBits)) }

// Minute returns the 0-59 minute.
func (p Packed) Minute() int { return int(field(p, minutesShift, minutesBits)) }

// Second returns the second component in 2-second units; multiply by 2 to
// get actual seconds.
func (p Packed) Second() int { return int(field(p, secondsShift, secondsBits)) * 2 }

// Pack builds a Packed timestamp from a civil date/time. Seconds are
// truncated to the nearest 2-second unit; callers that need sub-2-second
// precision should also store the 10ms increment via Increment10ms.
func Pack(t time.Time) Packed {
	year := uint32(t.Year() - yearEpoch)
	var p Packed
	p |= Packed(year&((1<<yearsBits)-1)) << yearsShift
	p |= Packed(uint32(t.Month())&((1<<monthsBits)-1)) << monthsShift
	p |= Packed(uint32(t.Day())&((1<<daysBits)-1)) << daysShift
	p |= Packed(uint32(t.Hour())&((1<<hoursBits)-1)) << hoursShift
	p |= Packed(uint32(t.Minute())&((1<<minutesBits)-1)) << minutesShift
	p |= Packed((uint32(t.Second())/2)&((1<<secondsBits)-1)) << secondsShift
	return p
}

// Increment10ms returns the 10ms-granularity remainder of t's second
// component (0..199), stored alongside Packed in the on-disk entry to
// recover sub-2-second precision on creation timestamps.
func Increment10ms(t time.Time) uint8 {
	return uint8((t.Second()%2)*100 + t.Nanosecond()/10_000_000)
}

// UTCOffset is the 8-bit field: bit 7 = valid, bits 6..0 = signed 15-minute
// units from UTC.
type UTCOffset uint8

// EncodeUTCOffset packs a signed offset (in 15-minute units, range -64..63)
// with the valid bit set.
func EncodeUTCOffset(units15min int8) UTCOffset {
	return UTCOffset(0x80 | (uint8(units15min) & 0x7F))
}

// Valid reports whether the offset byte carries a meaningful value.
func (o UTCOffset) Valid() bool { return o&0x80 != 0 }

// Duration returns the signed offset from UTC as a time.Duration. Callers
// must check Valid first; an invalid offset decodes to zero.
func (o UTCOffset) Duration() time.Duration {
	if !o.Valid() {
		return 0
	}
	raw := int8(o << 1) >> 1 // sign-extend the low 7 bits
	return time.Duration(raw) * 15 * time.Minute
}

// Time reconstructs a time.Time from the packed fields, the 10ms increment,
// and the UTC offset, the inverse of Pack/Increment10ms/EncodeUTCOffset.
func Time(p Packed, increment10ms uint8, offset UTCOffset) time.Time {
	loc := time.UTC
	seconds := p.Second() + int(increment10ms)/100
	nanos := (int(increment10ms) % 100) * 10_000_000
	t := time.Date(p.Year(), time.Month(p.Month()), p.Day(), p.Hour(), p.Minute(), seconds, nanos, loc)
	if offset.Valid() {
		t = t.Add(-offset.Duration())
	}
	return t
}
