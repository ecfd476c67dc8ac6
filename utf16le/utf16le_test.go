package utf16le_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/exfat/utf16le"
)

func TestRoundTripASCII(t *testing.T) {
	src := "hello.txt"
	buf16 := make([]byte, 4*len(src))
	n, err := utf16le.FromUTF8(buf16, []byte(src))
	require.NoError(t, err)

	buf8 := make([]byte, 4*len(src))
	m, err := utf16le.ToUTF8(buf8, buf16[:n])
	require.NoError(t, err)

	assert.Equal(t, src, string(buf8[:m]))
}

func TestRoundTripSurrogatePair(t *testing.T) {
	src := "\U0001F600.txt" // an astral-plane emoji requires a surrogate pair
	buf16 := make([]byte, 4*len(src))
	n, err := utf16le.FromUTF8(buf16, []byte(src))
	require.NoError(t, err)
	assert.Equal(t, 12, n) // 2 units for the emoji + 4 units for ".txt"

	buf8 := make([]byte, 4*len(src))
	m, err := utf16le.ToUTF8(buf8, buf16[:n])
	require.NoError(t, err)
	assert.Equal(t, src, string(buf8[:m]))
}

func TestCountUnitsCountsSurrogatePairsAsTwo(t *testing.T) {
	assert.Equal(t, 9, utf16le.CountUnits("hello.txt"))
	assert.Equal(t, 2, utf16le.CountUnits("\U0001F600"))
}

func TestToUTF8RejectsOddLength(t *testing.T) {
	_, err := utf16le.ToUTF8(make([]byte, 8), []byte{0x41, 0x00, 0x42})
	assert.Error(t, err)
}

func TestUpperASCII(t *testing.T) {
	assert.Equal(t, "HELLO.TXT", utf16le.Upper("hello.txt"))
	assert.Equal(t, "MIXED", utf16le.Upper("MiXeD"))
}
