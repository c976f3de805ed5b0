package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[RoomCode]struct{})
	for range 200 {
		code, err := NewRoomCode()
		require.NoError(t, err)
		require.Len(t, string(code), RoomCodeLen)
		for _, r := range string(code) {
			assert.True(t, strings.ContainsRune(roomAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = struct{}{}
	}
	// 36^6 codes; 200 draws should essentially never collide.
	assert.Greater(t, len(seen), 195)
}

func TestParseRoomCode(t *testing.T) {
	code, err := ParseRoomCode("  AB12cd ")
	require.NoError(t, err)
	assert.Equal(t, RoomCode("ab12cd"), code)

	_, err = ParseRoomCode("")
	assert.ErrorIs(t, err, ErrRoomCodeEmpty)

	_, err = ParseRoomCode("ab-12")
	assert.ErrorIs(t, err, ErrRoomCodeInvalid)

	_, err = ParseRoomCode(strings.Repeat("a", MaxRoomIDLen+1))
	assert.ErrorIs(t, err, ErrRoomCodeTooLong)
}

func TestRoomCodeValid(t *testing.T) {
	assert.True(t, RoomCode("Room-1").Valid())
	assert.False(t, RoomCode("").Valid())
	assert.False(t, RoomCode(strings.Repeat("x", MaxRoomIDLen+1)).Valid())
}
