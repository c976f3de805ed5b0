package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	RoomCodeLen  = 6
	MaxRoomIDLen = 64

	roomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	ErrRoomCodeEmpty   = errors.New("room code empty")
	ErrRoomCodeTooLong = errors.New("room code too long")
	ErrRoomCodeInvalid = errors.New("room code invalid")
)

// RoomCode is the short opaque identifier participants share out of band.
type RoomCode string

type Room struct {
	Code      RoomCode
	CreatedAt time.Time
}

func NewRoom(code RoomCode) *Room {
	return &Room{Code: code, CreatedAt: time.Now()}
}

// NewRoomCode draws RoomCodeLen characters from [a-z0-9] using crypto/rand.
func NewRoomCode() (RoomCode, error) {
	max := big.NewInt(int64(len(roomAlphabet)))
	var b strings.Builder
	b.Grow(RoomCodeLen)
	for range RoomCodeLen {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		b.WriteByte(roomAlphabet[n.Int64()])
	}
	return RoomCode(b.String()), nil
}

// ParseRoomCode normalizes user input. Only codes in the generated alphabet
// are accepted.
func ParseRoomCode(s string) (RoomCode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrRoomCodeEmpty
	}
	if len(s) > MaxRoomIDLen {
		return "", ErrRoomCodeTooLong
	}
	for _, r := range s {
		if !strings.ContainsRune(roomAlphabet, r) {
			return "", fmt.Errorf("%w: %q", ErrRoomCodeInvalid, s)
		}
	}
	return RoomCode(s), nil
}

// Valid reports whether the relay accepts c as a room identifier.
// The relay does not enforce the generated format, any short non-empty id works.
func (c RoomCode) Valid() bool {
	return c != "" && len(c) <= MaxRoomIDLen
}

func (c RoomCode) String() string { return string(c) }
