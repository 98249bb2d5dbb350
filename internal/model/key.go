package model

import (
	"encoding/hex"
	"fmt"
)

// RoomKeySize is the length of a room key in bytes.
const RoomKeySize = 32

type (
	// RoomKey is the per-room symmetric secret shared through links.
	RoomKey [RoomKeySize]byte
)

// String returns the lowercase hex form of the key.
func (k RoomKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k RoomKey) IsZero() bool {
	return k == RoomKey{}
}

// ParseRoomKey decodes the hex form produced by String.
func ParseRoomKey(s string) (RoomKey, error) {
	var k RoomKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != RoomKeySize {
		return k, fmt.Errorf("room key: want %d bytes, got %d", RoomKeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}
