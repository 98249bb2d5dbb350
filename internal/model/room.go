package model

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

// RoomSuffixLen is the number of hex digits appended by NewRoomIdentifier.
const RoomSuffixLen = 4

var ErrEmptyRoomName = errors.New("room name cannot be empty")

// NewRoomIdentifier appends a random "-xxxx" suffix to base so unrelated
// parties picking the same name land in different rooms.
func NewRoomIdentifier(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", ErrEmptyRoomName
	}
	var b [RoomSuffixLen / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base + "-" + hex.EncodeToString(b[:]), nil
}

// HasRoomSuffix reports whether room already ends in a "-xxxx" suffix.
func HasRoomSuffix(room string) bool {
	i := strings.LastIndexByte(room, '-')
	if i <= 0 || len(room)-i-1 != RoomSuffixLen {
		return false
	}
	_, err := hex.DecodeString(room[i+1:])
	return err == nil
}
