package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF fills buffer with HKDF-SHA256 output for the given secret, salt and info.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveKey returns a 32 byte key bound to info.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := HKDF(secret, nil, []byte(info), key); err != nil {
		return nil, err
	}
	return key, nil
}
