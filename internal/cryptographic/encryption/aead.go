package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
	// Overhead is the fixed number of bytes Seal adds to a plaintext.
	Overhead = NonceSize + TagSize
)

var (
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrAuthentication     = errors.New("message authentication failed")
)

// NewAESGCM builds an AES-256-GCM AEAD with a 12 byte nonce and 16 byte tag.
func NewAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aes-256-gcm: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Seal returns nonce || ciphertext || tag with a fresh random nonce.
func Seal(aead cipher.AEAD, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. A bad tag is reported as ErrAuthentication.
func Open(aead cipher.AEAD, data, aad []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(data) < ns+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plain, err := aead.Open(nil, data[:ns], data[ns:], aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}

// AEADEncrypt is Seal under a raw 32 byte key.
func AEADEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return Seal(aead, plaintext, aad)
}

func AEADDecrypt(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return Open(aead, nonceAndCiphertext, aad)
}
