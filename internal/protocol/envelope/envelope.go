// Package envelope encrypts chat text under the session's room key.
//
// An envelope is base64(nonce || ciphertext || tag) with a 12 byte nonce and
// a 16 byte tag. Envelopes are not padded, so their length reveals the
// length of the plaintext.
package envelope

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"roomchat/internal/cryptographic/encryption"
	"unicode/utf8"
)

// ErrAuthentication means the tag did not verify: tampering or a key from
// another room.
var ErrAuthentication = errors.New("envelope: authentication failed")

type (
	// DecodeError reports an envelope that is not well formed.
	DecodeError struct {
		Reason string
		Err    error
	}

	// KeySource hands out the cipher for the active room key. AEAD may
	// create a key for sending; InstalledAEAD must not.
	KeySource interface {
		AEAD(ctx context.Context) (cipher.AEAD, error)
		InstalledAEAD(ctx context.Context) (cipher.AEAD, error)
	}

	Cipher struct {
		keys KeySource
	}
)

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: %s: %v", e.Reason, e.Err)
	}
	return "envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func NewCipher(keys KeySource) *Cipher {
	return &Cipher{keys: keys}
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	aead, err := c.keys.AEAD(ctx)
	if err != nil {
		return "", err
	}
	sealed, err := encryption.Seal(aead, []byte(plaintext), nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. Failures are either a
// *DecodeError or ErrAuthentication, never empty text.
func (c *Cipher) Decrypt(ctx context.Context, env string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		return "", &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(raw) < encryption.Overhead {
		return "", &DecodeError{Reason: fmt.Sprintf("%d bytes is shorter than nonce and tag", len(raw))}
	}

	aead, err := c.keys.InstalledAEAD(ctx)
	if err != nil {
		return "", err
	}
	plain, err := encryption.Open(aead, raw, nil)
	switch {
	case errors.Is(err, encryption.ErrAuthentication):
		return "", ErrAuthentication
	case err != nil:
		return "", &DecodeError{Reason: "open", Err: err}
	}
	if !utf8.Valid(plain) {
		return "", &DecodeError{Reason: "plaintext is not valid UTF-8"}
	}
	return string(plain), nil
}

// IsDropped reports whether err means a single inbound message should be
// discarded rather than the session aborted.
func IsDropped(err error) bool {
	var de *DecodeError
	return errors.Is(err, ErrAuthentication) || errors.As(err, &de)
}
