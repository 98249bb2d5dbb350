// Package keycodec shrinks and obfuscates a room key for transport to the
// link wrapping endpoint. It is a format, not a security boundary.
package keycodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"roomchat/internal/model"

	"github.com/klauspost/compress/zlib"
)

type (
	// CodecError reports a blob that does not unpack to a room key.
	CodecError struct {
		Op  string
		Err error
	}
)

func (e *CodecError) Error() string {
	return fmt.Sprintf("keycodec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Pack deflates the key (zlib framing) and encodes it as URL-safe base64.
func Pack(k model.RoomKey) (string, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", &CodecError{Op: "deflate", Err: err}
	}
	if _, err := zw.Write(k[:]); err != nil {
		return "", &CodecError{Op: "deflate", Err: err}
	}
	if err := zw.Close(); err != nil {
		return "", &CodecError{Op: "deflate", Err: err}
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// Unpack reverses Pack. Standard base64 is accepted as well. The result
// must be exactly one room key long.
func Unpack(blob string) (model.RoomKey, error) {
	var k model.RoomKey

	compressed, err := decodeBase64(blob)
	if err != nil {
		return k, &CodecError{Op: "base64", Err: err}
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return k, &CodecError{Op: "inflate", Err: err}
	}
	defer zr.Close()

	// one byte past a key is enough to reject oversized input
	raw, err := io.ReadAll(io.LimitReader(zr, model.RoomKeySize+1))
	if err != nil {
		return k, &CodecError{Op: "inflate", Err: err}
	}
	if len(raw) != model.RoomKeySize {
		return k, &CodecError{Op: "length", Err: fmt.Errorf("want %d bytes, got %d", model.RoomKeySize, len(raw))}
	}
	copy(k[:], raw)
	return k, nil
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, stdErr := base64.StdEncoding.DecodeString(s); stdErr == nil {
		return b, nil
	}
	return nil, err
}
