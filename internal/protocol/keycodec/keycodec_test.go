package keycodec

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"roomchat/internal/model"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	require := require.New(t)

	for i := 0; i < 64; i++ {
		var k model.RoomKey
		_, err := rand.Read(k[:])
		require.NoError(err)

		blob, err := Pack(k)
		require.NoError(err)
		require.NotContains(blob, "+")
		require.NotContains(blob, "/")

		got, err := Unpack(blob)
		require.NoError(err)
		require.Equal(k, got)
	}

	var zero model.RoomKey
	blob, err := Pack(zero)
	require.NoError(err)
	got, err := Unpack(blob)
	require.NoError(err)
	require.Equal(zero, got)
}

func TestUnpackStandardAlphabet(t *testing.T) {
	require := require.New(t)

	var k model.RoomKey
	for i := range k {
		k[i] = 0xfb
	}
	blob, err := Pack(k)
	require.NoError(err)
	raw, err := base64.URLEncoding.DecodeString(blob)
	require.NoError(err)

	got, err := Unpack(base64.StdEncoding.EncodeToString(raw))
	require.NoError(err)
	require.Equal(k, got)
}

func deflated(t *testing.T, b []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

func TestUnpackRejectsCorruptBlobs(t *testing.T) {
	require := require.New(t)

	var k model.RoomKey
	blob, err := Pack(k)
	require.NoError(err)
	raw, err := base64.URLEncoding.DecodeString(blob)
	require.NoError(err)

	cases := map[string]string{
		"not base64":   "%%%",
		"empty":        "",
		"not deflate":  base64.URLEncoding.EncodeToString([]byte(strings.Repeat("junk", 8))),
		"truncated":    base64.URLEncoding.EncodeToString(raw[:len(raw)/2]),
		"short key":    deflated(t, make([]byte, 16)),
		"long key":     deflated(t, make([]byte, 33)),
		"hex text key": deflated(t, []byte(k.String())),
	}
	for name, in := range cases {
		_, err := Unpack(in)
		var ce *CodecError
		require.True(errors.As(err, &ce), name)
	}
}
