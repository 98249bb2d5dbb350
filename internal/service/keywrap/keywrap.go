// Package keywrap is the link wrapping endpoint. It seals packed room key
// blobs under a master key only the server holds, so a shared URL carries
// an opaque token instead of the key.
package keywrap

import (
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"roomchat/internal/cryptographic/encryption"
	"roomchat/internal/cryptographic/kdf"
	"roomchat/internal/utils/log"

	"go.uber.org/zap"
)

const masterKeyInfo = "roomchat link wrap"

var (
	ErrEmptySecret  = errors.New("keywrap: server secret is empty")
	ErrInvalidToken = errors.New("keywrap: invalid token")
)

type (
	Wrapper struct {
		aead cipher.AEAD
	}
)

// New derives the master key from secret with HKDF-SHA256.
func New(secret string) (*Wrapper, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key, err := kdf.DeriveKey([]byte(secret), masterKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("keywrap: derive master key: %w", err)
	}
	aead, err := encryption.NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return &Wrapper{aead: aead}, nil
}

// Wrap returns base64url(nonce || AES-256-GCM(master, blob)).
func (w *Wrapper) Wrap(blob string) (string, error) {
	sealed, err := encryption.Seal(w.aead, []byte(blob), nil)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (w *Wrapper) Unwrap(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	plain, err := encryption.Open(w.aead, raw, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return string(plain), nil
}

// HandleEncryptKey serves GET /api/encrypt-key?key=<blob>.
func (w *Wrapper) HandleEncryptKey() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		blob := r.URL.Query().Get("key")
		if blob == "" {
			http.Error(rw, "key cannot be empty", http.StatusBadRequest)
			return
		}

		token, err := w.Wrap(blob)
		if err != nil {
			log.Error("wrap room key failed", zap.Error(err))
			http.Error(rw, "wrap room key failed", http.StatusInternalServerError)
			return
		}
		writeJSON(rw, map[string]string{"token": token})
	}
}

// HandleDecryptKey serves GET /api/decrypt-key?token=<token>.
func (w *Wrapper) HandleDecryptKey() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(rw, "token cannot be empty", http.StatusBadRequest)
			return
		}

		blob, err := w.Unwrap(token)
		if err != nil {
			log.Debug("unwrap room key failed", zap.Error(err))
			http.Error(rw, "invalid token", http.StatusBadRequest)
			return
		}
		writeJSON(rw, map[string]string{"key": blob})
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal response failed", zap.Error(err))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	rw.Write(data)
}
