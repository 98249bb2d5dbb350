package linkexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type (
	// Wrapper is the server-side oracle that turns a packed key blob into an
	// opaque token and back.
	Wrapper interface {
		EncryptKey(ctx context.Context, blob string) (string, error)
		DecryptKey(ctx context.Context, token string) (string, error)
	}

	// HTTPWrapper calls /api/encrypt-key and /api/decrypt-key on Base.
	HTTPWrapper struct {
		Base string
		HTTP *http.Client
	}

	// StatusError is a non-200 answer from the wrapping endpoint.
	StatusError struct {
		Path   string
		Status int
	}

	encryptResponse struct {
		Token string `json:"token"`
	}

	decryptResponse struct {
		Key string `json:"key"`
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Path, e.Status, http.StatusText(e.Status))
}

// NewHTTPWrapper returns a wrapper whose calls give up after timeout.
func NewHTTPWrapper(base string, timeout time.Duration) *HTTPWrapper {
	return &HTTPWrapper{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: timeout},
	}
}

func (w *HTTPWrapper) EncryptKey(ctx context.Context, blob string) (string, error) {
	var out encryptResponse
	if err := w.getJSON(ctx, "/api/encrypt-key", url.Values{"key": {blob}}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("/api/encrypt-key: empty token")
	}
	return out.Token, nil
}

func (w *HTTPWrapper) DecryptKey(ctx context.Context, token string) (string, error) {
	var out decryptResponse
	if err := w.getJSON(ctx, "/api/decrypt-key", url.Values{"token": {token}}, &out); err != nil {
		return "", err
	}
	if out.Key == "" {
		return "", fmt.Errorf("/api/decrypt-key: empty key")
	}
	return out.Key, nil
}

func (w *HTTPWrapper) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.Base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	client := w.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: path, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

var _ Wrapper = (*HTTPWrapper)(nil)
