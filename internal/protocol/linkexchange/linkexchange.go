// Package linkexchange turns a room key into a shareable URL and recovers
// the key from such a URL. The key only travels inside a token produced by
// the wrapping endpoint, never in the URL itself.
package linkexchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"roomchat/internal/model"
	"roomchat/internal/protocol/keycodec"
	"strings"
)

var ErrMalformedLink = errors.New("linkexchange: link has no room or token")

type (
	// LinkCreationError is returned when no link could be produced. The chat
	// session itself is unaffected.
	LinkCreationError struct {
		Err error
	}

	// LinkResolutionError is returned when a token did not yield a key. No
	// key has been installed.
	LinkResolutionError struct {
		Err error
	}

	Exchange struct {
		wrapper Wrapper
		origin  string
	}
)

func (e *LinkCreationError) Error() string {
	return "link unavailable: " + e.Err.Error()
}

func (e *LinkCreationError) Unwrap() error {
	return e.Err
}

func (e *LinkResolutionError) Error() string {
	return "cannot resolve shared key: " + e.Err.Error()
}

func (e *LinkResolutionError) Unwrap() error {
	return e.Err
}

// New returns an Exchange that builds links rooted at origin.
func New(wrapper Wrapper, origin string) *Exchange {
	return &Exchange{
		wrapper: wrapper,
		origin:  strings.TrimRight(origin, "/"),
	}
}

// CreateShareableLink packs key, has the endpoint wrap it and returns
// origin/?room=<room>&token=<token>.
func (x *Exchange) CreateShareableLink(ctx context.Context, room string, key model.RoomKey) (string, error) {
	blob, err := keycodec.Pack(key)
	if err != nil {
		return "", &LinkCreationError{Err: err}
	}
	token, err := x.wrapper.EncryptKey(ctx, blob)
	if err != nil {
		return "", &LinkCreationError{Err: err}
	}
	return x.origin + "/?room=" + url.QueryEscape(room) + "&token=" + url.QueryEscape(token), nil
}

// ResolveSharedKey asks the endpoint to unwrap token and unpacks the result.
// Installing the key is up to the caller.
func (x *Exchange) ResolveSharedKey(ctx context.Context, token string) (model.RoomKey, error) {
	if token == "" {
		return model.RoomKey{}, &LinkResolutionError{Err: errors.New("empty token")}
	}
	blob, err := x.wrapper.DecryptKey(ctx, token)
	if err != nil {
		return model.RoomKey{}, &LinkResolutionError{Err: err}
	}
	key, err := keycodec.Unpack(blob)
	if err != nil {
		return model.RoomKey{}, &LinkResolutionError{Err: err}
	}
	return key, nil
}

// ParseShareableLink extracts the room and token query values of a link.
func ParseShareableLink(link string) (room, token string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", fmt.Errorf("linkexchange: %w", err)
	}
	q := u.Query()
	room, token = q.Get("room"), q.Get("token")
	if room == "" || token == "" {
		return "", "", ErrMalformedLink
	}
	return room, token, nil
}
