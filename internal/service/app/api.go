package app

import (
	"context"
	"fmt"
	"net/url"
	"roomchat/internal/model"
	"strings"

	"github.com/gorilla/websocket"
)

// wsURL maps the relay's http(s) base URL to its websocket endpoint.
func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// initWebsocket dials the relay and answers its nonce challenge.
func (c *App) initWebsocket(ctx context.Context) (*websocket.Conn, error) {
	u, err := wsURL(c.opts.ServerURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}

	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	if ev.Kind != model.EventNonce {
		conn.Close()
		return nil, fmt.Errorf("expected %s event, got %s", model.EventNonce, ev.Kind)
	}
	var nonce string
	if err := ev.Decode(&nonce); err != nil {
		conn.Close()
		return nil, err
	}

	verify, err := model.NewEvent(model.EventVerify, nonce)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(verify); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send verify: %w", err)
	}
	return conn, nil
}
