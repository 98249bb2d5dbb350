package model

import (
	"encoding/json"
	"fmt"
)

// EventKind names a frame on the realtime channel.
type EventKind string

const (
	// handshake
	EventNonce  EventKind = "nonce"
	EventVerify EventKind = "verify"

	// client -> server
	EventJoin       EventKind = "join"
	EventLeave      EventKind = "leave"
	EventMessage    EventKind = "message"
	EventTyping     EventKind = "typing"
	EventStopTyping EventKind = "stop_typing"

	// server -> client only
	EventMessages      EventKind = "messages"
	EventMessageEcho   EventKind = "message-echo"
	EventServerMessage EventKind = "server_message"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventNonce, EventVerify, EventJoin, EventLeave, EventMessage,
		EventTyping, EventStopTyping, EventMessages, EventMessageEcho, EventServerMessage:
		return true
	}
	return false
}

type (
	// Event is one websocket frame: a kind plus its JSON payload.
	Event struct {
		Kind EventKind       `json:"event"`
		Data json.RawMessage `json:"data,omitempty"`
	}
)

// NewEvent marshals data into an Event of the given kind.
func NewEvent(kind EventKind, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Event{Kind: kind, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload", e.Kind)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
