// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType tags the inbound control-plane event variants.
type EventType string

const (
	EventLink            EventType = "link"
	EventJoin            EventType = "join"
	EventLeave           EventType = "leave"
	EventServerLifecycle EventType = "server_lifecycle"
	EventGameChat        EventType = "game_chat"
)

// Event is one of LinkEvent, JoinEvent, LeaveEvent, ServerLifecycleEvent or
// GameChatEvent. Events must pass Validate before they reach the core.
type Event interface {
	Type() EventType
	Validate() error
}

type LinkEvent struct {
	GameHandle        string `json:"game_handle"`
	PlatformAccountID string `json:"platform_account_id"`
}

// JoinEvent may carry the platform account id when the game server knows it;
// whether that creates a link is a deployment policy.
type JoinEvent struct {
	GameHandle        string `json:"game_handle"`
	PlatformAccountID string `json:"platform_account_id,omitempty"`
}

type LeaveEvent struct {
	GameHandle string `json:"game_handle"`
}

// ServerStatus is the lifecycle state reported by the game server. Values
// other than StatusStarted and StatusStopping are passed through verbatim.
type ServerStatus string

const (
	StatusStarted  ServerStatus = "started"
	StatusStopping ServerStatus = "stopping"
)

type ServerLifecycleEvent struct {
	Status  ServerStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

type GameChatEvent struct {
	GameHandle string `json:"game_handle"`
	Text       string `json:"text"`
}

func (LinkEvent) Type() EventType            { return EventLink }
func (JoinEvent) Type() EventType            { return EventJoin }
func (LeaveEvent) Type() EventType           { return EventLeave }
func (ServerLifecycleEvent) Type() EventType { return EventServerLifecycle }
func (GameChatEvent) Type() EventType        { return EventGameChat }

func (e LinkEvent) Validate() error {
	if err := required("game_handle", e.GameHandle); err != nil {
		return err
	}
	return required("platform_account_id", e.PlatformAccountID)
}

func (e JoinEvent) Validate() error { return required("game_handle", e.GameHandle) }

func (e LeaveEvent) Validate() error { return required("game_handle", e.GameHandle) }

func (e ServerLifecycleEvent) Validate() error { return required("status", string(e.Status)) }

// Validate accepts an empty Text; the game server does send blank lines.
func (e GameChatEvent) Validate() error { return required("game_handle", e.GameHandle) }

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformedInput, field)
	}
	return nil
}

// envelope is the wire form used by message-bus transports: a "type" tag
// next to the variant's own fields.
type envelope struct {
	Type EventType `json:"type"`
}

// DecodeEvent parses a tagged JSON event and validates it. Unknown tags and
// missing required fields are reported as ErrMalformedInput.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	var evt Event
	var err error
	switch env.Type {
	case EventLink:
		evt, err = decodeAs[LinkEvent](data)
	case EventJoin:
		evt, err = decodeAs[JoinEvent](data)
	case EventLeave:
		evt, err = decodeAs[LeaveEvent](data)
	case EventServerLifecycle:
		evt, err = decodeAs[ServerLifecycleEvent](data)
	case EventGameChat:
		evt, err = decodeAs[GameChatEvent](data)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedInput, env.Type)
	}
	if err != nil {
		return nil, err
	}
	if err = evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return v, nil
}
