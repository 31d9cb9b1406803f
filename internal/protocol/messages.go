package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/overseerhq/overseer/internal/inbox"
	"github.com/overseerhq/overseer/internal/taskqueue"
)

// MessageType identifies websocket payload variants on the operator feed.
type MessageType string

const (
	// client -> server
	TypeResolveEvent      MessageType = "resolve_event"
	TypeRespondPermission MessageType = "respond_permission"
	TypeConfirmCompletion MessageType = "confirm_completion"

	// server -> client
	TypeEventReceived MessageType = "event_received"
	TypeEventResolved MessageType = "event_resolved"
	TypeQueueChanged  MessageType = "queue_changed"
	TypeLinkState     MessageType = "link_state"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ResolveEvent asks the server to mark an inbox event resolved without any
// side effect on the agent.
type ResolveEvent struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id"`
}

// RespondPermission relays the operator's chosen option for a pending
// permission request.
type RespondPermission struct {
	Type        MessageType `json:"type"`
	EventID     string      `json:"event_id"`
	OptionValue string      `json:"option_value"`
}

// ConfirmCompletion acknowledges a completion event and advances the
// context's queue. EventID may be empty for a manual confirmation.
type ConfirmCompletion struct {
	Type      MessageType `json:"type"`
	EventID   string      `json:"event_id,omitempty"`
	ContextID string      `json:"context_id"`
}

type EventReceived struct {
	Type  MessageType `json:"type"`
	Event inbox.Event `json:"event"`
}

type EventResolved struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id"`
}

type QueueChanged struct {
	Type      MessageType          `json:"type"`
	ContextID string               `json:"context_id"`
	Queue     []taskqueue.WorkItem `json:"queue"`
}

type LinkState struct {
	Type   MessageType `json:"type"`
	State  string      `json:"state"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeResolveEvent:
		var msg ResolveEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.EventID == "" {
			return nil, errors.New("invalid resolve_event")
		}
		return msg, nil
	case TypeRespondPermission:
		var msg RespondPermission
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.EventID == "" || msg.OptionValue == "" {
			return nil, errors.New("invalid respond_permission")
		}
		return msg, nil
	case TypeConfirmCompletion:
		var msg ConfirmCompletion
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ContextID == "" {
			return nil, errors.New("invalid confirm_completion")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
