package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeReflectionMessage MessageType = "reflection_message"
	TypeClientControl     MessageType = "client_control"
	TypeAssistantMessage  MessageType = "assistant_message"
	TypeReflectionEnded   MessageType = "reflection_ended"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

const ActionEnd = "end"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ReflectionMessage is one user turn in the reflection conversation.
type ReflectionMessage struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	TSMs    int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Reason string      `json:"reason,omitempty"`
}

type AssistantMessage struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Response  string      `json:"response"`
	Timestamp string      `json:"timestamp"`
}

// ReflectionEnded carries the pipeline result produced when the session closes.
type ReflectionEnded struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Result    any         `json:"result"`
	Timestamp string      `json:"timestamp"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeReflectionMessage:
		var msg ReflectionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, errors.New("invalid reflection_message: empty content")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.Action != ActionEnd {
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of any payload defined in this package.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ReflectionMessage:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case AssistantMessage:
		return m.Type, true
	case ReflectionEnded:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
