// Package realtime implements the pub/sub transport canvas sessions run on:
// named topics, presence tracking with full-state and diff delivery, and
// broadcast of arbitrary payloads to the other members of a topic.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType tags every frame on the wire.
type MessageType string

const (
	MessageTypePing          MessageType = "ping"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
	MessageTypeJoin          MessageType = "join"
	MessageTypeJoined        MessageType = "joined"
	MessageTypeLeave         MessageType = "leave"
	MessageTypeTrack         MessageType = "track"
	MessageTypeUntrack       MessageType = "untrack"
	MessageTypeBroadcast     MessageType = "broadcast"
	MessageTypePresenceState MessageType = "presence_state"
	MessageTypePresenceDiff  MessageType = "presence_diff"
)

// ServerSender is the sender key stamped on broadcasts that originate from
// the server rather than from a member.
const ServerSender = "server"

// Message is the envelope for every frame exchanged with the hub.
type Message struct {
	Type  MessageType     `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	Key string `json:"key"`
}

type BroadcastPayload struct {
	Event   string          `json:"event"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PresenceState maps a presence key to its current meta.
type PresenceState map[string]json.RawMessage

// PresenceDiff carries incremental presence changes.
type PresenceDiff struct {
	Joins  PresenceState `json:"joins"`
	Leaves PresenceState `json:"leaves"`
}

// NewMessage builds a message, marshaling data when it is not already raw JSON.
func NewMessage(t MessageType, topic string, data interface{}) (Message, error) {
	msg := Message{Type: t, Topic: topic}
	if data == nil {
		return msg, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}

func mustMessage(t MessageType, topic string, data interface{}) Message {
	msg, err := NewMessage(t, topic, data)
	if err != nil {
		// payloads built by this package are always marshalable
		panic(err)
	}
	return msg
}

// ParseMessage decodes one frame and validates its envelope.
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode message: type is required")
	}
	return msg, nil
}

// DecodeData unmarshals the message data into v.
func (m Message) DecodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}

// ValidTopic reports whether a topic name is one the hub serves.
func ValidTopic(topic string) bool {
	for _, prefix := range []string{"painting:", "event:"} {
		if strings.HasPrefix(topic, prefix) && len(topic) > len(prefix) {
			return true
		}
	}
	return false
}
