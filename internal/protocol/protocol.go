package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the closed set of client message types. Anything outside this
// set is a protocol error, answered on the same socket and otherwise
// ignored.
type Kind string

const (
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindBroadcast   Kind = "broadcast"
	KindPresence    Kind = "presence"
	KindPing        Kind = "ping"
)

// ClientMessage is a decoded client frame. Payload stays raw; each
// handler decodes it into its own shape.
type ClientMessage struct {
	Type    Kind            `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BroadcastPayload is the payload shape of a broadcast frame.
type BroadcastPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseClient decodes and validates a raw client frame.
func ParseClient(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	switch msg.Type {
	case KindSubscribe, KindUnsubscribe:
		if msg.Channel == "" {
			return nil, fmt.Errorf("%s requires channel", msg.Type)
		}
	case KindBroadcast:
		if len(msg.Payload) == 0 {
			return nil, fmt.Errorf("broadcast requires payload")
		}
	case KindPresence:
		if msg.Channel == "" || len(msg.Payload) == 0 {
			return nil, fmt.Errorf("presence requires channel and payload")
		}
	case KindPing:
	case "":
		return nil, fmt.Errorf("missing type")
	default:
		return nil, fmt.Errorf("unknown type %q", msg.Type)
	}
	return &msg, nil
}

// NotificationEnvelope is the normalized change event carried from the
// database notification stream (or the HTTP trigger endpoint) to
// subscribers. An unset TenantID means the event goes to every tenant
// subscribed to the channel.
type NotificationEnvelope struct {
	Channel   string          `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Schema    string          `json:"schema,omitempty"`
	Table     string          `json:"table,omitempty"`
	TenantID  string          `json:"tenantId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`

	// Raw holds the original payload when it was not valid JSON.
	// Malformed producers stay observable instead of being dropped.
	Raw string `json:"raw,omitempty"`
}

// ParseEnvelope decodes a notification payload received on channel.
// Payloads that fail to parse are wrapped as {raw: <original>}.
func ParseEnvelope(channel string, payload []byte) NotificationEnvelope {
	var env NotificationEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		env = NotificationEnvelope{Raw: string(payload)}
	}
	env.Channel = channel
	if env.Timestamp == "" {
		env.Timestamp = now()
	}
	return env
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// Connected is the system frame sent once right after a successful
// handshake.
func Connected(connectionID string) []byte {
	return marshal(map[string]any{
		"event":        "system",
		"type":         "connected",
		"connectionId": connectionID,
		"timestamp":    now(),
	})
}

// Ack answers a subscribe/unsubscribe/broadcast request.
// event is one of "subscribed", "unsubscribed", "broadcast_sent".
func Ack(event, channel string) []byte {
	m := map[string]any{
		"event":     event,
		"timestamp": now(),
	}
	if channel != "" {
		m["channel"] = channel
	}
	return marshal(m)
}

// PostgresChange wraps a NotificationEnvelope for delivery to a
// subscriber socket.
func PostgresChange(env NotificationEnvelope) []byte {
	payload := map[string]any{
		"event":     env.Event,
		"schema":    env.Schema,
		"table":     env.Table,
		"timestamp": env.Timestamp,
	}
	if env.Data != nil {
		payload["data"] = env.Data
	}
	if env.Raw != "" {
		payload["raw"] = env.Raw
	}
	return marshal(map[string]any{
		"type":    "postgres_change",
		"payload": payload,
	})
}

// Broadcast is a tenant-scoped client-to-client message.
func Broadcast(event string, payload json.RawMessage, fromUserID string) []byte {
	m := map[string]any{
		"type": "broadcast",
		"from": fromUserID,
	}
	if event != "" {
		m["event"] = event
	}
	if payload != nil {
		m["payload"] = payload
	}
	return marshal(m)
}

// PresenceEvent carries a presence change to channel subscribers.
// event is "sync" (one changed record), "state" (full snapshot, sent
// only to the updating client) or "leave".
func PresenceEvent(event, channel string, payload any) []byte {
	return marshal(map[string]any{
		"type":    "presence",
		"event":   event,
		"channel": channel,
		"payload": payload,
	})
}

// Pong answers a ping frame.
func Pong() []byte {
	return marshal(map[string]any{
		"type":      "pong",
		"timestamp": now(),
	})
}

// Error reports a protocol violation to the sender. It never closes
// the connection.
func Error(desc string) []byte {
	return marshal(map[string]string{"error": desc})
}
