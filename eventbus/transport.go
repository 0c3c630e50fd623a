package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire format carried by transports. Payloads survive a
// JSON round-trip, so concrete payload types flatten to their JSON shapes
// on delivery.
type envelope struct {
	Channel   string      `json:"channel"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RawMessage is a transport-level message before envelope decoding.
type RawMessage struct {
	// Channel is the concrete channel the message was published on, as
	// reported by the transport.
	Channel string

	// Data is the serialized envelope.
	Data []byte
}

// Transport abstracts the low-latency delivery layer under the bus. The
// memory transport is an in-process loopback; the redis transport rides
// redis pub/sub. The bus owns pattern matching and callback dispatch; a
// transport only moves serialized envelopes.
type Transport interface {
	// Connect establishes the transport. Called once per bus connection.
	Connect(ctx context.Context) error

	// Disconnect releases the transport and closes the message stream.
	// Must be safe to call after a failed Connect.
	Disconnect(ctx context.Context) error

	// Publish sends a serialized envelope on a concrete channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe registers interest in a pattern with the underlying
	// transport. Called only for the first bus-level subscriber of a
	// brand-new pattern.
	Subscribe(ctx context.Context, pattern string) error

	// Unsubscribe tears down transport interest in a pattern. Called only
	// when a pattern's last bus-level subscriber is removed.
	Unsubscribe(ctx context.Context, pattern string) error

	// Messages returns the raw message stream consumed by the bus
	// delivery loop. The transport closes it on fatal failure or
	// disconnect.
	Messages() <-chan RawMessage
}

// newTransport constructs the transport selected by config.
func newTransport(config *Config) (Transport, error) {
	switch config.Engine {
	case "memory":
		return newMemoryTransport(config), nil
	case "redis":
		return newRedisTransport(config), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, config.Engine)
	}
}

// encodeEnvelope serializes an envelope for transport.
func encodeEnvelope(channel string, payload interface{}, ts time.Time) ([]byte, error) {
	data, err := json.Marshal(envelope{Channel: channel, Payload: payload, Timestamp: ts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event envelope for %s: %w", channel, err)
	}
	return data, nil
}

// decodeEnvelope deserializes a transport message back into an envelope.
func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	return env, nil
}
