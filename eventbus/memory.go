package eventbus

import (
	"context"
	"sync"
)

// memoryTransport is an in-process loopback transport. Every published
// envelope is fed straight back to the delivery loop; pattern interest is
// tracked only so the bus contract (subscribe-on-first, teardown-on-last)
// can be exercised and observed in tests.
type memoryTransport struct {
	config *Config

	stateMu  sync.Mutex // guards running, patterns, channel identities
	messages chan RawMessage
	done     chan struct{}
	patterns map[string]bool
	running  bool

	sendMu sync.RWMutex // excludes in-flight sends while closing messages
}

func newMemoryTransport(config *Config) *memoryTransport {
	return &memoryTransport{
		config:   config,
		patterns: make(map[string]bool),
	}
}

func (t *memoryTransport) Connect(ctx context.Context) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.running {
		return ErrAlreadyConnected
	}
	t.messages = make(chan RawMessage, t.config.BufferSize)
	t.done = make(chan struct{})
	t.running = true
	return nil
}

func (t *memoryTransport) Disconnect(ctx context.Context) error {
	t.stateMu.Lock()
	if !t.running {
		t.stateMu.Unlock()
		return nil
	}
	t.running = false
	done := t.done
	messages := t.messages
	t.stateMu.Unlock()

	// Wake publishers blocked on a full buffer, then wait for in-flight
	// sends to drain before closing the stream.
	close(done)
	t.sendMu.Lock()
	close(messages)
	t.sendMu.Unlock()
	return nil
}

func (t *memoryTransport) Publish(ctx context.Context, channel string, data []byte) error {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()

	t.stateMu.Lock()
	if !t.running {
		t.stateMu.Unlock()
		return ErrNotConnected
	}
	messages := t.messages
	done := t.done
	t.stateMu.Unlock()

	select {
	case messages <- RawMessage{Channel: channel, Data: data}:
		return nil
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memoryTransport) Subscribe(ctx context.Context, pattern string) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.patterns[pattern] = true
	return nil
}

func (t *memoryTransport) Unsubscribe(ctx context.Context, pattern string) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	delete(t.patterns, pattern)
	return nil
}

func (t *memoryTransport) Messages() <-chan RawMessage {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.messages
}

// activePatterns reports transport-level pattern interest. Test hook.
func (t *memoryTransport) activePatterns() []string {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	out := make([]string, 0, len(t.patterns))
	for p := range t.patterns {
		out = append(out, p)
	}
	return out
}
