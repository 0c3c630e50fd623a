package eventbus

import (
	"context"
	"testing"
	"time"
)

// testLogger discards all output; bus tests assert on behavior, not logs.
type testLogger struct{}

func (testLogger) Info(msg string, args ...any)  {}
func (testLogger) Error(msg string, args ...any) {}
func (testLogger) Warn(msg string, args ...any)  {}
func (testLogger) Debug(msg string, args ...any) {}

// newTestBus returns a connected memory bus and a cleanup-registered
// disconnect.
func newTestBus(t *testing.T) *EventBus {
	t.Helper()
	bus, err := New(&Config{Engine: "memory"}, testLogger{})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	if err := bus.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Disconnect(context.Background()) })
	return bus
}

// waitEvent receives one event from ch or fails the test.
func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
		return Event{}
	}
}

// expectNoEvent asserts nothing arrives on ch within the window.
func expectNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case event := <-ch:
		t.Fatalf("unexpected delivery on channel %s", event.Channel)
	case <-time.After(150 * time.Millisecond):
	}
}
