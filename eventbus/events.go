package eventbus

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Operational CloudEvent types emitted by the bus itself. These describe
// the bus's own behavior for observability; they are not bus traffic.
const (
	EventTypeBusConnected    = "com.lotus.bus.connected"
	EventTypeBusDisconnected = "com.lotus.bus.disconnected"
	EventTypeChannelCreated  = "com.lotus.bus.channel.created"
	EventTypeChannelDeleted  = "com.lotus.bus.channel.deleted"
	EventTypeDeliveryFailed  = "com.lotus.bus.delivery.failed"
)

// busEventSource identifies the bus in emitted CloudEvents.
const busEventSource = "eventbus"

// EventSink receives the bus's operational CloudEvents. The nucleus
// observer registry satisfies this interface.
type EventSink interface {
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
}

// sinkHolder guards the optional sink reference.
type sinkHolder struct {
	mu   sync.RWMutex
	sink EventSink
}

// SetEventSink attaches a sink for operational events. Pass nil to detach.
func (b *EventBus) SetEventSink(sink EventSink) {
	b.sink.mu.Lock()
	b.sink.sink = sink
	b.sink.mu.Unlock()
}

// emit sends an operational CloudEvent to the attached sink, if any.
// Emission runs detached and failures are logged; they never fail the bus
// operation that triggered them.
func (b *EventBus) emit(eventType string, data map[string]interface{}) {
	b.sink.mu.RLock()
	sink := b.sink.sink
	b.sink.mu.RUnlock()
	if sink == nil {
		return
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.New().String())
	event.SetSource(busEventSource)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	go func() {
		if err := sink.NotifyObservers(context.Background(), event); err != nil {
			b.logger.Debug("Failed to emit bus event", "type", eventType, "error", err)
		}
	}()
}
