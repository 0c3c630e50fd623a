// Observer pattern interfaces for runtime observability. Observability
// events use the CloudEvents specification for standardized format and
// interoperability with external systems; they are distinct from the
// inter-module traffic carried by the event bus.

package lotus

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// EventType constants for nucleus observability events.
// Following CloudEvents convention these use reverse domain notation.
const (
	// Module lifecycle events
	EventTypeModuleDiscovered = "com.lotus.module.discovered"
	EventTypeModuleLoaded     = "com.lotus.module.loaded"
	EventTypeModuleFailed     = "com.lotus.module.failed"
	EventTypeModuleStopped    = "com.lotus.module.stopped"

	// Nucleus lifecycle events
	EventTypeNucleusStarted = "com.lotus.nucleus.started"
	EventTypeNucleusStopped = "com.lotus.nucleus.stopped"
	EventTypeNucleusFailed  = "com.lotus.nucleus.failed"
	EventTypeHealthDegraded = "com.lotus.health.degraded"
)

// Observer defines the interface for objects that want to be notified of
// observability events. Observers should handle events quickly to avoid
// blocking other observers.
type Observer interface {
	// OnEvent is called when an event occurs that the observer is
	// interested in.
	OnEvent(ctx context.Context, event CloudEvent) error

	// ObserverID returns a unique identifier for this observer, used for
	// registration tracking and debugging.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed. The
// nucleus implements Subject; the bus and module runners emit through it.
type Subject interface {
	// RegisterObserver adds an observer to receive notifications.
	// If eventTypes is empty the observer receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all registered observers.
	// Observer errors are logged, never propagated to the caller.
	NotifyObservers(ctx context.Context, event CloudEvent) error
}

// NewCloudEvent creates a properly formatted CloudEvent with a UUIDv7 ID,
// the given type and source, JSON-encoded data, and metadata extensions.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) CloudEvent {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// generateEventID returns a UUIDv7 identifier so event IDs carry
// time-ordered uniqueness, falling back to v4 if v7 fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// FunctionalObserver provides a simple way to create observers from a
// function without defining a full struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event CloudEvent) error
}

// NewFunctionalObserver creates an observer that delegates to handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event CloudEvent) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

func (o *FunctionalObserver) OnEvent(ctx context.Context, event CloudEvent) error {
	return o.handler(ctx, event)
}

func (o *FunctionalObserver) ObserverID() string {
	return o.id
}

// observerRegistration tracks a registered observer and its type filter.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // empty means all
	registeredAt time.Time
}

// observerRegistry is the shared Subject implementation used by the
// nucleus. Registration order is notification order.
type observerRegistry struct {
	mu        sync.RWMutex
	observers []observerRegistration
	logger    Logger
}

func newObserverRegistry(logger Logger) *observerRegistry {
	return &observerRegistry{logger: logger}
}

func (r *observerRegistry) RegisterObserver(observer Observer, eventTypes ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}

	// Re-registering replaces the existing filter rather than duplicating
	// notifications.
	for i, reg := range r.observers {
		if reg.observer.ObserverID() == observer.ObserverID() {
			r.observers[i] = observerRegistration{observer: observer, eventTypes: types, registeredAt: reg.registeredAt}
			return nil
		}
	}

	r.observers = append(r.observers, observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
	})
	return nil
}

func (r *observerRegistry) UnregisterObserver(observer Observer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range r.observers {
		if reg.observer.ObserverID() == observer.ObserverID() {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *observerRegistry) NotifyObservers(ctx context.Context, event CloudEvent) error {
	// Iterate over a snapshot so observers may unregister from within
	// their own OnEvent without invalidating the iteration.
	r.mu.RLock()
	snapshot := make([]observerRegistration, len(r.observers))
	copy(snapshot, r.observers)
	r.mu.RUnlock()

	for _, reg := range snapshot {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		if err := reg.observer.OnEvent(ctx, event); err != nil {
			r.logger.Error("Observer failed to handle event",
				"observer", reg.observer.ObserverID(),
				"eventType", event.Type(),
				"error", err)
		}
	}
	return nil
}
