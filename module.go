// Package lotus provides the nucleus: a pluggable runtime that discovers
// independently-developed modules, resolves their dependency order, wires
// them together over a publish/subscribe event bus, and manages their
// lifecycle from initialization through periodic tasks and health checks
// to graceful shutdown.
//
// Modules communicate exclusively through the bus. Each module is
// described by a declarative manifest, constructed by a registered
// factory, and driven through its lifecycle by a ModuleRunner owned by
// the Nucleus. One module's failure is contained at that module's
// boundary; the rest of the system keeps running.
//
// Basic usage:
//
//	nucleus := lotus.New(cfg, lotus.NewSlogLogger(nil))
//	nucleus.Factories().Register("memory", memorymod.New)
//	if err := nucleus.Run(context.Background()); err != nil {
//		log.Fatal(err)
//	}
package lotus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

// Module is the contract every nucleus module implements. Construction
// must not perform I/O; all setup belongs in Init.
type Module interface {
	// Name returns the unique identifier for this module. It must match
	// the manifest name under which the module was discovered.
	Name() string

	// Init performs module-specific setup. It is called in dependency
	// order with the module's runtime context. If Init returns an error
	// the module is never subscribed to the bus and the nucleus records a
	// load failure but continues booting the remaining modules.
	Init(ctx context.Context, mc *ModuleContext) error

	// Shutdown releases module resources. It is called after the
	// module's handlers are unsubscribed and its periodic tasks stopped.
	Shutdown(ctx context.Context) error
}

// EventSubscriber is an optional interface for modules that handle bus
// events. The runner asks for an explicit registration list at init time
// rather than scanning the instance for annotated methods, keeping
// registration statically typeable.
type EventSubscriber interface {
	// Subscriptions returns the module's event handler registrations.
	// Called once, after Init succeeds.
	Subscriptions() []HandlerRegistration
}

// PeriodicRunner is an optional interface for modules that run background
// tasks on a schedule.
type PeriodicRunner interface {
	// PeriodicTasks returns the module's periodic task declarations.
	// Called once, after Init succeeds.
	PeriodicTasks() []PeriodicTask
}

// ToolProvider is an optional interface for modules that expose named
// operations other modules invoke over the bus.
type ToolProvider interface {
	// Tools returns the module's tool declarations. Called once, after
	// Init succeeds.
	Tools() []Tool
}

// HandlerResolver is an optional interface for modules whose manifests
// declare static subscriptions as {pattern, handler-name} pairs. The
// runner resolves each declared handler name through this interface; a
// name the module doesn't recognize is logged and skipped.
type HandlerResolver interface {
	// ResolveHandler maps a manifest handler name to a callable handler.
	ResolveHandler(name string) (eventbus.Handler, bool)
}

// HandlerRegistration pairs a channel pattern with a handler and a name
// used in logs when the handler fails.
type HandlerRegistration struct {
	Pattern string
	Name    string
	Handler eventbus.Handler
}

// PeriodicTask declares a background task. Exactly one of Interval or
// Schedule should be set; Schedule takes a cron expression and wins when
// both are present.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Schedule string
	Task     func(ctx context.Context) error
}

// ToolFunc executes a tool invocation. A returned error is reported to
// the caller in the structured ToolResponse, never raised across the bus.
type ToolFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Tool is a named operation a module exposes for invocation by other
// modules via a request/response event pair.
type Tool struct {
	Name        string
	Description string
	Func        ToolFunc
}

// ModuleFactory constructs a module instance from its descriptor. The
// factory must not perform I/O; it runs during the load step before Init.
type ModuleFactory func(desc *ModuleDescriptor) (Module, error)

// FactoryRegistry maps module names to factories. Discovery pairs each
// manifest with the factory registered under the manifest's name; the
// nucleus owns the only live table of constructed instances.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]ModuleFactory
}

// NewFactoryRegistry creates an empty factory registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]ModuleFactory)}
}

// Register binds a factory to a module name, replacing any previous
// binding for that name.
func (r *FactoryRegistry) Register(name string, factory ModuleFactory) error {
	if factory == nil {
		return ErrFactoryNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	return nil
}

// Lookup returns the factory registered under name.
func (r *FactoryRegistry) Lookup(name string) (ModuleFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	return factory, ok
}

// Names returns all registered factory names.
func (r *FactoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// ModuleContext carries the collaborators a module receives at Init:
// descriptor, bus handle, configuration accessor, logger, and typed,
// possibly-absent optional capabilities. A call against an absent
// capability returns an explicit unavailable result; callers must branch
// rather than receive a silent no-op.
type ModuleContext struct {
	// Descriptor is the module's static description from discovery.
	Descriptor *ModuleDescriptor

	// Bus is the shared event bus handle.
	Bus *eventbus.EventBus

	// Config is the module's configuration view: the nucleus config
	// overlaid with the manifest's module-specific sections.
	Config *Config

	// Logger is a structured logger scoped to the module.
	Logger Logger

	capabilities map[string]interface{}
}

// Capability returns the named optional collaborator and whether it is
// available. Modules must handle the absent case explicitly.
func (mc *ModuleContext) Capability(name string) (interface{}, bool) {
	value, ok := mc.capabilities[name]
	return value, ok
}

// RequireCapability returns the named collaborator or ErrCapabilityGone
// when it is absent, for modules that cannot run without it and want to
// fail their Init with a matchable error.
func (mc *ModuleContext) RequireCapability(name string) (interface{}, error) {
	value, ok := mc.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityGone, name)
	}
	return value, nil
}

// CapabilityNames lists the optional collaborators available to this
// module.
func (mc *ModuleContext) CapabilityNames() []string {
	names := make([]string, 0, len(mc.capabilities))
	for name := range mc.capabilities {
		names = append(names, name)
	}
	return names
}
