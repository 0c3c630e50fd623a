package lotus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

// ModuleState is a stage in the module lifecycle state machine.
type ModuleState string

const (
	StateConstructed  ModuleState = "constructed"
	StateInitializing ModuleState = "initializing"
	StateRunning      ModuleState = "running"
	StateShuttingDown ModuleState = "shutting_down"
	StateStopped      ModuleState = "stopped"
)

// taskShutdownWait bounds how long Shutdown waits for periodic task loops
// to exit before proceeding regardless.
const taskShutdownWait = 5 * time.Second

// ModuleRunner drives one module instance through its lifecycle:
// Constructed -> Initializing -> Running -> ShuttingDown -> Stopped.
// It owns the module's bus subscriptions, periodic task goroutines, and
// tool registrations, and contains every module failure at the module's
// boundary.
type ModuleRunner struct {
	descriptor *ModuleDescriptor
	module     Module
	bus        *eventbus.EventBus
	logger     Logger
	mc         *ModuleContext

	mu            sync.Mutex
	state         ModuleState
	enabled       bool
	initialized   bool
	lastHeartbeat time.Time
	subscriptions []*eventbus.Subscription
	tools         map[string]Tool

	taskCancel context.CancelFunc
	taskWg     sync.WaitGroup
}

// NewModuleRunner wraps a constructed module instance. The runner starts
// in the Constructed state; nothing happens until Start.
func NewModuleRunner(desc *ModuleDescriptor, module Module, mc *ModuleContext) *ModuleRunner {
	return &ModuleRunner{
		descriptor: desc,
		module:     module,
		bus:        mc.Bus,
		logger:     mc.Logger,
		mc:         mc,
		state:      StateConstructed,
		tools:      make(map[string]Tool),
	}
}

// Descriptor returns the module's static descriptor.
func (r *ModuleRunner) Descriptor() *ModuleDescriptor { return r.descriptor }

// Module returns the wrapped module instance.
func (r *ModuleRunner) Module() Module { return r.module }

// State returns the runner's current lifecycle state.
func (r *ModuleRunner) State() ModuleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastHeartbeat returns the most recent heartbeat timestamp.
func (r *ModuleRunner) LastHeartbeat() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHeartbeat
}

// Start runs the Initializing transition: the module's Init hook first,
// then handler subscription, periodic task startup, and the
// system.module.ready announcement. If Init fails the module is never
// subscribed and the error is returned for the nucleus to record; the
// rest of the system is unaffected.
func (r *ModuleRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateConstructed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleAlreadyLoaded, r.descriptor.Name)
	}
	r.state = StateInitializing
	r.mu.Unlock()

	if err := r.module.Init(ctx, r.mc); err != nil {
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
		return &ModuleLoadError{Module: r.descriptor.Name, Phase: "init", Err: err}
	}

	if err := r.subscribeHandlers(ctx); err != nil {
		// Partial subscriptions are rolled back so a failed module never
		// remains attached to the bus.
		r.unsubscribeAll(ctx)
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
		return &ModuleLoadError{Module: r.descriptor.Name, Phase: "subscribe", Err: err}
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.taskCancel = cancel
	r.enabled = true
	r.initialized = true
	r.lastHeartbeat = time.Now()
	r.state = StateRunning
	r.mu.Unlock()

	r.startPeriodicTasks(taskCtx)

	if err := r.bus.Publish(ctx, ChannelModuleReady, map[string]interface{}{
		"module":  r.descriptor.Name,
		"version": r.descriptor.Version,
		"type":    string(r.descriptor.Type),
	}); err != nil {
		r.logger.Warn("Failed to announce module ready",
			"module", r.descriptor.Name, "error", err)
	}

	r.logger.Info("Module running",
		"module", r.descriptor.Name, "version", r.descriptor.Version)
	return nil
}

// subscribeHandlers registers manifest-declared subscriptions and the
// module's explicit registration list, then the tool request channel for
// tool providers.
func (r *ModuleRunner) subscribeHandlers(ctx context.Context) error {
	var registrations []HandlerRegistration

	// Manifest-declared {pattern, handler-name} pairs resolve through the
	// module's HandlerResolver; unknown names are skipped with a warning.
	if len(r.descriptor.Subscriptions) > 0 {
		resolver, ok := r.module.(HandlerResolver)
		if !ok {
			r.logger.Warn("Manifest declares subscriptions but module resolves no handlers",
				"module", r.descriptor.Name)
		} else {
			for _, spec := range r.descriptor.Subscriptions {
				handler, found := resolver.ResolveHandler(spec.Handler)
				if !found {
					r.logger.Warn("Manifest handler not found on module",
						"module", r.descriptor.Name, "handler", spec.Handler)
					continue
				}
				registrations = append(registrations, HandlerRegistration{
					Pattern: spec.Pattern,
					Name:    spec.Handler,
					Handler: handler,
				})
			}
		}
	}

	if subscriber, ok := r.module.(EventSubscriber); ok {
		registrations = append(registrations, subscriber.Subscriptions()...)
	}

	for _, reg := range registrations {
		sub, err := r.bus.Subscribe(ctx, reg.Pattern, r.wrapHandler(reg))
		if err != nil {
			return fmt.Errorf("failed to subscribe %q to %q: %w", reg.Name, reg.Pattern, err)
		}
		r.mu.Lock()
		r.subscriptions = append(r.subscriptions, sub)
		r.mu.Unlock()
	}

	if provider, ok := r.module.(ToolProvider); ok {
		if err := r.registerTools(ctx, provider.Tools()); err != nil {
			return err
		}
	}
	return nil
}

// wrapHandler scopes handler failures to this module: errors are logged
// with the channel and handler identity and never propagate to the bus or
// to sibling handlers.
func (r *ModuleRunner) wrapHandler(reg HandlerRegistration) eventbus.Handler {
	return func(ctx context.Context, event eventbus.Event) error {
		if !r.Enabled() {
			return nil
		}
		if err := reg.Handler(ctx, event); err != nil {
			r.logger.Error("Event handler failed",
				"module", r.descriptor.Name,
				"handler", reg.Name,
				"channel", event.Channel,
				"error", err)
		}
		return nil
	}
}

// startPeriodicTasks launches one goroutine per declared task. Each loop
// sleeps for its interval (or to its next cron occurrence), invokes the
// task, logs any failure, and continues; a single failed tick never stops
// the loop or the module.
func (r *ModuleRunner) startPeriodicTasks(ctx context.Context) {
	runner, ok := r.module.(PeriodicRunner)
	if !ok {
		return
	}
	for _, task := range runner.PeriodicTasks() {
		if task.Task == nil {
			r.logger.Warn("Skipping periodic task with nil function",
				"module", r.descriptor.Name, "task", task.Name)
			continue
		}
		r.taskWg.Add(1)
		go r.runPeriodicTask(ctx, task)
	}
}

func (r *ModuleRunner) runPeriodicTask(ctx context.Context, task PeriodicTask) {
	defer r.taskWg.Done()

	var schedule cron.Schedule
	if task.Schedule != "" {
		parsed, err := cron.ParseStandard(task.Schedule)
		if err != nil {
			r.logger.Error("Invalid cron schedule for periodic task",
				"module", r.descriptor.Name, "task", task.Name,
				"schedule", task.Schedule, "error", err)
			return
		}
		schedule = parsed
	} else if task.Interval <= 0 {
		r.logger.Error("Periodic task declares neither schedule nor interval",
			"module", r.descriptor.Name, "task", task.Name)
		return
	}

	for {
		wait := task.Interval
		if schedule != nil {
			wait = time.Until(schedule.Next(time.Now()))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// The enabled flag is the cooperative cancellation point: once
		// shutdown begins, no further tick runs.
		if !r.Enabled() {
			return
		}
		r.runTick(ctx, task)
	}
}

// runTick executes one task invocation with panic and error containment.
func (r *ModuleRunner) runTick(ctx context.Context, task PeriodicTask) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Periodic task panicked",
				"module", r.descriptor.Name, "task", task.Name, "panic", rec)
		}
	}()
	if err := task.Task(ctx); err != nil {
		r.logger.Error("Periodic task failed",
			"module", r.descriptor.Name, "task", task.Name, "error", err)
	}
}

// Enabled reports whether the module accepts handler and task work.
func (r *ModuleRunner) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// HealthCheck is the lightweight liveness probe: the module is healthy
// when it is enabled and initialized. Every probe refreshes the
// heartbeat, healthy or not, so the timestamp always records the last
// time the module was checked.
func (r *ModuleRunner) HealthCheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHeartbeat = time.Now()
	return r.enabled && r.initialized
}

// Shutdown runs the ShuttingDown transition: flip the enabled flag so
// periodic loops exit at their next tick, cancel and await the loops with
// a bounded wait, unsubscribe every handler, then run the module's
// Shutdown hook. Each step is independently fault-tolerant.
func (r *ModuleRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateShuttingDown
	r.enabled = false
	cancel := r.taskCancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.taskWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(taskShutdownWait):
		r.logger.Warn("Periodic tasks did not stop in time, proceeding",
			"module", r.descriptor.Name)
	case <-ctx.Done():
	}

	r.unsubscribeAll(ctx)

	err := r.module.Shutdown(ctx)
	if err != nil {
		r.logger.Error("Module shutdown hook failed",
			"module", r.descriptor.Name, "error", err)
	}

	r.mu.Lock()
	r.initialized = false
	r.state = StateStopped
	r.mu.Unlock()

	r.logger.Info("Module stopped", "module", r.descriptor.Name)
	return err
}

// unsubscribeAll removes every bus registration the runner holds. One
// failed unsubscribe never prevents removing the rest.
func (r *ModuleRunner) unsubscribeAll(ctx context.Context) {
	r.mu.Lock()
	subs := r.subscriptions
	r.subscriptions = nil
	r.mu.Unlock()

	for _, sub := range subs {
		if err := r.bus.Unsubscribe(ctx, sub); err != nil {
			r.logger.Error("Failed to unsubscribe handler",
				"module", r.descriptor.Name, "pattern", sub.Pattern(), "error", err)
		}
	}
}
