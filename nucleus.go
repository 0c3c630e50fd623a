package lotus

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

// NucleusState is the top-level runtime state.
type NucleusState string

const (
	NucleusCreated NucleusState = "created"
	NucleusBooting NucleusState = "booting"
	NucleusRunning NucleusState = "running"
	NucleusStopped NucleusState = "stopped"
)

// defaultHealthInterval is the health-check loop period when the
// configuration doesn't override health.interval.
const defaultHealthInterval = 30 * time.Second

// Nucleus is the top-level coordinator: it connects the event bus,
// discovers module descriptors on disk, resolves the load order, drives
// each module through its lifecycle, runs the health-check loop, and
// tears everything down in reverse order on shutdown.
//
// Nucleus implements Subject; observers receive CloudEvents describing
// nucleus, module, and bus lifecycle.
type Nucleus struct {
	*observerRegistry

	config    *Config
	logger    Logger
	factories *FactoryRegistry
	bus       *eventbus.EventBus

	mu           sync.Mutex
	state        NucleusState
	runners      map[string]*ModuleRunner
	loadOrder    []string
	failures     []*ModuleLoadError
	capabilities map[string]interface{}
	startedAt    time.Time

	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup

	watcher *manifestWatcher
	diag    *diagServer
}

// New creates a nucleus with the given configuration and logger. A nil
// config yields an all-defaults runtime; a nil logger falls back to slog.
func New(config *Config, logger Logger) *Nucleus {
	if config == nil {
		config = NewConfigFromMap(nil)
	}
	if logger == nil {
		logger = NewSlogLogger(nil)
	}
	return &Nucleus{
		observerRegistry: newObserverRegistry(logger),
		config:           config,
		logger:           logger,
		factories:        NewFactoryRegistry(),
		state:            NucleusCreated,
		runners:          make(map[string]*ModuleRunner),
		capabilities:     make(map[string]interface{}),
	}
}

// Factories returns the registry modules register their factories with
// before Boot.
func (n *Nucleus) Factories() *FactoryRegistry { return n.factories }

// Bus returns the shared event bus. Nil before Boot.
func (n *Nucleus) Bus() *eventbus.EventBus { return n.bus }

// Logger returns the nucleus logger.
func (n *Nucleus) Logger() Logger { return n.logger }

// Config returns the nucleus configuration accessor.
func (n *Nucleus) Config() *Config { return n.config }

// RegisterCapability makes an optional collaborator (memory store, LLM
// client) available to modules through their context. Modules receive a
// typed, possibly-absent reference and must handle the absent case.
func (n *Nucleus) RegisterCapability(name string, value interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capabilities[name] = value
}

// State returns the current nucleus state.
func (n *Nucleus) State() NucleusState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Boot runs the boot sequence. Failures before the module-loading step
// (bus connect, discovery I/O, dependency cycle) are fatal and abort boot
// with a descriptive error; module load failures are recorded per module
// and never abort the remaining loads.
func (n *Nucleus) Boot(ctx context.Context) error {
	n.mu.Lock()
	if n.state != NucleusCreated && n.state != NucleusStopped {
		n.mu.Unlock()
		return ErrNucleusAlreadyBooted
	}
	n.state = NucleusBooting
	n.runners = make(map[string]*ModuleRunner)
	n.loadOrder = nil
	n.failures = nil
	n.mu.Unlock()

	if err := n.boot(ctx); err != nil {
		n.releaseFailedBoot(ctx)
		n.NotifyObservers(ctx, NewCloudEvent(EventTypeNucleusFailed, "nucleus",
			map[string]interface{}{"error": err.Error()}, nil))
		n.mu.Lock()
		n.state = NucleusStopped
		n.mu.Unlock()
		return err
	}
	return nil
}

// releaseFailedBoot tears down whatever a failed boot left behind. The
// fatal steps all precede module loading, so the bus is the only resource
// that can be live here; disconnecting it stops the delivery loop and
// frees the transport so a retried Boot starts clean.
func (n *Nucleus) releaseFailedBoot(ctx context.Context) {
	if n.bus == nil {
		return
	}
	if err := n.bus.Disconnect(ctx); err != nil {
		n.logger.Error("Failed to release event bus after aborted boot", "error", err)
	}
	n.bus = nil
}

func (n *Nucleus) boot(ctx context.Context) error {
	// Step 2: bus and backing services. Failure here is fatal.
	busConfig := &eventbus.Config{
		Engine:           n.config.GetString("bus.engine", "memory"),
		HistoryLimit:     n.config.GetInt("bus.history_limit", 100),
		AuditLimit:       n.config.GetInt("bus.audit_limit", 1000),
		BufferSize:       n.config.GetInt("bus.buffer_size", 64),
		ReconnectBackoff: n.config.GetDuration("bus.reconnect_backoff", 2*time.Second),
		Redis: eventbus.RedisConfig{
			URL:      n.config.GetString("bus.redis.url", ""),
			DB:       n.config.GetInt("bus.redis.db", 0),
			Username: n.config.GetString("bus.redis.username", ""),
			Password: n.config.GetString("bus.redis.password", ""),
			PoolSize: n.config.GetInt("bus.redis.pool_size", 0),
		},
	}
	bus, err := eventbus.New(busConfig, n.logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	bus.SetEventSink(n.observerRegistry)
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	n.bus = bus

	// Step 3: discover module descriptors.
	locations := n.moduleLocations()
	discovered, err := Discover(locations, n.factories, n.logger)
	if err != nil {
		return fmt.Errorf("module discovery failed: %w", err)
	}
	n.logger.Info("Module discovery complete", "discovered", len(discovered))

	// Step 4: resolve load order. A cycle is fatal.
	descriptors := make([]*ModuleDescriptor, len(discovered))
	byName := make(map[string]*DiscoveredModule, len(discovered))
	for i, dm := range discovered {
		descriptors[i] = dm.Descriptor
		byName[dm.Descriptor.Name] = dm
	}
	order, err := ResolveLoadOrder(descriptors, n.logger)
	if err != nil {
		return fmt.Errorf("dependency resolution failed: %w", err)
	}

	// Step 5: load modules in order; per-module failures are recorded and
	// loading continues.
	for _, name := range order {
		n.loadModule(ctx, byName[name])
	}

	// Step 6: health-check loop.
	n.startHealthLoop()

	// Optional collaborators: manifest watcher and diagnostics endpoint.
	if n.config.GetBool("modules.watch", false) {
		n.watcher = newManifestWatcher(locations, n.bus, n.logger)
		if err := n.watcher.Start(); err != nil {
			n.logger.Warn("Manifest watcher failed to start", "error", err)
			n.watcher = nil
		}
	}
	if addr := n.config.GetString("diagnostics.addr", ""); addr != "" {
		n.diag = newDiagServer(addr, n, n.logger)
		n.diag.Start()
	}

	// Step 7: mark running and announce.
	n.mu.Lock()
	n.state = NucleusRunning
	n.startedAt = time.Now()
	loaded := len(n.loadOrder)
	failed := len(n.failures)
	n.mu.Unlock()

	if err := n.bus.Publish(ctx, ChannelSystemReady, map[string]interface{}{
		"timestamp":      time.Now().Format(time.RFC3339),
		"modules_loaded": loaded,
	}); err != nil {
		n.logger.Warn("Failed to publish system ready", "error", err)
	}
	n.NotifyObservers(ctx, NewCloudEvent(EventTypeNucleusStarted, "nucleus",
		map[string]interface{}{"modules_loaded": loaded, "modules_failed": failed}, nil))

	n.logger.Info("Nucleus running", "loaded", loaded, "failed", failed)
	return nil
}

// moduleLocations returns the configured module-category locations.
func (n *Nucleus) moduleLocations() []string {
	value := n.config.Get("modules.locations", nil)
	list, ok := value.([]interface{})
	if !ok {
		if single, ok := value.(string); ok && single != "" {
			return []string{single}
		}
		return []string{"modules"}
	}
	var locations []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			locations = append(locations, s)
		}
	}
	if len(locations) == 0 {
		return []string{"modules"}
	}
	return locations
}

// loadModule constructs one module and drives its init transition,
// recording success or failure. Never returns an error: failure isolation
// means boot continues regardless.
func (n *Nucleus) loadModule(ctx context.Context, dm *DiscoveredModule) {
	desc := dm.Descriptor

	module, err := dm.Factory(desc)
	if err == nil && module == nil {
		err = ErrModuleConstruction
	}
	if err != nil {
		n.recordFailure(ctx, &ModuleLoadError{Module: desc.Name, Phase: "construct", Err: err})
		return
	}

	mc := n.newModuleContext(desc)
	runner := NewModuleRunner(desc, module, mc)
	if err := runner.Start(ctx); err != nil {
		loadErr, ok := err.(*ModuleLoadError)
		if !ok {
			loadErr = &ModuleLoadError{Module: desc.Name, Phase: "init", Err: err}
		}
		n.recordFailure(ctx, loadErr)
		return
	}

	n.mu.Lock()
	n.runners[desc.Name] = runner
	n.loadOrder = append(n.loadOrder, desc.Name)
	n.mu.Unlock()

	n.NotifyObservers(ctx, NewCloudEvent(EventTypeModuleLoaded, "nucleus",
		map[string]interface{}{"module": desc.Name, "version": desc.Version}, nil))
}

// newModuleContext assembles the collaborators handed to a module at
// init: the shared bus, a config view overlaying the manifest's
// uninterpreted sections under "module.", a module-scoped logger, and the
// registered optional capabilities.
func (n *Nucleus) newModuleContext(desc *ModuleDescriptor) *ModuleContext {
	merged := make(map[string]interface{}, len(n.config.values)+1)
	for key, value := range n.config.values {
		merged[key] = value
	}
	if desc.Extra != nil {
		merged["module"] = desc.Extra
	}

	n.mu.Lock()
	capabilities := make(map[string]interface{}, len(n.capabilities))
	for name, value := range n.capabilities {
		capabilities[name] = value
	}
	n.mu.Unlock()

	return &ModuleContext{
		Descriptor:   desc,
		Bus:          n.bus,
		Config:       NewConfigFromMap(merged),
		Logger:       n.logger,
		capabilities: capabilities,
	}
}

// recordFailure logs and stores a module load failure.
func (n *Nucleus) recordFailure(ctx context.Context, loadErr *ModuleLoadError) {
	n.logger.Error("Module failed to load",
		"module", loadErr.Module, "phase", loadErr.Phase, "error", loadErr.Err)
	n.mu.Lock()
	n.failures = append(n.failures, loadErr)
	n.mu.Unlock()
	n.NotifyObservers(ctx, NewCloudEvent(EventTypeModuleFailed, "nucleus",
		map[string]interface{}{"module": loadErr.Module, "phase": loadErr.Phase, "error": loadErr.Err.Error()}, nil))
}

// startHealthLoop launches the background health-check loop. It polls
// every live module at a fixed interval and logs unhealthy results; it
// never crashes on them.
func (n *Nucleus) startHealthLoop() {
	interval := n.config.GetDuration("health.interval", defaultHealthInterval)
	ctx, cancel := context.WithCancel(context.Background())
	n.healthCancel = cancel

	n.healthWg.Add(1)
	go func() {
		defer n.healthWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.checkHealth(ctx)
			}
		}
	}()
}

// checkHealth probes every live module once.
func (n *Nucleus) checkHealth(ctx context.Context) {
	for name, runner := range n.runnerSnapshot() {
		if runner.HealthCheck() {
			continue
		}
		n.logger.Warn("Module unhealthy", "module", name, "state", runner.State())
		n.NotifyObservers(ctx, NewCloudEvent(EventTypeHealthDegraded, "nucleus",
			map[string]interface{}{"module": name, "state": string(runner.State())}, nil))
	}
}

// runnerSnapshot copies the live module table for iteration so module
// load/shutdown never mutates it underneath a health sweep.
func (n *Nucleus) runnerSnapshot() map[string]*ModuleRunner {
	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := make(map[string]*ModuleRunner, len(n.runners))
	for name, runner := range n.runners {
		snapshot[name] = runner
	}
	return snapshot
}

// Shutdown tears the system down: stop the health loop, shut modules
// down in reverse load order (per-module failures logged, never aborting
// the rest), then disconnect the bus.
func (n *Nucleus) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.state != NucleusRunning {
		n.mu.Unlock()
		return ErrNucleusNotRunning
	}
	n.state = NucleusStopped
	order := make([]string, len(n.loadOrder))
	copy(order, n.loadOrder)
	n.mu.Unlock()

	if err := n.bus.Publish(ctx, ChannelSystemShutdown, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		n.logger.Debug("Failed to publish shutdown announcement", "error", err)
	}

	if n.healthCancel != nil {
		n.healthCancel()
		n.healthWg.Wait()
	}
	if n.watcher != nil {
		n.watcher.Stop()
		n.watcher = nil
	}
	if n.diag != nil {
		n.diag.Stop(ctx)
		n.diag = nil
	}

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		n.mu.Lock()
		runner := n.runners[name]
		n.mu.Unlock()
		if runner == nil {
			continue
		}
		if err := runner.Shutdown(ctx); err != nil {
			n.logger.Error("Module shutdown failed", "module", name, "error", err)
		}
		n.NotifyObservers(ctx, NewCloudEvent(EventTypeModuleStopped, "nucleus",
			map[string]interface{}{"module": name}, nil))
	}

	err := n.bus.Disconnect(ctx)
	n.NotifyObservers(ctx, NewCloudEvent(EventTypeNucleusStopped, "nucleus", nil, nil))
	n.logger.Info("Nucleus stopped")
	return err
}

// Run boots the nucleus and blocks until the context is cancelled or a
// termination signal arrives, then shuts down.
func (n *Nucleus) Run(ctx context.Context) error {
	if err := n.Boot(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		n.logger.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		n.logger.Info("Context cancelled, shutting down")
	}

	return n.Shutdown(context.Background())
}
