package lotus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

// recordingLogger captures log calls so tests can assert on warnings the
// coercion and resolution paths emit.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) hasMessage(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

// stubModule is a configurable module implementation covering every
// optional interface.
type stubModule struct {
	name        string
	initErr     error
	shutdownErr error

	subscriptions []HandlerRegistration
	tasks         []PeriodicTask
	tools         []Tool
	handlers      map[string]eventbus.Handler

	mu           sync.Mutex
	initCount    int
	shutdownDone bool
	mc           *ModuleContext
}

func (m *stubModule) Name() string { return m.name }

func (m *stubModule) Init(ctx context.Context, mc *ModuleContext) error {
	m.mu.Lock()
	m.initCount++
	m.mc = mc
	m.mu.Unlock()
	return m.initErr
}

func (m *stubModule) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdownDone = true
	m.mu.Unlock()
	return m.shutdownErr
}

func (m *stubModule) Subscriptions() []HandlerRegistration { return m.subscriptions }
func (m *stubModule) PeriodicTasks() []PeriodicTask        { return m.tasks }
func (m *stubModule) Tools() []Tool                        { return m.tools }

func (m *stubModule) ResolveHandler(name string) (eventbus.Handler, bool) {
	h, ok := m.handlers[name]
	return h, ok
}

func (m *stubModule) initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCount > 0
}

func (m *stubModule) wasShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownDone
}

// bareModule implements only the core Module interface.
type bareModule struct {
	name string
}

func (m *bareModule) Name() string { return m.name }

func (m *bareModule) Init(ctx context.Context, mc *ModuleContext) error { return nil }

func (m *bareModule) Shutdown(ctx context.Context) error { return nil }

// newTestRunnerBus creates a connected in-memory bus torn down with the test.
func newTestRunnerBus(t *testing.T, logger Logger) *eventbus.EventBus {
	t.Helper()
	bus, err := eventbus.New(&eventbus.Config{Engine: "memory"}, logger)
	require.NoError(t, err)
	require.NoError(t, bus.Connect(context.Background()))
	t.Cleanup(func() { _ = bus.Disconnect(context.Background()) })
	return bus
}

func newTestModuleContext(desc *ModuleDescriptor, bus *eventbus.EventBus, logger Logger) *ModuleContext {
	return &ModuleContext{
		Descriptor: desc,
		Bus:        bus,
		Config:     NewConfigFromMap(nil),
		Logger:     logger,
	}
}

func descriptorNamed(name string, deps ...string) *ModuleDescriptor {
	return &ModuleDescriptor{
		Name:         name,
		Version:      DefaultVersion,
		Type:         DefaultType,
		Priority:     DefaultPriority,
		Dependencies: deps,
	}
}

// writeManifest drops a manifest file into dir, creating the directory.
func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(content), 0o644))
}
