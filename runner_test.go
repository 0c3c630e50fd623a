package lotus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

func startRunner(t *testing.T, module Module, desc *ModuleDescriptor, logger *recordingLogger) (*ModuleRunner, *eventbus.EventBus) {
	t.Helper()
	bus := newTestRunnerBus(t, logger)
	runner := NewModuleRunner(desc, module, newTestModuleContext(desc, bus, logger))
	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })
	return runner, bus
}

func TestRunnerLifecycleTransitions(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{name: "memory"}
	desc := descriptorNamed("memory")

	bus := newTestRunnerBus(t, logger)
	runner := NewModuleRunner(desc, module, newTestModuleContext(desc, bus, logger))
	assert.Equal(t, StateConstructed, runner.State())

	require.NoError(t, runner.Start(context.Background()))
	assert.Equal(t, StateRunning, runner.State())
	assert.True(t, module.initialized())
	assert.True(t, runner.Enabled())
	assert.False(t, runner.LastHeartbeat().IsZero())

	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, runner.State())
	assert.True(t, module.wasShutdown())
	assert.False(t, runner.Enabled())
}

func TestRunnerStartTwiceFails(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{name: "memory"}
	runner, _ := startRunner(t, module, descriptorNamed("memory"), logger)

	err := runner.Start(context.Background())
	assert.ErrorIs(t, err, ErrModuleAlreadyLoaded)
}

func TestRunnerInitFailureNeverSubscribes(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{
		name:    "broken",
		initErr: errors.New("missing backend"),
		subscriptions: []HandlerRegistration{
			{Pattern: "a.*", Name: "handle_a", Handler: func(ctx context.Context, e eventbus.Event) error { return nil }},
		},
	}
	desc := descriptorNamed("broken")

	bus := newTestRunnerBus(t, logger)
	runner := NewModuleRunner(desc, module, newTestModuleContext(desc, bus, logger))

	err := runner.Start(context.Background())
	var loadErr *ModuleLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "broken", loadErr.Module)
	assert.Equal(t, "init", loadErr.Phase)

	assert.Equal(t, StateStopped, runner.State())
	assert.Empty(t, bus.Patterns(), "a failed module must leave no bus registrations")
}

func TestRunnerExplicitSubscriptions(t *testing.T) {
	logger := &recordingLogger{}
	received := make(chan eventbus.Event, 1)
	module := &stubModule{
		name: "perception",
		subscriptions: []HandlerRegistration{
			{Pattern: "screen.*", Name: "on_screen", Handler: func(ctx context.Context, e eventbus.Event) error {
				received <- e
				return nil
			}},
		},
	}
	_, bus := startRunner(t, module, descriptorNamed("perception"), logger)

	require.NoError(t, bus.Publish(context.Background(), "screen.changed", "frame"))
	select {
	case event := <-received:
		assert.Equal(t, "screen.changed", event.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestRunnerManifestSubscriptionsResolve(t *testing.T) {
	logger := &recordingLogger{}
	received := make(chan eventbus.Event, 1)
	module := &stubModule{
		name: "memory",
		handlers: map[string]eventbus.Handler{
			"on_conversation": func(ctx context.Context, e eventbus.Event) error {
				received <- e
				return nil
			},
		},
	}
	desc := descriptorNamed("memory")
	desc.Subscriptions = []SubscriptionSpec{
		{Pattern: "conversation.*", Handler: "on_conversation"},
		{Pattern: "other.*", Handler: "no_such_handler"},
	}
	_, bus := startRunner(t, module, desc, logger)

	require.NoError(t, bus.Publish(context.Background(), "conversation.turn", "hi"))
	select {
	case event := <-received:
		assert.Equal(t, "conversation.turn", event.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("manifest handler was not invoked")
	}

	// The unresolvable name was skipped with a warning, not an error.
	assert.True(t, logger.hasMessage("warn", "Manifest handler not found on module"))
	assert.Equal(t, 1, bus.SubscriberCount("conversation.*"))
	assert.Equal(t, 0, bus.SubscriberCount("other.*"))
}

func TestRunnerManifestSubscriptionsWithoutResolver(t *testing.T) {
	logger := &recordingLogger{}
	module := &bareModule{name: "plain"}
	desc := descriptorNamed("plain")
	desc.Subscriptions = []SubscriptionSpec{{Pattern: "a.*", Handler: "on_a"}}
	_, bus := startRunner(t, module, desc, logger)

	assert.True(t, logger.hasMessage("warn", "Manifest declares subscriptions but module resolves no handlers"))
	assert.Equal(t, 0, bus.SubscriberCount("a.*"))
}

func TestRunnerHandlerErrorIsContained(t *testing.T) {
	logger := &recordingLogger{}
	invoked := make(chan struct{}, 2)
	module := &stubModule{
		name: "flaky",
		subscriptions: []HandlerRegistration{
			{Pattern: "evt.*", Name: "fails", Handler: func(ctx context.Context, e eventbus.Event) error {
				invoked <- struct{}{}
				return errors.New("handler failure")
			}},
		},
	}
	runner, bus := startRunner(t, module, descriptorNamed("flaky"), logger)

	require.NoError(t, bus.Publish(context.Background(), "evt.x", 1))
	<-invoked
	require.NoError(t, bus.Publish(context.Background(), "evt.y", 2))
	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("handler stopped being invoked after an error")
	}

	assert.Equal(t, StateRunning, runner.State())
	assert.Eventually(t, func() bool {
		return logger.hasMessage("error", "Event handler failed")
	}, time.Second, 10*time.Millisecond)
}

func TestRunnerPeriodicTaskErrorContinues(t *testing.T) {
	logger := &recordingLogger{}
	var ticks atomic.Int64
	module := &stubModule{
		name: "scheduler",
		tasks: []PeriodicTask{
			{Name: "consolidate", Interval: 20 * time.Millisecond, Task: func(ctx context.Context) error {
				ticks.Add(1)
				return errors.New("tick failed")
			}},
		},
	}
	startRunner(t, module, descriptorNamed("scheduler"), logger)

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 },
		2*time.Second, 10*time.Millisecond,
		"a failing tick must not stop the task loop")
	assert.True(t, logger.hasMessage("error", "Periodic task failed"))
}

func TestRunnerPeriodicTaskStopsAtShutdown(t *testing.T) {
	logger := &recordingLogger{}
	var ticks atomic.Int64
	module := &stubModule{
		name: "scheduler",
		tasks: []PeriodicTask{
			{Name: "sweep", Interval: 10 * time.Millisecond, Task: func(ctx context.Context) error {
				ticks.Add(1)
				return nil
			}},
		},
	}
	bus := newTestRunnerBus(t, logger)
	desc := descriptorNamed("scheduler")
	runner := NewModuleRunner(desc, module, newTestModuleContext(desc, bus, logger))
	require.NoError(t, runner.Start(context.Background()))

	assert.Eventually(t, func() bool { return ticks.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, runner.Shutdown(context.Background()))

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load(), "no tick may run after shutdown")
}

func TestRunnerPeriodicTaskBadScheduleSkipped(t *testing.T) {
	logger := &recordingLogger{}
	var ticks atomic.Int64
	module := &stubModule{
		name: "scheduler",
		tasks: []PeriodicTask{
			{Name: "cron_task", Schedule: "not a cron expr", Task: func(ctx context.Context) error {
				ticks.Add(1)
				return nil
			}},
		},
	}
	startRunner(t, module, descriptorNamed("scheduler"), logger)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ticks.Load())
	assert.True(t, logger.hasMessage("error", "Invalid cron schedule for periodic task"))
}

func TestRunnerHealthCheck(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{name: "memory"}
	runner, _ := startRunner(t, module, descriptorNamed("memory"), logger)

	before := runner.LastHeartbeat()
	time.Sleep(5 * time.Millisecond)
	assert.True(t, runner.HealthCheck())
	assert.True(t, runner.LastHeartbeat().After(before), "a probe refreshes the heartbeat")

	require.NoError(t, runner.Shutdown(context.Background()))
	stopped := runner.LastHeartbeat()
	time.Sleep(5 * time.Millisecond)
	assert.False(t, runner.HealthCheck())
	assert.True(t, runner.LastHeartbeat().After(stopped),
		"an unhealthy probe still records when the module was checked")
}

func TestRunnerReadyAnnouncement(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{name: "memory"}
	_, bus := startRunner(t, module, descriptorNamed("memory"), logger)

	history := bus.History(ChannelModuleReady, 10)
	require.Len(t, history, 1)
	payload, ok := history[0].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "memory", payload["module"])
}

func TestRunnerShutdownUnsubscribes(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{
		name: "memory",
		subscriptions: []HandlerRegistration{
			{Pattern: "a.*", Name: "h", Handler: func(ctx context.Context, e eventbus.Event) error { return nil }},
		},
	}
	bus := newTestRunnerBus(t, logger)
	desc := descriptorNamed("memory")
	runner := NewModuleRunner(desc, module, newTestModuleContext(desc, bus, logger))
	require.NoError(t, runner.Start(context.Background()))
	assert.Equal(t, 1, bus.SubscriberCount("a.*"))

	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, 0, bus.SubscriberCount("a.*"))
}

func TestRunnerShutdownIdempotent(t *testing.T) {
	logger := &recordingLogger{}
	module := &stubModule{name: "memory"}
	runner, _ := startRunner(t, module, descriptorNamed("memory"), logger)

	require.NoError(t, runner.Shutdown(context.Background()))
	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, runner.State())
}
