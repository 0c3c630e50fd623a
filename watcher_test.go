package lotus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/LOTUS-sub001/eventbus"
)

func TestManifestWatcherPublishesChanges(t *testing.T) {
	logger := &recordingLogger{}
	bus := newTestRunnerBus(t, logger)

	root := t.TempDir()
	moduleDir := filepath.Join(root, "memory")
	writeManifest(t, moduleDir, "name: memory\n")

	changes := make(chan eventbus.Event, 4)
	_, err := bus.Subscribe(context.Background(), ChannelManifestChanged,
		func(ctx context.Context, e eventbus.Event) error {
			changes <- e
			return nil
		})
	require.NoError(t, err)

	watcher := newManifestWatcher([]string{root}, bus, logger)
	require.NoError(t, watcher.Start())
	t.Cleanup(watcher.Stop)

	require.NoError(t, os.WriteFile(
		filepath.Join(moduleDir, ManifestFileName), []byte("name: memory\nversion: 2.0.0\n"), 0o644))

	select {
	case event := <-changes:
		payload, ok := event.Payload.(map[string]interface{})
		require.True(t, ok)
		path, _ := payload["path"].(string)
		assert.Contains(t, path, ManifestFileName)
	case <-time.After(3 * time.Second):
		t.Fatal("manifest change was never published")
	}
}

func TestManifestWatcherIgnoresOtherFiles(t *testing.T) {
	logger := &recordingLogger{}
	bus := newTestRunnerBus(t, logger)

	root := t.TempDir()
	changes := make(chan eventbus.Event, 1)
	_, err := bus.Subscribe(context.Background(), ChannelManifestChanged,
		func(ctx context.Context, e eventbus.Event) error {
			changes <- e
			return nil
		})
	require.NoError(t, err)

	watcher := newManifestWatcher([]string{root}, bus, logger)
	require.NoError(t, watcher.Start())
	t.Cleanup(watcher.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("scratch"), 0o644))

	select {
	case <-changes:
		t.Fatal("non-manifest file change was published")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestManifestWatcherNoWatchableLocations(t *testing.T) {
	logger := &recordingLogger{}
	bus := newTestRunnerBus(t, logger)

	watcher := newManifestWatcher([]string{"/nonexistent/a", "/nonexistent/b"}, bus, logger)
	err := watcher.Start()
	assert.ErrorIs(t, err, ErrNoWatchableLocations)
	watcher.Stop()
}
