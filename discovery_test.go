package lotus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubFactory(name string) ModuleFactory {
	return func(desc *ModuleDescriptor) (Module, error) {
		return &stubModule{name: name}, nil
	}
}

func TestDiscoverPairsManifestsWithFactories(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "memory"), "name: memory\nversion: 1.0.0\n")
	writeManifest(t, filepath.Join(root, "perception"), "name: perception\n")
	// A directory without a manifest is not a module.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	// A manifest without a registered factory is skipped.
	writeManifest(t, filepath.Join(root, "orphan"), "name: orphan\n")

	factories := NewFactoryRegistry()
	require.NoError(t, factories.Register("memory", stubFactory("memory")))
	require.NoError(t, factories.Register("perception", stubFactory("perception")))

	discovered, err := Discover([]string{root}, factories, &recordingLogger{})
	require.NoError(t, err)
	require.Len(t, discovered, 2)
	assert.Equal(t, "memory", discovered[0].Descriptor.Name)
	assert.Equal(t, "perception", discovered[1].Descriptor.Name)
	assert.NotNil(t, discovered[0].Factory)
}

func TestDiscoverDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		writeManifest(t, filepath.Join(root, name), "name: "+name+"\n")
	}

	factories := NewFactoryRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, factories.Register(name, stubFactory(name)))
	}

	discovered, err := Discover([]string{root}, factories, &recordingLogger{})
	require.NoError(t, err)
	names := make([]string, len(discovered))
	for i, dm := range discovered {
		names[i] = dm.Descriptor.Name
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestDiscoverDuplicateNameKeepsFirst(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeManifest(t, filepath.Join(rootA, "dir1"), "name: memory\nversion: 1.0.0\n")
	writeManifest(t, filepath.Join(rootB, "dir2"), "name: memory\nversion: 2.0.0\n")

	factories := NewFactoryRegistry()
	require.NoError(t, factories.Register("memory", stubFactory("memory")))

	logger := &recordingLogger{}
	discovered, err := Discover([]string{rootA, rootB}, factories, logger)
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.Equal(t, "1.0.0", discovered[0].Descriptor.Version)
	assert.True(t, logger.hasMessage("warn", "Duplicate module name, keeping first discovery"))
}

func TestDiscoverMissingLocationSkipped(t *testing.T) {
	discovered, err := Discover([]string{"/nonexistent/modules"}, NewFactoryRegistry(), &recordingLogger{})
	require.NoError(t, err)
	assert.Empty(t, discovered)
}

func TestFactoryRegistry(t *testing.T) {
	registry := NewFactoryRegistry()
	assert.ErrorIs(t, registry.Register("m", nil), ErrFactoryNil)

	require.NoError(t, registry.Register("m", stubFactory("m")))
	_, ok := registry.Lookup("m")
	assert.True(t, ok)
	_, ok = registry.Lookup("absent")
	assert.False(t, ok)
	assert.Equal(t, []string{"m"}, registry.Names())
}
