package lotus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DiscoveredModule pairs a descriptor with the factory that constructs
// its implementation. Discovery produces these pairs; the nucleus owns
// the only live table of constructed instances.
type DiscoveredModule struct {
	Descriptor *ModuleDescriptor
	Factory    ModuleFactory
}

// Discover scans the given module-category locations for directories
// containing both a manifest and a registered implementation factory.
// Directories missing either are skipped silently. Subdirectories are
// visited in sorted name order within each root, and roots in the given
// order, so discovery order is deterministic across runs.
//
// A malformed manifest is coerced to defaults with a warning; a duplicate
// module name is skipped with a warning. Neither aborts discovery.
func Discover(roots []string, factories *FactoryRegistry, logger Logger) ([]*DiscoveredModule, error) {
	var discovered []*DiscoveredModule
	seen := make(map[string]string) // module name -> directory

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Debug("Module location does not exist, skipping", "path", root)
				continue
			}
			return nil, fmt.Errorf("failed to scan module location %s: %w", root, err)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			dir := filepath.Join(root, name)
			desc, err := LoadManifest(dir, logger)
			if err != nil {
				logger.Debug("Skipping directory without manifest", "path", dir)
				continue
			}

			factory, ok := factories.Lookup(desc.Name)
			if !ok {
				logger.Debug("Skipping module without registered factory",
					"module", desc.Name, "path", dir)
				continue
			}

			if first, dup := seen[desc.Name]; dup {
				logger.Warn("Duplicate module name, keeping first discovery",
					"module", desc.Name, "kept", first, "skipped", dir)
				continue
			}
			seen[desc.Name] = dir

			discovered = append(discovered, &DiscoveredModule{Descriptor: desc, Factory: factory})
			logger.Debug("Discovered module",
				"module", desc.Name, "version", desc.Version, "type", desc.Type, "path", dir)
		}
	}

	return discovered, nil
}
