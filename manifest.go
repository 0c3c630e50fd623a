package lotus

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the declarative descriptor file expected in every
// module directory.
const ManifestFileName = "manifest.yaml"

// ModuleType classifies a module's role within the runtime.
type ModuleType string

const (
	// ModuleTypeCore identifies modules the runtime treats as foundational.
	ModuleTypeCore ModuleType = "core"
	// ModuleTypeCapability identifies feature modules. This is the default.
	ModuleTypeCapability ModuleType = "capability"
	// ModuleTypeIntegration identifies modules bridging external systems.
	ModuleTypeIntegration ModuleType = "integration"
)

// ModulePriority is an advisory importance marker. It does not affect
// load order, which is determined solely by declared dependencies.
type ModulePriority string

const (
	PriorityCritical ModulePriority = "critical"
	PriorityHigh     ModulePriority = "high"
	PriorityNormal   ModulePriority = "normal"
	PriorityLow      ModulePriority = "low"
)

// Default descriptor values applied when manifest fields are missing or
// malformed. A malformed manifest is reported as a warning, never a hard
// discovery failure.
const (
	DefaultVersion  = "0.0.0"
	DefaultType     = ModuleTypeCapability
	DefaultPriority = PriorityNormal
)

// SubscriptionSpec is a statically declared event subscription: a channel
// pattern paired with the name of a handler the module implementation
// resolves at init time.
type SubscriptionSpec struct {
	Pattern string `yaml:"pattern"`
	Handler string `yaml:"handler"`
}

// ModuleDescriptor is the static description of a module, read once at
// discovery from its manifest file. Name uniqueness across all discovered
// modules is enforced by the discovery step.
type ModuleDescriptor struct {
	// Name is the unique module identifier, derived from the module's
	// directory name when the manifest omits it.
	Name string

	// Version is a semantic version string, informational only.
	Version string

	// Type classifies the module (core, capability, integration).
	Type ModuleType

	// Priority is advisory and does not influence load order.
	Priority ModulePriority

	// Dependencies lists module names that must load before this one.
	Dependencies []string

	// Subscriptions are statically declared handler bindings, applied in
	// addition to any registrations the implementation returns at init.
	Subscriptions []SubscriptionSpec

	// Publications lists channels the module intends to publish on.
	// Informational; the bus does not enforce it.
	Publications []string

	// Path is the directory the manifest was loaded from.
	Path string

	// Extra holds manifest sections the core does not interpret
	// (providers, memory, capabilities, module-specific config). They are
	// exposed to the module implementation through its context.
	Extra map[string]interface{}
}

// manifestShape mirrors the well-formed manifest layout. Parsing never
// relies on it exclusively: malformed sections degrade field by field.
type manifestShape struct {
	Name          string             `yaml:"name"`
	Version       string             `yaml:"version"`
	Type          string             `yaml:"type"`
	Priority      string             `yaml:"priority"`
	Dependencies  yaml.Node          `yaml:"dependencies"`
	Subscriptions []SubscriptionSpec `yaml:"subscriptions"`
	Publications  []string           `yaml:"publications"`
}

// LoadManifest reads and parses the manifest in dir, coercing malformed
// fields to safe defaults. The returned descriptor always has a non-empty
// name (falling back to the directory base name), a version, a type, and a
// priority. Only a missing or unreadable file yields an error; a file with
// bad shape never does.
func LoadManifest(dir string, logger Logger) (*ModuleDescriptor, error) {
	path := filepath.Join(dir, ManifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
	}
	return parseManifest(raw, dir, logger), nil
}

// parseManifest turns raw manifest bytes into a descriptor. It is total:
// any input shape produces a usable descriptor plus warnings.
func parseManifest(raw []byte, dir string, logger Logger) *ModuleDescriptor {
	fallbackName := filepath.Base(dir)

	desc := &ModuleDescriptor{
		Name:     fallbackName,
		Version:  DefaultVersion,
		Type:     DefaultType,
		Priority: DefaultPriority,
		Path:     dir,
	}

	// The root must be a mapping. A bare list, scalar, or unparseable
	// document is coerced to an all-defaults descriptor.
	var root map[string]interface{}
	if err := yaml.Unmarshal(raw, &root); err != nil {
		logger.Warn("Manifest root is not a mapping, using defaults",
			"module", fallbackName, "path", dir, "error", err)
		return desc
	}
	if root == nil {
		logger.Warn("Manifest is empty, using defaults", "module", fallbackName, "path", dir)
		return desc
	}

	var shape manifestShape
	if err := yaml.Unmarshal(raw, &shape); err != nil {
		logger.Warn("Manifest fields have unexpected shapes, using defaults where needed",
			"module", fallbackName, "path", dir, "error", err)
	}

	if shape.Name != "" {
		desc.Name = shape.Name
	}
	if shape.Version != "" {
		desc.Version = shape.Version
	}
	desc.Type = coerceType(shape.Type, desc.Name, logger)
	desc.Priority = coercePriority(shape.Priority, desc.Name, logger)
	desc.Dependencies = coerceDependencies(&shape.Dependencies, desc.Name, logger)
	desc.Subscriptions = shape.Subscriptions
	desc.Publications = shape.Publications
	desc.Extra = extraSections(root)

	return desc
}

// coerceType validates the manifest type field, defaulting on anything
// unrecognized.
func coerceType(value string, module string, logger Logger) ModuleType {
	switch ModuleType(value) {
	case ModuleTypeCore, ModuleTypeCapability, ModuleTypeIntegration:
		return ModuleType(value)
	case "":
		return DefaultType
	default:
		logger.Warn("Unknown module type in manifest, defaulting",
			"module", module, "type", value, "default", DefaultType)
		return DefaultType
	}
}

// coercePriority validates the manifest priority field, defaulting on
// anything unrecognized.
func coercePriority(value string, module string, logger Logger) ModulePriority {
	switch ModulePriority(value) {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return ModulePriority(value)
	case "":
		return DefaultPriority
	default:
		logger.Warn("Unknown module priority in manifest, defaulting",
			"module", module, "priority", value, "default", DefaultPriority)
		return DefaultPriority
	}
}

// coerceDependencies extracts dependencies.modules. The well-formed shape
// is a mapping with a "modules" list; a list-shaped or otherwise malformed
// dependencies section is coerced to empty with a warning.
func coerceDependencies(node *yaml.Node, module string, logger Logger) []string {
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}

	if node.Kind != yaml.MappingNode {
		logger.Warn("Manifest dependencies is not a mapping, ignoring",
			"module", module)
		return nil
	}

	var deps struct {
		Modules yaml.Node `yaml:"modules"`
	}
	if err := node.Decode(&deps); err != nil {
		logger.Warn("Manifest dependencies section malformed, ignoring",
			"module", module, "error", err)
		return nil
	}
	if deps.Modules.Kind == 0 || deps.Modules.Tag == "!!null" {
		return nil
	}
	if deps.Modules.Kind != yaml.SequenceNode {
		logger.Warn("Manifest dependencies.modules is not a list, ignoring",
			"module", module)
		return nil
	}

	var names []string
	if err := deps.Modules.Decode(&names); err != nil {
		logger.Warn("Manifest dependencies.modules entries malformed, ignoring",
			"module", module, "error", err)
		return nil
	}

	// Drop empty and duplicate entries while preserving declaration order.
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// extraSections collects manifest sections the core does not interpret.
func extraSections(root map[string]interface{}) map[string]interface{} {
	coreKeys := map[string]bool{
		"name": true, "version": true, "type": true, "priority": true,
		"dependencies": true, "subscriptions": true, "publications": true,
	}
	extra := make(map[string]interface{})
	for key, value := range root {
		if !coreKeys[key] {
			extra[key] = value
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}
