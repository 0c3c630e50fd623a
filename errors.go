package lotus

import (
	"errors"
	"fmt"
	"strings"
)

// Nucleus errors
var (
	// Configuration errors
	ErrConfigInvalid      = errors.New("configuration is invalid")
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// Discovery and manifest errors
	ErrManifestNotFound   = errors.New("module manifest not found")
	ErrFactoryNil         = errors.New("module factory cannot be nil")
	ErrModuleConstruction = errors.New("module factory returned nil module")

	// Lifecycle errors
	ErrModuleNotInitialized = errors.New("module not initialized")
	ErrModuleAlreadyLoaded  = errors.New("module already loaded")
	ErrNucleusNotRunning    = errors.New("nucleus is not running")
	ErrNucleusAlreadyBooted = errors.New("nucleus already booted")

	// Watcher errors
	ErrNoWatchableLocations = errors.New("no module location could be watched")

	// Tool invocation errors
	ErrToolNotFound   = errors.New("tool not found")
	ErrToolFuncNil    = errors.New("tool function cannot be nil")
	ErrToolTimeout    = errors.New("tool invocation timed out")
	ErrCapabilityGone = errors.New("capability unavailable")
)

// CircularDependencyError is returned by the resolver when the module
// dependency graph contains a cycle. It names every module that could not
// be placed in the load order so operators can see the full cycle, not
// just the first node encountered.
type CircularDependencyError struct {
	// Unresolved contains the names of all modules left out of the
	// computed order, in discovery order.
	Unresolved []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected among modules: %s", strings.Join(e.Unresolved, ", "))
}

// ModuleLoadError records a per-module load failure. These are collected by
// the nucleus during boot; they never abort loading of the remaining modules.
type ModuleLoadError struct {
	Module string
	Phase  string // "construct", "init", "subscribe"
	Err    error
}

func (e *ModuleLoadError) Error() string {
	return fmt.Sprintf("module %q failed during %s: %v", e.Module, e.Phase, e.Err)
}

func (e *ModuleLoadError) Unwrap() error {
	return e.Err
}
