package lotus

// Core-reserved lifecycle channels. Module channels follow the same
// dot-separated convention grouped by origin (perception.*, cognition.*,
// memory.*, llm.*, tool.*).
const (
	// ChannelSystemReady carries the boot summary once all modules have
	// been loaded and the nucleus is running.
	ChannelSystemReady = "system.ready"

	// ChannelModuleReady announces each module as it finishes loading.
	ChannelModuleReady = "system.module.ready"

	// ChannelSystemShutdown announces the start of nucleus shutdown.
	ChannelSystemShutdown = "system.shutdown"

	// ChannelManifestChanged announces a detected change under a watched
	// module directory. Informational; the nucleus does not hot-reload.
	ChannelManifestChanged = "system.manifest.changed"

	// toolRequestPrefix prefixes per-module tool invocation channels:
	// tool.request.<module>.
	toolRequestPrefix = "tool.request."

	// toolResponsePrefix prefixes per-invocation response channels.
	toolResponsePrefix = "tool.response."
)
