package eventbus

import "time"

// Config defines the configuration for the event bus.
type Config struct {
	// Engine selects the transport implementation.
	// Supported values: "memory", "redis". Default: "memory".
	Engine string `json:"engine" yaml:"engine"`

	// HistoryLimit is the maximum number of events retained per channel in
	// the durable history. Oldest entries are evicted once the limit is
	// exceeded. Must be at least 1.
	HistoryLimit int `json:"historyLimit" yaml:"historyLimit"`

	// AuditLimit is the maximum number of entries in the global audit log
	// capturing every message that flows through the bus.
	AuditLimit int `json:"auditLimit" yaml:"auditLimit"`

	// BufferSize is the buffer of the raw message channel between the
	// transport and the delivery loop.
	BufferSize int `json:"bufferSize" yaml:"bufferSize"`

	// ReconnectBackoff is the fixed delay before the single reconnect
	// attempt after a fatal delivery-loop error.
	ReconnectBackoff time.Duration `json:"reconnectBackoff" yaml:"reconnectBackoff"`

	// Redis holds redis-engine specific settings, ignored by other engines.
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds redis-specific configuration.
type RedisConfig struct {
	URL      string `json:"url" yaml:"url"`
	DB       int    `json:"db" yaml:"db"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	PoolSize int    `json:"poolSize" yaml:"poolSize"`
}

// Validate applies defaults for unset fields. It never fails for a
// recognized engine.
func (c *Config) Validate() error {
	if c.Engine == "" {
		c.Engine = "memory"
	}
	if c.Engine != "memory" && c.Engine != "redis" {
		return ErrUnknownEngine
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.AuditLimit <= 0 {
		c.AuditLimit = 1000
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 2 * time.Second
	}
	return nil
}
