package lotus

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/golobby/cast"
)

// ConfigFeeder populates a configuration map from some source (file,
// environment, literal values). Feeders run in registration order, so
// later feeders override earlier ones for the same key.
type ConfigFeeder interface {
	Feed(target map[string]interface{}) error
}

// Config is the opaque key-value configuration accessor consumed by the
// core and handed to every module. Keys are dotted paths into nested
// mappings ("bus.history_limit"). Reads are lock-free after construction;
// the map is never mutated once built.
type Config struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewConfig builds a Config by running every feeder in order. A feeder
// error aborts construction with ErrConfigInvalid; bad configuration is
// fatal at boot.
func NewConfig(feeders ...ConfigFeeder) (*Config, error) {
	values := make(map[string]interface{})
	for _, f := range feeders {
		if err := f.Feed(values); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}
	return &Config{values: values}, nil
}

// NewConfigFromMap wraps an already-built configuration map. Used by tests
// and by callers embedding the nucleus.
func NewConfigFromMap(values map[string]interface{}) *Config {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Config{values: values}
}

// Get returns the value at the dotted key, or def when the key or any
// intermediate mapping is absent.
func (c *Config) Get(key string, def interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var current interface{} = c.values
	for _, segment := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return def
		}
		current, ok = m[segment]
		if !ok {
			return def
		}
	}
	return current
}

// GetString returns the value at key coerced to a string.
func (c *Config) GetString(key string, def string) string {
	value := c.Get(key, def)
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// GetInt returns the value at key coerced to an int. Strings are parsed;
// uncoercible values fall back to def.
func (c *Config) GetInt(key string, def int) int {
	value := c.Get(key, def)
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	converted, err := cast.FromType(fmt.Sprint(value), reflect.TypeOf(0))
	if err != nil {
		return def
	}
	return converted.(int)
}

// GetBool returns the value at key coerced to a bool.
func (c *Config) GetBool(key string, def bool) bool {
	value := c.Get(key, def)
	if b, ok := value.(bool); ok {
		return b
	}
	converted, err := cast.FromType(fmt.Sprint(value), reflect.TypeOf(false))
	if err != nil {
		return def
	}
	return converted.(bool)
}

// GetDuration returns the value at key as a time.Duration. Accepts
// duration strings ("30s") and numeric seconds.
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	value := c.Get(key, nil)
	switch v := value.(type) {
	case nil:
		return def
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Sub returns the mapping at key as a new Config, or an empty Config when
// the key is absent or not a mapping. Used to hand modules their manifest
// config sections through the same accessor type.
func (c *Config) Sub(key string) *Config {
	value := c.Get(key, nil)
	if m, ok := value.(map[string]interface{}); ok {
		return NewConfigFromMap(m)
	}
	return NewConfigFromMap(nil)
}
