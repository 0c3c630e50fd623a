package lotus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapFeeder map[string]interface{}

func (f mapFeeder) Feed(target map[string]interface{}) error {
	for k, v := range f {
		target[k] = v
	}
	return nil
}

type failingFeeder struct{}

func (failingFeeder) Feed(map[string]interface{}) error {
	return errors.New("source unreadable")
}

func TestConfigDottedGet(t *testing.T) {
	cfg := NewConfigFromMap(map[string]interface{}{
		"bus": map[string]interface{}{
			"engine": "redis",
			"redis": map[string]interface{}{
				"url": "redis://localhost:6379",
			},
		},
	})

	assert.Equal(t, "redis", cfg.Get("bus.engine", nil))
	assert.Equal(t, "redis://localhost:6379", cfg.Get("bus.redis.url", nil))
	assert.Equal(t, "fallback", cfg.Get("bus.missing", "fallback"))
	assert.Equal(t, "fallback", cfg.Get("no.such.path", "fallback"))
	// Traversing through a scalar yields the default, not a panic.
	assert.Equal(t, "fallback", cfg.Get("bus.engine.deeper", "fallback"))
}

func TestConfigTypedGetters(t *testing.T) {
	cfg := NewConfigFromMap(map[string]interface{}{
		"limit":     "250",
		"threshold": 0.5,
		"verbose":   "true",
		"name":      "lotus",
		"count":     7,
	})

	assert.Equal(t, 250, cfg.GetInt("limit", 0))
	assert.Equal(t, 7, cfg.GetInt("count", 0))
	assert.Equal(t, 0, cfg.GetInt("threshold", 0))
	assert.Equal(t, 42, cfg.GetInt("absent", 42))
	assert.True(t, cfg.GetBool("verbose", false))
	assert.False(t, cfg.GetBool("absent", false))
	assert.Equal(t, "lotus", cfg.GetString("name", ""))
	assert.Equal(t, "7", cfg.GetString("count", ""))
}

func TestConfigGetDuration(t *testing.T) {
	cfg := NewConfigFromMap(map[string]interface{}{
		"as_string":  "1m30s",
		"as_seconds": 45,
		"as_float":   1.5,
		"garbage":    "soon",
	})

	assert.Equal(t, 90*time.Second, cfg.GetDuration("as_string", 0))
	assert.Equal(t, 45*time.Second, cfg.GetDuration("as_seconds", 0))
	assert.Equal(t, 1500*time.Millisecond, cfg.GetDuration("as_float", 0))
	assert.Equal(t, time.Minute, cfg.GetDuration("garbage", time.Minute))
	assert.Equal(t, time.Minute, cfg.GetDuration("absent", time.Minute))
}

func TestConfigFeederOrderLaterWins(t *testing.T) {
	cfg, err := NewConfig(
		mapFeeder{"engine": "memory", "keep": "me"},
		mapFeeder{"engine": "redis"},
	)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.GetString("engine", ""))
	assert.Equal(t, "me", cfg.GetString("keep", ""))
}

func TestConfigFeederFailureIsFatal(t *testing.T) {
	_, err := NewConfig(failingFeeder{})
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestConfigSub(t *testing.T) {
	cfg := NewConfigFromMap(map[string]interface{}{
		"module": map[string]interface{}{
			"providers": map[string]interface{}{
				"backend": "sqlite",
			},
		},
		"scalar": 3,
	})

	sub := cfg.Sub("module.providers")
	assert.Equal(t, "sqlite", sub.GetString("backend", ""))

	// Absent or non-mapping keys yield a usable empty view.
	assert.Equal(t, "d", cfg.Sub("missing").GetString("backend", "d"))
	assert.Equal(t, "d", cfg.Sub("scalar").GetString("backend", "d"))
}
