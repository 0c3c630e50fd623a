package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Engine)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, 1000, cfg.AuditLimit)
	assert.Equal(t, 64, cfg.BufferSize)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBackoff)
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Engine:           "redis",
		HistoryLimit:     10,
		AuditLimit:       20,
		BufferSize:       8,
		ReconnectBackoff: time.Second,
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "redis", cfg.Engine)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.Equal(t, 20, cfg.AuditLimit)
	assert.Equal(t, 8, cfg.BufferSize)
	assert.Equal(t, time.Second, cfg.ReconnectBackoff)
}

func TestConfigRejectsUnknownEngine(t *testing.T) {
	cfg := &Config{Engine: "zeromq"}
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownEngine)
}
