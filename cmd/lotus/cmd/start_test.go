package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lotus "github.com/AetharaAI/LOTUS-sub001"
)

func TestLoadConfigMissingDefaultTolerated(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "lotus.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, "memory", config.GetString("bus.engine", "memory"))
}

func TestLoadConfigExplicitMissingFileFails(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "lotus.yaml"), true)
	assert.ErrorIs(t, err, lotus.ErrConfigFileNotFound)
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lotus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  engine: redis\n"), 0o644))

	config, err := loadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "redis", config.GetString("bus.engine", ""))
}
