package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ModelID, cfg.ModelID)
	assert.Equal(t, DefaultConfig().MaxIterations, cfg.MaxIterations)
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("region: eu-west-1\nmax_iterations: 5\nmodel_timeout: 30s\nsurface_transient_tool_errors: true\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.ModelTimeout)
	assert.True(t, cfg.SurfaceTransientToolErrors)
	// Untouched keys keep defaults.
	assert.Equal(t, DefaultConfig().MaxTokens, cfg.MaxTokens)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: eu-west-1\n"), 0o600))
	t.Setenv("GITSCOUT_REGION", "ap-southeast-2")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-2", cfg.Region)
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temperature: 3.0\n"), 0o600))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}
