package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, "heuristic", cfg.Scorer)
	assert.False(t, cfg.MemoryOnly())
	assert.Equal(t, DefaultDatabasePath, cfg.DSN())
}

func TestLoadFromEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SYNCBRIDGE_LISTEN_ADDR", ":9999")
	t.Setenv("SYNCBRIDGE_DATABASE_PATH", "memory")
	t.Setenv("SYNCBRIDGE_SCORER", "genai")
	t.Setenv("SYNCBRIDGE_API_TOKEN", "sekrit")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "genai", cfg.Scorer)
	assert.Equal(t, "sekrit", cfg.APIToken)
	assert.True(t, cfg.MemoryOnly())
	assert.Equal(t, "file::memory:?cache=shared", cfg.DSN())
}

func TestAPIKeyFallbackBindings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	// Unprefixed names commonly found in .env files still bind.
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("REGISTRY_TOKEN", "reg-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gm-key", cfg.GeminiAPIKey)
	assert.Equal(t, "reg-token", cfg.RegistryToken)
}

func TestUpdateFromFlags(t *testing.T) {
	cfg := &Config{Output: "table"}

	cfg.UpdateFromFlags(true, false, true, "json")
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "json", cfg.Output)

	// Empty output keeps the previous value.
	cfg.UpdateFromFlags(false, true, false, "")
	assert.Equal(t, "json", cfg.Output)
	assert.True(t, cfg.Quiet)
}
