package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, StoreInMemory, cfg.StoreBackend)
	require.Empty(t, cfg.APIKeys)
}

func TestLoadRejectsUnknownStoreBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "oracle")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesAPIKeysAndTimeouts(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEYS", "sk-aaa, sk-bbb ,sk-ccc")
	t.Setenv("RUN_TIMEOUT_SECONDS", "30")
	t.Setenv("MAX_ITERATIONS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"sk-aaa", "sk-bbb", "sk-ccc"}, cfg.APIKeys)
	require.Equal(t, int64(30), int64(cfg.RunTimeout.Seconds()))
	require.Equal(t, 5, cfg.MaxIterations)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "STORE_BACKEND", "SQL_DSN", "REDIS_ADDR", "REDIS_DB",
		"API_KEYS", "RUN_TIMEOUT_SECONDS", "MAX_ITERATIONS", "LOG_LEVEL",
		"LOG_FORMAT", "PROVIDERS_CONFIG",
	} {
		t.Setenv(k, "")
	}
	// PROVIDERS_CONFIG empty falls back to "providers.yaml" via
	// firstNonEmpty, which does not exist in the test's working directory,
	// so loadProviders takes the "file absent" branch deterministically.
}
