package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passrepo/depositorch/internal/config"
)

// envSnapshot saves and clears ORCH_ environment variables so tests don't
// bleed into each other or the host shell.
func envSnapshot(t *testing.T) func() {
	t.Helper()
	saved := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "ORCH_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		saved[parts[0]] = os.Getenv(parts[0])
		os.Unsetenv(parts[0])
	}
	return func() {
		for key, val := range saved {
			os.Setenv(key, val)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	defer envSnapshot(t)()

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkersConcurrency)
	assert.Equal(t, 4, cfg.ListenerConcurrency)
	assert.Equal(t, "depositorchd", cfg.HTTPAgent)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	defer envSnapshot(t)()
	os.Setenv("ORCH_WORKERS_CONCURRENCY", "16")
	os.Setenv("ORCH_HTTP_AGENT", "depositorchd-test/1.0")

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.WorkersConcurrency)
	assert.Equal(t, "depositorchd-test/1.0", cfg.HTTPAgent)
}
