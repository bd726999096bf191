package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
sources:
  - name: tcp-in
    listen: "0.0.0.0:514"
    proxy_protocol: true
    destinations: [splunk]
destinations:
  - name: splunk
    backoff:
      initial: 1s
      maximum: 10s
      multiplier: 2
persist:
  path: /tmp/logcored-test.db
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logcored.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndParsesYAML(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "tcp-in", cfg.Sources[0].Name)
	assert.Equal(t, uint64(defaultWindowSize), cfg.Sources[0].WindowSize)
	assert.True(t, cfg.Sources[0].ProxyMode)
	assert.Equal(t, time.Second, cfg.Destinations[0].Backoff.Initial)
	assert.Equal(t, defaultFailureThresh, cfg.Destinations[0].Breaker.FailureThreshold)
	assert.Equal(t, "/tmp/logcored-test.db", cfg.Persist.Path)
	assert.Equal(t, defaultMetricsListen, cfg.Metrics.ListenAddr)
}

func TestLoadRejectsUnknownDestinationReference(t *testing.T) {
	path := writeTempConfig(t, `
sources:
  - name: tcp-in
    destinations: [does-not-exist]
destinations:
  - name: splunk
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsEmptyPipeline(t *testing.T) {
	path := writeTempConfig(t, "sources: []\ndestinations: []\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverridesWinOverFileAndDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	t.Setenv("LOGCORED_PERSIST_PATH", "/tmp/from-env.db")
	t.Setenv("LOGCORED_SHUTDOWN_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Persist.Path)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout)
}

func TestConfigFileFromEnvPrecedence(t *testing.T) {
	t.Setenv("LOGCORED_CONFIG_FILE", "/from/env.yaml")

	assert.Equal(t, "/from/flag.yaml", ConfigFileFromEnv("/from/flag.yaml", "/fallback.yaml"))
	assert.Equal(t, "/from/env.yaml", ConfigFileFromEnv("", "/fallback.yaml"))

	os.Unsetenv("LOGCORED_CONFIG_FILE")
	assert.Equal(t, "/fallback.yaml", ConfigFileFromEnv("", "/fallback.yaml"))
}
