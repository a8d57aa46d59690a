package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", config.serverPort())
	assert.Equal(t, "nats://localhost:4222", config.natsURL())
	assert.Equal(t, "TIMER_EVENTS", config.natsStream())
	assert.Equal(t, 30*time.Second, config.pingInterval())
	assert.Equal(t, 60*time.Second, config.readTimeout())
}

func TestLoadConfigYamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
nats:
  url: nats://bus:4222
  stream_name: TIMER_EVENTS_TEST
gateway:
  ping_interval_sec: 10
  read_timeout_sec: 25
`), 0o644))

	config, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", config.serverPort())
	assert.Equal(t, "nats://bus:4222", config.natsURL())
	assert.Equal(t, "TIMER_EVENTS_TEST", config.natsStream())
	assert.Equal(t, 10*time.Second, config.pingInterval())
	assert.Equal(t, 25*time.Second, config.readTimeout())
}

func TestConfigEnvFallbacks(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("GATEWAY_PING_INTERVAL_SEC", "15")
	t.Setenv("GATEWAY_READ_TIMEOUT_SEC", "not-a-number")

	var config Config
	assert.Equal(t, "7070", config.serverPort())
	assert.Equal(t, "nats://env:4222", config.natsURL())
	assert.Equal(t, 15*time.Second, config.pingInterval())
	// Unparseable env values fall back to the built-in default.
	assert.Equal(t, 60*time.Second, config.readTimeout())
}

func TestLoadConfigRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}
