package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millpond/tailrace/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tailrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReadDefaults(t *testing.T) {
	conf, err := config.Read(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", conf.Logger.LogLevel)
	assert.Equal(t, "127.0.0.1:4048", conf.Metrics.Prometheus.Address)
	assert.Equal(t, 1024, conf.EventChannelDepth)
	assert.Equal(t, "127.0.0.1:8125", conf.Inputs.Statsd.Address)
	assert.Equal(t, "127.0.0.1:2003", conf.Inputs.Graphite.Address)
	assert.False(t, conf.Sinks.Console.Enabled)
	assert.False(t, conf.Sinks.Kafka.Enabled)
}

func TestReadFull(t *testing.T) {
	conf, err := config.Read(writeConfig(t, `
logger:
  level: DEBUG
  format: json
metrics:
  prometheus:
    enabled: true
    address: 0.0.0.0:9090
event_channel_depth: 64
inputs:
  statsd:
    enabled: true
    address: 0.0.0.0:8125
  graphite:
    enabled: true
sinks:
  console:
    enabled: true
    flush_interval: 5s
  wavefront:
    enabled: true
    host: wavefront.example.com
    port: 3878
    tags:
      source: web01
    max_buffered_bytes: 2MB
  kafka:
    enabled: true
    topic: telemetry
    brokers: [ broker-1:9092, broker-2:9092 ]
    flush_interval: 500ms
    max_flush_passes: 3
    retry_backoff_interval: 100ms
    client_options:
      compression.codec: snappy
`))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", conf.Logger.LogLevel)
	assert.True(t, conf.Metrics.Prometheus.Enabled)
	assert.Equal(t, "0.0.0.0:9090", conf.Metrics.Prometheus.Address)
	assert.Equal(t, 64, conf.EventChannelDepth)
	assert.True(t, conf.Inputs.Statsd.Enabled)
	assert.Equal(t, "0.0.0.0:8125", conf.Inputs.Statsd.Address)
	assert.True(t, conf.Inputs.Graphite.Enabled)
	assert.Equal(t, "127.0.0.1:2003", conf.Inputs.Graphite.Address)

	console := conf.Sinks.Console.SinkConfig()
	assert.Equal(t, time.Second*5, console.FlushInterval)
	assert.Equal(t, 100000, console.MaxBufferedValues)

	wavefront := conf.Sinks.Wavefront.SinkConfig()
	assert.Equal(t, "wavefront.example.com", wavefront.Host)
	assert.Equal(t, 3878, wavefront.Port)
	assert.Equal(t, map[string]string{"source": "web01"}, wavefront.Tags)
	assert.Equal(t, "2MB", wavefront.MaxBufferedBytes)
	assert.Equal(t, time.Second*10, wavefront.FlushInterval)

	kafka := conf.Sinks.Kafka.SinkConfig()
	assert.Equal(t, "telemetry", kafka.Topic)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, kafka.Brokers)
	assert.Equal(t, time.Millisecond*500, kafka.FlushInterval)
	assert.Equal(t, 3, kafka.MaxFlushPasses)
	assert.Equal(t, time.Millisecond*100, kafka.RetryBackoffInterval)
	assert.Equal(t, "snappy", kafka.ClientOptions["compression.codec"])
}

func TestReadBadDuration(t *testing.T) {
	_, err := config.Read(writeConfig(t, `
sinks:
  console:
    flush_interval: quickly
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestReadMissingFile(t *testing.T) {
	_, err := config.Read(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
