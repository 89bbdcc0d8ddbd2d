// Package config reads the daemon's YAML configuration. Each section maps
// onto a component config; durations are written as human strings ("10s").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/millpond/tailrace/internal/input"
	"github.com/millpond/tailrace/internal/log"
	"github.com/millpond/tailrace/internal/sink"
)

// Duration is a time.Duration that unmarshals from strings like "1s".
type Duration time.Duration

// UnmarshalYAML parses a duration from a string scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("durations must be strings like '10s': %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

//------------------------------------------------------------------------------

// PrometheusSection configures the scrape endpoint.
type PrometheusSection struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsSection configures metrics exposition.
type MetricsSection struct {
	Prometheus PrometheusSection `yaml:"prometheus"`
}

// StatsdSection configures the statsd listener.
type StatsdSection struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// GraphiteSection configures the graphite listener.
type GraphiteSection struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// InputsSection configures the protocol listeners.
type InputsSection struct {
	Statsd   StatsdSection   `yaml:"statsd"`
	Graphite GraphiteSection `yaml:"graphite"`
}

//------------------------------------------------------------------------------

// ConsoleSection configures the console sink.
type ConsoleSection struct {
	Enabled           bool     `yaml:"enabled"`
	FlushInterval     Duration `yaml:"flush_interval"`
	MaxBufferedValues int      `yaml:"max_buffered_values"`
}

// SinkConfig converts the section into the component config.
func (s ConsoleSection) SinkConfig() sink.ConsoleConfig {
	conf := sink.NewConsoleConfig()
	if s.FlushInterval > 0 {
		conf.FlushInterval = time.Duration(s.FlushInterval)
	}
	if s.MaxBufferedValues > 0 {
		conf.MaxBufferedValues = s.MaxBufferedValues
	}
	return conf
}

// WavefrontSection configures the wavefront sink.
type WavefrontSection struct {
	Enabled          bool              `yaml:"enabled"`
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	Tags             map[string]string `yaml:"tags"`
	FlushInterval    Duration          `yaml:"flush_interval"`
	MaxBufferedBytes string            `yaml:"max_buffered_bytes"`
}

// SinkConfig converts the section into the component config.
func (s WavefrontSection) SinkConfig() sink.WavefrontConfig {
	conf := sink.NewWavefrontConfig()
	conf.Host = s.Host
	if s.Port > 0 {
		conf.Port = s.Port
	}
	conf.Tags = s.Tags
	if s.FlushInterval > 0 {
		conf.FlushInterval = time.Duration(s.FlushInterval)
	}
	if s.MaxBufferedBytes != "" {
		conf.MaxBufferedBytes = s.MaxBufferedBytes
	}
	return conf
}

// LibratoSection configures the librato sink.
type LibratoSection struct {
	Enabled           bool     `yaml:"enabled"`
	Username          string   `yaml:"username"`
	Token             string   `yaml:"token"`
	Source            string   `yaml:"source"`
	Host              string   `yaml:"host"`
	FlushInterval     Duration `yaml:"flush_interval"`
	MaxBufferedValues int      `yaml:"max_buffered_values"`
}

// SinkConfig converts the section into the component config.
func (s LibratoSection) SinkConfig() sink.LibratoConfig {
	conf := sink.NewLibratoConfig()
	conf.Username = s.Username
	conf.Token = s.Token
	if s.Source != "" {
		conf.Source = s.Source
	}
	if s.Host != "" {
		conf.Host = s.Host
	}
	if s.FlushInterval > 0 {
		conf.FlushInterval = time.Duration(s.FlushInterval)
	}
	if s.MaxBufferedValues > 0 {
		conf.MaxBufferedValues = s.MaxBufferedValues
	}
	return conf
}

// KafkaSection configures the kafka sink.
type KafkaSection struct {
	Enabled              bool              `yaml:"enabled"`
	Topic                string            `yaml:"topic"`
	Brokers              []string          `yaml:"brokers"`
	MaxInFlightBytes     string            `yaml:"max_in_flight_bytes"`
	FlushInterval        Duration          `yaml:"flush_interval"`
	MaxFlushPasses       int               `yaml:"max_flush_passes"`
	RetryBackoffInterval Duration          `yaml:"retry_backoff_interval"`
	ClientOptions        map[string]string `yaml:"client_options"`
}

// SinkConfig converts the section into the component config.
func (s KafkaSection) SinkConfig() sink.KafkaConfig {
	conf := sink.NewKafkaConfig()
	conf.Topic = s.Topic
	conf.Brokers = s.Brokers
	if s.MaxInFlightBytes != "" {
		conf.MaxInFlightBytes = s.MaxInFlightBytes
	}
	if s.FlushInterval > 0 {
		conf.FlushInterval = time.Duration(s.FlushInterval)
	}
	conf.MaxFlushPasses = s.MaxFlushPasses
	conf.RetryBackoffInterval = time.Duration(s.RetryBackoffInterval)
	conf.ClientOptions = s.ClientOptions
	return conf
}

// SinksSection configures the delivery backends.
type SinksSection struct {
	Console   ConsoleSection   `yaml:"console"`
	Wavefront WavefrontSection `yaml:"wavefront"`
	Librato   LibratoSection   `yaml:"librato"`
	Kafka     KafkaSection     `yaml:"kafka"`
}

//------------------------------------------------------------------------------

// Config is the full daemon configuration.
type Config struct {
	Logger            log.Config     `yaml:"logger"`
	Metrics           MetricsSection `yaml:"metrics"`
	EventChannelDepth int            `yaml:"event_channel_depth"`
	Inputs            InputsSection  `yaml:"inputs"`
	Sinks             SinksSection   `yaml:"sinks"`
}

// New returns a config with default values.
func New() Config {
	return Config{
		Logger: log.NewConfig(),
		Metrics: MetricsSection{
			Prometheus: PrometheusSection{Address: "127.0.0.1:4048"},
		},
		EventChannelDepth: 1024,
		Inputs: InputsSection{
			Statsd:   StatsdSection{Address: input.NewStatsdConfig().Address},
			Graphite: GraphiteSection{Address: input.NewGraphiteConfig().Address},
		},
	}
}

// Read loads the configuration at path over the defaults.
func Read(path string) (Config, error) {
	conf := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config: %w", err)
	}
	return conf, nil
}
