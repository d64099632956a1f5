// Package config provides the configuration schema and loader for the
// voxtale client core.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SynthTransport selects how the streaming synthesis service is reached.
type SynthTransport string

const (
	// TransportHTTP streams synthesis over a chunked HTTP response carrying
	// server-push events. This is the default.
	TransportHTTP SynthTransport = "http"

	// TransportWebSocket streams synthesis over the service's WebSocket
	// task protocol.
	TransportWebSocket SynthTransport = "websocket"
)

// IsValid reports whether t is a recognised synthesis transport.
func (t SynthTransport) IsValid() bool {
	return t == TransportHTTP || t == TransportWebSocket
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving the Prometheus /metrics
	// endpoint (e.g. ":9090"). Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	Client    ClientConfig    `yaml:"client"`
	Backend   BackendConfig   `yaml:"backend"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Session   SessionConfig   `yaml:"session"`
}

// ClientConfig tunes the resilient API client shared by all backend calls.
type ClientConfig struct {
	// Timeout is the per-request deadline. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of additional attempts after the first
	// failure. Default: 2.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the base delay between attempts; attempt n waits
	// n × RetryBackoff. Default: 1s.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// BackendConfig holds the character service endpoints.
type BackendConfig struct {
	// BaseURL is the current backend API root (e.g.
	// "https://companion.example.com"). Required.
	BaseURL string `yaml:"base_url"`

	// LegacyBaseURL is the legacy backend API root used as the second tier
	// of character resolution. Empty disables the legacy tier.
	LegacyBaseURL string `yaml:"legacy_base_url"`
}

// SynthesisConfig holds the streaming text-to-speech service settings.
type SynthesisConfig struct {
	// URL is the synthesis endpoint. Required.
	URL string `yaml:"url"`

	// APIKey authenticates against the synthesis service. Required.
	APIKey string `yaml:"api_key"`

	// Model selects the synthesis model (e.g. "speech-02-turbo").
	Model string `yaml:"model"`

	// Transport selects HTTP streaming or WebSocket. Default: http.
	Transport SynthTransport `yaml:"transport"`

	// SampleRate is the requested output sample rate in Hz. Default: 32000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the requested channel count. Default: 1 (mono).
	Channels int `yaml:"channels"`
}

// PlaybackConfig tunes the playback buffer queue.
type PlaybackConfig struct {
	// MaxFrames bounds the buffer queue; frames arriving when the queue is
	// full are dropped. Default: 64.
	MaxFrames int `yaml:"max_frames"`

	// MinStartFrames is the pre-roll: playback does not start until this
	// many frames are buffered. Default: 3.
	MinStartFrames int `yaml:"min_start_frames"`

	// Output is a file path capturing the raw PCM stream. Empty plays to a
	// paced null sink, which keeps playback timing realistic without a
	// sound device.
	Output string `yaml:"output"`
}

// SessionConfig holds durable session storage settings.
type SessionConfig struct {
	// DBPath is the SQLite database file storing the persisted session.
	// Default: "voxtale.db" in the working directory.
	DBPath string `yaml:"db_path"`
}

// Defaults fills zero-valued fields with their documented defaults.
// It mutates cfg in place and returns it for chaining.
func Defaults(cfg *Config) *Config {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Client.Timeout <= 0 {
		cfg.Client.Timeout = 30 * time.Second
	}
	if cfg.Client.MaxRetries == 0 {
		cfg.Client.MaxRetries = 2
	}
	if cfg.Client.RetryBackoff <= 0 {
		cfg.Client.RetryBackoff = time.Second
	}
	if cfg.Synthesis.Transport == "" {
		cfg.Synthesis.Transport = TransportHTTP
	}
	if cfg.Synthesis.SampleRate <= 0 {
		cfg.Synthesis.SampleRate = 32000
	}
	if cfg.Synthesis.Channels <= 0 {
		cfg.Synthesis.Channels = 1
	}
	if cfg.Playback.MaxFrames <= 0 {
		cfg.Playback.MaxFrames = 64
	}
	if cfg.Playback.MinStartFrames <= 0 {
		cfg.Playback.MinStartFrames = 3
	}
	if cfg.Session.DBPath == "" {
		cfg.Session.DBPath = "voxtale.db"
	}
	return cfg
}
