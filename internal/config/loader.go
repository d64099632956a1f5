package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	Defaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if err := checkURL(cfg.Backend.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	if cfg.Backend.LegacyBaseURL != "" {
		if err := checkURL(cfg.Backend.LegacyBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("backend.legacy_base_url: %w", err))
		}
	}

	if cfg.Synthesis.URL == "" {
		errs = append(errs, errors.New("synthesis.url is required"))
	} else if err := checkURL(cfg.Synthesis.URL); err != nil {
		errs = append(errs, fmt.Errorf("synthesis.url: %w", err))
	}
	if cfg.Synthesis.APIKey == "" {
		errs = append(errs, errors.New("synthesis.api_key is required"))
	}
	if !cfg.Synthesis.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("synthesis.transport %q is invalid; valid values: http, websocket", cfg.Synthesis.Transport))
	}
	if cfg.Synthesis.Channels > 1 {
		errs = append(errs, fmt.Errorf("synthesis.channels %d is unsupported; playback is mono only", cfg.Synthesis.Channels))
	}

	if cfg.Playback.MinStartFrames > cfg.Playback.MaxFrames {
		errs = append(errs, fmt.Errorf("playback.min_start_frames %d exceeds playback.max_frames %d",
			cfg.Playback.MinStartFrames, cfg.Playback.MaxFrames))
	}

	return errors.Join(errs...)
}

// checkURL verifies that raw parses as an absolute http(s) or ws(s) URL.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
