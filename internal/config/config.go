package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Relays              []string `json:"relays" yaml:"relays"`
	PerRelayTimeoutMs   int      `json:"perRelayTimeoutMs" yaml:"perRelayTimeoutMs"`
	VerifyDelayMs       int      `json:"verifyDelayMs" yaml:"verifyDelayMs"`
	SearchPrecision     int      `json:"searchPrecision" yaml:"searchPrecision"`
	MaxClusterPrecision int      `json:"maxClusterPrecision" yaml:"maxClusterPrecision"`
	DataDir             string   `json:"dataDir" yaml:"dataDir"`
	VerifySignatures    bool     `json:"verifySignatures" yaml:"verifySignatures"`
	// PublishRatePerSecond paces outbound publishes across all relays.
	PublishRatePerSecond float64       `json:"publishRatePerSecond" yaml:"publishRatePerSecond"`
	Log                  logpkg.Config `json:"log" yaml:"log"`
	Server               ServerConfig  `json:"server" yaml:"server"`
}

// ServerConfig configures the reference relay.
type ServerConfig struct {
	HTTPAddr             string  `json:"httpAddr" yaml:"httpAddr"`
	GRPCAddr             string  `json:"grpcAddr" yaml:"grpcAddr"`
	DataDir              string  `json:"dataDir" yaml:"dataDir"`
	PublishRatePerSecond float64 `json:"publishRatePerSecond" yaml:"publishRatePerSecond"`
	PublishBurst         int     `json:"publishBurst" yaml:"publishBurst"`
	MaxQueryLimit        int     `json:"maxQueryLimit" yaml:"maxQueryLimit"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Relays:               []string{"http://127.0.0.1:7070"},
		PerRelayTimeoutMs:    5000,
		VerifyDelayMs:        1500,
		SearchPrecision:      5,
		MaxClusterPrecision:  9,
		VerifySignatures:     true,
		PublishRatePerSecond: 5,
		Log:                  logpkg.Config{Level: "info", Format: "text"},
		Server: ServerConfig{
			HTTPAddr:             ":7070",
			GRPCAddr:             ":7071",
			PublishRatePerSecond: 20,
			PublishBurst:         40,
			MaxQueryLimit:        500,
		},
	}
}

// PerRelayTimeout is PerRelayTimeoutMs as a duration.
func (c Config) PerRelayTimeout() time.Duration {
	return time.Duration(c.PerRelayTimeoutMs) * time.Millisecond
}

// VerifyDelay is VerifyDelayMs as a duration.
func (c Config) VerifyDelay() time.Duration {
	return time.Duration(c.VerifyDelayMs) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.PerRelayTimeoutMs <= 0 {
		return errors.New("perRelayTimeoutMs must be positive")
	}
	if c.VerifyDelayMs < 0 {
		return errors.New("verifyDelayMs must not be negative")
	}
	if c.SearchPrecision <= 0 || c.SearchPrecision > 12 {
		return fmt.Errorf("searchPrecision %d out of range 1..12", c.SearchPrecision)
	}
	if c.MaxClusterPrecision < 0 {
		return errors.New("maxClusterPrecision must not be negative")
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
