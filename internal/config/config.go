// Package config loads and validates the YAML configuration shared by the
// scanner and advertiser daemons.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	API         APIConfig         `yaml:"api"`
	JWT         JWTConfig         `yaml:"jwt"`
	NATS        NATSConfig        `yaml:"nats"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	Broadcaster BroadcasterConfig `yaml:"broadcaster"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// APIConfig configures the scanner's REST/WebSocket surface.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// JWTConfig configures API authentication. Password is stored as a bcrypt
// hash; an empty hash disables the mutating routes.
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	PasswordHash    string        `yaml:"password_hash"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// NATSConfig configures the optional event forwarder. An empty URL leaves
// the forwarder off.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// ScannerConfig holds the display-unit ingest parameters. TimeoutMS is a
// pointer so an explicit 0 (sweep disabled) is distinguishable from an
// absent key (defaulted).
type ScannerConfig struct {
	MaxKeyboards int               `yaml:"max_keyboards"`
	TimeoutMS    *int              `yaml:"timeout_ms"`
	Channel      int               `yaml:"channel"`
	PeriodicSync bool              `yaml:"periodic_sync"`
	NameFixups   map[string]string `yaml:"name_fixups"`
}

// Timeout returns the liveness timeout as a duration. Zero disables the
// sweep.
func (c ScannerConfig) Timeout() time.Duration {
	if c.TimeoutMS == nil {
		return 0
	}
	return time.Duration(*c.TimeoutMS) * time.Millisecond
}

// BroadcasterConfig holds the keyboard-side advertiser parameters.
type BroadcasterConfig struct {
	Name              string `yaml:"name"`
	Role              string `yaml:"role"` // standalone | central | peripheral
	DeviceIndex       int    `yaml:"device_index"`
	Channel           int    `yaml:"channel"`
	AdvIntervalMS     int    `yaml:"adv_interval_ms"`
	PeriodicAdv       bool   `yaml:"periodic_adv"`
	DynamicIntervalMS int    `yaml:"dynamic_interval_ms"`
	StaticIntervalMS  int    `yaml:"static_interval_ms"`
}

// AdvInterval returns the legacy advertisement cadence.
func (c BroadcasterConfig) AdvInterval() time.Duration {
	return time.Duration(c.AdvIntervalMS) * time.Millisecond
}

// DynamicInterval returns the periodic dynamic cadence.
func (c BroadcasterConfig) DynamicInterval() time.Duration {
	return time.Duration(c.DynamicIntervalMS) * time.Millisecond
}

// StaticInterval returns the periodic static cadence.
func (c BroadcasterConfig) StaticInterval() time.Duration {
	return time.Duration(c.StaticIntervalMS) * time.Millisecond
}

// Load reads, defaults and validates a configuration file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.Scanner.MaxKeyboards == 0 {
		c.Scanner.MaxKeyboards = 3
	}
	if c.Scanner.TimeoutMS == nil {
		def := 300000
		c.Scanner.TimeoutMS = &def
	}
	if c.Scanner.NameFixups == nil {
		// Deployment-specific scan-response fix-ups; see the scanner docs.
		c.Scanner.NameFixups = map[string]string{"LalaPad": "LalaPadmini"}
	}

	if c.Broadcaster.Name == "" {
		c.Broadcaster.Name = "Prospector"
	}
	if c.Broadcaster.Role == "" {
		c.Broadcaster.Role = "standalone"
	}
	if c.Broadcaster.AdvIntervalMS == 0 {
		c.Broadcaster.AdvIntervalMS = 1000
	}
	if c.Broadcaster.DynamicIntervalMS == 0 {
		c.Broadcaster.DynamicIntervalMS = 200
	}
	if c.Broadcaster.StaticIntervalMS == 0 {
		c.Broadcaster.StaticIntervalMS = 5000
	}
}

// Validate checks every enumerated range.
func (c *Config) Validate() error {
	if c.Scanner.MaxKeyboards < 1 || c.Scanner.MaxKeyboards > 8 {
		return fmt.Errorf("scanner.max_keyboards %d out of range [1,8]", c.Scanner.MaxKeyboards)
	}
	if t := *c.Scanner.TimeoutMS; t < 0 || t > 3600000 {
		return fmt.Errorf("scanner.timeout_ms %d out of range [0,3600000]", t)
	}
	if c.Scanner.Channel < 0 || c.Scanner.Channel > 10 {
		return fmt.Errorf("scanner.channel %d out of range [0,10]", c.Scanner.Channel)
	}

	switch c.Broadcaster.Role {
	case "standalone", "central", "peripheral":
	default:
		return fmt.Errorf("broadcaster.role %q invalid", c.Broadcaster.Role)
	}
	if c.Broadcaster.Channel < 0 || c.Broadcaster.Channel > 10 {
		return fmt.Errorf("broadcaster.channel %d out of range [0,10]", c.Broadcaster.Channel)
	}
	if c.Broadcaster.AdvIntervalMS < 100 || c.Broadcaster.AdvIntervalMS > 10000 {
		return fmt.Errorf("broadcaster.adv_interval_ms %d out of range [100,10000]", c.Broadcaster.AdvIntervalMS)
	}
	if c.Broadcaster.DynamicIntervalMS < 50 || c.Broadcaster.DynamicIntervalMS > 1000 {
		return fmt.Errorf("broadcaster.dynamic_interval_ms %d out of range [50,1000]", c.Broadcaster.DynamicIntervalMS)
	}
	if c.Broadcaster.StaticIntervalMS < 1000 || c.Broadcaster.StaticIntervalMS > 30000 {
		return fmt.Errorf("broadcaster.static_interval_ms %d out of range [1000,30000]", c.Broadcaster.StaticIntervalMS)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	return nil
}
