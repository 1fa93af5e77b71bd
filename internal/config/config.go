package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	CoinValue int             `yaml:"coin_value"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
}

// BluetoothConfig holds transport settings shared by both backends.
type BluetoothConfig struct {
	ServiceHint        string   `yaml:"service_hint"`        // BLE service UUID substring
	CharacteristicHint string   `yaml:"characteristic_hint"` // BLE characteristic UUID substring
	ScanTimeout        Duration `yaml:"scan_timeout"`
	ConnectTimeout     Duration `yaml:"connect_timeout"`
}

// Duration parses YAML values like "10s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "parquimovil")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		CoinValue: 5,
		Bluetooth: BluetoothConfig{
			ServiceHint:        "ffe0",
			CharacteristicHint: "ffe1",
			ScanTimeout:        Duration(10 * time.Second),
			ConnectTimeout:     Duration(15 * time.Second),
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.CoinValue <= 0 {
		return fmt.Errorf("coin_value must be > 0, got %d", c.CoinValue)
	}

	if c.Bluetooth.ServiceHint == "" {
		return fmt.Errorf("bluetooth.service_hint must not be empty")
	}
	if c.Bluetooth.CharacteristicHint == "" {
		return fmt.Errorf("bluetooth.characteristic_hint must not be empty")
	}
	if c.Bluetooth.ScanTimeout <= 0 {
		return fmt.Errorf("bluetooth.scan_timeout must be > 0")
	}
	if c.Bluetooth.ConnectTimeout <= 0 {
		return fmt.Errorf("bluetooth.connect_timeout must be > 0")
	}

	return nil
}
