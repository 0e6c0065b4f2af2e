// Package config holds the daemon configuration, loaded from a YAML file
// in the data directory and created with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/umbra-exchange/umbra/internal/tor"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name inside the data directory.
const ConfigFileName = "config.yaml"

// Config holds all configuration for the swap daemon.
type Config struct {
	// Storage settings.
	Storage StorageConfig `yaml:"storage"`

	// Network settings.
	Network NetworkConfig `yaml:"network"`

	// Tor daemon settings.
	Tor TorConfig `yaml:"tor"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the database, identity key and config.
	DataDir string `yaml:"data_dir"`
}

// NetworkConfig holds transport settings.
type NetworkConfig struct {
	// ListenAddrs are the multiaddrs to listen on.
	ListenAddrs []string `yaml:"listen_addrs"`
}

// TorConfig holds settings for the local Tor daemon.
type TorConfig struct {
	// Enabled provisions a hidden service at startup.
	Enabled bool `yaml:"enabled"`

	// Socks5Port is the daemon's SOCKS5 proxy port.
	Socks5Port uint16 `yaml:"socks5_port"`

	// ControlPort is the daemon's control port.
	ControlPort uint16 `yaml:"control_port"`

	// Password authenticates the control session when the daemon uses
	// hashed-password auth.
	Password string `yaml:"password,omitempty"`

	// OnionPort is the external port of the provisioned hidden service.
	OnionPort uint16 `yaml:"onion_port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.umbra",
		},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/9939",
			},
		},
		Tor: TorConfig{
			Enabled:     false,
			Socks5Port:  tor.DefaultSocks5Port,
			ControlPort: tor.DefaultControlPort,
			OnionPort:   9939,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// TorDaemonConfig converts the YAML settings into a controller Config.
func (c *Config) TorDaemonConfig() tor.Config {
	return tor.Config{
		Socks5Port:  c.Tor.Socks5Port,
		ControlPort: c.Tor.ControlPort,
		Password:    c.Tor.Password,
	}
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	return expandPath(c.Storage.DataDir)
}

// Load reads the config from dataDir, creating one with default values on
// first run.
func Load(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Umbra Swap Daemon Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
