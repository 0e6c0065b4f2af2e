package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Storage.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.Storage.DataDir, dir)
	}
	if cfg.Tor.Socks5Port != 9050 || cfg.Tor.ControlPort != 9051 {
		t.Errorf("tor ports = %d/%d, want 9050/9051",
			cfg.Tor.Socks5Port, cfg.Tor.ControlPort)
	}
	if len(cfg.Network.ListenAddrs) == 0 {
		t.Error("no default listen addrs")
	}

	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()

	custom := `
storage:
  data_dir: ` + dir + `
network:
  listen_addrs:
    - /ip4/127.0.0.1/tcp/7777/ws
tor:
  enabled: true
  socks5_port: 19050
  control_port: 19051
  password: hunter2
  onion_port: 1024
logging:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(custom), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Tor.Enabled {
		t.Error("Tor.Enabled not loaded")
	}
	if cfg.Tor.Socks5Port != 19050 {
		t.Errorf("Socks5Port = %d, want 19050", cfg.Tor.Socks5Port)
	}
	if got := cfg.Network.ListenAddrs; len(got) != 1 || got[0] != "/ip4/127.0.0.1/tcp/7777/ws" {
		t.Errorf("ListenAddrs = %v", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}

	daemon := cfg.TorDaemonConfig()
	if daemon.ControlPort != 19051 || daemon.Password != "hunter2" {
		t.Errorf("daemon config = %+v", daemon)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	dir := t.TempDir()

	partial := "logging:\n  level: warn\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(partial), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Tor.Socks5Port != 9050 {
		t.Errorf("Socks5Port default lost, got %d", cfg.Tor.Socks5Port)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ConfigFileName)

	cfg := DefaultConfig()
	cfg.Tor.Enabled = true
	cfg.Tor.OnionPort = 2048
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Tor.Enabled || loaded.Tor.OnionPort != 2048 {
		t.Errorf("round-trip lost tor settings: %+v", loaded.Tor)
	}
}
