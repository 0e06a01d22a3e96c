package config

import (
	"os"
	"path/filepath"
	"testing"

	"rttgcs/internal/bridge"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	if cfg.Comms.BaudRate != want.Comms.BaudRate {
		t.Errorf("baud = %d, want %d", cfg.Comms.BaudRate, want.Comms.BaudRate)
	}
	if cfg.Comms.AckTimeoutMS != DefaultAckTimeoutMS {
		t.Errorf("ack timeout = %d, want %d", cfg.Comms.AckTimeoutMS, DefaultAckTimeoutMS)
	}
	if !cfg.Feed.Enabled {
		t.Error("feed should default to enabled")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Comms.InterfaceKind = bridge.InterfaceSimulated
	cfg.Comms.Host = "10.0.0.5"
	cfg.Comms.TCPPort = 50001
	cfg.PingFinder.TargetFrequencies = []uint32{173_000_000, 173_500_000}
	cfg.Logging.Level = "debug"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Comms.Host != "10.0.0.5" {
		t.Errorf("host = %q", loaded.Comms.Host)
	}
	if loaded.Comms.TCPPort != 50001 {
		t.Errorf("tcp port = %d", loaded.Comms.TCPPort)
	}
	if len(loaded.PingFinder.TargetFrequencies) != 2 {
		t.Errorf("target frequencies = %v", loaded.PingFinder.TargetFrequencies)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("level = %q", loaded.Logging.Level)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	partial := `{"comms":{"interface_kind":"serial","port":"/dev/ttyUSB0"}}`
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Comms.Port != "/dev/ttyUSB0" {
		t.Errorf("port = %q", cfg.Comms.Port)
	}
	if cfg.Comms.BaudRate != DefaultSerialBaud {
		t.Errorf("baud = %d, want default %d", cfg.Comms.BaudRate, DefaultSerialBaud)
	}
	if cfg.Comms.MaxRetries != DefaultMaxRetries {
		t.Errorf("max retries = %d, want default %d", cfg.Comms.MaxRetries, DefaultMaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"serial without port", func(c *AppConfig) { c.Comms.Port = "" }, true},
		{"serial with port", func(c *AppConfig) { c.Comms.Port = "/dev/ttyUSB0" }, false},
		{"unknown kind", func(c *AppConfig) { c.Comms.InterfaceKind = "radio" }, true},
		{"simulated without host", func(c *AppConfig) {
			c.Comms.InterfaceKind = bridge.InterfaceSimulated
			c.Comms.Host = " "
		}, true},
		{"simulated valid", func(c *AppConfig) {
			c.Comms.InterfaceKind = bridge.InterfaceSimulated
		}, false},
		{"zero ack timeout", func(c *AppConfig) {
			c.Comms.Port = "/dev/ttyUSB0"
			c.Comms.AckTimeoutMS = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
