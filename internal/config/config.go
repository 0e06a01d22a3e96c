// Package config persists application settings as a JSON file next to the
// session database.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rttgcs/internal/bridge"
)

const (
	DefaultSerialBaud   = 57600
	DefaultTCPPort      = 50000
	DefaultAckTimeoutMS = 1000
	DefaultMaxRetries   = 3
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// FeedConfig configures the HTTP/websocket state feed for the UI layer.
type FeedConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled          bool `json:"enabled"`
	ScanEvents       bool `json:"scan_events"`
	ConnectionEvents bool `json:"connection_events"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Comms         bridge.CommsConfig      `json:"comms"`
	PingFinder    bridge.PingFinderConfig `json:"ping_finder"`
	Logging       LoggingConfig           `json:"logging"`
	Feed          FeedConfig              `json:"feed"`
	Notifications NotificationConfig      `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Comms: bridge.CommsConfig{
			InterfaceKind: bridge.InterfaceSerial,
			Port:          "",
			BaudRate:      DefaultSerialBaud,
			Host:          "localhost",
			TCPPort:       DefaultTCPPort,
			AckTimeoutMS:  DefaultAckTimeoutMS,
			MaxRetries:    DefaultMaxRetries,
		},
		PingFinder: bridge.PingFinderConfig{
			Gain:            56.0,
			SamplingRate:    2_500_000,
			CenterFrequency: 173_500_000,
			PingWidthMS:     25,
			PingMinSNR:      25,
			PingMaxLenMult:  1.5,
			PingMinLenMult:  0.75,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Feed: FeedConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8151",
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			ScanEvents:       true,
			ConnectionEvents: true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by the app runtime under the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Comms.InterfaceKind == "" {
		c.Comms.InterfaceKind = bridge.InterfaceSerial
	}
	if c.Comms.BaudRate <= 0 {
		c.Comms.BaudRate = DefaultSerialBaud
	}
	if c.Comms.TCPPort <= 0 {
		c.Comms.TCPPort = DefaultTCPPort
	}
	if c.Comms.AckTimeoutMS <= 0 {
		c.Comms.AckTimeoutMS = DefaultAckTimeoutMS
	}
	if c.Comms.MaxRetries <= 0 {
		c.Comms.MaxRetries = DefaultMaxRetries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Feed.Listen == "" {
		c.Feed.Listen = "127.0.0.1:8151"
	}
}

func (c AppConfig) Validate() error {
	switch c.Comms.InterfaceKind {
	case bridge.InterfaceSerial:
		if strings.TrimSpace(c.Comms.Port) == "" {
			return errors.New("serial port is required")
		}
		if c.Comms.BaudRate <= 0 {
			return errors.New("serial baud must be positive")
		}
	case bridge.InterfaceSimulated:
		if strings.TrimSpace(c.Comms.Host) == "" {
			return errors.New("host is required")
		}
		if c.Comms.TCPPort <= 0 {
			return errors.New("tcp port must be positive")
		}
	default:
		return fmt.Errorf("unknown interface kind: %s", c.Comms.InterfaceKind)
	}
	if c.Comms.AckTimeoutMS <= 0 {
		return errors.New("ack timeout must be positive")
	}
	if c.Comms.MaxRetries <= 0 {
		return errors.New("max retries must be positive")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
