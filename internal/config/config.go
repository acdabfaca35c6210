package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default server ports: the duplex-link websocket and the HTTP API live on
// adjacent ports of the same host.
const (
	DefaultWSPort   = "5567"
	DefaultHTTPPort = "5566"
)

type Config struct {
	// ServerAddress is the server host:port of the websocket endpoint
	// (e.g. "192.168.1.20:5567").
	ServerAddress string `yaml:"server_address"`
	// DeviceID identifies this device to the server.
	DeviceID string `yaml:"device_id"`
	// AccessKey, when set, enables bearer-token auth on the duplex link.
	AccessKey string `yaml:"access_key"`

	// ReconnectDelay is the pause before re-dialing a dropped link.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// RequestTimeout bounds relayed HTTP calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// BinaryTimeout bounds relayed audio uploads and downloads.
	BinaryTimeout time.Duration `yaml:"binary_timeout"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`

	// Home is the directory where wristlink stores local state.
	Home string `yaml:"-"`
}

// Load reads configuration from ~/.wristlink/config.yaml (when present) and
// then the WRISTLINK_* environment, which takes precedence.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	home := os.Getenv("WRISTLINK_HOME_DIR")
	if home == "" {
		home = filepath.Join(homeDir, ".wristlink")
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("failed to create wristlink home: %w", err)
	}

	cfg := &Config{
		ServerAddress:  "localhost:" + DefaultWSPort,
		DeviceID:       "phone-bridge",
		ReconnectDelay: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		BinaryTimeout:  60 * time.Second,
		Home:           home,
	}

	if raw, err := os.ReadFile(filepath.Join(home, "config.yaml")); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid config.yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if addr := os.Getenv("WRISTLINK_SERVER"); addr != "" {
		cfg.ServerAddress = addr
	}
	if id := os.Getenv("WRISTLINK_DEVICE_ID"); id != "" {
		cfg.DeviceID = id
	}
	if key := os.Getenv("WRISTLINK_ACCESS_KEY"); key != "" {
		cfg.AccessKey = key
	}
	if raw := os.Getenv("WRISTLINK_RECONNECT_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid WRISTLINK_RECONNECT_DELAY: %w", err)
		}
		cfg.ReconnectDelay = d
	}
	if os.Getenv("WRISTLINK_DEBUG") == "true" || os.Getenv("WRISTLINK_DEBUG") == "1" {
		cfg.Debug = true
	}

	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("server address not configured")
	}
	return cfg, nil
}

// WebSocketURL is the duplex-link endpoint, carrying the device identity as
// query parameters.
func (c *Config) WebSocketURL() string {
	return fmt.Sprintf("ws://%s/ws?device=watch&id=%s", c.ServerAddress, url.QueryEscape(c.DeviceID))
}

// HTTPBaseURL maps the websocket address onto the adjacent HTTP API port.
func (c *Config) HTTPBaseURL() string {
	host := c.ServerAddress
	if strings.HasSuffix(host, ":"+DefaultWSPort) {
		host = strings.TrimSuffix(host, ":"+DefaultWSPort) + ":" + DefaultHTTPPort
	}
	return "http://" + host
}
