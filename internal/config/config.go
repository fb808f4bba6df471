// Package config loads and validates the engravelink YAML configuration.
// Normalize applies defaults so a minimal file only needs to name the
// transport and its target.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in the configuration file.
const (
	TransportLocal   = "local"
	TransportNetwork = "network"
)

// Duration wraps time.Duration so YAML values can be written as "500ms" or
// "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Backoff describes the reconnect/retry delay policy: exponential growth
// from Initial by Factor, capped at Max.
type Backoff struct {
	Initial Duration `yaml:"initial"`
	Max     Duration `yaml:"max"`
	Factor  float64  `yaml:"factor"`
}

// Config is the full engravelink configuration.
type Config struct {
	Transport string `yaml:"transport"`

	// local transport
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`

	// network transport
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	MaxBufferBytes   int      `yaml:"max_buffer_bytes"`
	RetryLimit       int      `yaml:"retry_limit"`
	SuspendThreshold int      `yaml:"suspend_threshold"`
	IOTimeout        Duration `yaml:"io_timeout"`
	Backoff          Backoff  `yaml:"backoff"`

	// EventLog is the SQLite path for transition/command history; empty
	// disables persistence.
	EventLog string `yaml:"event_log"`
}

// Load reads and normalizes the configuration at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg.Normalize()
}

// Normalize validates the configuration and applies defaults for unset
// values.
func (c Config) Normalize() (Config, error) {
	cfg := c

	switch strings.TrimSpace(strings.ToLower(cfg.Transport)) {
	case "", TransportLocal:
		cfg.Transport = TransportLocal
		if cfg.Device == "" {
			return cfg, fmt.Errorf("local transport requires a device path")
		}
	case TransportNetwork:
		cfg.Transport = TransportNetwork
		if cfg.Address == "" {
			return cfg, fmt.Errorf("network transport requires an address")
		}
		if cfg.Port == 0 {
			cfg.Port = 5005
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			return cfg, fmt.Errorf("invalid port %d", cfg.Port)
		}
	default:
		return cfg, fmt.Errorf("unknown transport %q: expected %s or %s", c.Transport, TransportLocal, TransportNetwork)
	}

	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.DataBits < 5 || cfg.DataBits > 8 {
		return cfg, fmt.Errorf("invalid data bits %d: must be between 5 and 8", cfg.DataBits)
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.StopBits != 1 && cfg.StopBits != 2 {
		return cfg, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", cfg.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(cfg.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return cfg, fmt.Errorf("unsupported parity %q: expected N, E, or O", cfg.Parity)
	}
	cfg.Parity = parity

	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 64 * 1024
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.SuspendThreshold <= 0 {
		cfg.SuspendThreshold = 5
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = Duration(2 * time.Second)
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = Duration(500 * time.Millisecond)
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = Duration(30 * time.Second)
	}
	if cfg.Backoff.Max < cfg.Backoff.Initial {
		return cfg, fmt.Errorf("backoff max %v below initial %v", cfg.Backoff.Max.Std(), cfg.Backoff.Initial.Std())
	}
	if cfg.Backoff.Factor == 0 {
		cfg.Backoff.Factor = 2.0
	}
	if cfg.Backoff.Factor < 1.0 {
		return cfg, fmt.Errorf("backoff factor %.2f must be >= 1", cfg.Backoff.Factor)
	}

	return cfg, nil
}

// SerialMode converts the serial fields into the mode structure required by
// go.bug.st/serial.
func (c Config) SerialMode() (*serial.Mode, error) {
	cfg, err := c.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}
	switch cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}
	switch cfg.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}
	return mode, nil
}

// DialAddr returns the host:port string for the network transport.
func (c Config) DialAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
