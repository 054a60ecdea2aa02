// Package config loads the station configuration: which bus backend to use,
// which nodes live on it, and the per-band hardware parameters that cannot
// be discovered over the wire, such as each YTO's frequency window.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in BusConfig.
const (
	BackendSocketCAN = "socketcan"
	BackendLoopback  = "loopback"
)

// Duration decodes YAML strings like "2ms" or "200ms" via
// time.ParseDuration. Bare integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: bad duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root of the station configuration file.
type Config struct {
	Bus   BusConfig    `yaml:"bus"`
	Nodes []NodeConfig `yaml:"nodes"`
	Log   LogConfig    `yaml:"log"`
}

// BusConfig selects and parameterizes the transport backend.
type BusConfig struct {
	Backend   string `yaml:"backend"`
	Interface string `yaml:"interface"`

	SendTimeout    Duration `yaml:"sendTimeout"`
	ReceiveTimeout Duration `yaml:"receiveTimeout"`
}

// NodeConfig describes one node on the bus and the bands behind it.
type NodeConfig struct {
	Address uint8        `yaml:"address"`
	Bands   []BandConfig `yaml:"bands"`
}

// BandConfig carries one band's construction parameters.
type BandConfig struct {
	Band int `yaml:"band"`

	// Port overrides which FEMC port the band is connected to. Zero means
	// the port matching the band number.
	Port int `yaml:"port"`

	YTOLowGHz  float64 `yaml:"ytoLowGHz"`
	YTOHighGHz float64 `yaml:"ytoHighGHz"`
}

// LogConfig configures the protocol event log.
type LogConfig struct {
	// File is the CBOR event log path; empty disables file logging.
	File string `yaml:"file"`

	// Level is the slog mirror level: debug, info, warn or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given: a loopback
// bus with no nodes.
func Default() Config {
	return Config{
		Bus: BusConfig{
			Backend:        BackendLoopback,
			SendTimeout:    Duration(2 * time.Millisecond),
			ReceiveTimeout: Duration(2 * time.Millisecond),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration data.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural mistakes.
func (c *Config) Validate() error {
	switch c.Bus.Backend {
	case BackendSocketCAN:
		if c.Bus.Interface == "" {
			return fmt.Errorf("config: socketcan backend needs an interface name")
		}
	case BackendLoopback:
	default:
		return fmt.Errorf("config: unknown bus backend %q", c.Bus.Backend)
	}
	if c.Bus.SendTimeout < 0 || c.Bus.ReceiveTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}

	seen := make(map[uint8]bool)
	for _, node := range c.Nodes {
		if seen[node.Address] {
			return fmt.Errorf("config: duplicate node address %#02x", node.Address)
		}
		seen[node.Address] = true

		bands := make(map[int]bool)
		for _, band := range node.Bands {
			if band.Band < 1 || band.Band > 10 {
				return fmt.Errorf("config: node %#02x: band %d out of range 1..10", node.Address, band.Band)
			}
			if bands[band.Band] {
				return fmt.Errorf("config: node %#02x: duplicate band %d", node.Address, band.Band)
			}
			bands[band.Band] = true
			if band.Port < 0 || band.Port > 15 {
				return fmt.Errorf("config: node %#02x: band %d: port %d out of range 0..15", node.Address, band.Band, band.Port)
			}
			if band.YTOHighGHz < band.YTOLowGHz {
				return fmt.Errorf("config: node %#02x: band %d: YTO window inverted", node.Address, band.Band)
			}
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// FindBand returns the band entry for the given node address and band.
func (c *Config) FindBand(addr uint8, band int) (BandConfig, bool) {
	for _, node := range c.Nodes {
		if node.Address != addr {
			continue
		}
		for _, b := range node.Bands {
			if b.Band == band {
				return b, true
			}
		}
	}
	return BandConfig{}, false
}
