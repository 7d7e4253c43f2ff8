// Package config defines the recognized configuration keys the
// context consumes. Loading, merging multiple config-file paths and
// hot-reload are an external collaborator's job; this package only
// decodes a single YAML document into a typed struct with defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the recognized keys of the appliance configuration
// file. EthernetInterface is required; everything else has a default
// or may be left empty.
type Config struct {
	WifiInterface    string   `yaml:"wifi-interface"`
	EthernetInterface string  `yaml:"ethernet-interface"`
	OsPartitions     []string `yaml:"os-partitions"`
	BindRPC          string   `yaml:"bind-rpc"`
	TorControl       string   `yaml:"tor-control"`
	TorSocks         string   `yaml:"tor-socks"`
	DNSBind          []string `yaml:"dns-bind"`
	DataDir          string   `yaml:"datadir"`
	LogServer        string   `yaml:"log-server"`
}

// Default returns a Config with every non-required key set to its
// documented default.
func Default() Config {
	return Config{
		BindRPC:  "0.0.0.0:5959",
		TorSocks: "127.0.0.1:9050",
		DNSBind:  []string{"127.0.0.1:53"},
		DataDir:  "/mnt/embassy-os",
	}
}

// Load reads and decodes the YAML config file at path over top of
// Default, then validates that the required keys were set.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.EthernetInterface == "" {
		return fmt.Errorf("config: ethernet-interface is required")
	}
	return nil
}
