// Package config loads the YAML host configuration (§6) recognized by both
// daemon and shell modes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v2"
)

// Config holds one host's configuration, as loaded from the YAML file named
// by --config.
type Config struct {
	Name      string `yaml:"name"`
	Root      string `yaml:"root"`
	Port      int    `yaml:"port"`
	Tracker   string `yaml:"tracker"`
	IsTracker bool   `yaml:"istracker"`
	Secret    string `yaml:"secret"`
	IP        string `yaml:"ip"`

	// TrackerIP and TrackerPort are derived from Tracker at Load time.
	TrackerIP   string `yaml:"-"`
	TrackerPort string `yaml:"-"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	c.Root = strings.TrimSuffix(c.Root, "/")

	ip, port, ok := strings.Cut(c.Tracker, ":")
	if !ok {
		return nil, fmt.Errorf("config %s: tracker %q is not ip:port", path, c.Tracker)
	}
	c.TrackerIP, c.TrackerPort = ip, port

	if c.Name == "" {
		return nil, fmt.Errorf("config %s: name is required", path)
	}
	if c.Root == "" {
		return nil, fmt.Errorf("config %s: root is required", path)
	}
	if c.Port == 0 {
		return nil, fmt.Errorf("config %s: port is required", path)
	}
	if c.Secret == "" {
		return nil, fmt.Errorf("config %s: secret is required", path)
	}
	if c.IP == "" {
		c.IP = "127.0.0.1"
	}

	return &c, nil
}

// Addr returns this host's "ip:port" listen address.
func (c *Config) Addr() string {
	return c.IP + ":" + strconv.Itoa(c.Port)
}

// TrackerAddr returns the tracker's "ip:port" address.
func (c *Config) TrackerAddr() string {
	return c.TrackerIP + ":" + c.TrackerPort
}

// IsThisHost reports whether location (a host name or "ip:port" from a
// parsed physical path) identifies this host. Matching an address form
// compares only the IP, not the port — the same simplification the
// reference implementation makes (it assumes one PNS process per address).
func (c *Config) IsThisHost(location string) bool {
	if strings.Contains(location, ".") {
		ip, _, ok := strings.Cut(location, ":")
		if !ok {
			ip = location
		}
		return ip == c.IP
	}
	return location == c.Name
}
