// Package config loads the server's YAML configuration file: listen
// addresses, zone file list, and the security/observability knobs layered
// on top of the teacher's bare server+zones shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server ServerConfig  `yaml:"server"`
	Zones  []ZoneConfig  `yaml:"zones"`
	RRL    RateLimitConfig `yaml:"rate_limit"`
	ACL    ACLConfig     `yaml:"axfr_acl"`
}

// ServerConfig holds listener and runtime tuning knobs.
type ServerConfig struct {
	UDPListen    string        `yaml:"udp_listen"`
	TCPListen    string        `yaml:"tcp_listen"`
	UDPListeners int           `yaml:"udp_listeners"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxTCPQueries int          `yaml:"max_tcp_queries"`
	// GlobalQPS caps total ingress across every client, ahead of the
	// per-IP rate limit. 0 disables the global shaper.
	GlobalQPS    int           `yaml:"global_qps"`
	LogLevel     string        `yaml:"log_level"`
	MetricsAddr  string        `yaml:"metrics_listen"`
}

// ZoneConfig names a zone file and its master-file format.
type ZoneConfig struct {
	Name   string `yaml:"name"`
	File   string `yaml:"file"`
	Format string `yaml:"format"` // "bind" or "dnszone"
}

// RateLimitConfig mirrors internal/ratelimit.Config in YAML form.
type RateLimitConfig struct {
	MaxQPS          uint32        `yaml:"max_qps"`
	Window          time.Duration `yaml:"window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	ExemptNets      []string      `yaml:"exempt_nets"`
}

// ACLConfig controls which clients may perform AXFR zone transfers.
type ACLConfig struct {
	DefaultAllow bool     `yaml:"default_allow"`
	Allow        []string `yaml:"allow"`
	Deny         []string `yaml:"deny"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			UDPListen:     ":53",
			TCPListen:     ":53",
			UDPListeners:  1,
			ReadTimeout:   5 * time.Second,
			WriteTimeout:  5 * time.Second,
			IdleTimeout:   60 * time.Second,
			MaxTCPQueries: 100,
			LogLevel:      "info",
			MetricsAddr:   ":9153",
		},
		RRL: RateLimitConfig{
			MaxQPS:          100,
			Window:          time.Second,
			CleanupInterval: 60 * time.Second,
		},
		ACL: ACLConfig{DefaultAllow: false},
	}
}

// Load reads and parses the YAML configuration file at path, filling in
// defaults for anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Zones) == 0 {
		return fmt.Errorf("at least one zone must be configured")
	}

	for _, z := range c.Zones {
		if z.Name == "" {
			return fmt.Errorf("zone entry missing name")
		}
		if z.File == "" {
			return fmt.Errorf("zone %s missing file path", z.Name)
		}
		if _, err := os.Stat(z.File); err != nil {
			return fmt.Errorf("zone %s file %s: %w", z.Name, z.File, err)
		}
	}

	return nil
}
