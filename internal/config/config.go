package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = "9999"
	DefaultMaxLineBytes = 1 << 20
	DefaultDrainTimeout = 5 * time.Second
)

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		HTTPPort     string `yaml:"http_port"`
		DrainTimeout string `yaml:"drain_timeout"`
		MaxLineBytes int    `yaml:"max_line_bytes"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"quiz"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path. A missing file yields the zero config,
// so the server can start with defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values that would keep the listeners from starting.
func (c Config) Validate() error {
	for name, raw := range map[string]string{"server.port": c.Server.Port, "server.http_port": c.Server.HTTPPort} {
		if raw == "" {
			continue
		}
		if p, err := strconv.Atoi(raw); err != nil || p < 0 || p > 65535 {
			return fmt.Errorf("invalid %s %q", name, raw)
		}
	}
	if c.Server.MaxLineBytes < 0 {
		return fmt.Errorf("invalid server.max_line_bytes %d", c.Server.MaxLineBytes)
	}
	return nil
}

// ListenPort picks the flag value, then the config file, then DefaultPort.
func (c Config) ListenPort(flag string) string {
	if flag != "" {
		return flag
	}
	if c.Server.Port != "" {
		return c.Server.Port
	}
	return DefaultPort
}

func (c Config) MaxLineBytes() int {
	if c.Server.MaxLineBytes > 0 {
		return c.Server.MaxLineBytes
	}
	return DefaultMaxLineBytes
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
