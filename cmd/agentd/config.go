package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML strings like "24h" or "30m"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the daemon configuration, loaded from YAML with env overrides
// for the connection endpoints
type Config struct {
	NATSUrl     string `yaml:"nats_url"`
	DockerHost  string `yaml:"docker_host"`
	DataDir     string `yaml:"data_dir"`
	APIUrl      string `yaml:"api_url"`
	MetricsAddr string `yaml:"metrics_addr"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	MaxWorkers            int  `yaml:"max_workers"`
	QueueOnCapacity       bool `yaml:"queue_on_capacity"`
	DefaultTimeoutSeconds int  `yaml:"default_timeout_seconds"`
	Shards                int  `yaml:"shards"`

	SessionTTL     Duration `yaml:"session_ttl"`
	ImageRetention Duration `yaml:"image_retention"`
	MaxImages      int      `yaml:"max_images"`
	GCInterval     Duration `yaml:"gc_interval"`
	IdlePause      Duration `yaml:"idle_pause"`

	Limits struct {
		CPUs     float64 `yaml:"cpus"`
		MemoryMB int64   `yaml:"memory_mb"`
	} `yaml:"limits"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	cfg := &Config{
		NATSUrl:               "nats://127.0.0.1:4222",
		DataDir:               "/var/lib/agentd",
		MetricsAddr:           ":9402",
		MaxWorkers:            10,
		DefaultTimeoutSeconds: 300,
		SessionTTL:            Duration(24 * time.Hour),
		ImageRetention:        Duration(24 * time.Hour),
		GCInterval:            Duration(10 * time.Minute),
		IdlePause:             Duration(30 * time.Minute),
	}
	cfg.Log.Level = "info"
	cfg.Log.JSON = true
	cfg.Limits.CPUs = 2
	cfg.Limits.MemoryMB = 2048
	return cfg
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults. NATS_URL and DOCKER_HOST environment variables win
// over both.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSUrl = v
	}
	if v := os.Getenv("DOCKER_HOST"); v != "" {
		cfg.DockerHost = v
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir must not be empty")
	}
	if cfg.DefaultTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("default_timeout_seconds must be positive")
	}
	if time.Duration(cfg.DefaultTimeoutSeconds)*time.Second >= time.Duration(cfg.SessionTTL) {
		return nil, fmt.Errorf("session_ttl must exceed the default exchange timeout")
	}
	return cfg, nil
}
