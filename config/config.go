// Package config loads the worker configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. Defaults (see Default).
//  2. A YAML file with ${VAR} placeholders expanded from the environment.
//  3. Environment variables named after the YAML path (see EnvKeys).
//
// A .env file in the working directory, when present, is loaded into the
// process environment first and never overrides variables already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportAMQP   = "amqp"
)

// Dedup backends.
const (
	DedupNone   = "none"
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Service struct {
	Name string `yaml:"name"`
	// Source is the CloudEvents source of emitted messages.
	Source string `yaml:"source"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Transport struct {
	// Kind selects the broker: "memory" or "amqp".
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
	// Transient declares non-durable AMQP topology.
	Transient       bool          `yaml:"transient"`
	Prefetch        int           `yaml:"prefetch"`
	BufferSize      int           `yaml:"buffer_size"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	MaxDeliveries   int           `yaml:"max_deliveries"`
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
}

type Endpoint struct {
	Concurrency     int           `yaml:"concurrency"`
	Timeout         time.Duration `yaml:"timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Saga struct {
	// Timeout is the onboarding deadline. Negative disables expiry.
	Timeout            time.Duration `yaml:"timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	TombstoneRetention time.Duration `yaml:"tombstone_retention"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Dedup struct {
	// Backend is "none", "memory" or "redis".
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
	Redis     Redis         `yaml:"redis"`
}

type Consumers struct {
	MailerLatency    time.Duration `yaml:"mailer_latency"`
	ProfileLatency   time.Duration `yaml:"profile_latency"`
	ModeratorLatency time.Duration `yaml:"moderator_latency"`
	// EmailRate is emails per second. Zero means unlimited.
	EmailRate  float64 `yaml:"email_rate"`
	EmailBurst int     `yaml:"email_burst"`
}

type Monitoring struct {
	HealthCheckPort   int  `yaml:"health_check_port"`
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// Config is the worker configuration.
type Config struct {
	Service    Service    `yaml:"service"`
	Logging    Logging    `yaml:"logging"`
	Transport  Transport  `yaml:"transport"`
	Endpoint   Endpoint   `yaml:"endpoint"`
	Saga       Saga       `yaml:"saga"`
	Dedup      Dedup      `yaml:"dedup"`
	Consumers  Consumers  `yaml:"consumers"`
	Monitoring Monitoring `yaml:"monitoring"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Service: Service{
			Name:   "onboarding-worker",
			Source: "/privatesocial/worker",
		},
		Logging: Logging{
			Level:  "info",
			Format: FormatConsole,
		},
		Transport: Transport{
			Kind:            TransportMemory,
			Prefetch:        10,
			BufferSize:      100,
			SendTimeout:     5 * time.Second,
			MaxDeliveries:   5,
			RedeliveryDelay: time.Second,
		},
		Endpoint: Endpoint{
			Concurrency:     4,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Saga: Saga{
			Timeout:            15 * time.Minute,
			SweepInterval:      30 * time.Second,
			TombstoneRetention: 24 * time.Hour,
		},
		Dedup: Dedup{
			Backend:   DedupMemory,
			TTL:       24 * time.Hour,
			KeyPrefix: "dedup:",
		},
		Consumers: Consumers{
			MailerLatency:    500 * time.Millisecond,
			ProfileLatency:   300 * time.Millisecond,
			ModeratorLatency: 200 * time.Millisecond,
			EmailBurst:       1,
		},
		Monitoring: Monitoring{
			HealthCheckPort:   8080,
			PrometheusEnabled: true,
			PrometheusPort:    9090,
		},
	}
}

// Load reads .env, the YAML file at path and the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup lookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}
	switch c.Logging.Format {
	case FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("config: logging.format: unknown format %q", c.Logging.Format)
	}

	switch c.Transport.Kind {
	case TransportMemory:
	case TransportAMQP:
		if c.Transport.URL == "" {
			return errors.New("config: transport.url is required for amqp")
		}
	default:
		return fmt.Errorf("config: transport.kind: unknown kind %q", c.Transport.Kind)
	}
	if c.Transport.MaxDeliveries < 1 {
		return errors.New("config: transport.max_deliveries must be at least 1")
	}
	if c.Transport.RedeliveryDelay < 0 {
		return errors.New("config: transport.redelivery_delay must not be negative")
	}

	if c.Endpoint.Concurrency < 1 {
		return errors.New("config: endpoint.concurrency must be at least 1")
	}
	if c.Endpoint.Timeout < 0 {
		return errors.New("config: endpoint.timeout must not be negative")
	}

	if c.Saga.Timeout == 0 {
		return errors.New("config: saga.timeout must not be zero, use a negative value to disable expiry")
	}
	if c.Saga.SweepInterval <= 0 {
		return errors.New("config: saga.sweep_interval must be positive")
	}
	if c.Saga.TombstoneRetention <= 0 {
		return errors.New("config: saga.tombstone_retention must be positive")
	}

	switch c.Dedup.Backend {
	case DedupNone, DedupMemory:
	case DedupRedis:
		if c.Dedup.Redis.Address == "" {
			return errors.New("config: dedup.redis.address is required for redis")
		}
	default:
		return fmt.Errorf("config: dedup.backend: unknown backend %q", c.Dedup.Backend)
	}
	if c.Dedup.Backend != DedupNone && c.Dedup.TTL <= 0 {
		return errors.New("config: dedup.ttl must be positive")
	}

	if c.Consumers.EmailRate < 0 {
		return errors.New("config: consumers.email_rate must not be negative")
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() zerolog.Level {
	l, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
