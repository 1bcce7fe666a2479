// Package config loads the YAML configuration shared by the lucid commands.
//
//	server:
//	  addr: ":5000"
//	  codec: json            # json | msgpack
//	  driver: concurrent     # concurrent | sequential
//	  max_in_flight: 256
//	  handler_timeout: 5s
//	  rate_limit: 0          # requests/second, 0 = unlimited
//	  shutdown_timeout: 10s
//	client:
//	  addr: "${LUCID_ADDR:-127.0.0.1:5000}"
//	  pool_size: 4
//	  picker: round_robin    # round_robin | least_pending
//	  timeout: 2s
//	  retry: {max_retries: 2, base_delay: 50ms, max_delay: 1s}
//	log: {level: info, format: json}
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"lucid-rpc/codec"
	"lucid-rpc/loadbalance"
	"lucid-rpc/protocol"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	Codec           string   `yaml:"codec"`
	Driver          string   `yaml:"driver"`
	MaxInFlight     int64    `yaml:"max_in_flight"`
	MaxFrameSize    uint32   `yaml:"max_frame_size"`
	HandlerTimeout  Duration `yaml:"handler_timeout"`
	RateLimit       float64  `yaml:"rate_limit"`
	RateBurst       int      `yaml:"rate_burst"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type ClientConfig struct {
	Addr         string      `yaml:"addr"`
	Codec        string      `yaml:"codec"`
	PoolSize     int         `yaml:"pool_size"`
	Picker       string      `yaml:"picker"`
	MaxFrameSize uint32      `yaml:"max_frame_size"`
	Timeout      Duration    `yaml:"timeout"`
	Retry        RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as "50ms", "2s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			Codec:           "json",
			Driver:          "concurrent",
			MaxInFlight:     256,
			MaxFrameSize:    protocol.DefaultMaxFrameSize,
			HandlerTimeout:  Duration(5 * time.Second),
			RateBurst:       100,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Client: ClientConfig{
			Addr:         "127.0.0.1:5000",
			Codec:        "json",
			PoolSize:     4,
			Picker:       "round_robin",
			MaxFrameSize: protocol.DefaultMaxFrameSize,
			Timeout:      Duration(2 * time.Second),
			Retry: RetryConfig{
				MaxRetries: 2,
				BaseDelay:  Duration(50 * time.Millisecond),
				MaxDelay:   Duration(time.Second),
			},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file, expands environment variables, and
// unmarshals it over Default(). Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs error
	if _, err := codec.ParseCodecType(c.Server.Codec); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("server.codec: %w", err))
	}
	if _, err := codec.ParseCodecType(c.Client.Codec); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("client.codec: %w", err))
	}
	switch c.Server.Driver {
	case "concurrent", "sequential":
	default:
		errs = multierr.Append(errs, fmt.Errorf("server.driver: unknown driver %q", c.Server.Driver))
	}
	if c.Server.MaxInFlight < 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.max_in_flight: must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.rate_limit: must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = multierr.Append(errs, fmt.Errorf("server.rate_burst: must be at least 1 when rate_limit is set"))
	}
	if c.Client.PoolSize < 1 {
		errs = multierr.Append(errs, fmt.Errorf("client.pool_size: must be at least 1"))
	}
	if _, err := loadbalance.New(c.Client.Picker); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("client.picker: %w", err))
	}
	if c.Client.Retry.MaxRetries < 0 {
		errs = multierr.Append(errs, fmt.Errorf("client.retry.max_retries: must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errs
}
