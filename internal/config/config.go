package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/mattbonnell/tableq/internal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidEnv is returned when a TABLEQ_* override cannot be parsed.
var ErrInvalidEnv = errors.New("config: invalid environment override")

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	LogLevel string         `yaml:"log_level"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	CreateSchema bool   `yaml:"create_schema"`
}

type QueueConfig struct {
	Name              string  `yaml:"name"`
	PollingIntervalMS int64   `yaml:"polling_interval_ms"`
	ReceiveTimeoutMS  int64   `yaml:"receive_timeout_ms"`
	Consumers         int     `yaml:"consumers"`
	RequeueRatio      float64 `yaml:"requeue_ratio"`
}

const (
	defaultDriver            = "sqlite3"
	defaultDSN               = "file:tableq.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"
	defaultMaxOpenConns      = 10
	defaultQueue             = "default"
	defaultPollingIntervalMS = 1000
	defaultConsumers         = 1
	defaultLogLevel          = "info"
)

func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Load reads a YAML config file. ${VAR} references in the file are expanded
// from the environment, and TABLEQ_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = defaultDriver
	}
	if c.Database.DSN == "" && c.Database.Driver == defaultDriver {
		c.Database.DSN = defaultDSN
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if c.Queue.Name == "" {
		c.Queue.Name = defaultQueue
	}
	if c.Queue.PollingIntervalMS == 0 {
		c.Queue.PollingIntervalMS = defaultPollingIntervalMS
	}
	if c.Queue.Consumers == 0 {
		c.Queue.Consumers = defaultConsumers
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// applyEnvOverrides fails on the first TABLEQ_* variable that is set but does
// not parse, rather than keeping the previous value.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("TABLEQ_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("TABLEQ_DSN"); v != "" {
		c.Database.DSN = v
	}
	if err := envInt("TABLEQ_MAX_OPEN_CONNS", &c.Database.MaxOpenConns); err != nil {
		return err
	}
	if v := os.Getenv("TABLEQ_CREATE_SCHEMA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("TABLEQ_CREATE_SCHEMA", v, err)
		}
		c.Database.CreateSchema = b
	}
	if v := os.Getenv("TABLEQ_QUEUE"); v != "" {
		c.Queue.Name = v
	}
	if err := envInt64("TABLEQ_POLLING_INTERVAL_MS", &c.Queue.PollingIntervalMS); err != nil {
		return err
	}
	if err := envInt64("TABLEQ_RECEIVE_TIMEOUT_MS", &c.Queue.ReceiveTimeoutMS); err != nil {
		return err
	}
	if err := envInt("TABLEQ_CONSUMERS", &c.Queue.Consumers); err != nil {
		return err
	}
	if v := os.Getenv("TABLEQ_REQUEUE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("TABLEQ_REQUEUE_RATIO", v, err)
		}
		c.Queue.RequeueRatio = f
	}
	if v := os.Getenv("TABLEQ_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return envError(key, v, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return envError(key, v, err)
	}
	*dst = n
	return nil
}

func envError(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, key, value, err)
}

func (c *Config) Validate() error {
	if _, err := internal.GetDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Queue.Name == "" {
		return errors.New("queue name is required")
	}
	if c.Queue.PollingIntervalMS < 0 {
		return fmt.Errorf("invalid polling interval: %dms", c.Queue.PollingIntervalMS)
	}
	if c.Queue.Consumers <= 0 {
		return fmt.Errorf("invalid consumer count: %d", c.Queue.Consumers)
	}
	if c.Queue.RequeueRatio < 0 || c.Queue.RequeueRatio > 1 {
		return fmt.Errorf("invalid requeue ratio: %v", c.Queue.RequeueRatio)
	}
	return nil
}
