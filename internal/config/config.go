package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Environment variables overriding the session retry budgets.
const (
	EnvTransactionMaxRetry = "SESSION_TRANSACTION_MAX_RETRY"
	EnvCommitMaxRetry      = "SESSION_MAX_COMMIT_RETRY"
)

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Workers int           `yaml:"workers"`
}

type StoreConfig struct {
	Paths         []string `yaml:"paths"`
	MinimumFreeGB int      `yaml:"minimumFreeGB"`
	Compress      bool     `yaml:"compress"`
	InMemory      bool     `yaml:"inMemory"`
}

// SessionConfig holds the bulk write retry budgets. A nil budget was not
// configured and defaults to 1; an explicit 0 disables retries.
type SessionConfig struct {
	TransactionMaxRetry *int `yaml:"transactionMaxRetry"`
	CommitMaxRetry      *int `yaml:"commitMaxRetry"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads a YAML config file, fills in defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Session.TransactionMaxRetry == nil {
		c.Session.TransactionMaxRetry = intPtr(1)
	}
	if c.Session.CommitMaxRetry == nil {
		c.Session.CommitMaxRetry = intPtr(1)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if len(c.Store.Paths) == 0 && !c.Store.InMemory {
		c.Store.InMemory = true
	}
}

func (c *Config) applyEnv() error {
	for _, o := range []struct {
		name string
		dst  **int
	}{
		{EnvTransactionMaxRetry, &c.Session.TransactionMaxRetry},
		{EnvCommitMaxRetry, &c.Session.CommitMaxRetry},
	} {
		raw, ok := os.LookupEnv(o.name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
		*o.dst = intPtr(v)
	}
	return c.validate()
}

func (c *Config) validate() error {
	for name, v := range map[string]*int{
		"session.transactionMaxRetry": c.Session.TransactionMaxRetry,
		"session.commitMaxRetry":      c.Session.CommitMaxRetry,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, *v)
		}
	}
	return nil
}

func intPtr(v int) *int { return &v }

// ApplyEnv applies only the environment overrides to c.
func (c *Config) ApplyEnv() error {
	return c.applyEnv()
}
