// Package config loads the coroutine support settings of a container.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/centraunit/digo/errdefs"
)

const (
	DefaultPoolSize          = 1
	DefaultLockWaitThreshold = 30 * time.Second
)

// Config is the root of a configuration document.
type Config struct {
	CoroutinesSupport CoroutinesSupport `yaml:"coroutines_support"`
}

// CoroutinesSupport configures the stateful services pass.
type CoroutinesSupport struct {
	Enabled           bool               `yaml:"enabled"`
	StatefulServices  []string           `yaml:"stateful_services"`
	CompileProcessors []CompileProcessor `yaml:"compile_processors"`
	DefaultPoolSize   int                `yaml:"default_pool_size"`
	LockWaitThreshold time.Duration      `yaml:"lock_wait_threshold"`
}

// CompileProcessor names a registered compile processor and its priority.
type CompileProcessor struct {
	Class    string `yaml:"class"`
	Priority int    `yaml:"priority"`
}

// Default returns the configuration used when no document is given.
func Default() *Config {
	return &Config{
		CoroutinesSupport: CoroutinesSupport{
			DefaultPoolSize:   DefaultPoolSize,
			LockWaitThreshold: DefaultLockWaitThreshold,
		},
	}
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(bits)
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(bits []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(bits, c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if c.CoroutinesSupport.DefaultPoolSize == 0 {
		c.CoroutinesSupport.DefaultPoolSize = DefaultPoolSize
	}
	if c.CoroutinesSupport.LockWaitThreshold == 0 {
		c.CoroutinesSupport.LockWaitThreshold = DefaultLockWaitThreshold
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values the container cannot run with.
func (c *Config) Validate() error {
	cs := c.CoroutinesSupport
	if cs.DefaultPoolSize < 0 {
		return &errdefs.ConfigError{Key: "coroutines_support.default_pool_size", Reason: "must not be negative"}
	}
	if cs.LockWaitThreshold < 0 {
		return &errdefs.ConfigError{Key: "coroutines_support.lock_wait_threshold", Reason: "must not be negative"}
	}
	for _, p := range cs.CompileProcessors {
		if p.Class == "" {
			return &errdefs.ConfigError{Key: "coroutines_support.compile_processors", Reason: "processor class is empty"}
		}
	}
	for _, id := range cs.StatefulServices {
		if id == "" {
			return &errdefs.ConfigError{Key: "coroutines_support.stateful_services", Reason: "service id is empty"}
		}
	}
	return nil
}
