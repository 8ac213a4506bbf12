package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCardTimeout = 30 * time.Second
	DefaultPasswordEnv = "GRABOID_PASSWORD"
)

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Security SecurityConfig `yaml:"security"`
}

type StorageConfig struct {
	WorkDir string `yaml:"work_dir"`
}

type RuntimeConfig struct {
	ReaderIndex *int   `yaml:"reader_index"`
	CardTimeout string `yaml:"card_timeout,omitempty"`

	cardTimeout time.Duration
}

type SecurityConfig struct {
	PasswordEnv string `yaml:"password_env,omitempty"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.WorkDir) == "" {
		return fmt.Errorf("config.storage.work_dir is required")
	}
	if err := validateDirectory(c.Storage.WorkDir, "config.storage.work_dir"); err != nil {
		return err
	}

	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}

	c.Runtime.cardTimeout = DefaultCardTimeout
	if s := strings.TrimSpace(c.Runtime.CardTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config.runtime.card_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("config.runtime.card_timeout must be > 0")
		}
		c.Runtime.cardTimeout = d
	}

	if strings.TrimSpace(c.Security.PasswordEnv) == "" {
		c.Security.PasswordEnv = DefaultPasswordEnv
	}
	return nil
}

// CardTimeoutDuration returns how long to wait for a card, DefaultCardTimeout if unset.
func (r RuntimeConfig) CardTimeoutDuration() time.Duration {
	if r.cardTimeout == 0 {
		return DefaultCardTimeout
	}
	return r.cardTimeout
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Storage.WorkDir = resolvePath(configDir, c.Storage.WorkDir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateDirectory(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s must point to a directory, got file", field)
	}
	return nil
}
