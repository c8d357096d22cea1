// Package config loads server settings: YAML file first, then TS_*
// environment overrides. Absent file and absent variables both fall back to
// defaults, so a bare binary runs.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`
	DataDir   string `yaml:"data_dir" env:"DATA_DIR"`

	// DisableDB turns the operator session index off.
	DisableDB bool `yaml:"disable_db" env:"DISABLE_DB"`
	// Journal enables the compressed lifecycle journal under DataDir.
	Journal bool `yaml:"journal" env:"JOURNAL"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func Defaults() Config {
	return Config{
		Addr:      ":8080",
		StaticDir: "./static",
		DataDir:   "./data",
		LogLevel:  "info",
	}
}

// Load reads the YAML config at path (missing file is fine when the path is
// empty) and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TS_"}); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: expected debug/info/warn/error", c.LogLevel)
	}
	return nil
}
