// Package config reads goverticle settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the defaults for the command line flags.
type Config struct {
	Root          string `env:"GOVERTICLE_ROOT" envDefault:"."`
	Instances     int    `env:"GOVERTICLE_INSTANCES" envDefault:"1"`
	LogLevel      string `env:"GOVERTICLE_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"GOVERTICLE_LOG_FORMAT" envDefault:"console"`
	JSStrict      bool   `env:"GOVERTICLE_JS_STRICT" envDefault:"true"`
	MaxScriptSize int64  `env:"GOVERTICLE_MAX_SCRIPT_SIZE" envDefault:"1048576"`
	ExportCache   int    `env:"GOVERTICLE_EXPORT_CACHE" envDefault:"256"`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses Config from the given variables only.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Instances < 1 {
		return Config{}, fmt.Errorf("GOVERTICLE_INSTANCES must be at least 1, got %d", cfg.Instances)
	}
	return cfg, nil
}
