package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configs with rules that env tags cannot
// express (cross-field checks, environment-dependent requirements).
type Validator interface {
	Validate() error
}

// Load parses environment variables into the provided struct and then runs
// its Validate method, if it has one.
//
// Example:
//
//	type Config struct {
//	    Port     int    `env:"HTTP_PORT" envDefault:"8080"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	return load(cfg, env.Options{})
}

// LoadFrom is Load against an explicit variable set instead of the process
// environment.
func LoadFrom(cfg any, environ map[string]string) error {
	return load(cfg, env.Options{Environment: environ})
}

func load(cfg any, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}
