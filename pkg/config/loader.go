package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// Option tunes a single Load call.
type Option func(*env.Options)

// WithPrefix requires every variable of the struct to carry the prefix,
// e.g. WithPrefix("NOTIFIER_") reads NOTIFIER_PG_CONN_URL for `env:"PG_CONN_URL"`.
func WithPrefix(prefix string) Option {
	return func(o *env.Options) { o.Prefix = prefix }
}

// WithEnvironment parses from the supplied map instead of the process
// environment. Used by tests to avoid leaking state between cases.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) { o.Environment = vars }
}

// Load parses environment variables into v according to its struct tags.
// The default .env file is read once per process; a missing file is not an error.
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})

	var o env.Options
	for _, opt := range opts {
		opt(&o)
	}

	if err := env.ParseWithOptions(v, o); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure. Intended for main packages
// where a missing required variable should stop startup.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("config: failed to load %T: %v", v, err))
	}
}

// LoadFiles reads the given .env files into the process environment without
// overriding variables that are already set.
func LoadFiles(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	return godotenv.Load(paths...)
}
