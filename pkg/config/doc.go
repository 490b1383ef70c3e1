// Package config loads process configuration from the environment into
// tagged structs.
//
// Every notifier package owns a Config struct (pg.Config, redis.Config,
// push.Config...) annotated with `env`/`envDefault` tags. Load reads an
// optional .env file once per process via godotenv and then parses the
// environment with caarlos0/env:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Values already present in the environment always win over .env entries.
package config
