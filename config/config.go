// Package config reads the process configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	APIKey  string `env:"TRELLO_API_KEY,required,notEmpty"`
	Token   string `env:"TRELLO_ACCESS_TOKEN,required,notEmpty"`
	BaseURL string `env:"TRELLO_BASE_URL" envDefault:"https://api.trello.com/1"`

	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY" envDefault:"4"`

	ListenAddr            string        `env:"LISTEN_ADDR" envDefault:":8080"`
	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	DeduperTTL            time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	AuthSharedSecret      string        `env:"LOCAL_AUTH_SHARED_SECRET"`

	Debug bool `env:"DEBUG"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be greater than zero"))
	}
	if c.FetchConcurrency <= 0 {
		errs = append(errs, errors.New("FETCH_CONCURRENCY must be greater than zero"))
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, errors.New("DEDUPER_TTL must be greater than zero"))
	}
	return errors.Join(errs...)
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// "host:port,password=...,ssl=true" form are accepted. It returns nil when
// no connection string is configured.
func (c Config) RedisOptions() *redis.Options {
	return ParseRedis(c.RedisConnectionString)
}

func ParseRedis(conn string) *redis.Options {
	if conn == "" {
		return nil
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
