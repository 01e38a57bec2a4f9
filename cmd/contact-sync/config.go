package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/goliatone/go-contact-sync/core"
)

const (
	envPrefix       = "CONTACT_SYNC"
	defaultDriver   = "sqlite3"
	defaultDSN      = "file:contact-sync.db?_foreign_keys=on"
	defaultLogLevel = "info"
	defaultWorkers  = 4
	defaultRedisKey = "contact-sync"
)

// coreKeys are the top-level settings that belong to core.Config. The rest
// of the viper tree configures the process itself.
var coreKeys = []string{"service_name", "refresh", "jobs", "cache", "providers"}

// appConfig is the process-level configuration around the library config.
type appConfig struct {
	DatabaseDriver string
	DatabaseDSN    string
	DatabaseDebug  bool
	LogLevel       string
	LogDevelopment bool
	VaultKey       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	Workers        int
}

// applyDefaults configures defaults and env bindings on the provided viper instance.
func applyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.driver", defaultDriver)
	v.SetDefault("database.dsn", defaultDSN)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("redis.prefix", defaultRedisKey)
	v.SetDefault("worker.concurrency", defaultWorkers)
}

func loadAppConfig(v *viper.Viper) (appConfig, error) {
	cfg := appConfig{
		DatabaseDriver: strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseDSN:    strings.TrimSpace(v.GetString("database.dsn")),
		DatabaseDebug:  v.GetBool("database.debug"),
		LogLevel:       v.GetString("log.level"),
		LogDevelopment: v.GetBool("log.development"),
		VaultKey:       strings.TrimSpace(v.GetString("vault.key")),
		RedisAddr:      strings.TrimSpace(v.GetString("redis.addr")),
		RedisPassword:  v.GetString("redis.password"),
		RedisDB:        v.GetInt("redis.db"),
		RedisPrefix:    v.GetString("redis.prefix"),
		Workers:        v.GetInt("worker.concurrency"),
	}
	if err := cfg.validate(); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}

// viperLoader exposes the core.Config subtree of a viper instance to the
// library's config provider chain.
type viperLoader struct {
	v *viper.Viper
}

func (l viperLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l.v == nil {
		return map[string]any{}, nil
	}
	settings := l.v.AllSettings()
	raw := make(map[string]any, len(coreKeys))
	for _, key := range coreKeys {
		if value, ok := settings[key]; ok {
			raw[key] = value
		}
	}
	return raw, nil
}

var _ core.RawConfigLoader = viperLoader{}
