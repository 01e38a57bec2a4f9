package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRefreshLeadWindow  = 5 * time.Minute
	DefaultRefreshSweepWindow = 10 * time.Minute
	DefaultRefreshLockTTL     = 30 * time.Second
	DefaultGoldenRecordsTTL   = time.Minute
)

type RefreshConfig struct {
	LeadWindow  time.Duration `koanf:"lead_window" mapstructure:"lead_window"`
	SweepWindow time.Duration `koanf:"sweep_window" mapstructure:"sweep_window"`
	LockTTL     time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
}

// TaskPolicy bounds retries and runtime of one queued task type.
type TaskPolicy struct {
	RetryLimit int           `koanf:"retry_limit" mapstructure:"retry_limit"`
	RetryDelay time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	Backoff    bool          `koanf:"backoff" mapstructure:"backoff"`
	Expire     time.Duration `koanf:"expire" mapstructure:"expire"`
	Schedule   string        `koanf:"schedule" mapstructure:"schedule"`
}

// DelayFor returns the wait before retry number attempt (1-based).
func (p TaskPolicy) DelayFor(attempt int) time.Duration {
	if p.RetryDelay <= 0 {
		return 0
	}
	if !p.Backoff || attempt <= 1 {
		return p.RetryDelay
	}
	delay := p.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Expire && p.Expire > 0 {
			return p.Expire
		}
	}
	return delay
}

// MaxAttempts counts the first run plus retries.
func (p TaskPolicy) MaxAttempts() int {
	if p.RetryLimit < 0 {
		return 1
	}
	return p.RetryLimit + 1
}

type JobsConfig struct {
	Sync         TaskPolicy `koanf:"sync" mapstructure:"sync"`
	TokenRefresh TaskPolicy `koanf:"token_refresh" mapstructure:"token_refresh"`
	Scheduler    TaskPolicy `koanf:"scheduler" mapstructure:"scheduler"`
}

type CacheConfig struct {
	GoldenRecordsTTL time.Duration `koanf:"golden_records_ttl" mapstructure:"golden_records_ttl"`
}

type ProviderConfig struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url" mapstructure:"redirect_url"`
	Subdomain    string   `koanf:"subdomain" mapstructure:"subdomain"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
}

func (p ProviderConfig) IsZero() bool {
	return strings.TrimSpace(p.ClientID) == "" &&
		strings.TrimSpace(p.ClientSecret) == "" &&
		strings.TrimSpace(p.RedirectURL) == "" &&
		strings.TrimSpace(p.Subdomain) == "" &&
		len(p.Scopes) == 0
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	Refresh     RefreshConfig             `koanf:"refresh" mapstructure:"refresh"`
	Jobs        JobsConfig                `koanf:"jobs" mapstructure:"jobs"`
	Cache       CacheConfig               `koanf:"cache" mapstructure:"cache"`
	Providers   map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "contact-sync",
		Refresh: RefreshConfig{
			LeadWindow:  DefaultRefreshLeadWindow,
			SweepWindow: DefaultRefreshSweepWindow,
			LockTTL:     DefaultRefreshLockTTL,
		},
		Jobs: JobsConfig{
			Sync: TaskPolicy{
				RetryLimit: 3,
				RetryDelay: 30 * time.Second,
				Backoff:    true,
				Expire:     30 * time.Minute,
			},
			TokenRefresh: TaskPolicy{
				RetryLimit: 2,
				RetryDelay: 60 * time.Second,
				Expire:     5 * time.Minute,
				Schedule:   "*/5 * * * *",
			},
			Scheduler: TaskPolicy{
				RetryLimit: 1,
				Expire:     5 * time.Minute,
				Schedule:   "0 * * * *",
			},
		},
		Cache: CacheConfig{GoldenRecordsTTL: DefaultGoldenRecordsTTL},
	}
}

// TaskPolicy returns the retry policy for a task type. Both sweeps use the
// scheduler policy; Jobs.TokenRefresh.Schedule only sets when the refresh
// sweep fires.
func (c Config) TaskPolicy(task string) TaskPolicy {
	switch strings.TrimSpace(task) {
	case TaskConnectionSync:
		return c.Jobs.Sync
	case TaskTokenRefresh:
		return c.Jobs.TokenRefresh
	default:
		return c.Jobs.Scheduler
	}
}

func (c Config) Provider(providerID string) (ProviderConfig, bool) {
	cfg, ok := c.Providers[strings.TrimSpace(providerID)]
	return cfg, ok
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Refresh.LeadWindow <= 0 {
		return fmt.Errorf("core: refresh.lead_window must be positive")
	}
	if c.Refresh.SweepWindow < c.Refresh.LeadWindow {
		return fmt.Errorf("core: refresh.sweep_window must not be shorter than refresh.lead_window")
	}
	for name, policy := range map[string]TaskPolicy{
		"jobs.sync":          c.Jobs.Sync,
		"jobs.token_refresh": c.Jobs.TokenRefresh,
		"jobs.scheduler":     c.Jobs.Scheduler,
	} {
		if policy.RetryLimit < 0 {
			return fmt.Errorf("core: %s.retry_limit must not be negative", name)
		}
		if policy.Expire <= 0 {
			return fmt.Errorf("core: %s.expire must be positive", name)
		}
	}
	return nil
}
