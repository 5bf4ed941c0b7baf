package core

import (
	"fmt"
	"strings"
	"time"
)

type KeepFreshConfig struct {
	Enabled        bool          `koanf:"enabled" mapstructure:"enabled"`
	Interval       time.Duration `koanf:"interval" mapstructure:"interval"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type Config struct {
	ClientName           string          `koanf:"client_name" mapstructure:"client_name"`
	Profile              string          `koanf:"profile" mapstructure:"profile"`
	BaseURL              string          `koanf:"base_url" mapstructure:"base_url"`
	RefreshURL           string          `koanf:"refresh_url" mapstructure:"refresh_url"`
	ExpiringSoonWindow   time.Duration   `koanf:"expiring_soon_window" mapstructure:"expiring_soon_window"`
	RequestTimeout       time.Duration   `koanf:"request_timeout" mapstructure:"request_timeout"`
	MaxResponseBodyBytes int64           `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	KeepFresh            KeepFreshConfig `koanf:"keep_fresh" mapstructure:"keep_fresh"`
}

func DefaultConfig() Config {
	return Config{
		ClientName:         "authclient",
		Profile:            DefaultProfile,
		ExpiringSoonWindow: DefaultExpiringSoonWindow,
		RequestTimeout:     30 * time.Second,
		KeepFresh: KeepFreshConfig{
			Interval:       time.Minute,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     5 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientName) == "" {
		return fmt.Errorf("core: client_name is required")
	}
	if strings.TrimSpace(c.Profile) == "" {
		return fmt.Errorf("core: profile is required")
	}
	if c.ExpiringSoonWindow < 0 {
		return fmt.Errorf("core: expiring_soon_window must not be negative")
	}
	if c.MaxResponseBodyBytes < 0 {
		return fmt.Errorf("core: max_response_body_bytes must not be negative")
	}
	if c.KeepFresh.Enabled && c.KeepFresh.Interval <= 0 {
		return fmt.Errorf("core: keep_fresh.interval must be positive when enabled")
	}
	return nil
}
