package core

import (
	"testing"
	"time"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ClientName != "authclient" {
		t.Fatalf("expected client name authclient, got %q", cfg.ClientName)
	}
	if cfg.Profile != DefaultProfile {
		t.Fatalf("expected default profile, got %q", cfg.Profile)
	}
	if cfg.ExpiringSoonWindow != DefaultExpiringSoonWindow {
		t.Fatalf("expected default expiring-soon window, got %v", cfg.ExpiringSoonWindow)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s request timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.KeepFresh.Enabled {
		t.Fatalf("expected keep-fresh disabled by default")
	}
	if cfg.KeepFresh.Interval != time.Minute {
		t.Fatalf("expected one minute keep-fresh interval, got %v", cfg.KeepFresh.Interval)
	}
	if cfg.KeepFresh.InitialBackoff != 5*time.Second || cfg.KeepFresh.MaxBackoff != 5*time.Minute {
		t.Fatalf("expected default backoff bounds, got %#v", cfg.KeepFresh)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults pass", mutate: func(*Config) {}, wantErr: false},
		{name: "missing client name", mutate: func(c *Config) { c.ClientName = "  " }, wantErr: true},
		{name: "missing profile", mutate: func(c *Config) { c.Profile = "" }, wantErr: true},
		{name: "negative window", mutate: func(c *Config) { c.ExpiringSoonWindow = -time.Second }, wantErr: true},
		{name: "negative body limit", mutate: func(c *Config) { c.MaxResponseBodyBytes = -1 }, wantErr: true},
		{
			name: "keep-fresh enabled without interval",
			mutate: func(c *Config) {
				c.KeepFresh.Enabled = true
				c.KeepFresh.Interval = 0
			},
			wantErr: true,
		},
		{
			name: "keep-fresh disabled ignores interval",
			mutate: func(c *Config) {
				c.KeepFresh.Enabled = false
				c.KeepFresh.Interval = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected config to validate, got %v", err)
			}
		})
	}
}
