package periodic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/periodic"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := periodic.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*periodic.Config)
	}{
		{"zero max poll", func(c *periodic.Config) { c.MaxPollInterval = 0 }},
		{"zero claim lock", func(c *periodic.Config) { c.ClaimLockTimeout = 0 }},
		{"zero backoff", func(c *periodic.Config) { c.BackoffInitial = 0 }},
		{"backoff above max poll", func(c *periodic.Config) { c.BackoffInitial = 2 * time.Minute }},
		{"negative concurrency", func(c *periodic.Config) { c.Concurrency = -1 }},
		{"zero worker poll", func(c *periodic.Config) { c.PollInterval = 0 }},
		{"zero heartbeat", func(c *periodic.Config) { c.HeartbeatInterval = 0 }},
		{"stale below heartbeat", func(c *periodic.Config) { c.StaleJobThreshold = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := periodic.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, periodic.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
