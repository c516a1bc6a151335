package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Load()
	cfg.AccessSecret = "access-secret"
	cfg.RenewalSecret = "renewal-secret"
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RenewalTTL)
	assert.Equal(t, 5, cfg.SessionCap)
	assert.False(t, cfg.RefreshRotatesRenewal)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GATEHOUSE_LISTEN_ADDR", ":9090")
	t.Setenv("GATEHOUSE_ACCESS_TTL", "5m")
	t.Setenv("GATEHOUSE_SESSION_CAP", "3")
	t.Setenv("GATEHOUSE_REFRESH_ROTATES_RENEWAL", "true")
	t.Setenv("GATEHOUSE_TRUSTED_NETWORKS", "10.0.0.0/8, 192.0.2.0/24")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 3, cfg.SessionCap)
	assert.True(t, cfg.RefreshRotatesRenewal)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.0/24"}, cfg.TrustedNetworks)
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("GATEHOUSE_SESSION_CAP", "many")
	t.Setenv("GATEHOUSE_ACCESS_TTL", "soon")

	cfg := Load()
	assert.Equal(t, 5, cfg.SessionCap)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing access secret", func(c *Config) { c.AccessSecret = "" }},
		{"missing renewal secret", func(c *Config) { c.RenewalSecret = "" }},
		{"identical secrets", func(c *Config) { c.RenewalSecret = c.AccessSecret }},
		{"zero session cap", func(c *Config) { c.SessionCap = 0 }},
		{"negative access ttl", func(c *Config) { c.AccessTTL = -time.Minute }},
		{"access ttl not shorter", func(c *Config) { c.AccessTTL = c.RenewalTTL }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
