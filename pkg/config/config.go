// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the gatehouse service needs to start.
type Config struct {
	// Server
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Signing secrets for the two credential kinds. Required, distinct.
	AccessSecret  string
	RenewalSecret string

	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RenewalTTL time.Duration

	// SessionCap bounds concurrent renewal credentials per identity.
	SessionCap int
	// RefreshRotatesRenewal mints a fresh renewal credential on refresh.
	RefreshRotatesRenewal bool

	// RedisURL enables the shared revocation store and throttle counters.
	// Empty selects the in-process fallbacks.
	RedisURL string

	// PostgresDSN selects the SQL credential store. Empty selects the
	// in-memory store, which is only useful for development.
	PostgresDSN string

	// TrustedNetworks are CIDR blocks exempt from throttling.
	TrustedNetworks []string
	// ThrottlePolicyFile overrides the built-in policy set and is watched
	// for changes.
	ThrottlePolicyFile string

	// TrustForwardedFor honors X-Forwarded-For from a fronting proxy.
	TrustForwardedFor bool

	AuditLogPath string
	LogLevel     string

	RoleCacheSize int
	RoleCacheTTL  time.Duration
}

// Load reads configuration from GATEHOUSE_* environment variables.
func Load() *Config {
	return &Config{
		ListenAddr:      getEnv("GATEHOUSE_LISTEN_ADDR", ":8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 15*time.Second),

		AccessSecret:  getEnv("GATEHOUSE_ACCESS_SECRET", ""),
		RenewalSecret: getEnv("GATEHOUSE_RENEWAL_SECRET", ""),

		Issuer:     getEnv("GATEHOUSE_ISSUER", "gatehouse"),
		Audience:   getEnv("GATEHOUSE_AUDIENCE", "staykeeper-backoffice"),
		AccessTTL:  getEnvDuration("GATEHOUSE_ACCESS_TTL", 15*time.Minute),
		RenewalTTL: getEnvDuration("GATEHOUSE_RENEWAL_TTL", 30*24*time.Hour),

		SessionCap:            getEnvInt("GATEHOUSE_SESSION_CAP", 5),
		RefreshRotatesRenewal: getEnvBool("GATEHOUSE_REFRESH_ROTATES_RENEWAL", false),

		RedisURL:    getEnv("GATEHOUSE_REDIS_URL", ""),
		PostgresDSN: getEnv("GATEHOUSE_POSTGRES_DSN", ""),

		TrustedNetworks:    getEnvList("GATEHOUSE_TRUSTED_NETWORKS"),
		ThrottlePolicyFile: getEnv("GATEHOUSE_THROTTLE_POLICY_FILE", ""),

		TrustForwardedFor: getEnvBool("GATEHOUSE_TRUST_FORWARDED_FOR", false),

		AuditLogPath: getEnv("GATEHOUSE_AUDIT_LOG", ""),
		LogLevel:     getEnv("GATEHOUSE_LOG_LEVEL", "info"),

		RoleCacheSize: getEnvInt("GATEHOUSE_ROLE_CACHE_SIZE", 256),
		RoleCacheTTL:  getEnvDuration("GATEHOUSE_ROLE_CACHE_TTL", 30*time.Second),
	}
}

// Validate checks invariants that would otherwise surface as runtime
// failures.
func (c *Config) Validate() error {
	if c.AccessSecret == "" {
		return fmt.Errorf("GATEHOUSE_ACCESS_SECRET is required")
	}
	if c.RenewalSecret == "" {
		return fmt.Errorf("GATEHOUSE_RENEWAL_SECRET is required")
	}
	if c.AccessSecret == c.RenewalSecret {
		return fmt.Errorf("GATEHOUSE_ACCESS_SECRET and GATEHOUSE_RENEWAL_SECRET must differ")
	}
	if c.SessionCap <= 0 {
		return fmt.Errorf("GATEHOUSE_SESSION_CAP must be positive")
	}
	if c.AccessTTL <= 0 || c.RenewalTTL <= 0 {
		return fmt.Errorf("credential lifetimes must be positive")
	}
	if c.AccessTTL >= c.RenewalTTL {
		return fmt.Errorf("GATEHOUSE_ACCESS_TTL must be shorter than GATEHOUSE_RENEWAL_TTL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
