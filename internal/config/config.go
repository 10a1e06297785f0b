// Package config loads adminguard configuration from YAML files and
// environment variables with validated defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config represents the application configuration
type Config struct {
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		DSN             string `mapstructure:"dsn"`
		MaxOpenConns    int    `mapstructure:"max_open_conns"`
		MaxIdleConns    int    `mapstructure:"max_idle_conns"`
		ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	} `mapstructure:"database"`

	Redis struct {
		Address  string `mapstructure:"address" validate:"required"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Security SecurityConfig `mapstructure:"security"`
}

// SecurityConfig groups every tunable of the super-admin pipeline.
type SecurityConfig struct {
	// Response headers applied to every response; super-admin and API routes
	// get stricter overrides on top of this map.
	Headers map[string]string `mapstructure:"headers"`

	SessionTTL          time.Duration `mapstructure:"session_ttl"`
	TenantContextTTL    time.Duration `mapstructure:"tenant_context_ttl"`
	InactivityTimeout   time.Duration `mapstructure:"inactivity_timeout"`
	FingerprintTTL      time.Duration `mapstructure:"fingerprint_ttl"`
	RateLimitMax        int           `mapstructure:"rate_limit_max" validate:"min=1"`
	RateLimitWindow     time.Duration `mapstructure:"rate_limit_window"`
	SuspiciousThreshold int           `mapstructure:"suspicious_threshold" validate:"min=1"`
	SuspiciousWindow    time.Duration `mapstructure:"suspicious_window"`

	Whitelist map[string]WhitelistConfig `mapstructure:"whitelist"`

	CSRF struct {
		ProtectedMethods []string      `mapstructure:"protected_methods"`
		SkipPaths        []string      `mapstructure:"skip_paths"`
		SafeContentTypes []string      `mapstructure:"safe_content_types"`
		TokenTTL         time.Duration `mapstructure:"token_ttl"`
		IssuanceLimit    int           `mapstructure:"issuance_limit" validate:"min=1"`
		IssuanceWindow   time.Duration `mapstructure:"issuance_window"`
	} `mapstructure:"csrf"`

	Audit struct {
		HMACSecret       string        `mapstructure:"hmac_secret" validate:"required"`
		EmergencyLogPath string        `mapstructure:"emergency_log_path"`
		RetentionPeriod  time.Duration `mapstructure:"retention_period"`
	} `mapstructure:"audit"`

	JWT struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"jwt"`
}

// WhitelistConfig is the per-config-key IP whitelist surface.
type WhitelistConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Comma-separated addresses, CIDR blocks and wildcard patterns.
	Addresses string `mapstructure:"addresses"`
}

// Load loads the application configuration from files and environment
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CLUBIFY")

	setDefaults(v)

	if len(configPaths) == 0 {
		configPaths = []string{
			"./config.yaml",
			"./configs/config.yaml",
			"/etc/adminguard/config.yaml",
		}
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "adminguard.security-alerts")

	v.SetDefault("security.headers", map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	})
	v.SetDefault("security.session_ttl", time.Hour)
	v.SetDefault("security.tenant_context_ttl", 30*time.Minute)
	v.SetDefault("security.inactivity_timeout", 30*time.Minute)
	v.SetDefault("security.fingerprint_ttl", 2*time.Hour)
	v.SetDefault("security.rate_limit_max", 60)
	v.SetDefault("security.rate_limit_window", time.Hour)
	v.SetDefault("security.suspicious_threshold", 5)
	v.SetDefault("security.suspicious_window", 24*time.Hour)

	v.SetDefault("security.csrf.protected_methods", []string{"POST", "PUT", "PATCH", "DELETE"})
	v.SetDefault("security.csrf.skip_paths", []string{"/health", "/metrics"})
	v.SetDefault("security.csrf.safe_content_types", []string{"application/json", "application/xml"})
	v.SetDefault("security.csrf.token_ttl", time.Hour)
	v.SetDefault("security.csrf.issuance_limit", 10)
	v.SetDefault("security.csrf.issuance_window", time.Hour)

	v.SetDefault("security.audit.hmac_secret", "change-me-in-production")
	v.SetDefault("security.audit.emergency_log_path", "/var/log/adminguard/audit-emergency.log")
	v.SetDefault("security.audit.retention_period", 7*365*24*time.Hour)
}
