package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "FACTORYOPS"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabaseDSN      = "factoryops.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultPushWorkers      = 4
	defaultCacheTTLSeconds  = 5
	defaultOTPRatePerMinute = 10
	defaultOTPBurst         = 5
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabaseDriver   string
	DatabaseDSN      string
	LogLevel         string
	SigningSecret    string
	TokenTTL         time.Duration
	CacheTTL         time.Duration
	OTPRatePerMinute int
	OTPBurst         int
	PushWorkers      int
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubscriber  string
}

// PushEnabled reports whether web push credentials were supplied.
func (c AppConfig) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("otp.rate_per_minute", defaultOTPRatePerMinute)
	configViper.SetDefault("otp.burst", defaultOTPBurst)
	configViper.SetDefault("push.workers", defaultPushWorkers)
	configViper.SetDefault("push.vapid_subscriber", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabaseDriver:   configViper.GetString("database.driver"),
		DatabaseDSN:      configViper.GetString("database.dsn"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		CacheTTL:         time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		OTPRatePerMinute: configViper.GetInt("otp.rate_per_minute"),
		OTPBurst:         configViper.GetInt("otp.burst"),
		PushWorkers:      configViper.GetInt("push.workers"),
		VAPIDPublicKey:   configViper.GetString("push.vapid_public_key"),
		VAPIDPrivateKey:  configViper.GetString("push.vapid_private_key"),
		VAPIDSubscriber:  configViper.GetString("push.vapid_subscriber"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.VAPIDPublicKey != "" || c.VAPIDPrivateKey != "" {
		if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" {
			return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
		}
		if strings.TrimSpace(c.VAPIDSubscriber) == "" {
			return fmt.Errorf("push.vapid_subscriber is required when push keys are set")
		}
	}
	return nil
}
