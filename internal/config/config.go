package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "REMINDCAL"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "remindcal.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "token"
	defaultSessionTTL    = 24
	defaultUTCOffset     = 8
	defaultSchedulerCron = "* * * * *"
	defaultVAPIDSubject  = "mailto:admin@example.com"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SessionSigningKey string
	SessionCookieName string
	SessionTTL        time.Duration
	UTCOffsetHours    int
	SchedulerCron     string
	VAPIDPublicKey    string
	VAPIDPrivateKey   string
	VAPIDSubject      string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_hours", defaultSessionTTL)
	configViper.SetDefault("calendar.utc_offset_hours", defaultUTCOffset)
	configViper.SetDefault("scheduler.cron", defaultSchedulerCron)
	configViper.SetDefault("push.vapid_subject", defaultVAPIDSubject)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		SessionTTL:        time.Duration(configViper.GetInt("session.ttl_hours")) * time.Hour,
		UTCOffsetHours:    configViper.GetInt("calendar.utc_offset_hours"),
		SchedulerCron:     configViper.GetString("scheduler.cron"),
		VAPIDPublicKey:    configViper.GetString("push.vapid_public_key"),
		VAPIDPrivateKey:   configViper.GetString("push.vapid_private_key"),
		VAPIDSubject:      configViper.GetString("push.vapid_subject"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Location returns the fixed civil timezone all reminder arithmetic runs in.
// A fixed offset keeps fire times reproducible regardless of server locale.
func (c AppConfig) Location() *time.Location {
	name := fmt.Sprintf("UTC%+d", c.UTCOffsetHours)
	return time.FixedZone(name, c.UTCOffsetHours*3600)
}

// PushEnabled reports whether VAPID keys are configured for web push delivery.
func (c AppConfig) PushEnabled() bool {
	return strings.TrimSpace(c.VAPIDPublicKey) != "" && strings.TrimSpace(c.VAPIDPrivateKey) != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_hours must be positive")
	}
	if c.UTCOffsetHours < -12 || c.UTCOffsetHours > 14 {
		return fmt.Errorf("calendar.utc_offset_hours must be between -12 and 14")
	}
	if strings.TrimSpace(c.SchedulerCron) == "" {
		return fmt.Errorf("scheduler.cron is required")
	}
	return nil
}
