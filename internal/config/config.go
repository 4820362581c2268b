package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pauljones0/rfd-deal-digest/internal/validator"
)

const (
	DefaultHotDealsURL  = "https://forums.redflagdeals.com/hot-deals-f9/"
	DefaultSMTPAddr     = "smtp.gmail.com:465"
	DefaultMaxDeals     = 10
	DefaultFetchTimeout = 30 * time.Second

	BackendSQL       = "sql"
	BackendFirestore = "firestore"
)

type Config struct {
	EmailSender   string `validate:"required,email"`
	EmailPassword string `validate:"required"`
	SMTPAddr      string `validate:"required,hostname_port"`
	SMTPStartTLS  bool

	MaxDeals       int           `validate:"gte=1"`
	HotDealsURL    string        `validate:"required,url"`
	FetchTimeout   time.Duration `validate:"gt=0"`
	ProxyURL       string        `validate:"omitempty,url"`
	AllowedDomains []string      `validate:"min=1"`

	SubscriberBackend string `validate:"oneof=sql firestore"`
	DatabaseDriver    string `validate:"oneof=sqlite3 postgres"`
	DatabaseURL       string `validate:"required_if=SubscriberBackend sql"`
	ProjectID         string `validate:"required_if=SubscriberBackend firestore"`

	AdminUsername        string
	AdminPassword        string
	SchedulerToken       string
	Port                 string
	ManualTriggerRate    time.Duration `validate:"gte=0"`
	ScheduledTriggerRate time.Duration `validate:"gte=0"`

	LogLevel  slog.Level
	LogFormat string `validate:"oneof=text json"`
}

// Load reads the configuration from the process environment. Callers that
// want .env support load it before calling Load.
func Load() (*Config, error) {
	cfg := &Config{
		EmailSender:       os.Getenv("EMAIL_SENDER"),
		EmailPassword:     os.Getenv("EMAIL_PASSWORD"),
		SMTPAddr:          loadOptional("SMTP_ADDR", DefaultSMTPAddr),
		HotDealsURL:       loadOptional("HOT_DEALS_URL", DefaultHotDealsURL),
		ProxyURL:          os.Getenv("PROXY_URL"),
		AllowedDomains:    []string{"forums.redflagdeals.com", "redflagdeals.com", "www.redflagdeals.com"},
		SubscriberBackend: loadOptional("SUBSCRIBER_BACKEND", BackendSQL),
		DatabaseDriver:    loadOptional("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:       loadOptional("DATABASE_URL", "subscribers.db"),
		ProjectID:         os.Getenv("GOOGLE_CLOUD_PROJECT"),
		AdminUsername:     os.Getenv("ADMIN_USERNAME"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		SchedulerToken:    os.Getenv("SCHEDULER_TOKEN"),
		Port:              loadOptional("PORT", "8080"),
		LogFormat:         strings.ToLower(loadOptional("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.SMTPStartTLS, err = loadBool("SMTP_STARTTLS", false); err != nil {
		return nil, err
	}
	if cfg.MaxDeals, err = loadInt("NUM_DEALS", DefaultMaxDeals); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = loadDuration("FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		return nil, err
	}
	if cfg.ManualTriggerRate, err = loadDuration("MANUAL_TRIGGER_RATE", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScheduledTriggerRate, err = loadDuration("SCHEDULED_TRIGGER_RATE", 10*time.Minute); err != nil {
		return nil, err
	}
	if extra := os.Getenv("ALLOWED_DOMAINS"); extra != "" {
		for _, d := range strings.Split(extra, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.AllowedDomains = append(cfg.AllowedDomains, d)
			}
		}
	}

	lvl := loadOptional("LOG_LEVEL", "INFO")
	if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", lvl, err)
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// AdminConfigured reports whether admin credentials are present.
func (c *Config) AdminConfigured() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

func loadOptional(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func loadInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func loadBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func loadDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
