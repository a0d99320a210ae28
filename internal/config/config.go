package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultAddr              = ":8080"
	DefaultSendBuffer        = 256
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultEvictInterval     = 30 * time.Second
	DefaultDashboardInterval = 10 * time.Second
)

// Config holds all configuration for the hub.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `validate:"required"`

	// JWTSecret signs and verifies bearer credentials.
	JWTSecret string `validate:"required,min=16"`

	// SendBuffer is the size of each session's outbound message buffer.
	SendBuffer int `validate:"gt=0"`

	// IdleTimeout is how long a session may stay silent before housekeeping
	// evicts it.
	IdleTimeout time.Duration `validate:"gt=0"`

	// EvictInterval is the housekeeping tick for idle-session eviction.
	EvictInterval time.Duration `validate:"gt=0"`

	// DashboardInterval is the housekeeping tick for periodic dashboard
	// snapshot pushes.
	DashboardInterval time.Duration `validate:"gt=0"`

	// SignificantEvents lists the analytics event types that trigger an
	// admin-room alert.
	SignificantEvents []string

	// SignificanceFile optionally points at a JSON file overriding
	// SignificantEvents; when set, the file is watched for changes.
	SignificanceFile string
}

// New loads configuration from environment variables, reading a .env file
// first if one exists.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// We don't have slog configured yet, so the standard logger is fine
		// for this one startup message.
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Addr:              envOr("RELAY_ADDR", DefaultAddr),
		JWTSecret:         os.Getenv("RELAY_JWT_SECRET"),
		SendBuffer:        DefaultSendBuffer,
		IdleTimeout:       DefaultIdleTimeout,
		EvictInterval:     DefaultEvictInterval,
		DashboardInterval: DefaultDashboardInterval,
		SignificantEvents: []string{"conversion", "purchase", "signup"},
		SignificanceFile:  os.Getenv("RELAY_SIGNIFICANCE_FILE"),
	}

	if v := os.Getenv("RELAY_SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RELAY_SEND_BUFFER %q: %w", v, err)
		}
		cfg.SendBuffer = n
	}

	var err error
	if cfg.IdleTimeout, err = durationOr("RELAY_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.EvictInterval, err = durationOr("RELAY_EVICT_INTERVAL", cfg.EvictInterval); err != nil {
		return nil, err
	}
	if cfg.DashboardInterval, err = durationOr("RELAY_DASHBOARD_INTERVAL", cfg.DashboardInterval); err != nil {
		return nil, err
	}

	if v := os.Getenv("RELAY_SIGNIFICANT_EVENTS"); v != "" {
		cfg.SignificantEvents = splitList(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
