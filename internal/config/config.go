// Package config loads process configuration from the environment.
//
// An optional .env file in the working directory is read first; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/sellerhub/internal/marketplace"
)

// Config holds application configuration.
type Config struct {
	Port         int
	DBPath       string
	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool
	LogLevel     slog.Level

	Marketplace marketplace.Config

	// SyncInterval is the period of the background refresh; 0 disables it.
	SyncInterval time.Duration
	// SyncWorkers bounds concurrent account refreshes per user.
	SyncWorkers int
}

// Load reads .env (if present) and the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:         getenvInt("PORT", 8080),
		DBPath:       getenv("DB_PATH", "data/sellerhub.db"),
		JWTSecret:    strings.TrimSpace(getenv("JWT_SECRET", "")),
		SessionTTL:   getenvDuration("SESSION_TTL", 30*24*time.Hour),
		CookieSecure: getenvBool("COOKIE_SECURE", false),
		LogLevel:     parseLevel(getenv("LOG_LEVEL", "info")),
		Marketplace: marketplace.Config{
			ClientID:          strings.TrimSpace(getenv("MARKETPLACE_CLIENT_ID", "")),
			ClientSecret:      strings.TrimSpace(getenv("MARKETPLACE_CLIENT_SECRET", "")),
			RedirectURL:       strings.TrimSpace(getenv("MARKETPLACE_REDIRECT_URI", "")),
			AuthURL:           getenv("MARKETPLACE_AUTH_URL", "https://auth.mercadolibre.com.ar/authorization"),
			APIBaseURL:        getenv("MARKETPLACE_API_URL", "https://api.mercadolibre.com"),
			Timeout:           getenvDuration("MARKETPLACE_TIMEOUT", 10*time.Second),
			UserAgent:         getenv("MARKETPLACE_USER_AGENT", "SellerHub/1.0"),
			RequestsPerSecond: getenvFloat("MARKETPLACE_RPS", 10),
		},
		SyncInterval: getenvDuration("SYNC_INTERVAL", 0),
		SyncWorkers:  getenvInt("SYNC_WORKERS", 4),
	}
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Marketplace.ClientID == "" {
		errs = append(errs, errors.New("MARKETPLACE_CLIENT_ID is required"))
	}
	if c.Marketplace.ClientSecret == "" {
		errs = append(errs, errors.New("MARKETPLACE_CLIENT_SECRET is required"))
	}
	if c.Marketplace.RedirectURL == "" {
		errs = append(errs, errors.New("MARKETPLACE_REDIRECT_URI is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.SyncWorkers < 1 {
		errs = append(errs, errors.New("SYNC_WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
