package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here
	for _, k := range []string{"PORT", "DB_PATH", "SESSION_TTL", "MARKETPLACE_TIMEOUT", "SYNC_INTERVAL", "SYNC_WORKERS", "LOG_LEVEL", "MARKETPLACE_RPS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "data/sellerhub.db", cfg.DBPath)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.Marketplace.Timeout)
	assert.Equal(t, "https://api.mercadolibre.com", cfg.Marketplace.APIBaseURL)
	assert.Equal(t, 10.0, cfg.Marketplace.RequestsPerSecond)
	assert.Equal(t, time.Duration(0), cfg.SyncInterval)
	assert.Equal(t, 4, cfg.SyncWorkers)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "  0123456789abcdef0123  ")
	t.Setenv("COOKIE_SECURE", "yes")
	t.Setenv("MARKETPLACE_CLIENT_ID", "cid")
	t.Setenv("MARKETPLACE_TIMEOUT", "3s")
	t.Setenv("SYNC_INTERVAL", "15m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "0123456789abcdef0123", cfg.JWTSecret)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, "cid", cfg.Marketplace.ClientID)
	assert.Equal(t, 3*time.Second, cfg.Marketplace.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("MARKETPLACE_CLIENT_SECRET=from-dotenv\n"), 0o600))
	// godotenv never overrides variables that are already set, and t.Setenv
	// restores the previous state afterwards.
	t.Setenv("MARKETPLACE_CLIENT_SECRET", "")
	os.Unsetenv("MARKETPLACE_CLIENT_SECRET")

	cfg := Load()
	assert.Equal(t, "from-dotenv", cfg.Marketplace.ClientSecret)
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "eighty")
	t.Setenv("SYNC_INTERVAL", "soon")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Duration(0), cfg.SyncInterval)
}

func TestValidate(t *testing.T) {
	cfg := Config{Port: 8080, SyncWorkers: 1, JWTSecret: "short"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "MARKETPLACE_CLIENT_ID")
	assert.Contains(t, err.Error(), "MARKETPLACE_REDIRECT_URI")

	cfg.JWTSecret = "0123456789abcdef"
	cfg.Marketplace.ClientID = "id"
	cfg.Marketplace.ClientSecret = "secret"
	cfg.Marketplace.RedirectURL = "https://app/callback"
	assert.NoError(t, cfg.Validate())
}
