package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "COOKIE_SECRET", "NODE_ENV", "APP_ENV", "COOKIE_SECURE", "SESSION_TTL",
		"DATABASE_URL", "REDIS_URL", "VIEWS_DIR", "PUBLIC_DIR", "VIEWS_WATCH", "LOG_DIR",
		"SEED_FILE", "SECURE_HEADERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresCookieSecret(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingCookieSecret)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("COOKIE_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8001", cfg.Port)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.False(t, cfg.Production())
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "sqlite://nodebird.sqlite3", cfg.DatabaseURL)
	assert.Equal(t, "views", cfg.ViewsDir)
	assert.Equal(t, "public", cfg.PublicDir)
	assert.True(t, cfg.WatchViews)
	assert.False(t, cfg.SecureHeaders)
}

func TestLoadProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("COOKIE_SECRET", "s3cret")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("PORT", "9000")
	t.Setenv("SESSION_TTL", "90")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.False(t, cfg.WatchViews)
	assert.True(t, cfg.SecureHeaders)
}

func TestLoadRejectsNonNumericPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("COOKIE_SECRET", "s3cret")
	t.Setenv("PORT", "http")
	_, err := Load()
	assert.Error(t, err)
}

func TestDurationFromEnv(t *testing.T) {
	t.Setenv("X_TTL", "30m")
	assert.Equal(t, 30*time.Minute, durationFromEnv("X_TTL", time.Hour))
	t.Setenv("X_TTL", "-5")
	assert.Equal(t, time.Hour, durationFromEnv("X_TTL", time.Hour))
	t.Setenv("X_TTL", "soon")
	assert.Equal(t, time.Hour, durationFromEnv("X_TTL", time.Hour))
}
