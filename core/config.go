package core

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCookieSecret is returned by Load when COOKIE_SECRET is not set.
var ErrMissingCookieSecret = errors.New("COOKIE_SECRET is required")

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds runtime settings for the web process. It is built once at
// startup and passed by value; nothing mutates it afterwards.
type Config struct {
	Port          string        // HTTP listen port (default "8001")
	CookieSecret  string        // signs cookies and keys the session cookie
	Env           string        // "production" hides error detail
	CookieSecure  bool          // Secure flag on the session cookie
	SessionTTL    time.Duration // server-side session lifetime
	DatabaseURL   string        // postgres://... or sqlite://path / file:...
	RedisURL      string        // empty -> in-memory session store
	ViewsDir      string        // template directory
	PublicDir     string        // static asset root
	WatchViews    bool          // reload templates on change
	LogDir        string        // empty -> stdout only
	SeedFile      string        // optional YAML seed data
	SecureHeaders bool          // apply security headers middleware
}

// Production reports whether verbose error detail must be suppressed.
func (c Config) Production() bool {
	return c.Env == EnvProduction
}

// Load populates Config from the environment, reading .env first when present.
func Load() (Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	env := strings.ToLower(firstNonEmpty(os.Getenv("NODE_ENV"), os.Getenv("APP_ENV"), EnvDevelopment))
	cfg := Config{
		Port:          firstNonEmpty(os.Getenv("PORT"), "8001"),
		CookieSecret:  os.Getenv("COOKIE_SECRET"),
		Env:           env,
		CookieSecure:  boolFromEnv("COOKIE_SECURE", false),
		SessionTTL:    durationFromEnv("SESSION_TTL", 24*time.Hour),
		DatabaseURL:   firstNonEmpty(os.Getenv("DATABASE_URL"), "sqlite://nodebird.sqlite3"),
		RedisURL:      os.Getenv("REDIS_URL"),
		ViewsDir:      firstNonEmpty(os.Getenv("VIEWS_DIR"), "views"),
		PublicDir:     firstNonEmpty(os.Getenv("PUBLIC_DIR"), "public"),
		WatchViews:    boolFromEnv("VIEWS_WATCH", env != EnvProduction),
		LogDir:        os.Getenv("LOG_DIR"),
		SeedFile:      os.Getenv("SEED_FILE"),
		SecureHeaders: boolFromEnv("SECURE_HEADERS", env == EnvProduction),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.CookieSecret) == "" {
		return ErrMissingCookieSecret
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be numeric")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// durationFromEnv accepts Go durations ("30m") or plain seconds.
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
