// apps/go-server/internal/config/config.go
//
// Process configuration read from the environment.
// .env files are loaded first (development); real environment variables win.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every externally supplied setting of the server.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string // "json" | "console"
	DBPath    string

	PaletteFile string
	PaletteSize int // default pairs per game

	// MismatchDelay is how long a mismatch stays visible before the server
	// flips it back. Zero leaves resolution entirely to the client.
	MismatchDelay time.Duration
	SessionTTL    time.Duration

	DailySalt      string
	JWTSecret      string
	JWTExpiresDays int
	CookieName     string
	ClientOrigin   string
	AppEnv         string
}

// Production reports whether cookies must be Secure/SameSite=None.
func (c Config) Production() bool { return c.AppEnv == "production" }

// Load reads .env files (default ".env", missing files ignored) and then
// the environment. Malformed numeric or duration values are errors.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)

	c := Config{
		Port:         getEnv("PORT", "5175"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		DBPath:       getEnv("DB_PATH", "./data/memory.db"),
		PaletteFile:  os.Getenv("PALETTE_FILE"),
		DailySalt:    getEnv("DAILY_SALT", "local_dev_salt"),
		JWTSecret:    getEnv("JWT_SECRET", "dev_secret_change_me"),
		CookieName:   getEnv("COOKIE_NAME", "memory_token"),
		ClientOrigin: getEnv("CLIENT_ORIGIN", "http://localhost:5173"),
		AppEnv:       getEnv("APP_ENV", "development"),
	}

	var err error
	if c.PaletteSize, err = envInt("PALETTE_SIZE", 7); err != nil {
		return c, err
	}
	if c.JWTExpiresDays, err = envInt("JWT_EXPIRES_DAYS", 14); err != nil {
		return c, err
	}
	if c.MismatchDelay, err = envDuration("MISMATCH_DELAY", time.Second); err != nil {
		return c, err
	}
	if c.SessionTTL, err = envDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return c, err
	}
	if c.MismatchDelay < 0 || c.SessionTTL <= 0 {
		return c, fmt.Errorf("config: MISMATCH_DELAY must be >= 0 and SESSION_TTL > 0")
	}
	return c, nil
}

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return n, nil
}

func envDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return d, nil
}
