// Package config loads CLI settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/credential"
)

// Credential store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

type Config struct {
	APIURL              string
	Timeout             time.Duration
	CredentialStore     string
	CredentialFile      string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	SessionKey          string
	SessionTTL          time.Duration
	LogLevel            slog.Level
	LegacyAdminUsername string
	DisableLegacyAdmin  bool
	ServeAddr           string
	DevAPIAddr          string
}

func Load() Config {
	return Config{
		APIURL:              getenv("PORTAL_API_URL", "http://localhost:8000/api"),
		Timeout:             getenvDuration("PORTAL_TIMEOUT", portal.DefaultTimeout),
		CredentialStore:     strings.ToLower(getenv("PORTAL_CREDENTIAL_STORE", StoreFile)),
		CredentialFile:      getenv("PORTAL_CREDENTIAL_FILE", defaultCredentialFile()),
		RedisAddr:           getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:       getenv("REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("REDIS_DB", 0),
		SessionKey:          getenv("PORTAL_SESSION_KEY", "default"),
		SessionTTL:          getenvDuration("PORTAL_SESSION_TTL", credential.DefaultRedisTTL),
		LogLevel:            getenvLevel("PORTAL_LOG_LEVEL", slog.LevelInfo),
		LegacyAdminUsername: getenv("PORTAL_LEGACY_ADMIN_USERNAME", portal.DefaultLegacyAdminUsername),
		DisableLegacyAdmin:  getenvBool("PORTAL_DISABLE_LEGACY_ADMIN", false),
		ServeAddr:           getenv("PORTAL_SERVE_ADDR", ":8080"),
		DevAPIAddr:          getenv("PORTAL_DEV_API_ADDR", ":8000"),
	}
}

// Portal returns the client configuration.
func (c Config) Portal() portal.Config {
	return portal.Config{
		BaseURL:             c.APIURL,
		Timeout:             c.Timeout,
		LegacyAdminUsername: c.LegacyAdminUsername,
		DisableLegacyAdmin:  c.DisableLegacyAdmin,
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.CredentialStore {
	case StoreMemory, StoreRedis:
	case StoreFile:
		if c.CredentialFile == "" {
			return fmt.Errorf("config: PORTAL_CREDENTIAL_FILE is required for the file store")
		}
	default:
		return fmt.Errorf("config: unknown credential store %q (want memory, file or redis)", c.CredentialStore)
	}
	if c.APIURL == "" {
		return fmt.Errorf("config: PORTAL_API_URL is required")
	}
	return nil
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "portal", "credentials.json")
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvLevel(key string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return fallback
	}
	return level
}
