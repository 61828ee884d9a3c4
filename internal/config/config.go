package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	// HTTP Server
	Port            string
	ShutdownTimeout time.Duration

	// Snapshot storage
	SnapshotBackend  string
	SnapshotFilePath string
	WorkDir          string

	// Ledger
	Timezone string
	LogLevel string

	// Google Drive
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenJSON     string
	GoogleDriveFolder        string
	GoogleDriveFile          string

	// AMQP, optional. Empty URL disables snapshot events.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	InstanceID   string

	// Stats cache
	StatsCacheSize int
	StatsCacheTTL  time.Duration
}

var validBackends = []string{"memory", "file", "drive"}

func Load() *Config {
	cfg := &Config{
		Port:            getEnv("PORT", "8081"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		SnapshotBackend:  getEnv("SNAPSHOT_BACKEND", "file"),
		SnapshotFilePath: getEnv("SNAPSHOT_FILE_PATH", "./data/kakeibo.sqlite"),
		WorkDir:          getEnv("WORK_DIR", ""),

		Timezone: getEnv("LEDGER_TIMEZONE", "UTC"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:     getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),
		GoogleDriveFolder:        getEnv("GOOGLE_DRIVE_FOLDER", "AI_Kakeibo_Data"),
		GoogleDriveFile:          getEnv("GOOGLE_DRIVE_FILE", "kakeibo.sqlite"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "kakeibo.snapshots"),
		AMQPQueue:    getEnv("AMQP_QUEUE", ""),
		InstanceID:   getEnv("INSTANCE_ID", uuid.NewString()),

		StatsCacheSize: getEnvInt("STATS_CACHE_SIZE", 256),
		StatsCacheTTL:  getEnvDuration("STATS_CACHE_TTL", 5*time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate snapshot backend
	isValidBackend := false
	for _, backend := range validBackends {
		if c.SnapshotBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid snapshot backend '%s': must be one of %v", c.SnapshotBackend, validBackends))
	}

	if c.SnapshotBackend == "file" {
		if c.SnapshotFilePath == "" {
			errors = append(errors, "snapshot file path cannot be empty when using file backend")
		} else {
			dir := filepath.Dir(c.SnapshotFilePath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create snapshot directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.SnapshotBackend == "drive" {
		hasServiceAccount := c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != ""
		hasClient := c.GoogleOAuthClientJSON != "" || c.GoogleOAuthClientFile != ""
		hasToken := c.GoogleOAuthTokenJSON != "" || c.GoogleOAuthTokenFile != ""
		if !hasServiceAccount {
			if !hasClient {
				errors = append(errors, "either a service account or GOOGLE_OAUTH_CLIENT_FILE/GOOGLE_OAUTH_CLIENT_JSON must be provided for drive backend")
			}
			if !hasToken {
				errors = append(errors, "either a service account or GOOGLE_OAUTH_TOKEN_FILE/GOOGLE_OAUTH_TOKEN_JSON must be provided for drive backend")
			}
		}
		for _, f := range []string{c.GoogleServiceAccountFile, c.GoogleOAuthClientFile, c.GoogleOAuthTokenFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", f))
			}
		}
		if c.GoogleDriveFolder == "" || c.GoogleDriveFile == "" {
			errors = append(errors, "Google Drive folder and file names cannot be empty")
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid ledger timezone '%s': %v", c.Timezone, err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.InstanceID == "" {
			errors = append(errors, "instance id cannot be empty when AMQP URL is provided")
		}
	}

	if c.StatsCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid stats cache size %d: must not be negative", c.StatsCacheSize))
	}
	if c.StatsCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stats cache ttl %v: must be at least 1 second", c.StatsCacheTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location returns the time zone used for calendar days and months.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ParseLevel maps LOG_LEVEL values to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be one of debug, info, warn, error", s)
	}
	return level, nil
}

// ReadSecret returns inline when set, otherwise the contents of file.
// Both empty yields nil.
func ReadSecret(inline, file string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return b, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
