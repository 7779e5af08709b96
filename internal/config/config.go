package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	LocalBackendSQLite = "sqlite"
	LocalBackendMemory = "memory"

	RemoteBackendNone   = "none"
	RemoteBackendMemory = "memory"
	RemoteBackendHTTP   = "http"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Local cache
	LocalBackend string
	SQLiteDBPath string
	StorageKey   string

	// Remote tree
	RemoteBackend     string
	TreeURL           string
	FamilyID          string
	RemoteTimeout     time.Duration
	SettleDelay       time.Duration
	VersionCheck      bool
	HeartbeatInterval time.Duration

	// Diagnostics queue
	DiagnosticsQueueSize int
	DiagnosticsRetries   int

	// This device
	DeviceUserAgent string
	DeviceName      string
	Currency        string

	// AMQP mirror; empty URL disables it
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror; empty spreadsheet id disables it
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Backups
	BackupBucket string
	BackupPrefix string
	BackupDir    string

	// Tree server
	TreePort        string
	TreeJWTSecret   string
	TreeTokenTTL    time.Duration
	TreeDatabaseURL string
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LocalBackend: getEnv("LOCAL_BACKEND", LocalBackendSQLite),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budgetsync.db"),
		StorageKey:   getEnv("STORAGE_KEY", "budgetAppData"),

		RemoteBackend:     getEnv("REMOTE_BACKEND", RemoteBackendNone),
		TreeURL:           getEnv("TREE_URL", ""),
		FamilyID:          getEnv("FAMILY_ID", "default-family"),
		RemoteTimeout:     getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),
		SettleDelay:       getEnvDuration("SETTLE_DELAY", 500*time.Millisecond),
		VersionCheck:      getEnvBool("VERSION_CHECK", false),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", time.Minute),

		DiagnosticsQueueSize: getEnvInt("DIAGNOSTICS_QUEUE_SIZE", 64),
		DiagnosticsRetries:   getEnvInt("DIAGNOSTICS_RETRIES", 3),

		DeviceUserAgent: getEnv("DEVICE_USER_AGENT", ""),
		DeviceName:      getEnv("DEVICE_NAME", ""),
		Currency:        getEnv("CURRENCY", "zł"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budgetsync"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "operation_mirror"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Operations"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		BackupBucket: getEnv("BACKUP_BUCKET", ""),
		BackupPrefix: getEnv("BACKUP_PREFIX", "backups"),
		BackupDir:    getEnv("BACKUP_DIR", "./data/backups"),

		TreePort:        getEnv("TREE_PORT", "8090"),
		TreeJWTSecret:   getEnv("TREE_JWT_SECRET", ""),
		TreeTokenTTL:    getEnvDuration("TREE_TOKEN_TTL", 24*time.Hour),
		TreeDatabaseURL: getEnv("TREE_DATABASE_URL", ""),
	}

	return cfg
}

// Validate checks the settings used by the budgetsync application and the
// mirror worker. All problems are reported together.
func (c *Config) Validate() error {
	var errors []string

	errors = appendPortError(errors, "port", c.Port)

	validLocal := []string{LocalBackendMemory, LocalBackendSQLite}
	if !slices.Contains(validLocal, c.LocalBackend) {
		errors = append(errors, fmt.Sprintf("invalid local backend '%s': must be one of %v", c.LocalBackend, validLocal))
	}

	if c.LocalBackend == LocalBackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if strings.TrimSpace(c.StorageKey) == "" {
		errors = append(errors, "storage key cannot be empty")
	}

	validRemote := []string{RemoteBackendHTTP, RemoteBackendMemory, RemoteBackendNone}
	if !slices.Contains(validRemote, c.RemoteBackend) {
		errors = append(errors, fmt.Sprintf("invalid remote backend '%s': must be one of %v", c.RemoteBackend, validRemote))
	}

	if c.RemoteBackend == RemoteBackendHTTP {
		if c.TreeURL == "" {
			errors = append(errors, "TREE_URL is required when using http remote backend")
		} else if u, err := url.Parse(c.TreeURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid tree URL '%s': %v", c.TreeURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid tree URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
	}

	if strings.TrimSpace(c.FamilyID) == "" {
		errors = append(errors, "family id cannot be empty")
	}

	if c.RemoteTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be positive", c.RemoteTimeout))
	} else if c.RemoteTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at most 5 minutes", c.RemoteTimeout))
	}
	if c.SettleDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid settle delay %v: must not be negative", c.SettleDelay))
	}
	if c.HeartbeatInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid heartbeat interval %v: must be at least 1 second", c.HeartbeatInterval))
	}

	if c.DiagnosticsQueueSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid diagnostics queue size %d: must be at least 1", c.DiagnosticsQueueSize))
	} else if c.DiagnosticsQueueSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid diagnostics queue size %d: must be at most 10000", c.DiagnosticsQueueSize))
	}
	if c.DiagnosticsRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid diagnostics retries %d: must be at least 1", c.DiagnosticsRetries))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet id is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for the sheets mirror")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.BackupBucket == "" && c.BackupDir == "" {
		errors = append(errors, "either BACKUP_BUCKET or BACKUP_DIR must be set")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateTreeServer checks the settings used by the hosted tree server.
func (c *Config) ValidateTreeServer() error {
	var errors []string

	errors = appendPortError(errors, "tree port", c.TreePort)
	if len(c.TreeJWTSecret) < 16 {
		errors = append(errors, "TREE_JWT_SECRET must be at least 16 characters")
	}
	if c.TreeTokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid tree token ttl %v: must be at least 1 minute", c.TreeTokenTTL))
	}
	if c.TreeDatabaseURL != "" {
		if u, err := url.Parse(c.TreeDatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid tree database URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid tree database URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateMirrorWorker checks the settings the mirror worker needs on top
// of the broker and spreadsheet checks in Validate.
func (c *Config) ValidateMirrorWorker() error {
	var errors []string

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the mirror worker")
	}
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the mirror worker")
	}
	if strings.TrimSpace(c.FamilyID) == "" {
		errors = append(errors, "family id cannot be empty")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// RemoteEnabled reports whether a remote tree is configured at all.
func (c *Config) RemoteEnabled() bool {
	return c.RemoteBackend != "" && c.RemoteBackend != RemoteBackendNone
}

func appendPortError(errors []string, name, value string) []string {
	port, err := strconv.Atoi(value)
	if err != nil {
		return append(errors, fmt.Sprintf("invalid %s '%s': must be a number", name, value))
	}
	if port < 1 || port > 65535 {
		return append(errors, fmt.Sprintf("invalid %s %d: must be between 1 and 65535", name, port))
	}
	return errors
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
