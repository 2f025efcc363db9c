package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	StorageMode      string        // Storage mode (memory, sqlite) (default: sqlite)
	DatabaseFile     string        // Path to SQLite database file (default: ./console.db)
	MasterKeyPath    string        // Optional: path to the secret-encryption master key file
	RenewalThreshold time.Duration // Remaining token lifetime that triggers renewal (default: 60s)
	AutoRenew        bool          // Renew expiring worker tokens automatically (default: true)
	TrackerCapacity  int           // API call log ring size, 0 disables tracking (default: 256)
	TransportRetries int           // Outbound attempt budget for idempotent calls (default: 3)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		StorageMode:      getEnvOrDefault("CONSOLE_STORAGE_MODE", "sqlite"),
		DatabaseFile:     getEnvOrDefault("CONSOLE_DATABASE_FILE", "console.db"),
		MasterKeyPath:    os.Getenv("CONSOLE_MASTER_KEY_PATH"),
		RenewalThreshold: getEnvDurationOrDefault("CONSOLE_RENEWAL_THRESHOLD", 60*time.Second),
		AutoRenew:        getEnvBoolOrDefault("CONSOLE_AUTO_RENEW", true),
		TrackerCapacity:  getEnvIntOrDefault("CONSOLE_TRACKER_CAPACITY", 256),
		TransportRetries: getEnvIntOrDefault("CONSOLE_TRANSPORT_RETRIES", 3),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// A bare integer is read as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
