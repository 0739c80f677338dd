// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port            string
	ShutdownTimeout time.Duration

	// Write requests allowed per minute and client. Zero disables the limit.
	RateLimitPerMinute int

	// Record Store
	DataBackend  string
	SQLiteDBPath string
	PostgresURL  string
	MongoURI     string
	MongoDB      string

	// Blob Store
	BlobBackend        string
	BlobDir            string
	BlobPublicBaseURL  string
	GCSBucket          string
	GCSCredentialsFile string
	GCSCredentialsJSON string

	// AMQP. An empty URL disables domain events in the API process.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Expenses
	ImageUploadConcurrency int
	MaxUploadBytes         int64

	// Report cache
	CacheTTL  time.Duration
	CacheSize int

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	validDataBackends = []string{"memory", "sqlite", "postgres", "mongo"}
	validBlobBackends = []string{"local", "gcs"}
	validLogFormats   = []string{"text", "json"}
)

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/fleetcost.db"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		MongoURI:     getEnv("MONGO_URI", ""),
		MongoDB:      getEnv("MONGO_DB", "fleetcost"),

		BlobBackend:        getEnv("BLOB_BACKEND", "local"),
		BlobDir:            getEnv("BLOB_DIR", "./data/blobs"),
		BlobPublicBaseURL:  getEnv("BLOB_PUBLIC_BASE_URL", "http://localhost:8080/files"),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		GCSCredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fleetcost"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "trip_settlement"),

		ImageUploadConcurrency: getEnvInt("IMAGE_UPLOAD_CONCURRENCY", 4),
		MaxUploadBytes:         int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,

		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize: getEnvInt("CACHE_SIZE", 256),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	if !slices.Contains(validDataBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validDataBackends))
	}
	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLITE_DB_PATH cannot be empty when using sqlite backend")
		}
	case "postgres":
		if c.PostgresURL == "" {
			errors = append(errors, "POSTGRES_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.PostgresURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, fmt.Sprintf("invalid POSTGRES_URL '%s': scheme must be 'postgres' or 'postgresql'", redact(c.PostgresURL)))
		}
	case "mongo":
		if c.MongoURI == "" {
			errors = append(errors, "MONGO_URI is required when using mongo backend")
		} else if !strings.HasPrefix(c.MongoURI, "mongodb://") && !strings.HasPrefix(c.MongoURI, "mongodb+srv://") {
			errors = append(errors, "invalid MONGO_URI: scheme must be 'mongodb' or 'mongodb+srv'")
		}
		if c.MongoDB == "" {
			errors = append(errors, "MONGO_DB cannot be empty when using mongo backend")
		}
	}

	if !slices.Contains(validBlobBackends, c.BlobBackend) {
		errors = append(errors, fmt.Sprintf("invalid blob backend '%s': must be one of %v", c.BlobBackend, validBlobBackends))
	}
	switch c.BlobBackend {
	case "local":
		if c.BlobDir == "" {
			errors = append(errors, "BLOB_DIR cannot be empty when using local blob backend")
		}
		if _, err := url.ParseRequestURI(c.BlobPublicBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid BLOB_PUBLIC_BASE_URL '%s': %v", c.BlobPublicBaseURL, err))
		}
	case "gcs":
		if c.GCSBucket == "" {
			errors = append(errors, "GCS_BUCKET is required when using gcs blob backend")
		}
		if c.GCSCredentialsFile != "" {
			if _, err := os.Stat(c.GCSCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("GCS credentials file does not exist: %s", c.GCSCredentialsFile))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", redact(c.AMQPURL), err))
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

	if c.ImageUploadConcurrency < 1 || c.ImageUploadConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid image upload concurrency %d: must be between 1 and 64", c.ImageUploadConcurrency))
	}
	if c.MaxUploadBytes < 1<<20 {
		errors = append(errors, "invalid MAX_UPLOAD_MB: must be at least 1")
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}
	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if !slices.Contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validLogFormats))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker adds the requirements of the settlement worker, which
// cannot run without a broker.
func (c *Config) ValidateWorker() error {
	if c.AMQPURL == "" {
		return fmt.Errorf("configuration validation failed:\n- AMQP_URL is required for the worker")
	}
	return c.Validate()
}

// redact hides the password part of a connection URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
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
