package backend

import (
	"fmt"

	"fleetcost/internal/config"
)

// Type names a Record Store backend.
type Type string

const (
	MemoryBackend   Type = "memory"
	SQLiteBackend   Type = "sqlite"
	PostgresBackend Type = "postgres"
	MongoBackend    Type = "mongo"
)

// BlobType names a Blob Store backend.
type BlobType string

const (
	LocalBlob BlobType = "local"
	GCSBlob   BlobType = "gcs"
)

func (t Type) String() string { return string(t) }

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case MemoryBackend, SQLiteBackend, PostgresBackend, MongoBackend:
		return true
	default:
		return false
	}
}

func (t BlobType) IsValid() bool {
	return t == LocalBlob || t == GCSBlob
}

// Config holds what the factory needs from the process configuration.
type Config struct {
	Type Type

	SQLiteDBPath string
	PostgresURL  string
	MongoURI     string
	MongoDB      string

	Blob               BlobType
	BlobDir            string
	BlobPublicBaseURL  string
	GCSBucket          string
	GCSCredentialsFile string
	GCSCredentialsJSON string
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:               Type(appConfig.DataBackend),
		SQLiteDBPath:       appConfig.SQLiteDBPath,
		PostgresURL:        appConfig.PostgresURL,
		MongoURI:           appConfig.MongoURI,
		MongoDB:            appConfig.MongoDB,
		Blob:               BlobType(appConfig.BlobBackend),
		BlobDir:            appConfig.BlobDir,
		BlobPublicBaseURL:  appConfig.BlobPublicBaseURL,
		GCSBucket:          appConfig.GCSBucket,
		GCSCredentialsFile: appConfig.GCSCredentialsFile,
		GCSCredentialsJSON: appConfig.GCSCredentialsJSON,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres backend")
		}
	case MongoBackend:
		if c.MongoURI == "" || c.MongoDB == "" {
			return fmt.Errorf("mongo URI and database are required for mongo backend")
		}
	}

	if !c.Blob.IsValid() {
		return fmt.Errorf("invalid blob backend type: %s", c.Blob)
	}
	switch c.Blob {
	case LocalBlob:
		if c.BlobDir == "" {
			return fmt.Errorf("blob directory is required for local blob backend")
		}
	case GCSBlob:
		if c.GCSBucket == "" {
			return fmt.Errorf("bucket is required for gcs blob backend")
		}
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []Type {
	return []Type{MemoryBackend, SQLiteBackend, PostgresBackend, MongoBackend}
}
