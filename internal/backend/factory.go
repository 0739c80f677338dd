// Package backend builds the Record Store and Blob Store selected by
// configuration.
package backend

import (
	"context"
	"fmt"

	"fleetcost/internal/blob"
	"fleetcost/internal/blob/gcs"
	"fleetcost/internal/blob/local"
	"fleetcost/internal/log"
	"fleetcost/internal/storage"
	"fleetcost/internal/storage/memory"
	"fleetcost/internal/storage/mongo"
	"fleetcost/internal/storage/postgres"
	"fleetcost/internal/storage/sqlite"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the stores and a cleanup function releasing both.
type BackendResult struct {
	Store storage.RecordStore
	Blob  blob.Store
	// LocalBlobDir is set when blobs live on disk and the HTTP server should
	// serve them itself.
	LocalBlobDir string
	Cleanup      CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createRecordStore(ctx, config)
	if err != nil {
		return nil, err
	}

	result := &BackendResult{Store: store}
	switch config.Blob {
	case GCSBlob:
		result.Blob, err = gcs.New(ctx, gcs.Config{
			Bucket:          config.GCSBucket,
			CredentialsFile: config.GCSCredentialsFile,
			CredentialsJSON: config.GCSCredentialsJSON,
		}, f.logger)
		if err == nil {
			f.logger.Info("Initialized GCS blob store", "bucket", config.GCSBucket)
		}
	default:
		var ls *local.Store
		ls, err = local.New(config.BlobDir, config.BlobPublicBaseURL)
		if err == nil {
			result.Blob = ls
			result.LocalBlobDir = ls.Dir()
			f.logger.Info("Initialized local blob store", "dir", config.BlobDir)
		}
	}
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	result.Cleanup = store.Close
	return result, nil
}

func (f *DefaultFactory) createRecordStore(ctx context.Context, config Config) (storage.RecordStore, error) {
	switch config.Type {
	case SQLiteBackend:
		s, err := sqlite.Open(ctx, config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return s, nil
	case PostgresBackend:
		s, err := postgres.Open(ctx, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		f.logger.Info("Initialized Postgres backend")
		return s, nil
	case MongoBackend:
		s, err := mongo.Connect(ctx, config.MongoURI, config.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Mongo store: %w", err)
		}
		f.logger.Info("Initialized Mongo backend", "database", config.MongoDB)
		return s, nil
	case MemoryBackend:
		f.logger.Warn("Using in-memory backend, data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
