// Package gcs stores blobs in a Google Cloud Storage bucket through the JSON
// API client.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gstorage "google.golang.org/api/storage/v1"

	"fleetcost/internal/blob"
	"fleetcost/internal/log"
)

const publicBaseURL = "https://storage.googleapis.com"

type Store struct {
	svc     *gstorage.Service
	bucket  string
	baseURL string
}

var _ blob.Store = (*Store)(nil)

// Config selects the bucket and the service account. CredentialsJSON wins
// over CredentialsFile; with neither, Application Default Credentials are
// used.
type Config struct {
	Bucket          string
	CredentialsFile string
	CredentialsJSON string
}

// New builds a Store with service account credentials.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("missing GCS bucket")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentBlob)

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		logger.InfoContext(ctx, "Using inline JSON credentials")
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		logger.InfoContext(ctx, "Reading credentials from file", "path", cfg.CredentialsFile)
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(data))
	default:
		logger.InfoContext(ctx, "Using application default credentials")
	}
	opts = append(opts, option.WithScopes(gstorage.DevstorageReadWriteScope))

	return NewWithOptions(ctx, cfg.Bucket, opts...)
}

// NewWithOptions builds a Store from raw client options. Tests use it to
// point the client at a local server.
func NewWithOptions(ctx context.Context, bucket string, opts ...option.ClientOption) (*Store, error) {
	svc, err := gstorage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}
	return &Store{svc: svc, bucket: bucket, baseURL: publicBaseURL + "/" + bucket}, nil
}

func (s *Store) Upload(ctx context.Context, path, contentType string, r io.Reader) (blob.Handle, error) {
	p, err := blob.CleanPath(path)
	if err != nil {
		return blob.Handle{}, err
	}
	obj := &gstorage.Object{Name: p, ContentType: contentType}
	res, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(r, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return blob.Handle{}, fmt.Errorf("upload %s to bucket %s: %w", p, s.bucket, err)
	}
	return blob.Handle{Path: res.Name, ContentType: res.ContentType, Size: int64(res.Size)}, nil
}

func (s *Store) PublicURL(h blob.Handle) string {
	return blob.JoinURL(s.baseURL, h.Path)
}

// Delete removes the object. A 404 from the bucket is treated as success.
func (s *Store) Delete(ctx context.Context, h blob.Handle) error {
	p, err := blob.CleanPath(h.Path)
	if err != nil {
		return err
	}
	err = s.svc.Objects.Delete(s.bucket, p).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s from bucket %s: %w", p, s.bucket, err)
	}
	return nil
}

// PooledHTTPClient returns an HTTP client tuned for repeated uploads to one
// host. Pass it with option.WithHTTPClient only together with
// option.WithoutAuthentication or an already authorized transport.
func PooledHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}
