// Package local stores blobs in a directory on the local filesystem. The HTTP
// server exposes that directory under the public base URL.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fleetcost/internal/blob"
)

type Store struct {
	dir     string
	baseURL string
}

var _ blob.Store = (*Store)(nil)

// New creates the root directory if needed.
func New(dir, baseURL string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Store{dir: dir, baseURL: baseURL}, nil
}

// Dir is the root directory objects are written under.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Upload(ctx context.Context, path, contentType string, r io.Reader) (blob.Handle, error) {
	p, err := blob.CleanPath(path)
	if err != nil {
		return blob.Handle{}, err
	}
	if err := ctx.Err(); err != nil {
		return blob.Handle{}, err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return blob.Handle{}, fmt.Errorf("create object directory: %w", err)
	}

	// Write to a temp file first so readers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return blob.Handle{}, fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return blob.Handle{}, fmt.Errorf("write object %s: %w", p, err)
	}
	if n == 0 {
		return blob.Handle{}, blob.ErrEmptyObject
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return blob.Handle{}, fmt.Errorf("commit object %s: %w", p, err)
	}

	return blob.Handle{Path: p, ContentType: contentType, Size: n}, nil
}

func (s *Store) PublicURL(h blob.Handle) string {
	return blob.JoinURL(s.baseURL, h.Path)
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, h blob.Handle) error {
	p, err := blob.CleanPath(h.Path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, filepath.FromSlash(p)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", p, err)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
