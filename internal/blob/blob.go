// Package blob defines the Blob Store collaborator used for expense receipt
// images.
package blob

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid blob path")
	ErrEmptyObject = errors.New("empty blob")
)

// Handle identifies a stored object.
type Handle struct {
	Path        string
	ContentType string
	Size        int64
}

// Store persists opaque objects and hands out public URLs for them.
type Store interface {
	Upload(ctx context.Context, path, contentType string, r io.Reader) (Handle, error)
	PublicURL(h Handle) string
	Delete(ctx context.Context, h Handle) error
}

// ObjectPath builds "<organization>/<expenseId>/<fileName>". The file name is
// reduced to its base name so client supplied names cannot escape the
// expense prefix.
func ObjectPath(org, expenseID, fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		name = "upload"
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	return org + "/" + expenseID + "/" + name
}

// CleanPath validates an object path: relative, slash separated, no empty or
// dot segments.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// JoinURL appends an object path to a base URL, escaping each segment.
func JoinURL(base, p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segs, "/")
}
