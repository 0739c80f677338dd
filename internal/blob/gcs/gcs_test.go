package gcs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"fleetcost/internal/blob"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]bool
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/b/receipts/o"
	idx := strings.Index(r.URL.Path, prefix)
	if idx < 0 {
		http.Error(w, "unexpected path "+r.URL.Path, http.StatusBadRequest)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path[idx+len(prefix):], "/")

	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		name := r.URL.Query().Get("name")
		if name == "" {
			// Multipart upload: object metadata travels in the first part.
			start := strings.Index(string(body), `"name":"`)
			if start >= 0 {
				tail := string(body)[start+len(`"name":"`):]
				name = tail[:strings.Index(tail, `"`)]
			}
		}
		f.objects[name] = true
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":        name,
			"bucket":      "receipts",
			"contentType": "image/png",
			"size":        "4",
		})
	case http.MethodDelete:
		if !f.objects[rest] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
			return
		}
		delete(f.objects, rest)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method", http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeBucket) {
	t.Helper()
	fake := &fakeBucket{objects: map[string]bool{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewWithOptions(context.Background(), "receipts",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithHTTPClient(PooledHTTPClient()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return s, fake
}

func TestStore_UploadDelete(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	h, err := s.Upload(ctx, "org-1/exp-1/receipt.png", "image/png", strings.NewReader("png!"))
	require.NoError(t, err)
	assert.Equal(t, "org-1/exp-1/receipt.png", h.Path)
	assert.Equal(t, int64(4), h.Size)
	assert.True(t, fake.objects["org-1/exp-1/receipt.png"])

	assert.Equal(t, "https://storage.googleapis.com/receipts/org-1/exp-1/receipt.png", s.PublicURL(h))

	require.NoError(t, s.Delete(ctx, h))
	assert.Empty(t, fake.objects)
	assert.NoError(t, s.Delete(ctx, h), "missing objects are ignored")
}

func TestStore_InvalidPath(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upload(context.Background(), "../x", "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, blob.ErrInvalidPath)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestNew_MissingCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b", CredentialsFile: "/does/not/exist.json"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read service account file")
}
