package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "snapshots-bucket"})
	require.NoError(t, err)
	return store
}

func TestBlobStore_PutObject(t *testing.T) {
	var (
		mu       sync.Mutex
		gotName  string
		gotBody  string
		gotQuery string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		mu.Lock()
		gotName = r.URL.Query().Get("name")
		gotQuery = r.URL.Query().Get("uploadType")
		gotBody = string(body)
		mu.Unlock()

		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/snapshots-bucket/o")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket":"snapshots-bucket","name":%q}`, gotName)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "/snapshots/2024/05/01/rec-1.html", "text/html",
		strings.NewReader("<html>page</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots-bucket/snapshots/2024/05/01/rec-1.html", uri)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "snapshots/2024/05/01/rec-1.html", gotName)
	assert.Equal(t, "multipart", gotQuery)
	assert.Contains(t, gotBody, "<html>page</html>")
	assert.Contains(t, gotBody, "text/html")
	assert.Contains(t, gotBody, "immutable")
}

func TestBlobStore_PutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObject_EmptyPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "  ", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
