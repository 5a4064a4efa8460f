package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckframe/internal/domain"
)

// fakeS3 answers HeadBucket for the buckets it knows and 404 otherwise.
func fakeS3(t *testing.T, buckets ...string) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	known := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		known[b] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := strings.Trim(r.URL.Path, "/")
		mu.Lock()
		seen = append(seen, r.Method+" "+bucket)
		mu.Unlock()
		if r.Method == http.MethodHead && known[bucket] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func storeAt(t *testing.T, endpoint, bucket string) *S3Store {
	t.Helper()
	store, err := NewS3Store(bucket, domain.StoreCredentials{
		Region:          "us-east-1",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		Endpoint:        endpoint,
		URLStyle:        "path",
	})
	require.NoError(t, err)
	return store
}

func TestS3Store_HeadBucket(t *testing.T) {
	srv, seen := fakeS3(t, "lake")
	ctx := context.Background()

	require.NoError(t, storeAt(t, srv.URL, "lake").HeadBucket(ctx))

	err := storeAt(t, srv.URL, "missing").HeadBucket(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `head bucket "missing"`)
	assert.Contains(t, *seen, "HEAD lake")
}

func TestVerify(t *testing.T) {
	srv, _ := fakeS3(t, "lake", "archive")
	ctx := context.Background()

	require.NoError(t, Verify(ctx))
	require.NoError(t, Verify(ctx, storeAt(t, srv.URL, "lake"), storeAt(t, srv.URL, "archive")))

	err := Verify(ctx,
		storeAt(t, srv.URL, "lake"),
		storeAt(t, srv.URL, "gone"),
		storeAt(t, srv.URL, "also-gone"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"gone"`)
	assert.Contains(t, err.Error(), `"also-gone"`)
	assert.NotContains(t, err.Error(), `"lake"`)
}
