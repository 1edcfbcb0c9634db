package s3blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", endpointURL("https://e2.example.com", false))
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000", true))
	assert.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")

	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.ErrorContains(t, err, "region")
}

type recordedPut struct {
	method      string
	path        string
	contentType string
	body        []byte
}

func TestWriterPut(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive-bucket",
		Prefix:         "test/",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "archive-bucket", c.Bucket())

	w := NewWriter(c, 0)
	payload := []byte("{\"order_id\":\"a\"}\n")
	require.NoError(t, w.Put(context.Background(), "archive/orders/2026-01-01.jsonl", bytes.NewReader(payload), "application/x-ndjson"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 1)
	assert.Equal(t, http.MethodPut, puts[0].method)
	assert.Equal(t, "/archive-bucket/test/archive/orders/2026-01-01.jsonl", puts[0].path)
	assert.Equal(t, "application/x-ndjson", puts[0].contentType)
	assert.Contains(t, string(puts[0].body), `{"order_id":"a"}`)
}
