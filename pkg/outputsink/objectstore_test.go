package outputsink

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal stand-in for an S3-compatible PUT-object endpoint:
// enough for manager.Uploader's single-part path to round-trip a request
// and get back a response the SDK accepts.
func fakeS3(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		handler(w, r, body)
	}))
}

func testObjectStoreConfig(endpoint, bucket string) ObjectStoreConfig {
	return ObjectStoreConfig{
		Bucket:          bucket,
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestObjectStoreSinkUploadsSuccessfully(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := fakeS3(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		gotPath = r.URL.Path
		gotBody = body
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	sink, err := New(Config{
		Mode:        ModeObjectStore,
		ObjectStore: testObjectStoreConfig(srv.URL, "pages-bucket"),
		KeyPrefix:   "doc-1",
	})
	require.NoError(t, err)

	result := sink.DeliverOne(t.Context(), samplePage(2), "webp", "image/webp")
	require.True(t, result.Success)
	assert.Equal(t, "doc-1/page_2.webp", result.SinkRef)
	assert.NotEmpty(t, result.Digest)
	assert.Equal(t, "/pages-bucket/doc-1/page_2.webp", gotPath)
	assert.Equal(t, "fake-image-bytes", string(gotBody))
}

func TestObjectStoreSinkRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := fakeS3(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	sink, err := New(Config{
		Mode:        ModeObjectStore,
		ObjectStore: testObjectStoreConfig(srv.URL, "pages-bucket"),
	})
	require.NoError(t, err)

	result := sink.DeliverOne(t.Context(), samplePage(5), "png", "image/png")
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestObjectStoreSinkExhaustsRetriesOnPersistentFailure(t *testing.T) {
	var attempts int32
	srv := fakeS3(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	sink, err := New(Config{
		Mode:        ModeObjectStore,
		ObjectStore: testObjectStoreConfig(srv.URL, "pages-bucket"),
	})
	require.NoError(t, err)

	result := sink.DeliverOne(t.Context(), samplePage(1), "webp", "image/webp")
	assert.False(t, result.Success)
	require.Error(t, result.Error)
	assert.Equal(t, int32(objectStoreMaxRetries), atomic.LoadInt32(&attempts))
}

// TestObjectStoreSinkPerPageFailureDoesNotAbortSiblings delivers two pages
// against a server that always fails page 1's key but always succeeds page
// 2's, confirming one page's permanent failure has no bearing on another's
// outcome.
func TestObjectStoreSinkPerPageFailureDoesNotAbortSiblings(t *testing.T) {
	srv := fakeS3(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if strings.Contains(r.URL.Path, "page_1.") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	sink, err := New(Config{
		Mode:        ModeObjectStore,
		ObjectStore: testObjectStoreConfig(srv.URL, "pages-bucket"),
	})
	require.NoError(t, err)

	failed := sink.DeliverOne(t.Context(), samplePage(1), "webp", "image/webp")
	assert.False(t, failed.Success)
	require.Error(t, failed.Error)

	ok := sink.DeliverOne(t.Context(), samplePage(2), "webp", "image/webp")
	assert.True(t, ok.Success)
	assert.NoError(t, ok.Error)
}

func TestNewObjectStoreRequiresBucket(t *testing.T) {
	_, err := New(Config{Mode: ModeObjectStore, ObjectStore: ObjectStoreConfig{Region: "us-east-1"}})
	assert.Error(t, err)
}

func TestNewObjectStoreWiresKeyPrefixAndLogger(t *testing.T) {
	sink, err := New(Config{
		Mode:        ModeObjectStore,
		ObjectStore: testObjectStoreConfig("http://127.0.0.1:0", "pages-bucket"),
		KeyPrefix:   "doc-7",
	})
	require.NoError(t, err)

	osink, ok := sink.(*objectStoreSink)
	require.True(t, ok)
	assert.Equal(t, "doc-7", osink.keyPrefix)
	assert.NotNil(t, osink.log)
	assert.NotNil(t, osink.uploader)
	assert.Equal(t, "pages-bucket", osink.bucket)
}
