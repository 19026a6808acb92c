package faketransport

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportServesRangeRequest(t *testing.T) {
	tr := NewTransport(Resource{Body: []byte("0123456789"), SupportsRange: true, ETag: `"v1"`})

	req, err := http.NewRequest(http.MethodGet, "http://x/y", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "234", string(body))
}

func TestTransportFallsBackToFullBodyOnValidatorMismatch(t *testing.T) {
	tr := NewTransport(Resource{Body: []byte("0123456789"), SupportsRange: true, ETag: `"v1"`})

	req, err := http.NewRequest(http.MethodGet, "http://x/y", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-4")
	req.Header.Set("If-Range", `"stale"`)

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body))
}

func TestTransportFailNextBodyAfterTruncatesOnce(t *testing.T) {
	tr := NewTransport(Resource{Body: []byte("0123456789")})
	tr.FailNextBodyAfter(3)

	req, err := http.NewRequest(http.MethodGet, "http://x/y", nil)
	require.NoError(t, err)

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err, "first request should be truncated")

	resp2, err := tr.RoundTrip(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body), "failure is one-shot")
}

func TestTransportFailRangeStartingAt(t *testing.T) {
	tr := NewTransport(Resource{Body: []byte("0123456789"), SupportsRange: true})
	tr.FailRangeStartingAt(5)

	req, err := http.NewRequest(http.MethodGet, "http://x/y", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=5-9")

	_, err = tr.RoundTrip(req)
	assert.Error(t, err)
}
