package parallel

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/rangefetch/internal/faketransport"
)

func deterministicPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func getBody(t *testing.T, client *http.Client, url string) []byte {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func TestTransportSplitsLargeRangeableBody(t *testing.T) {
	payload := deterministicPayload(8 * 1024 * 1024)
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          payload,
		SupportsRange: true,
		ETag:          `"v1"`,
	})
	client := &http.Client{Transport: New(fake, WithMinSplittableSize(256*1024))}

	got := getBody(t, client, "http://origin/big.bin")
	assert.Equal(t, payload, got)

	var rangeRequests int
	for _, r := range fake.Requests() {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" {
			rangeRequests++
		}
	}
	assert.Greater(t, rangeRequests, 1, "a large rangeable body should be split into more than one GET")
}

func TestTransportFallsBackForSmallBody(t *testing.T) {
	payload := deterministicPayload(100)
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          payload,
		SupportsRange: true,
	})
	client := &http.Client{Transport: New(fake)}

	got := getBody(t, client, "http://origin/tiny.bin")
	assert.Equal(t, payload, got)
}

func TestTransportFallsBackWhenRangeUnsupported(t *testing.T) {
	payload := deterministicPayload(4 * 1024 * 1024)
	fake := faketransport.NewTransport(faketransport.Resource{Body: payload})
	client := &http.Client{Transport: New(fake, WithMinSplittableSize(256*1024))}

	got := getBody(t, client, "http://origin/opaque.bin")
	assert.Equal(t, payload, got)
}

func TestTransportPassesThroughCallerSuppliedRange(t *testing.T) {
	payload := deterministicPayload(4 * 1024 * 1024)
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          payload,
		SupportsRange: true,
	})
	client := &http.Client{Transport: New(fake, WithMinSplittableSize(256*1024))}

	req, err := http.NewRequest(http.MethodGet, "http://origin/opaque.bin", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-99")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	for _, r := range fake.Requests() {
		assert.NotEqual(t, http.MethodHead, r.Method, "a caller-supplied Range must skip the split probe")
	}
}

func TestTransportPassesThroughNonGET(t *testing.T) {
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          deterministicPayload(4 * 1024 * 1024),
		SupportsRange: true,
	})
	client := &http.Client{Transport: New(fake, WithMinSplittableSize(256*1024))}

	req, err := http.NewRequest(http.MethodPost, "http://origin/opaque.bin", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	for _, r := range fake.Requests() {
		assert.Equal(t, http.MethodPost, r.Method)
	}
}

func TestTransportChunkFailurePropagatesAsReadError(t *testing.T) {
	payload := deterministicPayload(4 * 1024 * 1024)
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          payload,
		SupportsRange: true,
		ETag:          `"v1"`,
	})
	// Splitting 4MiB with a 1MiB minimum chunk size yields 4 chunks of 1MiB
	// each; break the second one.
	fake.FailRangeStartingAt(1 << 20)

	client := &http.Client{Transport: New(fake, WithMinSplittableSize(1 << 20), WithSplitWidth(4))}
	resp, err := client.Get("http://origin/big.bin")
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err, "one chunk's network failure must surface as a read error on the stitched body")
}
