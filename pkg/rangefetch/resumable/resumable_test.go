package resumable

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/rangefetch/internal/faketransport"
)

func get(t *testing.T, client *http.Client, url string, rangeHeader string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestTransportPassesThroughNonResumableResponses(t *testing.T) {
	fake := faketransport.NewTransport(faketransport.Resource{Body: []byte("no ranges here")})
	client := &http.Client{Transport: New(fake)}

	resp := get(t, client, "http://origin/doc.pdf", "")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "no ranges here", string(body))
}

func TestTransportResumesAfterMidStreamFailure(t *testing.T) {
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          payload,
		SupportsRange: true,
		ETag:          `"v1"`,
	})
	fake.FailNextBodyAfter(10_000)

	client := &http.Client{Transport: New(fake, WithBackoff(func(int) time.Duration { return 0 }))}
	resp := get(t, client, "http://origin/doc.pdf", "")
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "resumed stream must reassemble to the exact original bytes")

	reqs := fake.Requests()
	require.GreaterOrEqual(t, len(reqs), 2)
	assert.Equal(t, `"v1"`, reqs[len(reqs)-1].Header.Get("If-Range"))
}

func TestTransportGivesUpAfterExhaustingAttempts(t *testing.T) {
	payload := []byte("will never finish downloading cleanly")
	fake := faketransport.NewTransport(faketransport.Resource{
		Body:          payload,
		SupportsRange: true,
		ETag:          `"v1"`,
	})
	fake.FailNextBodyAfter(5)

	client := &http.Client{Transport: New(fake,
		WithMaxAttempts(0),
		WithBackoff(func(int) time.Duration { return 0 }),
	)}
	resp := get(t, client, "http://origin/doc.pdf", "")
	defer resp.Body.Close()

	_, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "with zero retry budget the truncated read must surface as an error")
}

func TestTransportIgnoresServerWithoutAcceptRanges(t *testing.T) {
	fake := faketransport.NewTransport(faketransport.Resource{Body: []byte("static file")})
	client := &http.Client{Transport: New(fake)}

	resp := get(t, client, "http://origin/doc.pdf", "")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "static file", string(body))
}
