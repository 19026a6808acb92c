package outputsink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/encode"
)

func samplePage(idx int) encode.EncodedPage {
	return encode.EncodedPage{PageIndex: idx, WidthPx: 10, HeightPx: 10, EncodedBytes: []byte("fake-image-bytes"), Success: true}
}

func TestFileSinkWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Mode: ModeFile, OutputDir: dir, Prefix: "page"})
	require.NoError(t, err)

	result := sink.DeliverOne(context.Background(), samplePage(3), "webp", "image/webp")
	require.True(t, result.Success)
	assert.Equal(t, filepath.Join(dir, "page_3.webp"), result.SinkRef)
	assert.NotEmpty(t, result.Digest)

	b, err := os.ReadFile(result.SinkRef)
	require.NoError(t, err)
	assert.Equal(t, "fake-image-bytes", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file should remain")
}

func TestFileSinkReportsFailedPageWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Mode: ModeFile, OutputDir: dir, Prefix: "page"})
	require.NoError(t, err)

	page := samplePage(1)
	page.Success = false
	result := sink.DeliverOne(context.Background(), page, "webp", "image/webp")
	assert.False(t, result.Success)
	assert.Error(t, result.Error)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBufferSinkReturnsBytesVerbatim(t *testing.T) {
	sink, err := New(Config{Mode: ModeBuffer})
	require.NoError(t, err)

	result := sink.DeliverOne(context.Background(), samplePage(1), "webp", "image/webp")
	require.True(t, result.Success)
	assert.Equal(t, []byte("fake-image-bytes"), result.Bytes)
	assert.Empty(t, result.SinkRef)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "bogus"})
	assert.Error(t, err)
}
