package pdfraster

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/config"
	"github.com/docker/pdfraster/pkg/outputsink"
)

// buildPDF assembles a minimal classic-xref PDF with the given page count,
// duplicated from pkg/orchestrator's own test helper since it is unexported
// in a different package.
func buildPDF(pageCount int) []byte {
	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pageCount)
	for i := 0; i < pageCount; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 200 300] >>",
		strings.Join(kids, " "), pageCount))
	for i := 0; i < pageCount; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /Resources << >> >>")
	}

	var buf strings.Builder
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int64, 0, len(objs))
	writeObj := func(num int, body string) {
		offsets = append(offsets, int64(buf.Len()))
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(1, objs[0])
	writeObj(2, objs[1])
	for i := 0; i < pageCount; i++ {
		writeObj(3+i, objs[2+i])
	}

	xrefOffset := buf.Len()
	maxNum := 2 + pageCount
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= maxNum; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n-1])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\n", maxNum+1)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF", xrefOffset)
	return []byte(buf.String())
}

func TestClientConvertEndToEnd(t *testing.T) {
	client, err := NewClient(config.WithWorkerSlots(2))
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Convert(context.Background(), FromBytes(buildPDF(3)), Options{
		Pages:    AllPages(),
		Renderer: RendererPortable,
		Output:   outputsink.Config{Mode: outputsink.ModeBuffer},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.NumPages)
	assert.Equal(t, 3, result.RenderedPages)
	require.Len(t, result.Pages, 3)

	snapshot := client.Metrics().Snapshot()
	assert.NotEmpty(t, snapshot)
}

func TestClientConvertInvalidOutputConfig(t *testing.T) {
	client, err := NewClient(config.WithWorkerSlots(1))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Convert(context.Background(), FromBytes(buildPDF(1)), Options{
		Output: outputsink.Config{Mode: "unknown"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
