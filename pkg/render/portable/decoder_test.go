package portable

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/pdfraster/pkg/acquire"
	"github.com/docker/pdfraster/pkg/render"
)

// buildPDF assembles a minimal classic-xref PDF with the given page count,
// each page carrying mediaBox and, if withImage is true, a /Resources
// dictionary listing one image XObject and no fonts.
func buildPDF(t *testing.T, pageCount int, mediaBox string, withImage bool) []byte {
	t.Helper()

	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>") // obj 1
	kids := make([]string, pageCount)
	for i := 0; i < pageCount; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox %s >>",
		strings.Join(kids, " "), pageCount, mediaBox)) // obj 2

	imageObjNum := 3 + pageCount
	resources := "<< >>"
	if withImage {
		resources = fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> >>", imageObjNum)
	}
	for i := 0; i < pageCount; i++ {
		objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources %s >>", resources))
	}
	if withImage {
		objs = append(objs, "<< /Subtype /Image /Width 100 /Height 100 >>") // object number imageObjNum
	}

	var buf strings.Builder
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int64, 0, len(objs)+1)
	nums := make([]int, 0, len(objs)+1)

	writeObj := func(num int, body string) {
		offsets = append(offsets, int64(buf.Len()))
		nums = append(nums, num)
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	writeObj(1, objs[0])
	writeObj(2, objs[1])
	for i := 0; i < pageCount; i++ {
		writeObj(3+i, objs[2+i])
	}
	if withImage {
		writeObj(imageObjNum, objs[len(objs)-1])
	}

	xrefOffset := buf.Len()
	maxNum := nums[len(nums)-1]
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	offsetByNum := map[int]int64{}
	for i, n := range nums {
		offsetByNum[n] = offsets[i]
	}
	for n := 1; n <= maxNum; n++ {
		if off, ok := offsetByNum[n]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 00000 f \n")
		}
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\n", maxNum+1)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF", xrefOffset)

	return []byte(buf.String())
}

func openTestDoc(t *testing.T, data []byte) *Decoder {
	t.Helper()
	in := &acquire.AcquiredInput{Kind: acquire.Buffered, Size: int64(len(data)), Bytes: data}
	d, err := Open(context.Background(), in)
	require.NoError(t, err)
	return d
}

func TestDecoderPageCount(t *testing.T) {
	data := buildPDF(t, 3, "[0 0 612 792]", false)
	d := openTestDoc(t, data)
	n, err := d.PageCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDecoderMediaBoxInheritance(t *testing.T) {
	data := buildPDF(t, 1, "[0 0 1224 1584]", false)
	d := openTestDoc(t, data)

	opts := render.Options{TargetWidthPx: 1224, ImageHeavyTargetWidthPx: 2000, MaxScale: 4}
	bmp, err := d.Render(context.Background(), 1, opts)
	require.NoError(t, err)
	assert.Equal(t, 1224, bmp.WidthPx)
	assert.Equal(t, 1584, bmp.HeightPx)
	assert.False(t, bmp.ScanLike)
}

func TestDecoderScanLikeHeuristic(t *testing.T) {
	data := buildPDF(t, 1, "[0 0 612 792]", true)
	d := openTestDoc(t, data)

	opts := render.Options{TargetWidthPx: 612, ImageHeavyTargetWidthPx: 1800, MaxScale: 4, DetectScan: true}
	bmp, err := d.Render(context.Background(), 1, opts)
	require.NoError(t, err)
	assert.True(t, bmp.ScanLike)
	assert.Equal(t, 1800, bmp.WidthPx)
}

func TestDecoderRenderOutOfRange(t *testing.T) {
	data := buildPDF(t, 1, "[0 0 612 792]", false)
	d := openTestDoc(t, data)

	_, err := d.Render(context.Background(), 5, render.Options{TargetWidthPx: 612})
	assert.Error(t, err)
}

func TestDecoderCodecCeilingClamp(t *testing.T) {
	data := buildPDF(t, 1, "[0 0 100 100]", false)
	d := openTestDoc(t, data)

	opts := render.Options{
		TargetWidthPx: 2000,
		MaxScale:      50,
		CodecMaxDim:   500,
	}
	bmp, err := d.Render(context.Background(), 1, opts)
	require.NoError(t, err)
	assert.True(t, bmp.ClampedByCeiling)
	assert.LessOrEqual(t, bmp.WidthPx, 500)
}
