package report

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/imaging"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := range 40 {
		img.Set(x, 10, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return imaging.DataURL(imaging.MIMEPNG, buf.Bytes())
}

func sampleRecord() predictions.Record {
	area, ratio := 5120.0, 0.081
	return predictions.Record{
		ID:         "pred-0190a1b2",
		Timestamp:  time.Date(2024, 8, 14, 16, 30, 0, 0, time.UTC),
		IsPothole:  true,
		Confidence: 0.912,
		Message:    "Pothole detected near the kerb",
		Metrics:    &predictions.Metrics{AreaPixels: &area, AreaRatio: &ratio},
		Location:   &predictions.Location{Lat: 48.85661, Lng: 2.35222},
	}
}

func TestJSONExportOmitsImages(t *testing.T) {
	t.Parallel()
	r := sampleRecord()
	r.ImageDataURL = predictions.StringPtr("data:image/jpeg;base64,AAAA")

	out, err := JSON(&r)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "pred-0190a1b2", doc["id"])
	assert.Equal(t, true, doc["isPothole"])
	assert.Equal(t, "2024-08-14T16:30:00Z", doc["timestamp"])
	assert.NotContains(t, doc, "imageDataUrl")
	assert.Len(t, doc, 7)
	assert.Contains(t, string(out), "\n  \"id\"")
}

func TestImagePrefersOverlay(t *testing.T) {
	t.Parallel()
	r := sampleRecord()
	r.ImageDataURL = predictions.StringPtr(imaging.DataURL(imaging.MIMEJPEG, []byte("orig")))

	mime, data, err := Image(&r)
	require.NoError(t, err)
	assert.Equal(t, imaging.MIMEJPEG, mime)
	assert.Equal(t, []byte("orig"), data)
	assert.Equal(t, "jpg", Extension(mime))

	r.OverlayDataURL = predictions.StringPtr(imaging.DataURL(imaging.MIMEPNG, []byte("overlay")))
	mime, data, err = Image(&r)
	require.NoError(t, err)
	assert.Equal(t, imaging.MIMEPNG, mime)
	assert.Equal(t, []byte("overlay"), data)
}

func TestImageMissing(t *testing.T) {
	t.Parallel()
	r := sampleRecord()
	_, _, err := Image(&r)
	require.ErrorIs(t, err, ErrNoImage)
	assert.True(t, errors.IsNotFound(err))
}

func TestFilename(t *testing.T) {
	t.Parallel()
	r := sampleRecord()
	assert.Equal(t, "pothole-report-pred-0190a1b2.pdf", Filename(&r, "pdf"))
	assert.Equal(t, "pothole-report-pred-0190a1b2.png", Filename(&r, ".png"))
}

func TestPDFRendersWithAndWithoutImage(t *testing.T) {
	t.Parallel()
	r := sampleRecord()

	var plain bytes.Buffer
	require.NoError(t, PDF(&plain, &r, nil))
	assert.True(t, bytes.HasPrefix(plain.Bytes(), []byte("%PDF-")))

	r.OverlayDataURL = predictions.StringPtr(pngDataURL(t))
	r.Location = nil
	var withImage bytes.Buffer
	require.NoError(t, PDF(&withImage, &r, time.FixedZone("CEST", 2*3600)))
	assert.True(t, bytes.HasPrefix(withImage.Bytes(), []byte("%PDF-")))
	assert.Greater(t, withImage.Len(), plain.Len())
	assert.Contains(t, withImage.String(), "/Subtype /Image")
}

func TestPDFSurvivesCorruptImage(t *testing.T) {
	t.Parallel()
	r := sampleRecord()
	r.ImageDataURL = predictions.StringPtr(imaging.DataURL(imaging.MIMEPNG, []byte("not a png")))

	var buf bytes.Buffer
	require.NoError(t, PDF(&buf, &r, nil))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestSummaryLines(t *testing.T) {
	t.Parallel()

	r := &predictions.Record{
		ID:         "pred-1",
		Timestamp:  time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		IsPothole:  true,
		Confidence: 0.876,
		Metrics: &predictions.Metrics{
			AreaPixels: predictions.Float64Ptr(12345.6),
			AreaRatio:  predictions.Float64Ptr(0.0421),
			Severity:   predictions.Float64Ptr(0.4213),
		},
	}

	assert.Equal(t, []string{
		"Report ID: pred-1",
		"Date: 2026-03-04 05:06:07 UTC",
		"Location: Unknown location",
		"Result: Pothole detected",
		"Confidence: 87.6%",
		"Area (pixels): 12,346",
		"Area ratio: 4.21%",
		"Severity score: 0.42",
	}, summaryLines(r, time.UTC))
}
