package history

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/imaging"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

func sampleRecords() []predictions.Record {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return []predictions.Record{
		{ID: "pred-b", Timestamp: ts.Add(time.Minute), IsPothole: true, Confidence: 0.91,
			Location: &predictions.Location{Lat: 52.52, Lng: 13.405}},
		{ID: "pred-a", Timestamp: ts, IsPothole: false, Confidence: 0.12},
	}
}

func TestWriteList(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeList(&buf, sampleRecords(), 0))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "pred-b")
	assert.Contains(t, lines[1], "91.0%")
	assert.Contains(t, lines[1], "52.52000,13.40500")
	assert.Contains(t, lines[2], "pred-a")
	assert.Contains(t, lines[2], " - ")
}

func TestWriteListLimit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeList(&buf, sampleRecords(), 1))
	assert.NotContains(t, buf.String(), "pred-a")
}

func TestRenderFormats(t *testing.T) {
	t.Parallel()

	rec := sampleRecords()[0]
	img := imaging.DataURL(imaging.MIMEPNG, []byte("\x89PNG fake"))
	rec.ImageDataURL = &img

	data, ext, err := render(&rec, "json")
	require.NoError(t, err)
	assert.Equal(t, "json", ext)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pred-b", decoded["id"])

	data, ext, err = render(&rec, "png")
	require.NoError(t, err)
	assert.Equal(t, "png", ext)
	assert.Equal(t, []byte("\x89PNG fake"), data)

	data, ext, err = render(&rec, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", ext)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	rec := sampleRecords()[1]
	_, _, err := render(&rec, "png")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, _, err = render(&rec, "docx")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
