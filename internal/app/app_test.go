package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potholewatch/potholewatch/internal/buildinfo"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Main.Name = "potholewatch-test"
	s.WebServer.Enabled = true
	s.WebServer.Listen = "127.0.0.1:0"
	s.Inference.URL = "http://127.0.0.1:1"
	s.Inference.Timeout = time.Second
	s.Detection.MaxUploadBytes = 1 << 20
	s.Predictions.Key = conf.DefaultPredictionsKey
	s.Predictions.MaxInlineImageLength = conf.DefaultMaxInlineImageLength
	s.Storage.Backend = "file"
	s.Storage.File.Dir = t.TempDir()
	s.Database.Type = "sqlite"
	s.Database.SQLite.Path = ":memory:"
	s.Civic.Enabled = true
	return s
}

func TestSessionPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	ctx := context.Background()

	first, err := OpenSession(ctx, settings, nil, nil, logger.NewDiscard())
	require.NoError(t, err)
	assert.Equal(t, predictions.StateActive, first.Adapter.State())
	assert.Zero(t, first.Store.Len())
	rec := first.Store.AddPrediction(predictions.Draft{IsPothole: true, Confidence: 0.8})
	require.NoError(t, first.Close())

	second, err := OpenSession(ctx, settings, nil, nil, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	assert.Equal(t, 1, second.Store.Len())
	got, ok := second.Store.Lookup(rec.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestOpenSessionUnknownBackend(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.Storage.Backend = "floppy"

	_, err := OpenSession(context.Background(), settings, nil, nil, logger.NewDiscard())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestAppRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)

	a, err := New(context.Background(), settings, buildinfo.New("test", ""), logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.NotNil(t, a.civic)
	assert.NotNil(t, a.server)
	assert.Nil(t, a.publisher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppRunNeedsSomethingToRun(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.WebServer.Enabled = false
	settings.Civic.Enabled = false

	a, err := New(context.Background(), settings, buildinfo.New("test", ""), logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewRejectsMissingInferenceURL(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.Inference.URL = ""

	_, err := New(context.Background(), settings, buildinfo.New("test", ""), logger.NewDiscard())
	require.Error(t, err)
}
