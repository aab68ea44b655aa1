package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/potholewatch/potholewatch/internal/api/v1"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/detection"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

type stubDetector struct{}

func (stubDetector) Detect(context.Context, detection.Upload) (predictions.Record, error) {
	return predictions.Record{}, nil
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.WebServer.Listen = "127.0.0.1:0"
	s.Predictions.MaxInlineImageLength = predictions.DefaultMaxInlineImageLength
	s.Telemetry.Metrics.Enabled = true
	return s
}

func testDeps() v1.Deps {
	return v1.Deps{
		Store:    predictions.NewStore(nil),
		Detector: stubDetector{},
		Logger:   logger.NewDiscard(),
	}
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.WebServer.CORS = []string{"https://city.example"}
	s.WebServer.BodyLimit = "4M"
	s.Telemetry.Metrics.Path = "/internal/metrics"
	s.WebServer.MaxConnections = 16

	cfg := ConfigFromSettings(s)
	assert.Equal(t, "127.0.0.1:0", cfg.Listen)
	assert.Equal(t, []string{"https://city.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "4M", cfg.BodyLimit)
	assert.Equal(t, "/internal/metrics", cfg.MetricsPath)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 16, cfg.MaxConnections)
	require.NoError(t, cfg.Validate())

	defaults := ConfigFromSettings(&conf.Settings{})
	assert.Equal(t, ":8080", defaults.Listen)
	assert.Equal(t, DefaultMetricsPath, defaults.MetricsPath)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"negative max connections", func(c *Config) { c.MaxConnections = -1 }},
		{"relative metrics path", func(c *Config) { c.MetricsEnabled = true; c.MetricsPath = "metrics" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestServerServesMetrics(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	srv, err := New(testSettings(), testDeps(), WithLogger(logger.NewDiscard()), WithMetrics(m))
	require.NoError(t, err)

	// one API call so the request counter has a sample
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultMetricsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServerWithoutMetrics(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Telemetry.Metrics.Enabled = false
	srv, err := New(s, testDeps(), WithLogger(logger.NewDiscard()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultMetricsPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	t.Parallel()

	srv, err := New(testSettings(), testDeps(), WithLogger(logger.NewDiscard()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nothing-here", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body v1.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Equal(t, "Not Found", body.Message)
	assert.Equal(t, "Not Found", body.Error)
	assert.Len(t, body.CorrelationID, 8)
}

func TestNewRequiresDetector(t *testing.T) {
	t.Parallel()

	deps := testDeps()
	deps.Detector = nil
	_, err := New(testSettings(), deps, WithLogger(logger.NewDiscard()))
	assert.Error(t, err)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.WebServer.MaxConnections = 4
	srv, err := New(settings, testDeps(), WithLogger(logger.NewDiscard()))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	url := "http://" + ln.Addr().String() + "/api/v1/predictions/stats"
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(DefaultShutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}
