package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func closeResponseBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		t.Logf("failed to close response body: %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("nil config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("custom config", func(t *testing.T) {
		cfg := Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0"}
		client := New(&cfg)
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
		assert.Nil(t, cfg.Transport, "caller config untouched")
	})
}

func TestDoSetsUserAgent(t *testing.T) {
	t.Parallel()
	var got atomic.Value
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	})

	client := New(&Config{UserAgent: "potholewatch-test"})
	t.Cleanup(client.Close)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)
	assert.Equal(t, "potholewatch-test", got.Load())
}

// The default timeout must not fire between receiving headers and reading
// the body.
func TestDefaultTimeoutCoversBodyRead(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 64*1024)))
	})

	client := New(&Config{DefaultTimeout: 2 * time.Second})
	t.Cleanup(client.Close)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 64*1024)
}

func TestDefaultTimeoutExpires(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	client := New(&Config{DefaultTimeout: 50 * time.Millisecond})
	t.Cleanup(client.Close)

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAfterResponseHookSeesStatus(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	client := New(nil)
	t.Cleanup(client.Close)

	var after, status atomic.Int32
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		after.Add(1)
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
	})

	resp, err := client.Post(t.Context(), server.URL, "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(http.StatusAccepted), status.Load())
}

func TestNilRequest(t *testing.T) {
	t.Parallel()
	_, err := New(nil).Do(t.Context(), nil)
	require.Error(t, err)
}
