package slot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectServer answers path-style GetObject and PutObject requests from memory.
type objectServer struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (o *objectServer) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := req.URL.Path
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		o.objects[path] = body
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
	case http.MethodGet:
		body, ok := o.objects[path]
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {fmt.Sprintf("%d", len(body))},
			"Content-Type":   {"application/json"},
		}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
}

// decodeChunked unwraps a single-chunk aws-chunked body: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n {
		return nil, false
	}
	if !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newMockS3(t *testing.T, quota int64) (*S3, *objectServer) {
	t.Helper()
	server := &objectServer{objects: make(map[string][]byte)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.UsePathStyle = true
		o.HTTPClient = &http.Client{Transport: server}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewS3WithClient(client, "potholes", "state/", quota), server
}

func TestS3RoundTrip(t *testing.T) {
	t.Parallel()
	s, server := newMockS3(t, 0)
	exerciseSlot(t, s)

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Contains(t, server.objects, "/potholes/state/pothole-app-predictions.json")
}

func TestS3Quota(t *testing.T) {
	t.Parallel()
	s, server := newMockS3(t, 3)
	require.ErrorIs(t, s.Set(context.Background(), "k", "1234"), ErrQuotaExceeded)

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Empty(t, server.objects)
}

func TestDecodeChunkedHelper(t *testing.T) {
	t.Parallel()
	_, ok := decodeChunked([]byte("not-chunked"))
	assert.False(t, ok)
	b, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\n"))
	require.True(t, ok)
	assert.Equal(t, "hello", string(b))
}
