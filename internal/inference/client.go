// Package inference is the client for the external pothole segmentation
// service.
package inference

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/httpclient"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

const (
	predictPath = "/predict"
	healthPath  = "/health"
	formField   = "image"

	defaultRetryDelay = 500 * time.Millisecond
	maxErrorBody      = 512
	maxResponseBody   = 32 << 20 // overlay and mask PNGs can be large
)

// Result is the service's answer for one image.
type Result struct {
	IsPothole        bool                 `json:"is_pothole"`
	Confidence       float64              `json:"confidence"`
	Message          string               `json:"message"`
	Metrics          *predictions.Metrics `json:"metrics"`
	MaskPNGBase64    *string              `json:"mask_png_base64"`
	OverlayPNGBase64 *string              `json:"overlay_png_base64"`
}

// Predictor segments an image. Implemented by Client; tests substitute fakes.
type Predictor interface {
	Predict(ctx context.Context, filename string, image []byte) (*Result, error)
}

// Client calls POST <url>/predict with the image as multipart field "image".
// Transient failures (transport errors and 5xx) are retried with a linear
// backoff. Successful results are cached by image hash.
type Client struct {
	baseURL    string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration

	http    *httpclient.Client
	cache   *cache.Cache
	log     logger.Logger
	metrics *metrics.InferenceMetrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(cl *Client) { cl.log = log }
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *metrics.InferenceMetrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithRetryDelay sets the base backoff between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(cl *Client) { cl.retryDelay = d }
}

// NewClient builds a client for the configured service.
func NewClient(cfg *conf.InferenceSettings, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.Newf("inference URL is required").
			Component("inference").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		timeout:    cfg.Timeout,
		retries:    max(cfg.Retries, 0),
		retryDelay: defaultRetryDelay,
		log:        logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout})
	}
	if cfg.CacheTTL > 0 {
		c.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	if c.metrics != nil {
		c.http.SetAfterResponseHook(c.observeResponse)
	}

	c.log.Info("inference client initialized",
		logger.String("url", c.baseURL),
		logger.Duration("timeout", c.timeout),
		logger.Int("retries", c.retries),
		logger.Duration("cache_ttl", cfg.CacheTTL))
	return c, nil
}

// Predict sends image for segmentation.
func (c *Client) Predict(ctx context.Context, filename string, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, errors.Newf("empty image").
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}

	key := cacheKey(image)
	if c.cache != nil {
		if cached, found := c.cache.Get(key); found {
			if res, ok := cached.(*Result); ok {
				c.recordCache(true)
				c.log.Debug("inference cache hit", logger.String("image_sha256", key[:12]))
				clone := *res
				return &clone, nil
			}
		}
		c.recordCache(false)
	}

	if c.metrics != nil {
		c.metrics.ImageBytes.Observe(float64(len(image)))
	}

	start := time.Now()
	res, err := c.predictWithRetry(ctx, filename, image)
	if c.metrics != nil {
		c.metrics.RecordDuration(metrics.OpInference, time.Since(start).Seconds())
	}
	if err != nil {
		c.recordError(metrics.OpInference, err)
		return nil, err
	}
	c.recordOperation(metrics.OpInference, metrics.StatusSuccess)

	if c.cache != nil {
		stored := *res
		c.cache.Set(key, &stored, cache.DefaultExpiration)
	}

	c.log.Info("inference completed",
		logger.Bool("is_pothole", res.IsPothole),
		logger.Float64("confidence", res.Confidence),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (c *Client) predictWithRetry(ctx context.Context, filename string, image []byte) (*Result, error) {
	attempts := c.retries + 1
	var lastErr error

	for attempt := range attempts {
		res, err := c.doPredict(ctx, filename, image)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		delay := time.Duration(attempt+1) * c.retryDelay
		c.log.Warn("inference request failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", attempts),
			logger.Int64("delay_ms", delay.Milliseconds()),
			logger.Error(err))
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *Client) doPredict(ctx context.Context, filename string, image []byte) (*Result, error) {
	if filename == "" {
		filename = "upload.jpg"
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile(formField, filename)
	if err != nil {
		return nil, c.requestError(err, 0)
	}
	if _, err := part.Write(image); err != nil {
		return nil, c.requestError(err, 0)
	}
	if err := form.Close(); err != nil {
		return nil, c.requestError(err, 0)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.http.Post(reqCtx, c.baseURL+predictPath, form.FormDataContentType(), body)
	if err != nil {
		return nil, c.requestError(err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Newf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))).
			Component("inference").
			Category(errors.CategoryInference).
			Context("status_code", resp.StatusCode).
			Context("url", c.baseURL+predictPath).
			Build()
	}

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&res); err != nil {
		return nil, errors.New(fmt.Errorf("invalid inference response: %w", err)).
			Component("inference").
			Category(errors.CategoryValidation).
			Context("status_code", resp.StatusCode).
			Build()
	}
	res.Confidence = clamp01(res.Confidence)
	return &res, nil
}

// Ping checks GET <url>/health.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	resp, err := c.http.Get(ctx, c.baseURL+healthPath)
	if c.metrics != nil {
		c.metrics.RecordDuration(metrics.OpHealthCheck, time.Since(start).Seconds())
	}
	if err != nil {
		err = c.requestError(err, 0)
		c.recordError(metrics.OpHealthCheck, err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.Newf("inference health check returned %d", resp.StatusCode).
			Component("inference").
			Category(errors.CategoryInference).
			Context("status_code", resp.StatusCode).
			Build()
		c.recordError(metrics.OpHealthCheck, err)
		return err
	}
	c.recordOperation(metrics.OpHealthCheck, metrics.StatusSuccess)
	return nil
}

// Close releases idle connections and drops cached results.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Flush()
	}
	c.http.Close()
}

// observeResponse counts every attempt against the service, retries
// included. Requests to other hosts on a shared client are ignored.
func (c *Client) observeResponse(req *http.Request, resp *http.Response, err error) {
	if !strings.HasPrefix(req.URL.String(), c.baseURL+"/") {
		return
	}
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.RecordResponse(code)
}

func (c *Client) requestError(err error, status int) error {
	return errors.New(err).
		Component("inference").
		Category(errors.CategoryNetwork).
		Context("url", c.baseURL).
		Context("status_code", status).
		Build()
}

// retryable reports transport failures and 5xx responses.
func retryable(err error) bool {
	var enhanced *errors.EnhancedError
	if !errors.As(err, &enhanced) {
		return false
	}
	if enhanced.Category == errors.CategoryNetwork {
		return !errors.Is(err, context.Canceled)
	}
	status, _ := enhanced.GetContext()["status_code"].(int)
	return status >= http.StatusInternalServerError
}

func (c *Client) recordOperation(op, status string) {
	if c.metrics != nil {
		c.metrics.RecordOperation(op, status)
	}
}

func (c *Client) recordError(op string, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordOperation(op, metrics.StatusError)
	category := string(errors.CategoryGeneric)
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		category = string(enhanced.Category)
	}
	c.metrics.RecordError(op, category)
}

func (c *Client) recordCache(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCache(hit)
	}
}

func cacheKey(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
