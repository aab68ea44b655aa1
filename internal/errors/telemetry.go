package errors

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every built EnhancedError while reporting is active
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporter           atomic.Pointer[TelemetryReporter]
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter installs r, or disables reporting when r is nil.
func SetTelemetryReporter(r TelemetryReporter) {
	if r == nil {
		reporter.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	reporter.Store(&r)
	hasActiveReporting.Store(r.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	ptr := reporter.Load()
	if ptr == nil || !(*ptr).IsEnabled() || ee.IsReported() {
		return
	}
	(*ptr).ReportError(ee)
}

// SentryConfig holds the options passed to sentry.Init
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter.
func InitSentry(cfg SentryConfig) error {
	if cfg.DSN == "" {
		return New(NewStd("sentry dsn is empty")).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  rate,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.Message = basicURLScrub(event.Message)
			return event
		},
	}); err != nil {
		return New(err).Component("telemetry").Category(CategoryIntegration).Build()
	}
	SetTelemetryReporter(&SentryReporter{enabled: true})
	return nil
}

// FlushSentry waits up to timeout for queued events to be delivered.
func FlushSentry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// SentryReporter sends enhanced errors to Sentry with scrubbed messages.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter returns a reporter; the SDK must be initialized separately.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	message := basicURLScrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = basicURLScrub(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		level := levelFor(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: ee.GetComponent() + " " + string(ee.Category), Value: message}}
		sentry.CaptureEvent(event)
	})
	ee.MarkReported()
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryFileIO, CategoryHTTP, CategoryLimit, CategoryTimeout, CategoryInference:
		return sentry.LevelWarning
	case CategoryValidation, CategoryNotFound, CategoryAuth:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	urlQueryRegex  = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	secretRegex    = regexp.MustCompile(`(?i)(api[_-]?key|token|auth|password|secret)[=:]\S+`)
	longHexRegex   = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	dataURLRegex   = regexp.MustCompile(`data:image/[a-z]+;base64,[A-Za-z0-9+/=]+`)
	coordinatesRgx = regexp.MustCompile(`-?\d{1,3}\.\d{4,},\s*-?\d{1,3}\.\d{4,}`)
)

// basicURLScrub removes query strings, credentials, inline images and
// precise coordinates from a message before it leaves the process.
func basicURLScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = secretRegex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	scrubbed = longHexRegex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	scrubbed = dataURLRegex.ReplaceAllString(scrubbed, "[IMAGE_REDACTED]")
	scrubbed = coordinatesRgx.ReplaceAllString(scrubbed, "[LOCATION_REDACTED]")
	return scrubbed
}
