// Package notify pushes civic workflow events to city staff through
// shoutrrr service URLs (Slack, Telegram, email and friends).
package notify

import (
	"context"
	"io"
	stdlog "log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// DefaultQueueSize bounds the notifications waiting to be sent.
const DefaultQueueSize = 32

// Notification is one message to staff.
type Notification struct {
	Title   string
	Message string
}

// Sender delivers a message to every configured service. Implemented by
// shoutrrr's ServiceRouter.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Dispatcher queues notifications and sends them from Run, so callers on
// the request path never wait for an external service.
type Dispatcher struct {
	sender Sender
	queue  chan Notification
	log    logger.Logger
}

// New builds a dispatcher for the configured URLs.
func New(settings *conf.NotifySettings, log logger.Logger) (*Dispatcher, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.Newf("no notification URLs configured").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	redacted := make([]string, len(settings.URLs))
	for i, u := range settings.URLs {
		redacted[i] = logger.RedactURL(u)
	}

	router, err := shoutrrr.CreateSender(slices.Clone(settings.URLs)...)
	if err != nil {
		// the shoutrrr error may echo a URL, and with it a token
		return nil, errors.Newf("invalid notification URL").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Context("services", redacted).
			Build()
	}
	if settings.Timeout > 0 {
		router.Timeout = settings.Timeout
	}
	router.SetLogger(stdlog.New(io.Discard, "", 0))

	log.Info("notifications enabled", logger.Any("services", redacted))
	return NewWithSender(router, settings.QueueSize, log), nil
}

// NewWithSender builds a dispatcher around an existing sender.
func NewWithSender(sender Sender, queueSize int, log logger.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan Notification, queueSize),
		log:    log,
	}
}

// Notify queues a notification. It never blocks; when the queue is full the
// notification is dropped and logged.
func (d *Dispatcher) Notify(title, message string) {
	select {
	case d.queue <- Notification{Title: title, Message: message}:
	default:
		d.log.Warn("notification queue full, dropping notification", logger.String("title", title))
	}
}

// Run sends queued notifications until ctx is cancelled. Notifications
// still queued at that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.log.Info("discarding unsent notifications", logger.Int("count", n))
			}
			return nil
		case n := <-d.queue:
			d.send(n)
		}
	}
}

func (d *Dispatcher) send(n Notification) {
	start := time.Now()
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	var failed []error
	for _, err := range d.sender.Send(n.Message, &params) {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		d.log.Warn("failed to deliver notification",
			logger.String("title", n.Title),
			logger.Int("failed_services", len(failed)),
			logger.String("error", logger.RedactSensitiveData(errors.Join(failed...).Error())))
		return
	}
	d.log.Debug("notification sent",
		logger.String("title", n.Title),
		logger.Duration("elapsed", time.Since(start)))
}
