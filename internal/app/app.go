package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/potholewatch/potholewatch/internal/aireport"
	"github.com/potholewatch/potholewatch/internal/api"
	v1 "github.com/potholewatch/potholewatch/internal/api/v1"
	"github.com/potholewatch/potholewatch/internal/buildinfo"
	"github.com/potholewatch/potholewatch/internal/civic"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/datastore"
	"github.com/potholewatch/potholewatch/internal/detection"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/inference"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/mqtt"
	"github.com/potholewatch/potholewatch/internal/notify"
	"github.com/potholewatch/potholewatch/internal/observability"
)

const sentryFlushTimeout = 2 * time.Second

// App is the long-running service started by the serve command.
type App struct {
	settings *conf.Settings
	log      logger.Logger
	metrics  *observability.Metrics

	db        *datastore.Store
	session   *Session
	inference *inference.Client
	detector  *detection.Service
	civic     *civic.Repository
	ai        *aireport.Service
	publisher *mqtt.Publisher
	notifier  *notify.Dispatcher
	server    *api.Server

	sentry bool
}

// New builds every enabled component. On error, whatever was opened is
// closed again.
func New(ctx context.Context, settings *conf.Settings, info *buildinfo.Context, log logger.Logger) (_ *App, err error) {
	a := &App{settings: settings, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if settings.Telemetry.Sentry.Enabled {
		if err := errors.InitSentry(errors.SentryConfig{
			DSN:         settings.Telemetry.Sentry.DSN,
			Environment: settings.Telemetry.Sentry.Environment,
			Release:     "potholewatch@" + info.GetVersion(),
			SampleRate:  settings.Telemetry.Sentry.SampleRate,
		}); err != nil {
			return nil, err
		}
		a.sentry = true
	}

	if a.metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	if settings.Civic.Enabled || settings.Storage.Backend == "database" {
		if a.db, err = datastore.Open(&settings.Database, log.Module("datastore")); err != nil {
			return nil, err
		}
	}

	if a.session, err = OpenSession(ctx, settings, a.db, a.metrics.Predictions, log); err != nil {
		return nil, err
	}

	a.inference, err = inference.NewClient(&settings.Inference,
		inference.WithLogger(log.Module("inference")),
		inference.WithMetrics(a.metrics.Inference))
	if err != nil {
		return nil, err
	}
	a.detector = detection.NewService(a.inference, a.session.Store, &settings.Detection, log.Module("detection"))

	if settings.Civic.Enabled {
		if a.civic, err = civic.NewRepository(a.db, a.metrics.Civic, log.Module("civic")); err != nil {
			return nil, err
		}
	}

	if a.ai, err = newAIService(ctx, settings, log.Module("ai")); err != nil {
		return nil, err
	}

	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(settings, a.metrics.MQTT, log.Module("mqtt"))
		if err != nil {
			return nil, err
		}
		a.publisher = mqtt.NewPublisher(client, settings.MQTT.Topic, settings.MQTT.QueueSize, a.metrics.MQTT, log.Module("mqtt"))
		a.publisher.Attach(a.session.Store)
	}

	if settings.Notify.Enabled && a.civic != nil {
		if a.notifier, err = notify.New(&settings.Notify, log.Module("notify")); err != nil {
			return nil, err
		}
	}

	if settings.WebServer.Enabled {
		deps := v1.Deps{
			Store:       a.session.Store,
			Persistence: a.session.Adapter,
			Detector:    a.detector,
			Inference:   a.inference,
			Civic:       a.civic,
			AI:          a.ai,
			BuildInfo:   info,
			Logger:      log.Module("api"),
		}
		if a.notifier != nil {
			deps.Notifier = a.notifier
		}
		a.server, err = api.New(settings, deps, api.WithLogger(log.Module("api")), api.WithMetrics(a.metrics))
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// newAIService returns a service backed by Gemini when AI is enabled, and
// one that always answers with the fallback text otherwise.
func newAIService(ctx context.Context, settings *conf.Settings, log logger.Logger) (*aireport.Service, error) {
	var gen aireport.Generator = aireport.Disabled{}
	if settings.AI.Enabled {
		g, err := aireport.NewGenAI(ctx, &settings.AI, nil)
		if err != nil {
			return nil, err
		}
		gen = g
	}
	return aireport.NewService(gen, settings.AI.Timeout, log), nil
}

// Run starts the HTTP server and the MQTT publisher and blocks until ctx
// is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil && a.publisher == nil {
		return errors.Newf("nothing to run: web server and mqtt are both disabled").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}
	if a.publisher != nil {
		g.Go(func() error { return a.publisher.Run(gctx) })
	}
	if a.notifier != nil {
		g.Go(func() error { return a.notifier.Run(gctx) })
	}

	a.log.Info("potholewatch started",
		logger.String("instance", a.settings.Main.Name),
		logger.Int("predictions", a.session.Store.Len()),
		logger.Bool("civic", a.civic != nil),
		logger.Bool("mqtt", a.publisher != nil))

	err := g.Wait()
	a.log.Info("potholewatch stopped")
	return err
}

// Close releases every resource held by the app. It is safe to call on a
// partially built App.
func (a *App) Close() {
	if a.inference != nil {
		a.inference.Close()
	}
	if err := a.session.Close(); err != nil {
		a.log.Warn("failed to close slot backend", logger.Error(err))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", logger.Error(err))
		}
	}
	if a.sentry {
		errors.FlushSentry(sentryFlushTimeout)
	}
}

// Session returns the live history.
func (a *App) Session() *Session { return a.session }
