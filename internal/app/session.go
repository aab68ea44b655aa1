// Package app assembles potholewatch's components for the serve, predict
// and history commands.
package app

import (
	"context"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/datastore"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/observability/metrics"
	"github.com/potholewatch/potholewatch/internal/predictions"
	"github.com/potholewatch/potholewatch/internal/slot"
)

// Session is a loaded prediction history bound to its persistent slot.
// Every AddPrediction on Store is written through Adapter.
type Session struct {
	Backend slot.Backend
	Adapter *predictions.Adapter
	Store   *predictions.Store

	db *datastore.Store // owned, set by OpenHistory
}

// OpenHistory opens a standalone session for the offline commands. The
// database backend gets its own connection, closed with the session.
func OpenHistory(ctx context.Context, settings *conf.Settings, log logger.Logger) (*Session, error) {
	var db *datastore.Store
	if settings.Storage.Backend == "database" {
		var err error
		if db, err = datastore.Open(&settings.Database, log.Module("datastore")); err != nil {
			return nil, err
		}
	}
	s, err := OpenSession(ctx, settings, db, nil, log)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	s.db = db
	return s, nil
}

// OpenSession opens the configured slot backend and loads the history from
// it. db is shared with the database backend when non-nil; m may be nil.
func OpenSession(ctx context.Context, settings *conf.Settings, db *datastore.Store, m *metrics.PredictionMetrics, log logger.Logger) (*Session, error) {
	backend, err := slot.Open(ctx, settings, db, log.Module("slot"))
	if err != nil {
		return nil, err
	}

	adapter := predictions.NewAdapter(backend,
		predictions.WithKey(settings.Predictions.Key),
		predictions.WithInlineLimit(settings.Predictions.MaxInlineImageLength),
		predictions.WithPersistTimeout(settings.Predictions.PersistTimeout),
		predictions.WithAdapterLogger(log.Module("persistence")),
		predictions.WithAdapterMetrics(m))

	store := predictions.Open(ctx, adapter,
		predictions.WithStoreLogger(log.Module("predictions")),
		predictions.WithStoreMetrics(m))

	log.Info("prediction history loaded",
		logger.String("backend", backend.Name()),
		logger.String("key", adapter.Key()),
		logger.String("state", adapter.State().String()),
		logger.Int("records", store.Len()))
	return &Session{Backend: backend, Adapter: adapter, Store: store}, nil
}

// Close releases the slot backend and an owned database.
func (s *Session) Close() error {
	if s == nil || s.Backend == nil {
		return nil
	}
	var errs []error
	if err := s.Backend.Close(); err != nil {
		errs = append(errs, errors.New(err).
			Component("app").
			Category(errors.CategoryStorage).
			Context("backend", s.Backend.Name()).
			Build())
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
