package slot

import (
	"context"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/datastore"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// Open builds the backend selected by settings.Storage.Backend. The database
// backend reuses db when it is non-nil, otherwise it opens its own
// connection.
func Open(ctx context.Context, settings *conf.Settings, db *datastore.Store, log logger.Logger) (Backend, error) {
	storage := settings.Storage
	var (
		backend Backend
		err     error
	)

	switch storage.Backend {
	case "memory":
		backend = NewMemory(storage.Quota)
	case "file":
		backend, err = NewFile(storage.File.Dir, storage.Quota)
	case "database":
		owned := false
		if db == nil {
			db, err = datastore.Open(&settings.Database, log.Module("datastore"))
			if err != nil {
				return nil, err
			}
			owned = true
		}
		backend, err = NewDatabase(db, storage.Quota, owned)
	case "postgres":
		backend, err = NewPostgres(ctx, storage.Postgres.DSN, storage.Quota)
	case "s3":
		backend, err = NewS3(ctx, &storage.S3, storage.Quota)
	default:
		return nil, errors.Newf("unknown storage backend %q", storage.Backend).
			Component("slot").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	log.Info("persistent slot ready",
		logger.String("backend", backend.Name()),
		logger.Int64("quota_bytes", storage.Quota))
	return backend, nil
}
