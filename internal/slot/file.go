package slot

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/potholewatch/potholewatch/internal/errors"
)

// File stores each key in its own file under a directory. Writes go to a
// temporary file that is renamed into place.
type File struct {
	dir   string
	quota int64
	mu    sync.Mutex
}

// NewFile creates dir if needed. The quota bounds a single value; zero
// means unlimited.
func NewFile(dir string, quota int64) (*File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.New(err).
			Component("slot").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}
	return &File{dir: dir, quota: quota}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.New(err).
			Component("slot").
			Category(errors.CategoryFileIO).
			Context("key", key).
			Build()
	}
	return string(data), true, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	if f.quota > 0 && int64(len(value)) > f.quota {
		return quotaError(f.Name(), key, int64(len(value)), f.quota)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".slot-*")
	if err != nil {
		return f.ioError(err, key, "create_temp")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return f.ioError(err, key, "write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return f.ioError(err, key, "sync")
	}
	if err := tmp.Close(); err != nil {
		return f.ioError(err, key, "close")
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		return f.ioError(err, key, "rename")
	}
	return nil
}

func (f *File) ioError(err error, key, op string) error {
	return errors.New(err).
		Component("slot").
		Category(errors.CategoryFileIO).
		Context("key", key).
		Context("operation", op).
		Build()
}

func (f *File) Name() string { return "file" }

func (f *File) Close() error { return nil }
