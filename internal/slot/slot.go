// Package slot provides named, size-constrained key-value slots used to
// persist small application state between sessions.
package slot

import (
	"context"
	"io"

	"github.com/potholewatch/potholewatch/internal/errors"
)

// Slot is a string key-value store. Get reports found=false for a missing key.
type Slot interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Backend is a Slot that owns resources and knows its name.
type Backend interface {
	Slot
	io.Closer
	Name() string
}

// ErrQuotaExceeded is returned by Set when the write would exceed the
// backend's capacity. The previous value is left in place.
var ErrQuotaExceeded = errors.NewStd("slot quota exceeded")

func quotaError(backend, key string, size, quota int64) error {
	return errors.New(ErrQuotaExceeded).
		Component("slot").
		Category(errors.CategoryLimit).
		Context("backend", backend).
		Context("key", key).
		Context("size", size).
		Context("quota", quota).
		Build()
}
