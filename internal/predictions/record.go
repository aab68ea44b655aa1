// Package predictions holds the session's ordered prediction history and
// keeps a degraded copy of it durable in a persistent slot.
//
// The Store is the single source of truth for a running process. It only
// grows: records are prepended, never updated or removed. Every mutation
// publishes a fresh snapshot to subscribers. The Adapter is one such
// subscriber; it projects the snapshot into a storage-safe form (large inline
// images dropped) and writes it to a slot, and at startup it reads that
// projection back as the seed for a new Store.
package predictions

import "time"

// Record is one completed detection result.
type Record struct {
	ID        string    `json:"id"`        // opaque, assigned by the store
	Timestamp time.Time `json:"timestamp"` // creation time, UTC

	// Inline images as data URIs. Persisted copies never carry the overlay or
	// mask, and carry the original only while it is small.
	ImageDataURL   *string `json:"imageDataUrl"`
	OverlayDataURL *string `json:"overlayDataUrl"`
	MaskDataURL    *string `json:"maskDataUrl"`

	IsPothole  bool    `json:"isPothole"`
	Confidence float64 `json:"confidence"` // 0.0-1.0
	Message    string  `json:"message"`

	Metrics  *Metrics  `json:"metrics"`
	Location *Location `json:"location"`
}

// Metrics is the measurement bundle returned by the inference service. The
// store passes it through untouched; every field may be absent.
type Metrics struct {
	AreaPixels  *float64 `json:"area_pixels,omitempty"`
	AreaRatio   *float64 `json:"area_ratio,omitempty"`
	IoU         *float64 `json:"iou,omitempty"`
	Dice        *float64 `json:"dice,omitempty"`
	BoundaryF1  *float64 `json:"boundary_f1,omitempty"`
	AreaError   *float64 `json:"area_error,omitempty"`
	LengthError *float64 `json:"length_error,omitempty"`
	Severity    *float64 `json:"severity,omitempty"`
	Stability   *float64 `json:"stability,omitempty"`
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Draft is a record before insertion. A zero Timestamp is filled in by the
// store.
type Draft struct {
	Timestamp      time.Time
	ImageDataURL   *string
	OverlayDataURL *string
	MaskDataURL    *string
	IsPothole      bool
	Confidence     float64
	Message        string
	Metrics        *Metrics
	Location       *Location
}

func (d Draft) toRecord(id string, now time.Time) Record {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Record{
		ID:             id,
		Timestamp:      ts.UTC(),
		ImageDataURL:   d.ImageDataURL,
		OverlayDataURL: d.OverlayDataURL,
		MaskDataURL:    d.MaskDataURL,
		IsPothole:      d.IsPothole,
		Confidence:     d.Confidence,
		Message:        d.Message,
		Metrics:        d.Metrics.clone(),
		Location:       d.Location.clone(),
	}
}

// clone copies the bundle so later writes through the caller's pointers
// cannot reach a stored record.
func (m *Metrics) clone() *Metrics {
	if m == nil {
		return nil
	}
	return &Metrics{
		AreaPixels:  copyPtr(m.AreaPixels),
		AreaRatio:   copyPtr(m.AreaRatio),
		IoU:         copyPtr(m.IoU),
		Dice:        copyPtr(m.Dice),
		BoundaryF1:  copyPtr(m.BoundaryF1),
		AreaError:   copyPtr(m.AreaError),
		LengthError: copyPtr(m.LengthError),
		Severity:    copyPtr(m.Severity),
		Stability:   copyPtr(m.Stability),
	}
}

func (l *Location) clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// HasImage reports whether any inline image survives on the record.
func (r *Record) HasImage() bool {
	return r.ImageDataURL != nil || r.OverlayDataURL != nil
}

// StringPtr returns a pointer to s, for building drafts.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
