// Package detection runs the prediction workflow: an uploaded photo is
// normalized, sent for segmentation and recorded in the prediction store.
package detection

import (
	"context"
	"time"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/imaging"
	"github.com/potholewatch/potholewatch/internal/inference"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

// Upload is one photo submitted for detection.
type Upload struct {
	Filename string
	Data     []byte
	Location *predictions.Location // optional
}

// Recorder is the part of the prediction store the workflow writes to.
type Recorder interface {
	AddPrediction(d predictions.Draft) predictions.Record
}

// Service ties preprocessing, inference and the prediction store together.
type Service struct {
	predictor inference.Predictor
	store     Recorder
	settings  conf.DetectionSettings
	now       func() time.Time
	log       logger.Logger
}

// NewService builds the workflow.
func NewService(predictor inference.Predictor, store Recorder, settings *conf.DetectionSettings, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Service{
		predictor: predictor,
		store:     store,
		settings:  *settings,
		now:       time.Now,
		log:       log,
	}
}

// Detect runs one upload through the workflow and returns the stored record.
// Nothing is recorded when preprocessing or inference fails.
func (s *Service) Detect(ctx context.Context, up Upload) (predictions.Record, error) {
	if s.settings.MaxUploadBytes > 0 && int64(len(up.Data)) > s.settings.MaxUploadBytes {
		return predictions.Record{}, errors.Newf("upload of %d bytes exceeds limit of %d", len(up.Data), s.settings.MaxUploadBytes).
			Component("detection").
			Category(errors.CategoryLimit).
			Build()
	}
	if err := ValidateLocation(up.Location); err != nil {
		return predictions.Record{}, err
	}

	prepared, err := imaging.Prepare(up.Data, s.settings.MaxImageDimension, s.settings.JPEGQuality)
	if err != nil {
		return predictions.Record{}, err
	}

	started := s.now()
	res, err := s.predictor.Predict(ctx, up.Filename, prepared.Data)
	if err != nil {
		s.log.Warn("inference failed, no prediction recorded",
			logger.String("filename", up.Filename),
			logger.Error(err))
		return predictions.Record{}, err
	}

	rec := s.store.AddPrediction(NewDraft(res, prepared.DataURL, up.Location, started))
	s.log.Info("prediction recorded",
		logger.String("id", rec.ID),
		logger.Bool("is_pothole", rec.IsPothole),
		logger.Float64("confidence", rec.Confidence),
		logger.Int("width", prepared.Width),
		logger.Int("height", prepared.Height),
		logger.Bool("has_location", rec.Location != nil))
	return rec, nil
}

// ValidateLocation accepts nil or a coordinate within WGS84 bounds.
func ValidateLocation(loc *predictions.Location) error {
	if loc == nil {
		return nil
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return errors.Newf("location %.6f,%.6f out of range", loc.Lat, loc.Lng).
			Component("detection").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
