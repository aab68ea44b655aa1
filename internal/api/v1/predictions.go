package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/potholewatch/potholewatch/internal/detection"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/logger"
	"github.com/potholewatch/potholewatch/internal/predictions"
	"github.com/potholewatch/potholewatch/internal/report"
)

// ListPredictions returns the session history, newest first, in the
// persisted projection. Full records are served by GetPrediction.
func (c *Controller) ListPredictions(ctx echo.Context) error {
	limit, err := queryLimit(ctx)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid limit")
	}
	records := c.store.Snapshot()
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	inline := c.settings.Predictions.MaxInlineImageLength
	if inline <= 0 {
		inline = predictions.DefaultMaxInlineImageLength
	}
	projected := make([]predictions.Record, len(records))
	for i := range records {
		projected[i] = predictions.Project(records[i], inline)
	}
	return ctx.JSON(http.StatusOK, projected)
}

// PredictionStats returns aggregate counts over the history.
func (c *Controller) PredictionStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, predictions.Summarize(c.store.Snapshot()))
}

// GetPrediction returns one record.
func (c *Controller) GetPrediction(ctx echo.Context) error {
	rec, ok := c.store.Lookup(ctx.Param("id"))
	if !ok {
		return c.HandleError(ctx, nil, "Prediction not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, rec)
}

// ExportPrediction downloads a record as json, png (its image) or pdf.
func (c *Controller) ExportPrediction(ctx echo.Context) error {
	rec, ok := c.store.Lookup(ctx.Param("id"))
	if !ok {
		return c.HandleError(ctx, nil, "Prediction not found", http.StatusNotFound)
	}

	switch format := ctx.Param("format"); format {
	case report.FormatJSON:
		data, err := report.JSON(&rec)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to encode export", http.StatusInternalServerError)
		}
		return attachment(ctx, report.Filename(&rec, "json"), echo.MIMEApplicationJSON, data)

	case report.FormatPNG, "image":
		mime, data, err := report.Image(&rec)
		if err != nil {
			if errors.Is(err, report.ErrNoImage) {
				return c.HandleError(ctx, err, "Prediction has no stored image", http.StatusNotFound)
			}
			return c.HandleServiceError(ctx, err, "Stored image is unreadable")
		}
		return attachment(ctx, report.Filename(&rec, report.Extension(mime)), mime, data)

	case report.FormatPDF:
		var buf bytes.Buffer
		if err := report.PDF(&buf, &rec, nil); err != nil {
			return c.HandleError(ctx, err, "Failed to render report", http.StatusInternalServerError)
		}
		return attachment(ctx, report.Filename(&rec, "pdf"), "application/pdf", buf.Bytes())

	default:
		return c.HandleError(ctx, nil, "Unsupported export format "+strconv.Quote(format), http.StatusBadRequest)
	}
}

func attachment(ctx echo.Context, filename, contentType string, data []byte) error {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Blob(http.StatusOK, contentType, data)
}

// CreatePrediction accepts a multipart upload with an "image" file and
// optional "lat"/"lng" fields.
func (c *Controller) CreatePrediction(ctx echo.Context) error {
	fh, err := ctx.FormFile("image")
	if err != nil {
		return c.HandleError(ctx, err, "Missing image file", http.StatusBadRequest)
	}

	loc, err := parseLocation(ctx.FormValue("lat"), ctx.FormValue("lng"))
	if err != nil {
		return c.HandleServiceError(ctx, err, "Invalid location")
	}

	f, err := fh.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusBadRequest)
	}
	defer f.Close()

	limit := c.settings.Detection.MaxUploadBytes
	reader := io.Reader(f)
	if limit > 0 {
		// one extra byte lets the workflow see that the limit was exceeded
		reader = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusBadRequest)
	}

	rec, err := c.detector.Detect(ctx.Request().Context(), detection.Upload{
		Filename: fh.Filename,
		Data:     data,
		Location: loc,
	})
	if err != nil {
		return c.HandleServiceError(ctx, err, "Detection failed")
	}

	c.logger.Info("prediction created",
		logger.String("id", rec.ID),
		logger.Bool("is_pothole", rec.IsPothole),
		logger.String("ip", ctx.RealIP()))
	return ctx.JSON(http.StatusCreated, rec)
}

// parseLocation requires both coordinates or neither.
func parseLocation(lat, lng string) (*predictions.Location, error) {
	if lat == "" && lng == "" {
		return nil, nil
	}
	invalid := func() error {
		return errors.Newf("lat and lng must both be decimal degrees").
			Component("api").
			Category(errors.CategoryValidation).
			Context("lat", lat).
			Context("lng", lng).
			Build()
	}
	if lat == "" || lng == "" {
		return nil, invalid()
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, invalid()
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil, invalid()
	}
	loc := &predictions.Location{Lat: la, Lng: ln}
	if err := detection.ValidateLocation(loc); err != nil {
		return nil, err
	}
	return loc, nil
}
