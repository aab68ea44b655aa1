// Package report renders a single prediction record as a downloadable JSON,
// image or PDF document.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/imaging"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatPNG  = "png"
	FormatPDF  = "pdf"
)

// ErrNoImage is returned by Image when a record carries no inline image,
// which is the usual state of records reloaded from persistence.
var ErrNoImage = errors.NewStd("record has no image")

// Export is the metadata document shared by the JSON export and MQTT events.
type Export struct {
	ID         string                `json:"id"`
	Timestamp  time.Time             `json:"timestamp"`
	IsPothole  bool                  `json:"isPothole"`
	Confidence float64               `json:"confidence"`
	Message    string                `json:"message"`
	Metrics    *predictions.Metrics  `json:"metrics"`
	Location   *predictions.Location `json:"location"`
}

// NewExport drops the image payloads from r.
func NewExport(r *predictions.Record) Export {
	return Export{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		IsPothole:  r.IsPothole,
		Confidence: r.Confidence,
		Message:    r.Message,
		Metrics:    r.Metrics,
		Location:   r.Location,
	}
}

// JSON returns the indented metadata export of r.
func JSON(r *predictions.Record) ([]byte, error) {
	return json.MarshalIndent(NewExport(r), "", "  ")
}

// Image returns the overlay when present, otherwise the original image.
func Image(r *predictions.Record) (mime string, data []byte, err error) {
	if !r.HasImage() {
		return "", nil, errors.New(ErrNoImage).
			Component("report").
			Category(errors.CategoryNotFound).
			Context("id", r.ID).
			Build()
	}
	src := r.OverlayDataURL
	if src == nil {
		src = r.ImageDataURL
	}
	return imaging.DecodeDataURL(*src)
}

// Extension maps an image MIME type to a file extension.
func Extension(mime string) string {
	if mime == imaging.MIMEJPEG {
		return "jpg"
	}
	return "png"
}

// Filename is the download name for r in the given extension.
func Filename(r *predictions.Record, ext string) string {
	return fmt.Sprintf("pothole-report-%s.%s", r.ID, strings.TrimPrefix(ext, "."))
}

const (
	pageMargin  = 20.0
	lineHeight  = 6.0
	maxImageH   = 120.0
	titleSize   = 18.0
	bodySize    = 11.0
	reportTitle = "Pothole Detection Report"
)

// PDF writes an A4 report for r to w. Times are rendered in loc (UTC when
// nil).
func PDF(w io.Writer, r *predictions.Record, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(reportTitle, true)
	pdf.SetCreator("potholewatch", true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", titleSize)
	pdf.CellFormat(0, 10, reportTitle, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", bodySize)
	for _, l := range summaryLines(r, loc) {
		pdf.CellFormat(0, lineHeight, tr(l), "", 1, "L", false, 0, "")
	}
	if r.Message != "" {
		pdf.Ln(2)
		pdf.MultiCell(0, lineHeight, tr(r.Message), "", "L", false)
	}

	if mime, data, err := Image(r); err == nil {
		pdf.Ln(4)
		addImage(pdf, r.ID, mime, data)
	}

	if err := pdf.Output(w); err != nil {
		return errors.New(err).
			Component("report").
			Category(errors.CategoryGeneric).
			Context("id", r.ID).
			Build()
	}
	return nil
}

// summaryLines are the report's key/value lines, in print order.
func summaryLines(r *predictions.Record, loc *time.Location) []string {
	printer := message.NewPrinter(language.English)
	lines := []string{
		"Report ID: " + r.ID,
		"Date: " + r.Timestamp.In(loc).Format("2006-01-02 15:04:05 MST"),
	}
	if r.Location != nil {
		lines = append(lines, fmt.Sprintf("Location: %.5f, %.5f", r.Location.Lat, r.Location.Lng))
	} else {
		lines = append(lines, "Location: Unknown location")
	}
	if r.IsPothole {
		lines = append(lines, "Result: Pothole detected")
	} else {
		lines = append(lines, "Result: No pothole")
	}
	lines = append(lines, fmt.Sprintf("Confidence: %.1f%%", r.Confidence*100))
	if m := r.Metrics; m != nil {
		if m.AreaPixels != nil {
			lines = append(lines, printer.Sprintf("Area (pixels): %d", int64(math.Round(*m.AreaPixels))))
		}
		if m.AreaRatio != nil {
			lines = append(lines, fmt.Sprintf("Area ratio: %.2f%%", *m.AreaRatio*100))
		}
		if m.Severity != nil {
			lines = append(lines, printer.Sprintf("Severity score: %.2f", *m.Severity))
		}
	}
	return lines
}

// addImage embeds the image scaled to the page width and maxImageH.
func addImage(pdf *fpdf.Fpdf, id, mime string, data []byte) {
	imageType := "PNG"
	if mime == imaging.MIMEJPEG {
		imageType = "JPG"
	}
	opts := fpdf.ImageOptions{ImageType: imageType}
	name := "record-" + id
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if info == nil || pdf.Err() {
		// an undecodable image must not lose the rest of the report
		pdf.ClearError()
		return
	}

	pageW, _ := pdf.GetPageSize()
	maxW := pageW - 2*pageMargin
	w, h := info.Width(), info.Height()
	scale := min(maxW/w, maxImageH/h)
	pdf.ImageOptions(name, pageMargin, pdf.GetY(), w*scale, h*scale, false, opts, 0, "")
}
