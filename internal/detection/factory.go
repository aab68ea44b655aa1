package detection

import (
	"time"

	"github.com/potholewatch/potholewatch/internal/imaging"
	"github.com/potholewatch/potholewatch/internal/inference"
	"github.com/potholewatch/potholewatch/internal/predictions"
)

// NewDraft maps an inference result onto a record draft. The overlay and
// mask PNGs become data URLs; an absent or empty one stays nil.
func NewDraft(res *inference.Result, imageDataURL string, loc *predictions.Location, ts time.Time) predictions.Draft {
	d := predictions.Draft{
		Timestamp:  ts,
		IsPothole:  res.IsPothole,
		Confidence: res.Confidence,
		Message:    res.Message,
		Metrics:    res.Metrics,
		Location:   loc,
	}
	if imageDataURL != "" {
		d.ImageDataURL = predictions.StringPtr(imageDataURL)
	}
	d.OverlayDataURL = pngDataURL(res.OverlayPNGBase64)
	d.MaskDataURL = pngDataURL(res.MaskPNGBase64)
	return d
}

func pngDataURL(b64 *string) *string {
	if b64 == nil {
		return nil
	}
	if url := imaging.PNGDataURLFromBase64(*b64); url != "" {
		return &url
	}
	return nil
}
