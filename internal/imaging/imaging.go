// Package imaging prepares uploaded road photos for inference and converts
// images to and from data URLs.
package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"strings"

	"github.com/nfnt/resize"

	"github.com/potholewatch/potholewatch/internal/errors"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"

	// DefaultJPEGQuality is used when the configured quality is out of range.
	DefaultJPEGQuality = 85

	// maxPixels guards the decoder against decompression bombs.
	maxPixels = 50_000_000
)

// Prepared is an upload normalized for inference and storage.
type Prepared struct {
	Data    []byte
	MIME    string
	Width   int
	Height  int
	DataURL string
}

// Prepare decodes a JPEG or PNG, scales it so its longest side is at most
// maxDim (0 keeps the original size) and re-encodes it as JPEG.
func Prepare(data []byte, maxDim, quality int) (*Prepared, error) {
	if len(data) == 0 {
		return nil, validationError("empty image", "")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, validationError("unsupported or corrupt image", err.Error())
	}
	if format != "jpeg" && format != "png" {
		return nil, validationError("unsupported image format", format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, errors.Newf("image dimensions %dx%d out of range", cfg.Width, cfg.Height).
			Component("imaging").
			Category(errors.CategoryLimit).
			Build()
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(err).
			Component("imaging").
			Category(errors.CategoryImage).
			Context("format", format).
			Build()
	}

	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			// a zero dimension keeps the aspect ratio
			if b.Dx() >= b.Dy() {
				img = resize.Resize(uint(maxDim), 0, img, resize.Lanczos3)
			} else {
				img = resize.Resize(0, uint(maxDim), img, resize.Lanczos3)
			}
		}
	}

	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.New(err).
			Component("imaging").
			Category(errors.CategoryImage).
			Build()
	}

	b := img.Bounds()
	encoded := out.Bytes()
	return &Prepared{
		Data:    encoded,
		MIME:    MIMEJPEG,
		Width:   b.Dx(),
		Height:  b.Dy(),
		DataURL: DataURL(MIMEJPEG, encoded),
	}, nil
}

// DataURL encodes data as a base64 data URI.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// PNGDataURLFromBase64 wraps base64 PNG bytes returned by the inference
// service. Empty input gives an empty string.
func PNGDataURLFromBase64(b64 string) string {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return ""
	}
	return "data:" + MIMEPNG + ";base64," + b64
}

// DecodeDataURL splits a base64 data URI into its MIME type and bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, validationError("not a data URL", "")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, validationError("data URL has no payload", "")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, validationError("data URL is not base64", mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, validationError("invalid base64 payload", err.Error())
	}
	return mime, data, nil
}

func validationError(msg, detail string) error {
	b := errors.Newf("%s", msg).
		Component("imaging").
		Category(errors.CategoryValidation)
	if detail != "" {
		b = b.Context("detail", detail)
	}
	return b.Build()
}
