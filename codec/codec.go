// Package codec decodes uploads into rasters and encodes results back to
// bytes.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const DefaultJPEGQuality = 85

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

func (f Format) MIME() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// DefaultMaxPixels caps width*height of a decoded image. A 1-bit PNG of a
// few kilobytes can otherwise describe gigabytes of pixels.
const DefaultMaxPixels = 89_478_485

var (
	ErrEmptyImage    = errors.New("empty image data")
	ErrImageTooLarge = errors.New("image dimensions exceed the pixel limit")
)

// Decode decodes png, jpeg, gif or webp bytes of at most DefaultMaxPixels.
// EXIF orientation is applied to JPEG input.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with a caller supplied pixel limit. The header is
// checked before any pixel buffer is allocated; maxPixels <= 0 means
// DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("decode %s image: %w", format, ErrEmptyImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d, limit %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(format == "jpeg"))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s image: %w", format, err)
	}
	// jpeg 没有 alpha，旋转后仍保持 RGB
	if format == "jpeg" && HasAlpha(img) {
		img = toRGB(img)
	}
	return img, format, nil
}

// Encode applies the output policy: images with an alpha channel are
// written as PNG so transparency survives, opaque images as JPEG at quality.
func Encode(img image.Image, quality int) ([]byte, Format, error) {
	if HasAlpha(img) {
		data, err := EncodePNG(img)
		return data, PNG, err
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), JPEG, nil
}

// EncodePNG writes img as PNG with the best compression level.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
