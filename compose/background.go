package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/nfnt/resize"

	"github.com/chaos-io/bgswap/codec"
)

var ErrInvalidColor = errors.New("invalid background color")

// Background fills the area behind a cutout.
type Background interface {
	// canvas returns a new w×h NRGBA image to paste the foreground onto.
	canvas(w, h int) *image.NRGBA
}

// Color is a solid background.
type Color struct {
	C color.NRGBA
}

func (c Color) canvas(w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if len(dst.Pix) == 0 {
		return dst
	}
	px := []uint8{c.C.R, c.C.G, c.C.B, c.C.A}
	copy(dst.Pix, px)
	// 倍增复制填充整块
	for filled := 4; filled < len(dst.Pix); filled *= 2 {
		copy(dst.Pix[filled:], dst.Pix[:filled])
	}
	return dst
}

// ImageBackground stretches an image to the foreground size.
type ImageBackground struct {
	Image image.Image
}

func (b ImageBackground) canvas(w, h int) *image.NRGBA {
	src := b.Image.Bounds()
	if src.Dx() == w && src.Dy() == h {
		return codec.CloneNRGBA(b.Image)
	}
	resized := resize.Resize(uint(w), uint(h), b.Image, resize.Lanczos3)
	return codec.CloneNRGBA(resized)
}

// NewBackground builds a background from the request fields. A supplied
// image wins over a color; with neither the result is nil (transparent).
func NewBackground(hexColor string, img image.Image) (Background, error) {
	if img != nil {
		return ImageBackground{Image: img}, nil
	}
	if hexColor == "" {
		return nil, nil
	}
	c, err := ParseHexColor(hexColor)
	if err != nil {
		return nil, err
	}
	return Color{C: c}, nil
}

// ParseHexColor parses "#RRGGBB" into an opaque color.
func ParseHexColor(s string) (color.NRGBA, error) {
	if len(s) != 7 || !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("%w: %q, want #RRGGBB", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q, want #RRGGBB", ErrInvalidColor, s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
