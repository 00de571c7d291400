// Package compose merges a background-free cutout with a new background.
package compose

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/chaos-io/bgswap/codec"
)

// Composite pastes fg over bg using fg's own alpha channel as the mask and
// returns a new NRGBA image with fg's dimensions. A nil bg yields a
// transparent backdrop. fg is never modified.
func Composite(fg image.Image, bg Background) *image.NRGBA {
	src := codec.ToNRGBA(fg)
	if src.Rect.Min != (image.Point{}) {
		src = codec.CloneNRGBA(src)
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	if bg != nil {
		draw.Draw(out, out.Bounds(), bg.canvas(w, h), image.Point{}, draw.Src)
	}

	for y := 0; y < h; y++ {
		row := y * src.Stride
		orow := y * out.Stride
		for x := 0; x < w; x++ {
			i, j := row+x*4, orow+x*4
			blend(out.Pix[j:j+4:j+4], src.Pix[i:i+4:i+4])
		}
	}
	return out
}

// blend writes fg over dst in place (non-premultiplied source-over).
// mask 0 keeps dst, mask 255 copies fg.
func blend(dst, fg []uint8) {
	a := uint32(fg[3])
	switch a {
	case 0:
		return
	case 0xff:
		copy(dst, fg)
		return
	}

	ba := uint32(dst[3])
	inv := 0xff - a
	outA := a*0xff + ba*inv
	for c := 0; c < 3; c++ {
		num := uint32(fg[c])*a*0xff + uint32(dst[c])*ba*inv
		dst[c] = uint8((num + outA/2) / outA)
	}
	dst[3] = uint8((outA + 0x7f) / 0xff)
}
