package codec

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// RGB is an opaque 3-channel raster. Decoded images without an alpha
// channel are normalized to RGB before background removal.
type RGB struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

func NewRGB(r image.Rectangle) *RGB {
	return &RGB{
		Pix:    make([]uint8, 3*r.Dx()*r.Dy()),
		Stride: 3 * r.Dx(),
		Rect:   r,
	}
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

func (p *RGB) Opaque() bool { return true }

// HasAlpha reports whether the pixel mode of img carries an alpha channel.
// It looks at the representation, not the pixel values: a fully opaque
// NRGBA image still has an alpha channel.
func HasAlpha(img image.Image) bool {
	switch m := img.(type) {
	case *RGB, *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Alpha, *image.Alpha16, *image.NYCbCrA:
		return true
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	default:
		// 未知类型按有 alpha 处理，PNG 编码不会丢失信息
		return true
	}
}

// Normalize returns a copy of img in one of two pixel modes: alpha-capable
// inputs become *image.NRGBA, everything else becomes *RGB.
func Normalize(img image.Image) image.Image {
	if HasAlpha(img) {
		return CloneNRGBA(img)
	}
	return toRGB(img)
}

// ToNRGBA converts img to NRGBA, returning img itself when it already is one.
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	return CloneNRGBA(img)
}

// CloneNRGBA always allocates a new NRGBA image anchored at the origin.
func CloneNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func toRGB(img image.Image) *RGB {
	src := CloneNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := NewRGB(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		si := y * src.Stride
		di := y * dst.Stride
		for x := 0; x < w; x++ {
			dst.Pix[di] = src.Pix[si]
			dst.Pix[di+1] = src.Pix[si+1]
			dst.Pix[di+2] = src.Pix[si+2]
			si += 4
			di += 3
		}
	}
	return dst
}
