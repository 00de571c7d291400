package codec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checker(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 0x80, A: alpha}
			if (x+y)%2 == 0 {
				c.A = 0xff
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestHasAlpha(t *testing.T) {
	r := image.Rect(0, 0, 2, 2)
	opaquePal := image.NewPaletted(r, color.Palette{color.White, color.Black})
	alphaPal := image.NewPaletted(r, color.Palette{color.Transparent, color.Black})

	tests := []struct {
		name string
		img  image.Image
		want bool
	}{
		{"nrgba", image.NewNRGBA(r), true},
		{"rgba", image.NewRGBA(r), true},
		{"nrgba64", image.NewNRGBA64(r), true},
		{"rgb", NewRGB(r), false},
		{"gray", image.NewGray(r), false},
		{"ycbcr", image.NewYCbCr(r, image.YCbCrSubsampleRatio420), false},
		{"cmyk", image.NewCMYK(r), false},
		{"opaque palette", opaquePal, false},
		{"transparent palette", alphaPal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAlpha(tt.img))
		})
	}
}

func TestNormalize(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	gray.SetGray(1, 1, color.Gray{Y: 200})

	got := Normalize(gray)
	rgb, ok := got.(*RGB)
	require.True(t, ok, "gray input should normalize to RGB, got %T", got)
	assert.Equal(t, image.Rect(0, 0, 3, 2), rgb.Bounds())
	assert.Equal(t, color.RGBA{R: 200, G: 200, B: 200, A: 0xff}, rgb.At(1, 1))

	src := checker(4, 4, 0x40)
	got = Normalize(src)
	nrgba, ok := got.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, src.Pix, nrgba.Pix)
	assert.NotSame(t, src, nrgba, "normalize must copy")
}

func TestNormalize_OffsetBounds(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 8, 7))
	src.SetNRGBA(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 4})

	got := Normalize(src).(*image.NRGBA)
	assert.Equal(t, image.Rect(0, 0, 3, 2), got.Bounds())
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 4}, got.NRGBAAt(0, 0))
}

func TestEncode_Policy(t *testing.T) {
	data, format, err := Encode(checker(8, 8, 0x10), DefaultJPEGQuality)
	require.NoError(t, err)
	assert.Equal(t, PNG, format)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	data, format, err = Encode(toRGB(checker(8, 8, 0xff)), DefaultJPEGQuality)
	require.NoError(t, err)
	assert.Equal(t, JPEG, format)
	assert.Equal(t, "image/jpeg", format.MIME())
	_, err = jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestEncodePNG_Idempotent(t *testing.T) {
	img := checker(16, 16, 0x33)
	a, err := EncodePNG(img)
	require.NoError(t, err)
	b, err := EncodePNG(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode(t *testing.T) {
	src := checker(6, 5, 0x00)
	data, err := EncodePNG(src)
	require.NoError(t, err)

	img, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.True(t, HasAlpha(img))
	assert.Equal(t, 6, img.Bounds().Dx())

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))
	img, format, err = Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.False(t, HasAlpha(img))

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, _, err = Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte("hello image")
	b64 := EncodeBase64(raw)

	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "raw base64", in: b64, want: raw},
		{name: "data url", in: "data:image/png;base64," + b64, want: raw},
		{name: "missing padding", in: "aGVsbG8gaW1hZ2U", want: raw},
		{name: "surrounding space", in: "  " + b64 + "\n", want: raw},
		{name: "empty", in: "", wantErr: true},
		{name: "not base64", in: "***", wantErr: true},
		{name: "data url without base64 marker", in: "data:image/png," + b64, wantErr: true},
		{name: "data url without comma", in: "data:image/png;base64", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDataURL(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// hugePalettedPNG returns a tiny paletted PNG whose header claims w x h.
func hugePalettedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	data := buf.Bytes()

	// 8 字节签名后是 IHDR: length(4) type(4) data(13) crc(4)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecode_PixelLimit(t *testing.T) {
	data := hugePalettedPNG(t, 16000, 16000)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 16000, cfg.Width)

	_, _, err = Decode(data)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, _, err = DecodeLimit(hugePalettedPNG(t, 100, 100), 99*100)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	small, err := EncodePNG(checker(10, 10, 0xff))
	require.NoError(t, err)
	img, _, err := DecodeLimit(small, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
}
