package rembg

import (
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/bgswap/codec"
)

// framed returns a w×h image with a flat border color and an inner
// rectangle of fg inset by border pixels.
func framed(w, h, border int, bg, fg color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := bg
			if x >= border && x < w-border && y >= border && y < h-border {
				c = fg
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRemote_Remove(t *testing.T) {
	t.Parallel()

	input := framed(8, 8, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, color.NRGBA{R: 255, A: 255})
	cutout := framed(8, 8, 2, color.NRGBA{}, color.NRGBA{R: 255, A: 255})
	cutoutPNG, err := codec.EncodePNG(cutout)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/remove", r.URL.Path)
		assert.Equal(t, "isnet-general-use", r.FormValue("model"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		got, format, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, input.Bounds(), got.Bounds())

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(cutoutPNG)
	}))
	defer server.Close()

	r := NewRemote(server.URL+"/", WithModel("isnet-general-use"), WithRequestTimeout(5*time.Second))
	out, err := r.Remove(context.Background(), input)
	require.NoError(t, err)
	require.True(t, codec.HasAlpha(out))
	_, _, _, a := out.At(0, 0).RGBA()
	assert.Zero(t, a)
	_, _, _, a = out.At(4, 4).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestRemote_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("model not loaded"))
			},
			wantMsg: "model not loaded",
		},
		{
			name: "not an image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			wantMsg: "rembg response",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewRemote(server.URL).Remove(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRemote_DefaultModelField(t *testing.T) {
	t.Parallel()

	cutoutPNG, err := codec.EncodePNG(image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)

	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotModel = r.FormValue("model")
		_, _ = w.Write(cutoutPNG)
	}))
	defer server.Close()

	_, err = NewRemote(server.URL, WithModel("")).Remove(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, gotModel)
}

func TestBorderKey_Remove(t *testing.T) {
	white := color.NRGBA{R: 250, G: 250, B: 250, A: 255}
	red := color.NRGBA{R: 200, G: 10, B: 10, A: 255}
	img := framed(20, 16, 4, white, red)
	// 被主体包围的白色区域不应被去除
	img.SetNRGBA(10, 8, white)
	// 接近背景色的噪点
	img.SetNRGBA(1, 1, color.NRGBA{R: 240, G: 245, B: 255, A: 255})

	out, err := NewBorderKey(0).Remove(context.Background(), img)
	require.NoError(t, err)
	nrgba := out.(*image.NRGBA)

	assert.Zero(t, nrgba.NRGBAAt(0, 0).A)
	assert.Zero(t, nrgba.NRGBAAt(1, 1).A)
	assert.Zero(t, nrgba.NRGBAAt(19, 15).A)
	assert.Equal(t, red, nrgba.NRGBAAt(5, 5))
	assert.Equal(t, white, nrgba.NRGBAAt(10, 8))
	assert.Equal(t, uint8(255), img.NRGBAAt(0, 0).A, "input must not be modified")
}

func TestBorderKey_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := framed(10, 10, 2, color.NRGBA{A: 255}, color.NRGBA{R: 255, A: 255})
	_, err := NewBorderKey(10).Remove(ctx, img)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBorderKey_Empty(t *testing.T) {
	_, err := NewBorderKey(10).Remove(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)
}

func TestRemoverFunc(t *testing.T) {
	called := false
	var r Remover = RemoverFunc(func(ctx context.Context, img image.Image) (image.Image, error) {
		called = true
		return img, nil
	})
	_, err := r.Remove(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	require.NoError(t, err)
	assert.True(t, called)
}
