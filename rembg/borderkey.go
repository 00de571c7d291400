package rembg

import (
	"context"
	"errors"
	"image"

	"github.com/chaos-io/bgswap/codec"
)

const DefaultTolerance = 32

// BorderKey is a model-free fallback: it estimates the background color
// from the image border and flood-fills every connected pixel within
// Tolerance of it to transparent. It only suits flat studio-style
// backgrounds.
type BorderKey struct {
	Tolerance int
}

func NewBorderKey(tolerance int) *BorderKey {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &BorderKey{Tolerance: tolerance}
}

func (b *BorderKey) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	out := codec.CloneNRGBA(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty image")
	}

	key := borderAverage(out)
	tol := b.Tolerance
	near := func(i int) bool {
		p := out.Pix[i : i+4 : i+4]
		return p[3] != 0 &&
			abs(int(p[0])-key[0]) <= tol &&
			abs(int(p[1])-key[1]) <= tol &&
			abs(int(p[2])-key[2]) <= tol
	}

	visited := make([]bool, w*h)
	stack := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		idx := y*w + x
		if visited[idx] {
			return
		}
		visited[idx] = true
		if near(y*out.Stride + x*4) {
			stack = append(stack, idx)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for n := 0; len(stack) > 0; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := idx%w, idx/w
		out.Pix[y*out.Stride+x*4+3] = 0

		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return out, nil
}

// borderAverage 计算边框像素的平均颜色
func borderAverage(img *image.NRGBA) [3]int {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	var sum [3]int
	n := 0
	add := func(x, y int) {
		i := y*img.Stride + x*4
		sum[0] += int(img.Pix[i])
		sum[1] += int(img.Pix[i+1])
		sum[2] += int(img.Pix[i+2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}
	return [3]int{sum[0] / n, sum[1] / n, sum[2] / n}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ Remover = (*BorderKey)(nil)
