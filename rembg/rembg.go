// Package rembg provides background removal backends.
package rembg

import (
	"context"
	"image"
)

// Remover returns img with its background made transparent.
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// RemoverFunc adapts a function to Remover.
type RemoverFunc func(ctx context.Context, img image.Image) (image.Image, error)

func (f RemoverFunc) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	return f(ctx, img)
}
