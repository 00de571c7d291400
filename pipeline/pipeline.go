// Package pipeline coordinates the result cache, the worker pool, and the
// compositor for the HTTP handlers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chaos-io/bgswap/cache"
	"github.com/chaos-io/bgswap/codec"
	"github.com/chaos-io/bgswap/compose"
	"github.com/chaos-io/bgswap/pool"
	"github.com/chaos-io/bgswap/util"
)

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
}

// Submitter is the part of the worker pool the pipeline needs.
type Submitter interface {
	Submit(ctx context.Context, img image.Image) *pool.Future
}

type Options struct {
	Cache cache.Cache
	Pool  Submitter

	JPEGQuality int
	// RemovalTimeout bounds the wait for a removal result; zero waits
	// indefinitely.
	RemovalTimeout time.Duration
	// Coalesce makes concurrent misses for the same upload share one
	// removal instead of each doing the work.
	Coalesce bool
	// MaxPixels caps width*height of decoded inputs; zero means
	// codec.DefaultMaxPixels.
	MaxPixels int
	Logger    *slog.Logger
}

type Service struct {
	cache          cache.Cache
	pool           Submitter
	quality        int
	removalTimeout time.Duration
	coalesce       bool
	maxPixels      int
	group          singleflight.Group
	logger         *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Cache == nil {
		return nil, errors.New("pipeline: nil cache")
	}
	if opts.Pool == nil {
		return nil, errors.New("pipeline: nil pool")
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = codec.DefaultJPEGQuality
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		cache:          opts.Cache,
		pool:           opts.Pool,
		quality:        opts.JPEGQuality,
		removalTimeout: opts.RemovalTimeout,
		coalesce:       opts.Coalesce,
		maxPixels:      opts.MaxPixels,
		logger:         opts.Logger.With("component", "pipeline"),
	}, nil
}

// ValidateUpload checks the uploaded file name before anything is read.
func ValidateUpload(filename string) error {
	if filename == "" {
		return validationError("No image provided", nil)
	}
	if !allowedExtensions[util.FileExt(filename)] {
		return validationError("Invalid file type. Allowed types: png, jpg, jpeg, webp", nil)
	}
	return nil
}

// RemoveBackground returns the base64 PNG cutout of the uploaded bytes,
// serving repeated uploads from the cache.
func (s *Service) RemoveBackground(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", validationError("No image provided", nil)
	}
	key := cache.FingerprintOf(data)
	logger := s.logger.With("fingerprint", key.String())

	if cached, ok := s.cache.Lookup(key); ok {
		logger.DebugContext(ctx, "cache hit")
		return string(cached), nil
	}

	if !s.coalesce {
		return s.removeAndStore(ctx, key, data, logger)
	}
	// the shared call must not die with whichever caller started it
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (interface{}, error) {
		return s.removeAndStore(shared, key, data, logger)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", s.waitError(ctx.Err())
	}
}

func (s *Service) removeAndStore(ctx context.Context, key cache.Fingerprint, data []byte, logger *slog.Logger) (string, error) {
	defer util.Trace("remove_background", "fingerprint", key.String())()

	img, format, err := s.decode(data, "image")
	if err != nil {
		return "", err
	}
	logger.DebugContext(ctx, "cache miss, submitting", "format", format, "size", img.Bounds().Size())

	waitCtx := ctx
	if s.removalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.removalTimeout)
		defer cancel()
	}
	future := s.pool.Submit(ctx, codec.Normalize(img))
	cutout, err := future.Wait(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil {
			// 任务仍在 worker 中执行，完成后照常写入缓存
			go s.storeWhenDone(key, future, logger)
			return "", s.waitError(waitCtx.Err())
		}
		return "", processingError("background removal failed", err)
	}
	return s.store(key, cutout)
}

func (s *Service) store(key cache.Fingerprint, cutout image.Image) (string, error) {
	png, err := codec.EncodePNG(cutout)
	if err != nil {
		return "", processingError("failed to encode result", err)
	}
	encoded := codec.EncodeBase64(png)
	s.cache.Store(key, []byte(encoded))
	return encoded, nil
}

// storeWhenDone caches the result of a removal whose caller stopped waiting.
func (s *Service) storeWhenDone(key cache.Fingerprint, future *pool.Future, logger *slog.Logger) {
	cutout, err := future.Wait(context.Background())
	if err != nil {
		logger.Warn("abandoned removal failed", "error", err)
		return
	}
	if _, err := s.store(key, cutout); err != nil {
		logger.Warn("abandoned removal not cached", "error", err)
		return
	}
	logger.Debug("abandoned removal cached")
}

func (s *Service) waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Msg: "background removal timed out", Err: err}
	}
	return &Error{Kind: KindProcessing, Msg: "request cancelled", Err: err}
}

// ApplyRequest is the body of /apply_background and /download.
type ApplyRequest struct {
	Image           string `json:"image" binding:"required"`
	BackgroundColor string `json:"backgroundColor"`
	BackgroundImage string `json:"backgroundImage"`
}

type Result struct {
	Data   []byte
	Format codec.Format
}

// ApplyBackground composites the cutout in req onto the requested
// background and encodes it with the output policy.
func (s *Service) ApplyBackground(ctx context.Context, req ApplyRequest) (Result, error) {
	defer util.Trace("apply_background")()

	fg, err := s.decodePayload(req.Image, "image")
	if err != nil {
		return Result{}, err
	}

	var bgImg image.Image
	if req.BackgroundImage != "" {
		bgImg, err = s.decodePayload(req.BackgroundImage, "backgroundImage")
		if err != nil {
			return Result{}, err
		}
	}
	bg, err := compose.NewBackground(req.BackgroundColor, bgImg)
	if err != nil {
		return Result{}, validationError("invalid backgroundColor, expected #RRGGBB", err)
	}

	out := compose.Composite(fg, bg)
	data, format, err := codec.Encode(out, s.quality)
	if err != nil {
		return Result{}, processingError("failed to encode result", err)
	}
	s.logger.DebugContext(ctx, "background applied", "format", format, "bytes", len(data))
	return Result{Data: data, Format: format}, nil
}

func (s *Service) decodePayload(payload, field string) (image.Image, error) {
	data, err := codec.DecodeDataURL(payload)
	if err != nil {
		return nil, validationError(fmt.Sprintf("invalid %s payload", field), err)
	}
	img, _, err := s.decode(data, field)
	return img, err
}

// decode maps oversized inputs to validation errors and every other decode
// failure to a processing error.
func (s *Service) decode(data []byte, field string) (image.Image, string, error) {
	img, format, err := codec.DecodeLimit(data, s.maxPixels)
	switch {
	case errors.Is(err, codec.ErrImageTooLarge):
		return nil, "", validationError(fmt.Sprintf("%s is too large", field), err)
	case err != nil:
		return nil, "", processingError(fmt.Sprintf("failed to decode %s", field), err)
	}
	return img, format, nil
}
