package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chaos-io/bgswap/codec"
	nhttp "github.com/chaos-io/bgswap/util/http"
)

const (
	DefaultModel = "u2net"
	removePath   = "/api/remove"
)

// Remote calls a rembg HTTP server (`rembg s`).
type Remote struct {
	removeURL string
	model     string
	timeout   time.Duration
	cli       nhttp.IClient
}

type RemoteOption func(*Remote)

func WithModel(model string) RemoteOption {
	return func(r *Remote) {
		if model != "" {
			r.model = model
		}
	}
}

// WithRequestTimeout bounds a single removal call.
func WithRequestTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		r.timeout = d
	}
}

func WithClient(cli nhttp.IClient) RemoteOption {
	return func(r *Remote) {
		r.cli = cli
	}
}

func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		removeURL: strings.TrimRight(baseURL, "/") + removePath,
		model:     DefaultModel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cli == nil {
		// 单次请求超时由 RequestParam 控制
		r.cli = nhttp.NewHTTPClient(nhttp.WithTimeout(0))
	}
	return r
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@my_image.png" \
	  -F "model=u2net" -o out.png
*/
func (r *Remote) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := codec.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.WriteField("model", r.model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: r.removeURL,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
		Timeout:    r.timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("rembg remove: %w", err)
	}
	slog.DebugContext(ctx, "rembg responded", "bytes", len(out), "model", r.model)

	result, _, err := codec.Decode(out)
	if err != nil {
		return nil, fmt.Errorf("rembg response: %w", err)
	}
	return result, nil
}

var _ Remover = (*Remote)(nil)
