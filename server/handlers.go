package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgswap/codec"
	"github.com/chaos-io/bgswap/pipeline"
)

const downloadName = "processed_image.png"

type imageResponse struct {
	Image string `json:"image"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":  "Background Remover",
		"Accept": ".png,.jpg,.jpeg,.webp",
	})
}

func (s *Server) handleManifest(c *gin.Context) {
	c.Data(http.StatusOK, "application/manifest+json", manifestJSON)
}

func (s *Server) handleServiceWorker(c *gin.Context) {
	c.Header("Service-Worker-Allowed", "/")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", serviceWorkerJS)
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.health()
	h.Status = "ok"
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleRemoveBackground(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		if s.tooLarge(c, err) {
			return
		}
		s.fail(c, pipeline.ValidateUpload(""))
		return
	}
	if err := pipeline.ValidateUpload(fh.Filename); err != nil {
		s.fail(c, err)
		return
	}

	file, err := fh.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer func() {
		_ = file.Close()
	}()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	encoded, err := s.pipeline.RemoveBackground(c.Request.Context(), data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, imageResponse{Image: encoded})
}

func (s *Server) handleApplyBackground(c *gin.Context) {
	res, ok := s.apply(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, imageResponse{Image: codec.EncodeBase64(res.Data)})
}

func (s *Server) handleDownload(c *gin.Context) {
	res, ok := s.apply(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	c.Data(http.StatusOK, "image/png", res.Data)
}

func (s *Server) apply(c *gin.Context) (pipeline.Result, bool) {
	var req pipeline.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if s.tooLarge(c, err) {
			return pipeline.Result{}, false
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request: " + err.Error()})
		return pipeline.Result{}, false
	}

	res, err := s.pipeline.ApplyBackground(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return pipeline.Result{}, false
	}
	return res, true
}

func (s *Server) tooLarge(c *gin.Context, err error) bool {
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		return false
	}
	c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
		Error: fmt.Sprintf("Request too large, limit is %d bytes", mbe.Limit),
	})
	return true
}

// fail maps err onto the JSON error response.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	status := http.StatusInternalServerError
	msg := err.Error()
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case pipeline.KindValidation:
			status, msg = http.StatusBadRequest, pe.Msg
		case pipeline.KindTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	c.JSON(status, errorResponse{Error: msg})
}
