// Package server exposes the background removal pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgswap/metrics"
	"github.com/chaos-io/bgswap/pipeline"
)

const (
	DefaultAddr            = ":5000"
	DefaultMaxBodyBytes    = 10 << 20
	DefaultShutdownTimeout = 10 * time.Second
)

// Pipeline is what the handlers call into.
type Pipeline interface {
	RemoveBackground(ctx context.Context, data []byte) (string, error)
	ApplyBackground(ctx context.Context, req pipeline.ApplyRequest) (pipeline.Result, error)
}

// Health describes the state reported by /healthz.
type Health struct {
	Status       string `json:"status"`
	Workers      int    `json:"workers"`
	Queued       int    `json:"queued"`
	Busy         int    `json:"busy"`
	CacheEntries int    `json:"cacheEntries"`
}

type Options struct {
	Addr            string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	CORS            bool
	Debug           bool

	Pipeline Pipeline
	Metrics  *metrics.Metrics
	Health   func() Health
	Logger   *slog.Logger
}

type Server struct {
	engine          *gin.Engine
	httpServer      *http.Server
	pipeline        Pipeline
	health          func() Health
	logger          *slog.Logger
	maxBodyBytes    int64
	shutdownTimeout time.Duration
}

func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("server: nil pipeline")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = func() Health { return Health{} }
	}

	if !opts.Debug && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(requestContext(opts.Logger.With("component", "http")))
	engine.Use(accessLog(opts.Metrics))
	engine.Use(gin.CustomRecovery(recovery))
	if opts.CORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", requestIDHeader}
		corsConfig.ExposeHeaders = []string{requestIDHeader, "Content-Disposition"}
		engine.Use(cors.New(corsConfig))
	}
	engine.Use(limitBody(opts.MaxBodyBytes))
	// multipart 超出部分落盘，整体大小由 limitBody 限制
	engine.MaxMultipartMemory = opts.MaxBodyBytes
	engine.SetHTMLTemplate(loadTemplates())

	s := &Server{
		engine:          engine,
		pipeline:        opts.Pipeline,
		health:          opts.Health,
		logger:          opts.Logger.With("component", "server"),
		maxBodyBytes:    opts.MaxBodyBytes,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes(opts.Metrics)
	return s, nil
}

func (s *Server) setupRoutes(m *metrics.Metrics) {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/manifest.json", s.handleManifest)
	s.engine.GET("/service_worker.js", s.handleServiceWorker)
	s.engine.GET("/healthz", s.handleHealth)
	if m != nil {
		s.engine.GET("/metrics", gin.WrapH(m.Handler()))
	}

	s.engine.POST("/remove_background", s.handleRemoveBackground)
	s.engine.POST("/apply_background", s.handleApplyBackground)
	s.engine.POST("/download", s.handleDownload)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen and serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
